//go:build windows

package replacements

import (
	"syscall"

	"golang.org/x/sys/windows"

	"tasharness/hooks/detour"
)

var procExitThread = windows.NewLazySystemDLL("kernel32.dll").NewProc("ExitThread")

// OnModuleLoaded is set by package hooks to re-apply every hook group
// to a freshly loaded module, in case it exports one of the hooked
// names under a module that wasn't hooked yet at startup.
var OnModuleLoaded func(moduleHandle uintptr)

// LibraryHooks prevents modules from ever actually unloading (so
// nothing needs re-hooking mid-run) and re-applies hooks to anything
// freshly loaded.
func LibraryHooks() []detour.Spec {
	return []detour.Spec{
		{Module: "kernel32.dll", Function: "LoadLibraryA", Hook: syscall.NewCallback(loadLibraryA)},
		{Module: "kernel32.dll", Function: "LoadLibraryW", Hook: syscall.NewCallback(loadLibraryW)},
		{Module: "kernel32.dll", Function: "LoadLibraryExA", Hook: syscall.NewCallback(loadLibraryExA)},
		{Module: "kernel32.dll", Function: "LoadLibraryExW", Hook: syscall.NewCallback(loadLibraryExW)},
		{Module: "kernel32.dll", Function: "FreeLibrary", Hook: syscall.NewCallback(freeLibrary)},
		{Module: "kernel32.dll", Function: "FreeLibraryAndExitThread", Hook: syscall.NewCallback(freeLibraryAndExitThread)},
	}
}

func loadLibraryA(filename uintptr) uintptr {
	return loadLibrary("LoadLibraryExA", filename, 0, 0)
}

func loadLibraryW(filename uintptr) uintptr {
	return loadLibrary("LoadLibraryExW", filename, 0, 0)
}

func loadLibraryExA(filename, reserved, flags uintptr) uintptr {
	return loadLibrary("LoadLibraryExA", filename, 0, flags)
}

func loadLibraryExW(filename, reserved, flags uintptr) uintptr {
	return loadLibrary("LoadLibraryExW", filename, 0, flags)
}

func loadLibrary(trampolineName string, filename, reserved, flags uintptr) uintptr {
	handle, ok := callTrampoline(trampolineName, filename, reserved, flags)
	if !ok || handle == 0 {
		return 0
	}
	if OnModuleLoaded != nil {
		OnModuleLoaded(handle)
	}
	return handle
}

// freeLibrary refuses to unload anything, for the same reason
// CloseHandle leaks: a loaded, hooked module must stay loaded and
// hooked across a save/restore cycle.
func freeLibrary(uintptr) uintptr { return 1 }

func freeLibraryAndExitThread(module, exitCode uintptr) uintptr {
	freeLibrary(module)
	_, _, _ = procExitThread.Call(exitCode)
	return 0
}
