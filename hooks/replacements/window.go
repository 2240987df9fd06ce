//go:build windows

package replacements

import (
	"syscall"
	"unsafe"

	"tasharness/hooks/detour"
	"tasharness/hooks/state"
)

const (
	wmActivate    = 0x0006
	wmSetFocus    = 0x0007
	wmKillFocus   = 0x0008
	wmActivateApp = 0x001C
	wmKeyDown     = 0x0100
	wmKeyUp       = 0x0101
	wmChar        = 0x0102
	wmMouseMove   = 0x0200
	wmLButtonDown = 0x0201
	wmLButtonUp   = 0x0202
	wmRButtonDown = 0x0204
	wmRButtonUp   = 0x0205
	wmMButtonDown = 0x0207
	wmMButtonUp   = 0x0208
	wmXButtonDown = 0x020B
	wmXButtonUp   = 0x020C
	wmQuit        = 0x0012
	pmRemove      = 0x0001
)

// wndClassExA and wndClassExW share layout except for the two string
// field types; only the offset of lpfnWndProc (the only field this
// hook touches) needs to be known.
const wndClassExWndProcOffset = 8 // UINT cbSize + UINT style, on both 386 and amd64

// WindowHooks filters out focus-change messages and lets
// PeekMessage/GetMessage serve injected custom messages ahead of real
// window-system ones.
func WindowHooks() []detour.Spec {
	return []detour.Spec{
		{Module: "user32.dll", Function: "RegisterClassExA", Hook: syscall.NewCallback(registerClassExA)},
		{Module: "user32.dll", Function: "RegisterClassExW", Hook: syscall.NewCallback(registerClassExW)},
		{Module: "user32.dll", Function: "PeekMessageA", Hook: syscall.NewCallback(peekMessageA)},
		{Module: "user32.dll", Function: "PeekMessageW", Hook: syscall.NewCallback(peekMessageW)},
		{Module: "user32.dll", Function: "GetMessageA", Hook: syscall.NewCallback(getMessageA)},
		{Module: "user32.dll", Function: "GetMessageW", Hook: syscall.NewCallback(getMessageW)},
	}
}

func registerClassExA(info uintptr) uintptr {
	return registerClassEx(info, "RegisterClassExA")
}

func registerClassExW(info uintptr) uintptr {
	return registerClassEx(info, "RegisterClassExW")
}

// registerClassEx copies the WNDCLASSEX struct, replaces its window
// procedure with a native thunk that calls windowProcedure with the
// original procedure's address prepended, and forwards the patched
// struct to the real RegisterClassEx.
func registerClassEx(info uintptr, trampolineName string) uintptr {
	size := 80 // sizeof(WNDCLASSEXA) == sizeof(WNDCLASSEXW) on amd64
	patched := make([]byte, size)
	src := unsafe.Slice((*byte)(unsafe.Pointer(info)), size)
	copy(patched, src)

	wndProcPtr := (*uintptr)(unsafe.Pointer(&patched[wndClassExWndProcOffset]))
	original := *wndProcPtr
	if original != 0 {
		thunk, err := buildWindowProcedureThunk(original)
		if err == nil {
			*wndProcPtr = thunk
		}
	}

	r, _ := callTrampoline(trampolineName, uintptr(unsafe.Pointer(&patched[0])))
	return r
}

// windowProcedure filters out focus-change messages before they reach
// the target's real window procedure, called through via trampoline
// (the original function pointer, stashed by the thunk as an
// argument).
func windowProcedure(trampoline uintptr, window, message, wParam, lParam uintptr) uintptr {
	switch message {
	case wmSetFocus, wmKillFocus, wmActivate, wmActivateApp:
		return 0
	default:
		return callStdcall(trampoline, window, message, wParam, lParam)
	}
}

var windowProcedureThunkTarget = syscall.NewCallback(windowProcedure)

func peekMessageA(message, windowFilter, minID, maxID, flags uintptr) uintptr {
	return peekMessage(message, windowFilter, minID, maxID, flags, "PeekMessageA")
}

func peekMessageW(message, windowFilter, minID, maxID, flags uintptr) uintptr {
	return peekMessage(message, windowFilter, minID, maxID, flags, "PeekMessageW")
}

// msg mirrors the Win32 MSG struct layout needed to read/write the
// message field after a PeekMessage/GetMessage call.
type msg struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	x, y    int32
}

func peekMessage(messagePtr, windowFilter, minID, maxID, flags uintptr, trampolineName string) uintptr {
	if custom, ok := state.TakeCustomMessage(windowFilter, uint32(minID), uint32(maxID)); ok {
		m := (*msg)(unsafe.Pointer(messagePtr))
		m.hwnd = custom.Window
		m.message = custom.Message
		m.wParam = custom.WParam
		m.lParam = custom.LParam
		if flags&pmRemove == 0 {
			state.EnqueueCustomMessage(custom)
		}
		return 1
	}

	r, _ := callTrampoline(trampolineName, messagePtr, windowFilter, minID, maxID, flags)
	if r != 0 {
		m := (*msg)(unsafe.Pointer(messagePtr))
		switch m.message {
		case wmKeyDown, wmKeyUp, wmChar, wmMouseMove,
			wmLButtonDown, wmLButtonUp, wmRButtonDown, wmRButtonUp,
			wmMButtonDown, wmMButtonUp, wmXButtonDown, wmXButtonUp:
			// consumed-but-discarded: the caller still gets a message
			// (result is unchanged), just not this one's contents.
			m.message = 0
		}
	}
	return r
}

func getMessageA(message, windowFilter, minID, maxID uintptr) uintptr {
	return getMessage(message, windowFilter, minID, maxID, peekMessageA)
}

func getMessageW(message, windowFilter, minID, maxID uintptr) uintptr {
	return getMessage(message, windowFilter, minID, maxID, peekMessageW)
}

func getMessage(message, windowFilter, minID, maxID uintptr, peek func(uintptr, uintptr, uintptr, uintptr, uintptr) uintptr) uintptr {
	for {
		if peek(message, windowFilter, minID, maxID, pmRemove) != 0 {
			m := (*msg)(unsafe.Pointer(message))
			if m.message == wmQuit {
				return 0
			}
			return 1
		}
		state.SleepIndefinitely()
	}
}
