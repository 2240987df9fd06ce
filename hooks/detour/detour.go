//go:build windows

// Package detour installs inline hooks into the current process: it
// rewrites a function's prologue with a jump to a replacement and
// builds a trampoline stub that still runs the bytes the hook
// overwrote, so replacements can call through to the original
// behavior. There's no ecosystem Go package for this in use anywhere
// in the reference corpus, so it's hand-rolled the same way the
// process-injection stub in pal/windows/process is: raw machine code,
// written through VirtualProtect/VirtualAlloc.
package detour

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	mu          sync.RWMutex
	trampolines = map[string]uintptr{}
)

// Spec names one export to hook and the callback thunk (as returned by
// syscall.NewCallback) that should replace it.
type Spec struct {
	Module   string
	Function string
	Hook     uintptr
}

// stubLength is the number of prologue bytes the jump-patch overwrites
// and the trampoline must replay before jumping back. 14 bytes is
// enough room for a 64-bit absolute jump (mov rax, imm64; jmp rax, 12
// bytes) and, on 32-bit, more than the 7-byte mov eax, imm32; jmp eax.
const stubLength = 14

// Install hooks the exported function moduleName!functionName so that
// calling it invokes hook instead, and returns the address of a
// trampoline that still runs the original function.
func Install(moduleName, functionName string, hook uintptr) (uintptr, error) {
	handle, err := windows.LoadLibrary(moduleName)
	if err != nil {
		return 0, fmt.Errorf("detour install %s!%s: load library: %w", moduleName, functionName, err)
	}
	target, err := windows.GetProcAddress(handle, functionName)
	if err != nil {
		return 0, fmt.Errorf("detour install %s!%s: get proc address: %w", moduleName, functionName, err)
	}

	trampoline, err := installAt(target, hook)
	if err != nil {
		return 0, fmt.Errorf("detour install %s!%s: %w", moduleName, functionName, err)
	}

	mu.Lock()
	trampolines[functionName] = trampoline
	mu.Unlock()

	return trampoline, nil
}

// Trampoline returns the trampoline address previously registered for
// functionName by Install, or ok=false if it was never hooked.
func Trampoline(functionName string) (uintptr, bool) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := trampolines[functionName]
	return t, ok
}

func installAt(target, hook uintptr) (uintptr, error) {
	original := unsafe.Slice((*byte)(unsafe.Pointer(target)), stubLength)
	savedPrologue := make([]byte, stubLength)
	copy(savedPrologue, original)

	trampolineAddr, err := buildTrampoline(savedPrologue, target+stubLength)
	if err != nil {
		return 0, err
	}

	jump := buildAbsoluteJump(hook)
	if err := patch(target, jump); err != nil {
		return 0, err
	}

	return trampolineAddr, nil
}

// buildTrampoline allocates an executable page containing the
// overwritten prologue bytes followed by an absolute jump back to the
// original function past the patched region.
func buildTrampoline(savedPrologue []byte, resumeAt uintptr) (uintptr, error) {
	code := append(append([]byte{}, savedPrologue...), buildAbsoluteJump(resumeAt)...)
	addr, err := allocateExecutable(len(code))
	if err != nil {
		return 0, fmt.Errorf("allocate trampoline: %w", err)
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(code))
	copy(dst, code)
	return addr, nil
}

// allocateExecutable reserves and commits a read/write/execute region
// in the current process.
func allocateExecutable(size int) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return 0, err
	}
	return addr, nil
}

// patch overwrites target's bytes in place, flipping memory protection
// to writable for the duration of the copy and back afterward.
func patch(target uintptr, code []byte) error {
	var oldProtect uint32
	if err := windows.VirtualProtect(target, uintptr(len(code)), windows.PAGE_EXECUTE_READWRITE, &oldProtect); err != nil {
		return fmt.Errorf("virtual protect: %w", err)
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(target)), len(code))
	copy(dst, code)
	var ignored uint32
	_ = windows.VirtualProtect(target, uintptr(len(code)), oldProtect, &ignored)
	return nil
}

// AllocateThunk allocates an executable region and writes code into it,
// returning its address. Used by the window-procedure hook to build a
// small per-window native wrapper that prepends the trampoline address
// as an extra argument — something Go function values can't express
// directly (syscall.NewCallback doesn't support closures), so a
// hand-assembled stub is built the same way the original does.
func AllocateThunk(code []byte) (uintptr, error) {
	addr, err := allocateExecutable(len(code))
	if err != nil {
		return 0, err
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(code))
	copy(dst, code)
	return addr, nil
}
