//go:build windows && amd64

package replacements

import "tasharness/hooks/detour"

// buildWindowProcedureThunk builds a native wrapper that shifts the
// incoming (hwnd, msg, wParam, lParam) arguments one slot over (lParam
// moves from r9 to the stack), puts the original window procedure's
// address in rcx as the new first argument, calls windowProcedure, and
// returns its result to the caller — the amd64 equivalent of currying an extra leading argument onto a
// fixed-signature callback, which Go's syscall.NewCallback cannot do
// for closures.
func buildWindowProcedureThunk(original uintptr) (uintptr, error) {
	target := windowProcedureThunkTarget
	code := []byte{
		0x41, 0x51, // push r9
		0x48, 0x83, 0xec, 0x20, // sub rsp, 0x20
		0x4d, 0x89, 0xc1, // mov r9, r8
		0x49, 0x89, 0xd0, // mov r8, rdx
		0x48, 0x89, 0xca, // mov rdx, rcx
		0x48, 0xb9, 0, 0, 0, 0, 0, 0, 0, 0, // mov rcx, original
		0x48, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, // mov rax, target
		0xff, 0xd0, // call rax
		0x48, 0x83, 0xc4, 0x28, // add rsp, 0x28
		0xc3,
	}
	for i := 0; i < 8; i++ {
		code[17+i] = byte(original >> (8 * i))
		code[27+i] = byte(target >> (8 * i))
	}
	return detour.AllocateThunk(code)
}
