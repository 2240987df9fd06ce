//go:build windows && 386

package replacements

import "tasharness/hooks/detour"

// buildWindowProcedureThunk is the cdecl-to-the-next-call 32-bit
// equivalent of the amd64 version: it pops its own return address,
// pushes the original window procedure as an extra leading argument,
// and jumps into windowProcedure.
func buildWindowProcedureThunk(original uintptr) (uintptr, error) {
	target := windowProcedureThunkTarget
	code := []byte{
		0x58,                   // pop eax (caller's return address)
		0x68, 0, 0, 0, 0,       // push original
		0x50,                   // push eax (return address back on top)
		0xb8, 0, 0, 0, 0,       // mov eax, target
		0xff, 0xe0, // jmp eax
	}
	for i := 0; i < 4; i++ {
		code[2+i] = byte(original >> (8 * i))
		code[8+i] = byte(target >> (8 * i))
	}
	return detour.AllocateThunk(code)
}
