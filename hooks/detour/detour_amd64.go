//go:build windows && amd64

package detour

// buildAbsoluteJump returns `mov rax, imm64; jmp rax` (12 bytes),
// padded to stubLength with int3 so the trampoline's saved-prologue
// region always starts at a fixed offset regardless of jump width.
func buildAbsoluteJump(target uintptr) []byte {
	code := []byte{
		0x48, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, // mov rax, target
		0xff, 0xe0, // jmp rax
	}
	for i := 0; i < 8; i++ {
		code[2+i] = byte(target >> (8 * i))
	}
	for len(code) < stubLength {
		code = append(code, 0xcc) // int3 padding
	}
	return code
}
