//go:build windows && 386

package detour

import "testing"

func TestBuildAbsoluteJumpEncodesTargetAndPads(t *testing.T) {
	const target = uintptr(0x11223344)
	code := buildAbsoluteJump(target)

	if len(code) != stubLength {
		t.Fatalf("len(code) = %d, want %d", len(code), stubLength)
	}
	if code[0] != 0xb8 {
		t.Fatalf("code does not start with `mov eax, imm32` opcode: %#x", code[0])
	}
	for i := 0; i < 4; i++ {
		want := byte(target >> (8 * i))
		if code[1+i] != want {
			t.Fatalf("code[%d] = %#x, want %#x", 1+i, code[1+i], want)
		}
	}
	if code[5] != 0xff || code[6] != 0xe0 {
		t.Fatalf("code does not end the mov with `jmp eax`: %x", code[5:7])
	}
	for i := 7; i < stubLength; i++ {
		if code[i] != 0xcc {
			t.Fatalf("code[%d] = %#x, want int3 padding", i, code[i])
		}
	}
}
