//go:build windows

package thread

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/windows"
)

func TestInstructionPointerX64(t *testing.T) {
	ctx := &Context{Is64Bit: true, X64: &Context64{Rip: 0x00007ff612340000}}
	if got := ctx.InstructionPointer(); got != 0x00007ff612340000 {
		t.Fatalf("InstructionPointer() = %#x, want %#x", got, 0x00007ff612340000)
	}
}

func TestInstructionPointerX86(t *testing.T) {
	ctx := &Context{Is64Bit: false, X86: &Context32{Eip: 0x00401000}}
	if got := ctx.InstructionPointer(); got != 0x00401000 {
		t.Fatalf("InstructionPointer() = %#x, want %#x", got, 0x00401000)
	}
}

func TestNewAlignedContext64IsSixteenByteAligned(t *testing.T) {
	ctx := newAlignedContext64()
	addr := uintptr(unsafe.Pointer(ctx))
	if addr%16 != 0 {
		t.Fatalf("newAlignedContext64() address %#x is not 16-byte aligned", addr)
	}
}

func TestProcessIs64BitAgainstTheCurrentProcess(t *testing.T) {
	// The test binary itself is a real, live process, so processIs64Bit
	// can be called against it directly with no target process needed.
	current, err := windows.GetCurrentProcess()
	if err != nil {
		t.Fatalf("GetCurrentProcess: %v", err)
	}
	is64Bit, err := processIs64Bit(current)
	if err != nil {
		t.Fatalf("processIs64Bit: %v", err)
	}
	if is64Bit != (unsafe.Sizeof(uintptr(0)) == 8) {
		t.Fatalf("processIs64Bit() = %v, want %v to match the test binary's own pointer size", is64Bit, unsafe.Sizeof(uintptr(0)) == 8)
	}
}
