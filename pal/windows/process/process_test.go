//go:build windows

package process

import (
	"context"
	"testing"
)

func TestMemoryPermissionsRoundTripsThroughWinAPIConstant(t *testing.T) {
	cases := []MemoryPermissions{
		{RWE: RWERead},
		{RWE: RWEReadWrite},
		{RWE: RWEReadWriteExecute, IsGuard: true},
		{RWE: RWENone, IsGuard: true},
	}
	for _, want := range cases {
		got := MemoryPermissionsFromWinAPIConstant(want.ToWinAPIConstant())
		if got != want {
			t.Fatalf("round trip of %+v produced %+v", want, got)
		}
	}
}

func TestMemoryPermissionsFromWinAPIConstantDecodesGuardBit(t *testing.T) {
	const pageGuard = 0x100
	got := MemoryPermissionsFromWinAPIConstant(uint32(RWEReadWrite) | pageGuard)
	if got.RWE != RWEReadWrite || !got.IsGuard {
		t.Fatalf("got %+v, want RWEReadWrite with IsGuard set", got)
	}
}

func TestStringsEqualFold(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"kernel32.dll", "KERNEL32.DLL", true},
		{"Kernel32.Dll", "kernel32.dll", true},
		{"kernel32.dll", "user32.dll", false},
		{"kernel32.dll", "kernel32.dl", false},
		{"", "", true},
	}
	for _, c := range cases {
		if got := stringsEqualFold(c.a, c.b); got != c.want {
			t.Fatalf("stringsEqualFold(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestBuildLoadLibraryStub64EmbedsAddressesLittleEndian(t *testing.T) {
	stub := buildLoadLibraryStub(true, 0x1122334455667788, 0x1000, 0x2000)

	if got := stub[14]; got != 0x88 {
		t.Fatalf("pathAddress low byte = %#x, want 0x88", got)
	}
	if got := stub[24]; got != 0x00 {
		t.Fatalf("loadLibraryA low byte = %#x, want 0x00 (0x1000)", got)
	}
	// the tail of the stub must end in a ret so the remote thread can exit
	// cleanly back through the thread's own entry trampoline.
	if last := stub[len(stub)-1]; last != 0xc3 {
		t.Fatalf("stub does not end in ret, last byte = %#x", last)
	}
}

func TestBuildLoadLibraryStub32EmbedsAddressesLittleEndian(t *testing.T) {
	stub := buildLoadLibraryStub(false, 0x11223344, 0x55667788, 0x99aabbcc)

	if stub[1] != 0x44 || stub[2] != 0x33 || stub[3] != 0x22 || stub[4] != 0x11 {
		t.Fatalf("pathAddress push operand = % x, want 44 33 22 11", stub[1:5])
	}
	if stub[6] != 0x88 || stub[7] != 0x77 || stub[8] != 0x66 || stub[9] != 0x55 {
		t.Fatalf("loadLibraryA mov operand = % x, want 88 77 66 55", stub[6:10])
	}
	if last := stub[len(stub)-1]; last != 0xc3 {
		t.Fatalf("stub does not end in ret, last byte = %#x", last)
	}
}

func TestCurrentProcessIsSelfDescribing(t *testing.T) {
	p := Current()

	is64Bit, err := p.Is64Bit()
	if err != nil {
		t.Fatalf("Is64Bit: %v", err)
	}
	if is64Bit != (^uintptr(0)>>32 != 0) {
		t.Fatalf("Is64Bit() = %v, does not match the test binary's own pointer size", is64Bit)
	}

	id, err := p.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if id == 0 {
		t.Fatalf("ID() = 0, want the real process id")
	}
}

func TestCurrentProcessEnumeratesItsOwnModules(t *testing.T) {
	p := Current()

	modules, err := p.GetModules()
	if err != nil {
		t.Fatalf("GetModules: %v", err)
	}
	if len(modules) == 0 {
		t.Fatalf("GetModules() returned no modules, want at least the test binary itself")
	}

	kernel32, err := p.GetModule("kernel32.dll")
	if err != nil {
		t.Fatalf("GetModule(kernel32.dll): %v", err)
	}
	if kernel32 == nil {
		t.Fatalf("GetModule(kernel32.dll) = nil, want the module every Windows process loads")
	}

	loadLibraryA, err := kernel32.ExportAddress("LoadLibraryA")
	if err != nil {
		t.Fatalf("ExportAddress(LoadLibraryA): %v", err)
	}
	if loadLibraryA == 0 {
		t.Fatalf("ExportAddress(LoadLibraryA) = 0")
	}
}

func TestCurrentProcessAllocatesAndFreesMemory(t *testing.T) {
	p := Current()

	addr, err := p.AllocateMemory(4096, MemoryPermissions{RWE: RWEReadWrite})
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	defer p.FreeMemory(addr)

	want := []byte("deterministic replay")
	if err := p.Write(addr, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := p.ReadToSlice(addr, len(want))
	if err != nil {
		t.Fatalf("ReadToSlice: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("ReadToSlice() = %q, want %q", got, want)
	}

	region, err := p.GetMemoryRegion(addr)
	if err != nil {
		t.Fatalf("GetMemoryRegion: %v", err)
	}
	if region.Free || !region.IsCommitted {
		t.Fatalf("GetMemoryRegion() = %+v, want a committed, non-free region", region)
	}

	previous, err := p.SetMemoryPermissions(addr, 4096, MemoryPermissions{RWE: RWERead})
	if err != nil {
		t.Fatalf("SetMemoryPermissions: %v", err)
	}
	if previous.RWE != RWEReadWrite {
		t.Fatalf("SetMemoryPermissions returned previous = %+v, want RWEReadWrite", previous)
	}
}

func TestCurrentProcessReadNulTerminatedStringMatchesWrittenBytes(t *testing.T) {
	p := Current()

	addr, err := p.AllocateMemory(64, MemoryPermissions{RWE: RWEReadWrite})
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	defer p.FreeMemory(addr)

	if err := p.Write(addr, append([]byte("Sleep"), 0)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := p.ReadNulTerminatedString(addr)
	if err != nil {
		t.Fatalf("ReadNulTerminatedString: %v", err)
	}
	if got != "Sleep" {
		t.Fatalf("ReadNulTerminatedString() = %q, want %q", got, "Sleep")
	}
}

func TestCurrentProcessCreateThreadRunsAndJoins(t *testing.T) {
	p := Current()

	// a single `ret` instruction: valid, harmless machine code on both
	// x86 and x64, executed as a new thread in this very process.
	addr, err := p.AllocateMemory(1, MemoryPermissions{RWE: RWEReadExecute})
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	defer p.FreeMemory(addr)
	if err := p.Write(addr, []byte{0xc3}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	th, err := p.CreateThread(addr, false, 0)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	exitCode, err := th.Join()
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	_ = exitCode // the ret falls through to whatever garbage is in eax/rax
}

func TestIterThreadIDsFindsThreadsOfCurrentProcess(t *testing.T) {
	p := Current()

	it, err := p.IterThreadIDs()
	if err != nil {
		t.Fatalf("IterThreadIDs: %v", err)
	}
	defer it.Close()

	count := 0
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		count++
	}
	if count == 0 {
		t.Fatalf("IterThreadIDs found no threads, want at least the current thread")
	}
}

func TestJoinRespectsContextCancellation(t *testing.T) {
	p := Current()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Join(ctx); err == nil {
		t.Fatalf("Join on an already-canceled context succeeded, want an error (current process never exits)")
	}
}
