//go:build windows

package snapshot

import (
	"sort"
	"testing"

	"tasharness/pal/windows/process"
)

// Capture/Restore suspend every thread in the target process, including
// the calling thread when the target is the test binary's own process —
// a self-suspend that never resumes. So these tests exercise the
// sub-steps Restore delegates to (reconcileAllocations, reconcilePermissions,
// rewriteMemory) directly against process.Current(), none of which touch
// threads at all.

func TestReconcileAllocationsAllocatesMissingRegionAndFreesExtra(t *testing.T) {
	p := process.Current()

	const size = 4096
	extra, err := p.AllocateMemory(size, process.MemoryPermissions{RWE: process.RWEReadWrite})
	if err != nil {
		t.Fatalf("AllocateMemory(extra): %v", err)
	}

	current, err := allMemoryAllocations(p)
	if err != nil {
		t.Fatalf("allMemoryAllocations: %v", err)
	}

	// Build a saved snapshot that doesn't know about `extra` but does
	// expect a region at a currently-unallocated address.
	freeAddr, freeSize := findFreeRegion(t, p)
	savedAllocations := append(withoutAddress(current, extra), allocation{
		address: freeAddr,
		size:    freeSize,
		regions: []process.MemoryRegion{{Address: freeAddr, Size: freeSize, IsCommitted: true}},
	})
	sort.Slice(savedAllocations, func(i, j int) bool { return savedAllocations[i].address < savedAllocations[j].address })
	saved := &Snapshot{allocations: savedAllocations}

	if err := saved.reconcileAllocations(p); err != nil {
		t.Fatalf("reconcileAllocations: %v", err)
	}
	defer p.FreeMemory(freeAddr)

	extraRegion, err := p.GetMemoryRegion(extra)
	if err != nil {
		t.Fatalf("GetMemoryRegion(extra): %v", err)
	}
	if !extraRegion.Free {
		t.Fatalf("extra allocation at %#x was not freed by reconcileAllocations", extra)
	}

	newRegion, err := p.GetMemoryRegion(freeAddr)
	if err != nil {
		t.Fatalf("GetMemoryRegion(freeAddr): %v", err)
	}
	if newRegion.Free {
		t.Fatalf("expected region at %#x to be allocated by reconcileAllocations", freeAddr)
	}
}

func TestReconcilePermissionsRestoresSavedProtection(t *testing.T) {
	p := process.Current()

	const size = 4096
	addr, err := p.AllocateMemory(size, process.MemoryPermissions{RWE: process.RWERead})
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	defer p.FreeMemory(addr)

	saved, err := p.GetMemoryRegion(addr)
	if err != nil {
		t.Fatalf("GetMemoryRegion: %v", err)
	}

	if _, err := p.SetMemoryPermissions(addr, size, process.MemoryPermissions{RWE: process.RWEReadWrite}); err != nil {
		t.Fatalf("SetMemoryPermissions: %v", err)
	}

	s := &Snapshot{allocations: []allocation{{address: addr, size: size, regions: []process.MemoryRegion{saved}}}}
	if err := s.reconcilePermissions(p); err != nil {
		t.Fatalf("reconcilePermissions: %v", err)
	}

	got, err := p.GetMemoryRegion(addr)
	if err != nil {
		t.Fatalf("GetMemoryRegion after reconcile: %v", err)
	}
	if got.Permissions != saved.Permissions {
		t.Fatalf("permissions after reconcile = %+v, want %+v", got.Permissions, saved.Permissions)
	}
}

func TestRewriteMemoryWritesSavedBytesAndRestoresPermissions(t *testing.T) {
	p := process.Current()

	const size = 4096
	addr, err := p.AllocateMemory(size, process.MemoryPermissions{RWE: process.RWERead})
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	defer p.FreeMemory(addr)

	want := make([]byte, size)
	copy(want, []byte("snapshot restored these bytes"))

	s := &Snapshot{memory: map[uintptr][]byte{addr: want}}
	if err := s.rewriteMemory(p); err != nil {
		t.Fatalf("rewriteMemory: %v", err)
	}

	got, err := p.ReadToSlice(addr, size)
	if err != nil {
		t.Fatalf("ReadToSlice: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("memory after rewrite = %q, want %q", got[:32], want[:32])
	}

	region, err := p.GetMemoryRegion(addr)
	if err != nil {
		t.Fatalf("GetMemoryRegion: %v", err)
	}
	if region.Permissions.RWE != process.RWERead {
		t.Fatalf("permissions after rewriteMemory = %+v, want restored to RWERead", region.Permissions)
	}
}

func withoutAddress(allocations []allocation, addr uintptr) []allocation {
	out := make([]allocation, 0, len(allocations))
	for _, a := range allocations {
		if a.address != addr {
			out = append(out, a)
		}
	}
	return out
}

// findFreeRegion allocates then immediately frees a region, handing back
// an address/size pair known to be unallocated (barring an unlucky
// concurrent allocation elsewhere in the process, which this single-
// threaded test does not perform).
func findFreeRegion(t *testing.T, p *process.Process) (uintptr, uintptr) {
	t.Helper()
	const size = 4096
	addr, err := p.AllocateMemory(size, process.MemoryPermissions{RWE: process.RWENone})
	if err != nil {
		t.Fatalf("AllocateMemory(probe): %v", err)
	}
	if err := p.FreeMemory(addr); err != nil {
		t.Fatalf("FreeMemory(probe): %v", err)
	}
	return addr, size
}
