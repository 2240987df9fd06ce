//go:build windows

// Package snapshot captures and restores the full observable state of
// a target process: every thread's register context, the layout of
// its reserved memory allocations, and the committed bytes inside
// them. Restoring diffs the current layout against the saved one
// instead of blindly re-creating everything, so load doesn't have to
// tear down and rebuild allocations that already match.
package snapshot

import (
	"fmt"
	"sort"

	"tasharness/pal/windows/process"
	"tasharness/pal/windows/system"
	"tasharness/pal/windows/thread"
)

// allocation groups the contiguous reserved regions that share a
// single VirtualAlloc allocation base, mirroring how Windows reports
// them via VirtualQuery.
type allocation struct {
	address uintptr
	size    uintptr
	regions []process.MemoryRegion
}

// Snapshot is an immutable capture of a process's threads and memory
// at one point in time.
type Snapshot struct {
	threadContexts map[uint32]*thread.Context
	allocations    []allocation
	memory         map[uintptr][]byte
}

// Capture suspends every thread in process, records each one's
// context, and copies out every committed, non-guard byte of memory,
// then resumes the threads it suspended. The original's save/restore
// always restores what it suspended, so Capture leaves the process
// exactly as it found it.
func Capture(p *process.Process) (*Snapshot, error) {
	threads, err := collectThreads(p)
	if err != nil {
		return nil, fmt.Errorf("snapshot capture: %w", err)
	}
	for _, t := range threads {
		if err := t.IncrementSuspendCount(); err != nil {
			return nil, fmt.Errorf("snapshot capture: suspend: %w", err)
		}
	}
	defer func() {
		for _, t := range threads {
			_ = t.DecrementSuspendCount()
		}
	}()

	threadContexts := make(map[uint32]*thread.Context, len(threads))
	for id, t := range threads {
		ctx, err := t.GetContext()
		if err != nil {
			return nil, fmt.Errorf("snapshot capture: get context: %w", err)
		}
		threadContexts[id] = ctx
	}

	allocations, err := allMemoryAllocations(p)
	if err != nil {
		return nil, fmt.Errorf("snapshot capture: %w", err)
	}

	memory := make(map[uintptr][]byte)
	for _, a := range allocations {
		for _, region := range a.regions {
			if !region.IsCommitted || region.Permissions.IsGuard {
				continue
			}
			bytes, err := p.ReadToSlice(region.Address, int(region.Size))
			if err != nil {
				return nil, fmt.Errorf("snapshot capture: read %#x: %w", region.Address, err)
			}
			memory[region.Address] = bytes
		}
	}

	return &Snapshot{
		threadContexts: threadContexts,
		allocations:    allocations,
		memory:         memory,
	}, nil
}

// Restore suspends every thread, resets each one's register context to
// the snapshot, reconciles memory allocations (freeing anything
// current that the snapshot doesn't have, allocating anything the
// snapshot has that's now missing), reapplies region permissions, and
// rewrites every committed byte the snapshot recorded, before resuming
// the threads it suspended.
func (s *Snapshot) Restore(p *process.Process) error {
	threads, err := collectThreads(p)
	if err != nil {
		return fmt.Errorf("snapshot restore: %w", err)
	}
	for _, t := range threads {
		if err := t.IncrementSuspendCount(); err != nil {
			return fmt.Errorf("snapshot restore: suspend: %w", err)
		}
	}
	defer func() {
		for _, t := range threads {
			_ = t.DecrementSuspendCount()
		}
	}()

	for id, ctx := range s.threadContexts {
		t, err := thread.FromID(id)
		if err != nil {
			return fmt.Errorf("snapshot restore: thread %d: %w", id, err)
		}
		if err := t.SetContext(ctx); err != nil {
			return fmt.Errorf("snapshot restore: set context %d: %w", id, err)
		}
	}

	if err := s.reconcileAllocations(p); err != nil {
		return fmt.Errorf("snapshot restore: %w", err)
	}
	if err := s.reconcilePermissions(p); err != nil {
		return fmt.Errorf("snapshot restore: %w", err)
	}
	if err := s.rewriteMemory(p); err != nil {
		return fmt.Errorf("snapshot restore: %w", err)
	}

	return nil
}

// reconcileAllocations walks the current and saved allocation lists in
// address order (both are sorted, since allMemoryAllocations scans
// address space linearly) and frees/allocates exactly the regions that
// differ, leaving everything that already matches untouched. The
// decision of what to free/allocate is delegated to diffAllocations, a
// pure function kept free of any OS dependency so it can be tested
// without a live process.
func (s *Snapshot) reconcileAllocations(p *process.Process) error {
	current, err := allMemoryAllocations(p)
	if err != nil {
		return err
	}

	toFree, toAllocate := diffAllocations(allocationKeys(current), allocationKeys(s.allocations))

	for _, a := range toFree {
		if err := p.FreeMemory(a.Address); err != nil {
			return fmt.Errorf("free %#x: %w", a.Address, err)
		}
	}
	for _, a := range toAllocate {
		if _, err := p.AllocateMemoryAt(a.Address, a.Size, process.MemoryPermissions{RWE: process.RWENone}); err != nil {
			return fmt.Errorf("allocate %#x: %w", a.Address, err)
		}
	}
	return nil
}

func allocationKeys(allocations []allocation) []allocationKey {
	keys := make([]allocationKey, len(allocations))
	for i, a := range allocations {
		keys[i] = allocationKey{Address: a.address, Size: a.size}
	}
	return keys
}

func (s *Snapshot) reconcilePermissions(p *process.Process) error {
	for _, a := range s.allocations {
		for _, saved := range a.regions {
			current, err := p.GetMemoryRegion(saved.Address)
			if err != nil {
				return fmt.Errorf("get memory region %#x: %w", saved.Address, err)
			}
			if current.Free || current.Address != saved.Address || current.Size != saved.Size || current.Permissions != saved.Permissions {
				if _, err := p.SetMemoryPermissions(saved.Address, saved.Size, saved.Permissions); err != nil {
					return fmt.Errorf("set permissions %#x: %w", saved.Address, err)
				}
			}
		}
	}
	return nil
}

func (s *Snapshot) rewriteMemory(p *process.Process) error {
	for address, bytes := range s.memory {
		previous, err := p.SetMemoryPermissions(address, uintptr(len(bytes)), process.MemoryPermissions{RWE: process.RWEReadWrite})
		if err != nil {
			continue // region no longer writable for some reason; skip rather than abort the whole restore
		}
		if err := p.Write(address, bytes); err != nil {
			return fmt.Errorf("write %#x: %w", address, err)
		}
		if _, err := p.SetMemoryPermissions(address, uintptr(len(bytes)), previous); err != nil {
			return fmt.Errorf("restore permissions %#x: %w", address, err)
		}
	}
	return nil
}

func collectThreads(p *process.Process) (map[uint32]*thread.Thread, error) {
	it, err := p.IterThreadIDs()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	threads := make(map[uint32]*thread.Thread)
	for {
		id, ok := it.Next()
		if !ok {
			break
		}
		t, err := thread.FromID(id)
		if err != nil {
			return nil, fmt.Errorf("thread %d: %w", id, err)
		}
		threads[id] = t
	}
	return threads, nil
}

// allMemoryAllocations walks the full addressable range with
// GetMemoryRegion and groups the reserved regions it finds by their
// shared allocation base.
func allMemoryAllocations(p *process.Process) ([]allocation, error) {
	info := system.GetInfo()
	address := info.MinimumApplicationAddress
	end := info.MaximumApplicationAddress

	var regions []process.MemoryRegion
	for address < end {
		region, err := p.GetMemoryRegion(address)
		if err != nil {
			return nil, fmt.Errorf("get memory region %#x: %w", address, err)
		}
		next := region.Address + region.Size
		if next <= address {
			break // overflow guard
		}
		address = next
		if !region.Free {
			regions = append(regions, region)
		}
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].Address < regions[j].Address })

	var allocations []allocation
	for _, region := range regions {
		if len(allocations) > 0 && allocations[len(allocations)-1].address == region.AllocationAddress {
			last := &allocations[len(allocations)-1]
			last.regions = append(last.regions, region)
			last.size += region.Size
			continue
		}
		allocations = append(allocations, allocation{
			address: region.AllocationAddress,
			size:    region.Size,
			regions: []process.MemoryRegion{region},
		})
	}
	return allocations, nil
}
