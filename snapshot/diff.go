// The allocation reconciliation diff is pure data manipulation — no
// OS calls — and is kept in its own build-unconstrained file so it can
// be exercised by tests on any platform.
package snapshot

// allocationKey is the minimal identity reconcileAllocations diffs on:
// an allocation's base address and total size. Two allocations at the
// same address with the same size are treated as identical regardless
// of their internal region layout.
type allocationKey struct {
	Address uintptr
	Size    uintptr
}

// diffAllocations walks current and saved — both sorted by Address, as
// allMemoryAllocations produces them by construction — and reports
// which current allocations must be freed and which saved allocations
// must be recreated to bring current in line with saved. An allocation
// present in both lists at the same address and size is left alone.
func diffAllocations(current, saved []allocationKey) (toFree, toAllocate []allocationKey) {
	i, j := 0, 0
	for i < len(current) || j < len(saved) {
		switch {
		case i < len(current) && j < len(saved) && current[i] == saved[j]:
			i++
			j++
		case i < len(current) && (j >= len(saved) || current[i].Address < saved[j].Address+saved[j].Size):
			toFree = append(toFree, current[i])
			i++
		case j < len(saved):
			toAllocate = append(toAllocate, saved[j])
			j++
		default:
			i, j = len(current), len(saved)
		}
	}
	return toFree, toAllocate
}
