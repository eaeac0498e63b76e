// Allocator diagnostics, grounded on
// original_source/src/realm/sync/tools/stat_command.cpp's dump of
// allocator occupancy. Pure projection, no I/O: a third-party library
// would add nothing over a struct literal here.
package slab

// AllocatorStats is a point-in-time snapshot of an Allocator's
// occupancy, useful for the audit sink and operator tooling.
type AllocatorStats struct {
	Baseline          uint64
	SlabCount         int
	SlabBytes         uint64
	MutableFreeBytes  uint64
	ReadonlyFreeBytes uint64
	State             State
}

// Stat projects a's current occupancy without mutating it.
func Stat(a *Allocator) AllocatorStats {
	var slabBytes uint64
	for _, s := range a.slabs {
		slabBytes += uint64(len(s.data))
	}
	return AllocatorStats{
		Baseline:          a.baseline,
		SlabCount:         len(a.slabs),
		SlabBytes:         slabBytes,
		MutableFreeBytes:  a.mutableFree.TotalSize(),
		ReadonlyFreeBytes: a.readonlyFree.TotalSize(),
		State:             a.state,
	}
}
