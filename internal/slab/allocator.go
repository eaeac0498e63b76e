// Slab allocator: the unified reference space where refs below baseline
// resolve into the mapped file and refs at or above baseline resolve
// into in-process scratch slabs, built around an explicit state diagram
// and allocation/free policy; the sentinel-error style and
// small-fixed-structure layout carry the conventions used elsewhere in
// this module.
package slab

import (
	"sort"

	"github.com/latticedb/lattice/internal/pagestore"
	"github.com/latticedb/lattice/internal/telemetry"
)

var log = telemetry.Component("slab")

// State is the allocator's free-space tracking state, spec.md §4.3's
// Dirty/Clean/Invalid diagram.
type State int

const (
	StateClean State = iota
	StateDirty
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "Clean"
	case StateDirty:
		return "Dirty"
	case StateInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// MemRef is a (ref, addr) pair: the opaque reference and the live
// backing bytes it currently resolves to, per C4's contract.
type MemRef struct {
	Ref  uint64
	Addr []byte
}

// refAlignment is the mandatory multiple every ref/size must satisfy
// (spec.md §3: "Refs are always multiples of 8").
const refAlignment = 8

// slab is a contiguous heap buffer tagged with the ref at which it ends,
// per spec.md §3.
type slab struct {
	data   []byte
	refEnd uint64
}

func (s *slab) refBegin() uint64 { return s.refEnd - uint64(len(s.data)) }

// Allocator is the unified file/scratch reference-space manager.
type Allocator struct {
	mf       *pagestore.MappedFile
	pageSize int64

	baseline uint64 // first scratch ref; equals logical file size at attach
	slabs    []*slab

	mutableFree  *FreeList
	readonlyFree *FreeList

	state State
	cache *RefCache

	// buf backs AttachBuffer/AttachEmpty, where there is no MappedFile.
	buf []byte
}

// AttachFile opens path via pagestore.Attach and returns the current
// top-ref, per spec.md §4.3's attach_file.
func AttachFile(path string, opts pagestore.AttachOptions) (*Allocator, uint64, error) {
	mf, err := pagestore.Attach(path, opts)
	if err != nil {
		return nil, 0, err
	}
	topRef, err := mf.TopRef()
	if err != nil {
		mf.Detach()
		return nil, 0, err
	}

	a := &Allocator{
		mf:           mf,
		pageSize:     mf.Sections().PageSize(),
		baseline:     uint64(mf.FileSize()),
		mutableFree:  NewFreeList(),
		readonlyFree: NewFreeList(),
		state:        StateClean,
		cache:        NewRefCache(),
	}
	return a, topRef, nil
}

// AttachBuffer initializes an allocator directly over an in-memory byte
// slice (e.g. a snapshot loaded for read-only inspection), per spec.md
// §4.3's attach_buffer. The caller retains ownership of data; the
// baseline is len(data), so scratch refs start right after it. topRef is
// not stored.
func AttachBuffer(data []byte, topRef uint64) *Allocator {
	return &Allocator{
		pageSize:     4096,
		baseline:     uint64(len(data)),
		buf:          data,
		mutableFree:  NewFreeList(),
		readonlyFree: NewFreeList(),
		state:        StateClean,
		cache:        NewRefCache(),
	}
}

// AttachEmpty initializes an allocator with no backing file or buffer at
// all — used for a purely in-memory, never-persisted realm.
func AttachEmpty() *Allocator {
	return &Allocator{
		pageSize:     4096,
		baseline:     pagestore.HeaderSize,
		mutableFree:  NewFreeList(),
		readonlyFree: NewFreeList(),
		state:        StateClean,
		cache:        NewRefCache(),
	}
}

// Detach releases the underlying MappedFile reference, if any.
func (a *Allocator) Detach() error {
	if a.mf != nil {
		return a.mf.Detach()
	}
	return nil
}

// State returns the current free-space tracking state.
func (a *Allocator) State() State { return a.state }

func roundUp(n, mult int64) int64 {
	if n <= 0 {
		return mult
	}
	rem := n % mult
	if rem == 0 {
		return n
	}
	return n + (mult - rem)
}

func align8(n uint64) uint64 {
	return (n + refAlignment - 1) &^ (refAlignment - 1)
}

// uncommittedBytes sums the size of every live scratch slab, used by
// the "20% of current uncommitted bytes" growth heuristic.
func (a *Allocator) uncommittedBytes() int64 {
	var total int64
	for _, s := range a.slabs {
		total += int64(len(s.data))
	}
	return total
}

// Alloc reserves size bytes (a multiple of 8) and returns its ref/addr.
// Implements spec.md §4.3's two-step allocation policy: first-fit scan
// of the mutable free list, else a new slab.
func (a *Allocator) Alloc(size uint64) (MemRef, error) {
	if a.state == StateInvalid {
		return MemRef{}, ErrInvalidFreeSpace
	}
	if size%refAlignment != 0 {
		panic("slab: Alloc size must be a multiple of 8")
	}

	if idx, ok := a.mutableFree.FindFirstFit(size); ok {
		chunk := a.mutableFree.Take(idx, size)
		a.setDirty()
		return a.memRefFor(chunk.Ref, size)
	}

	if err := a.growSlab(size); err != nil {
		return MemRef{}, err
	}
	idx, ok := a.mutableFree.FindFirstFit(size)
	if !ok {
		return MemRef{}, ErrMaximumFileSizeExceeded
	}
	chunk := a.mutableFree.Take(idx, size)
	a.setDirty()
	return a.memRefFor(chunk.Ref, size)
}

// growSlab allocates a new slab sized max(size, page_size, 20% of
// current uncommitted bytes), rounded up to page size, per spec.md
// §4.3, and pushes its entire span onto the mutable free list.
func (a *Allocator) growSlab(size uint64) error {
	grown := int64(size)
	if a.pageSize > grown {
		grown = a.pageSize
	}
	if pct := a.uncommittedBytes() / 5; pct > grown {
		grown = pct
	}
	grown = roundUp(grown, a.pageSize)

	var start uint64
	if n := len(a.slabs); n > 0 {
		start = a.slabs[n-1].refEnd
	} else {
		start = a.baseline
	}
	end := start + uint64(grown)
	if end < start {
		return ErrMaximumFileSizeExceeded
	}

	s := &slab{data: make([]byte, grown), refEnd: end}
	a.slabs = append(a.slabs, s)
	log.Debug().Uint64("start", start).Int64("size", grown).Msg("grew scratch slab")

	a.mutableFree.Push(Chunk{Ref: start, Size: uint64(grown)}, a.crossesSlabBoundary)
	return nil
}

// crossesSlabBoundary reports whether merging chunks a and b (assumed
// adjacent) would straddle two different slabs.
func (a *Allocator) crossesSlabBoundary(x, y Chunk) bool {
	sx := a.slabContaining(x.Ref)
	sy := a.slabContaining(y.Ref)
	return sx != sy
}

func (a *Allocator) slabContaining(ref uint64) *slab {
	for _, s := range a.slabs {
		if ref >= s.refBegin() && ref < s.refEnd {
			return s
		}
	}
	return nil
}

// Free returns a chunk to the appropriate free list, coalescing with
// neighbors that don't cross a slab boundary (mutable) or simply
// adjacent (read-only/file-resident). A no-op while Invalid.
func (a *Allocator) Free(ref uint64, size uint64) error {
	if a.state == StateInvalid {
		return nil
	}
	chunk := Chunk{Ref: ref, Size: size}
	if ref < a.baseline {
		a.readonlyFree.Push(chunk, func(Chunk, Chunk) bool { return false })
	} else {
		a.mutableFree.Push(chunk, a.crossesSlabBoundary)
	}
	a.cache.Invalidate()
	return nil
}

// Realloc is a best-effort alloc+copy+free, per spec.md §4.3 (in-place
// extension is permitted but not required; this implementation never
// extends in place).
func (a *Allocator) Realloc(ref uint64, addr []byte, oldSize, newSize uint64) (MemRef, error) {
	next, err := a.Alloc(newSize)
	if err != nil {
		return MemRef{}, err
	}
	n := oldSize
	if newSize < n {
		n = newSize
	}
	copy(next.Addr, addr[:n])
	if err := a.Free(ref, oldSize); err != nil {
		return MemRef{}, err
	}
	return next, nil
}

// Translate resolves ref to its current backing bytes, consulting the
// 256-entry cache first.
func (a *Allocator) Translate(ref uint64) ([]byte, error) {
	if addr, ok := a.cache.Lookup(ref); ok {
		return addr, nil
	}
	addr, err := a.translateUncached(ref)
	if err != nil {
		return nil, err
	}
	a.cache.Insert(ref, addr)
	return addr, nil
}

func (a *Allocator) translateUncached(ref uint64) ([]byte, error) {
	if ref < a.baseline {
		if a.mf != nil {
			return a.mf.SectionRemainder(int64(ref))
		}
		if a.buf != nil && ref < uint64(len(a.buf)) {
			return a.buf[ref:], nil
		}
		return nil, ErrLogicError
	}

	i := sort.Search(len(a.slabs), func(i int) bool { return a.slabs[i].refEnd > ref })
	if i >= len(a.slabs) {
		return nil, ErrLogicError
	}
	s := a.slabs[i]
	return s.data[ref-s.refBegin():], nil
}

func (a *Allocator) memRefFor(ref uint64, size uint64) (MemRef, error) {
	addr, err := a.translateUncached(ref)
	if err != nil {
		return MemRef{}, err
	}
	if uint64(len(addr)) > size {
		addr = addr[:size]
	}
	a.cache.Insert(ref, addr)
	return MemRef{Ref: ref, Addr: addr}, nil
}

func (a *Allocator) setDirty() {
	if a.state == StateClean {
		a.state = StateDirty
	}
	a.cache.Invalidate()
}

// PromoteToFile copies every live scratch slab's bytes into the mapped
// file at their current ref offsets, folds the baseline forward past
// them so those refs now resolve into the file instead of scratch
// memory, and persists newTopRef via the header's select-bit sequence.
// This is spec.md §3's slab lifecycle ("destroyed on detach or at
// commit, their contents promoted to file bytes") and must run on every
// commit of a file-backed allocator, independent of the commit's
// to_disk flush request. A no-op for in-memory/buffer-backed allocators,
// since there is no file to promote into or persist a top-ref to.
func (a *Allocator) PromoteToFile(newTopRef uint64) error {
	if a.mf == nil {
		a.state = StateClean
		return nil
	}

	if len(a.slabs) > 0 {
		newBaseline := a.slabs[len(a.slabs)-1].refEnd
		if err := a.mf.GrowTo(int64(newBaseline)); err != nil {
			return err
		}
		for _, s := range a.slabs {
			if err := a.mf.WriteBytes(int64(s.refBegin()), s.data); err != nil {
				return err
			}
		}

		// Scratch free chunks are already registered at the right refs;
		// only the list they belong to changes now that their refs
		// resolve into the file.
		for _, c := range a.mutableFree.Chunks() {
			a.readonlyFree.Push(c, func(Chunk, Chunk) bool { return false })
		}
		a.mutableFree.Clear()
		a.slabs = nil
		a.baseline = newBaseline
		a.cache.Invalidate()
	}

	a.state = StateClean
	log.Debug().Uint64("baseline", a.baseline).Uint64("top_ref", newTopRef).Msg("promoted scratch slabs to file")
	return a.mf.CommitTopRef(newTopRef)
}

// ConsolidateFreeReadonly merges adjacent chunks in the read-only
// (file-resident) free list — called after a commit reclaims space.
func (a *Allocator) ConsolidateFreeReadonly() {
	chunks := a.readonlyFree.Chunks()
	a.readonlyFree.Clear()
	for _, c := range chunks {
		a.readonlyFree.Push(c, func(Chunk, Chunk) bool { return false })
	}
}

// ResetFreeSpaceTracking clears both free lists and returns the
// allocator to Clean, recovering from Invalid per spec.md §4.3.
func (a *Allocator) ResetFreeSpaceTracking() {
	a.mutableFree.Clear()
	a.readonlyFree.Clear()
	a.slabs = nil
	a.state = StateClean
	a.cache.Invalidate()
}

// MarkInvalid transitions the allocator to the Invalid state (a
// free-list push failure in the original design); every Alloc fails
// until ResetFreeSpaceTracking is called.
func (a *Allocator) MarkInvalid() {
	a.state = StateInvalid
	log.Warn().Msg("allocator free space tracking marked invalid")
}

// UpdateReaderView grows the allocator's baseline view of the file after
// a concurrent writer's commit increased fileSize, per spec.md §4.2's
// growth protocol.
func (a *Allocator) UpdateReaderView(fileSize int64) error {
	if a.mf == nil {
		return nil
	}
	return a.mf.GrowTo(fileSize)
}

// MappedFile returns the allocator's backing file handle, or nil for an
// in-memory/buffer-backed allocator. Used by the coordinator for
// compaction and write_copy, which operate below the ref/addr
// abstraction.
func (a *Allocator) MappedFile() *pagestore.MappedFile { return a.mf }

// AllFree reports whether every committed byte is presently free —
// spec.md §8's `all_free` predicate, true exactly when the mutable free
// list accounts for every slab byte. Always false while Invalid, since
// the free lists are not tracked in that state.
func (a *Allocator) AllFree() bool {
	if a.state == StateInvalid {
		return false
	}
	return a.mutableFree.TotalSize() == uint64(a.uncommittedBytes())
}
