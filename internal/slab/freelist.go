// Free-list management: disjoint mutable (in-slab) and read-only
// (in-file) free lists, each a set of half-open [ref, ref+size) chunks
// that never cross a slab boundary and never overlap, using the same
// small-fixed-structure layout and sentinel-error pattern as the rest
// of this package.
package slab

import "sort"

// Chunk is a half-open free interval [Ref, Ref+Size).
type Chunk struct {
	Ref  uint64
	Size uint64
}

func (c Chunk) end() uint64 { return c.Ref + c.Size }

// FreeList holds chunks sorted by Ref, coalescing adjacent chunks as
// they're pushed. Push's crossesBoundary argument reports whether a
// merge would cross a slab boundary; callers supply it so the list never
// needs to know about slab geometry directly.
type FreeList struct {
	chunks []Chunk
}

// NewFreeList returns an empty free list.
func NewFreeList() *FreeList {
	return &FreeList{}
}

// Push inserts a free chunk, coalescing with the neighbor ending exactly
// at chunk.Ref and the neighbor starting exactly at chunk.end(), unless
// crossesBoundary reports that the merge would span two slabs.
func (fl *FreeList) Push(chunk Chunk, crossesBoundary func(a, b Chunk) bool) {
	i := sort.Search(len(fl.chunks), func(i int) bool { return fl.chunks[i].Ref >= chunk.Ref })

	merged := chunk
	// Merge with predecessor.
	if i > 0 {
		prev := fl.chunks[i-1]
		if prev.end() == merged.Ref && !crossesBoundary(prev, merged) {
			merged = Chunk{Ref: prev.Ref, Size: prev.Size + merged.Size}
			fl.chunks = append(fl.chunks[:i-1], fl.chunks[i:]...)
			i--
		}
	}
	// Merge with successor.
	if i < len(fl.chunks) {
		next := fl.chunks[i]
		if merged.end() == next.Ref && !crossesBoundary(merged, next) {
			merged = Chunk{Ref: merged.Ref, Size: merged.Size + next.Size}
			fl.chunks = append(fl.chunks[:i], fl.chunks[i+1:]...)
		}
	}

	fl.chunks = append(fl.chunks, Chunk{})
	copy(fl.chunks[i+1:], fl.chunks[i:])
	fl.chunks[i] = merged
}

// FindFirstFit scans for the first chunk whose size is >= size, per
// spec.md §4.3's allocation policy step 1. Returns ok=false if none fits.
func (fl *FreeList) FindFirstFit(size uint64) (idx int, ok bool) {
	for i, c := range fl.chunks {
		if c.Size >= size {
			return i, true
		}
	}
	return 0, false
}

// Take removes chunk idx and, if it's larger than size, puts the
// remaining tail back in its place as a free chunk, unmerged: the
// original chunk was already not mergeable with its neighbors. Returns
// the allocated Chunk of exactly `size` bytes taken from the head of the
// original chunk.
func (fl *FreeList) Take(idx int, size uint64) Chunk {
	c := fl.chunks[idx]
	alloc := Chunk{Ref: c.Ref, Size: size}
	if c.Size > size {
		fl.chunks[idx] = Chunk{Ref: c.Ref + size, Size: c.Size - size}
	} else {
		fl.chunks = append(fl.chunks[:idx], fl.chunks[idx+1:]...)
	}
	return alloc
}

// Remove deletes every chunk whose range falls within [from, to) —
// used when a slab is detached and its mutable free space must vanish.
func (fl *FreeList) Remove(from, to uint64) {
	out := fl.chunks[:0]
	for _, c := range fl.chunks {
		if c.Ref >= from && c.end() <= to {
			continue
		}
		out = append(out, c)
	}
	fl.chunks = out
}

// TotalSize returns the sum of all chunk sizes, used by the
// all_free/Clean-state invariant check in spec.md §8.
func (fl *FreeList) TotalSize() uint64 {
	var total uint64
	for _, c := range fl.chunks {
		total += c.Size
	}
	return total
}

// Chunks returns a copy of the current chunk list, sorted by Ref.
func (fl *FreeList) Chunks() []Chunk {
	out := make([]Chunk, len(fl.chunks))
	copy(out, fl.chunks)
	return out
}

// Clear empties the list — used by reset_free_space_tracking.
func (fl *FreeList) Clear() {
	fl.chunks = nil
}
