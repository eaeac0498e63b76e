// Package pagestore implements the section map and mapped-file layer
// (spec.md §4.1–§4.2, C1–C2): the file is partitioned into exponentially
// sized, page-aligned sections so that offset<->section math runs in
// O(1) for practical file sizes (a small bounded loop over doubling
// groups), and a process-wide, refcounted MappedFile owns the OS handle
// and the growable list of per-section mappings backing it.
package pagestore

import "math/bits"

// Section layout (spec.md §4.1): the first 16 sections are 1 page, the
// next 8 are 2 pages, the next 8 are 4 pages, doubling every 8 sections
// thereafter. This keeps early sections small (fine-grained growth for
// small files) while the tail covers huge files with few, large mmaps.
const (
	firstGroupSections = 16
	groupSize          = 8
)

// SectionMap converts between file offsets and section indices for a
// fixed page size. It holds no file state — it is pure arithmetic,
// constructed once per MappedFile attach.
type SectionMap struct {
	pageSize int64
}

// NewSectionMap returns a SectionMap for the given page size. pageSize
// must be a power of two; the caller (Attach) ensures this by passing
// the OS page size, which always is one.
func NewSectionMap(pageSize int64) *SectionMap {
	return &SectionMap{pageSize: pageSize}
}

// groupPagesPerSection returns the page count of every section within
// doubling group g (0-based, counted from the first group after the
// initial 16 one-page sections): group 0 = 2 pages/section, group 1 = 4,
// group 2 = 8, ...
func groupPagesPerSection(g int) int64 {
	return int64(1) << uint(g+1)
}

// groupByteSpan returns the total bytes spanned by doubling group g.
func (m *SectionMap) groupByteSpan(g int) int64 {
	return int64(groupSize) * groupPagesPerSection(g) * m.pageSize
}

// SectionIndexOf returns the index of the section containing byte offset
// pos.
func (m *SectionMap) SectionIndexOf(pos int64) int {
	firstGroupBytes := int64(firstGroupSections) * m.pageSize
	if pos < firstGroupBytes {
		return int(pos / m.pageSize)
	}

	rem := pos - firstGroupBytes
	g := 0
	for rem >= m.groupByteSpan(g) {
		rem -= m.groupByteSpan(g)
		g++
	}
	sectionBytes := groupPagesPerSection(g) * m.pageSize
	withinGroup := int(rem / sectionBytes)
	return firstGroupSections + g*groupSize + withinGroup
}

// SectionBase returns the byte offset where section i begins.
func (m *SectionMap) SectionBase(i int) int64 {
	if i <= firstGroupSections {
		return int64(i) * m.pageSize
	}
	base := int64(firstGroupSections) * m.pageSize
	full := i - firstGroupSections
	group := full / groupSize
	withinGroup := full % groupSize

	for g := 0; g < group; g++ {
		base += m.groupByteSpan(g)
	}
	base += int64(withinGroup) * groupPagesPerSection(group) * m.pageSize
	return base
}

// UpperBoundary returns the byte offset immediately after the section
// containing pos, i.e. SectionBase(SectionIndexOf(pos)+1).
func (m *SectionMap) UpperBoundary(pos int64) int64 {
	return m.SectionBase(m.SectionIndexOf(pos) + 1)
}

// MatchesBoundary reports whether size lands exactly on a section
// boundary — used by Attach (via initOrValidate) to validate a non-read-only file
// was left at a clean growth point by the last session to write it.
func (m *SectionMap) MatchesBoundary(size int64) bool {
	i := m.SectionCountFor(size)
	return m.SectionBase(i) == size
}

// SectionCountFor returns the minimum section count whose upper boundary
// covers size, i.e. how many sections must be mapped to reach size bytes.
func (m *SectionMap) SectionCountFor(size int64) int {
	if size <= 0 {
		return 0
	}
	return m.SectionIndexOf(size-1) + 1
}

// PageSize returns the configured page size.
func (m *SectionMap) PageSize() int64 { return m.pageSize }

// roundUpPage rounds n up to the next multiple of pageSize.
func roundUpPage(n, pageSize int64) int64 {
	if n <= 0 {
		return 0
	}
	rem := n % pageSize
	if rem == 0 {
		return n
	}
	return n + (pageSize - rem)
}

// log2Floor returns the floor log2 of a positive size; used by callers
// that round slab sizes to a power-of-two-ish growth factor.
func log2Floor(n int64) int {
	if n <= 0 {
		return 0
	}
	return bits.Len64(uint64(n)) - 1
}
