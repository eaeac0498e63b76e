package pagestore

import "testing"

// TestSectionBoundaryInvariant checks spec.md §4.1's contract: for all
// pos, section_base(section_index_of(pos)) <= pos < section_base(idx+1).
func TestSectionBoundaryInvariant(t *testing.T) {
	const pageSize = 4096
	m := NewSectionMap(pageSize)

	probe := func(pos int64) {
		t.Helper()
		idx := m.SectionIndexOf(pos)
		base := m.SectionBase(idx)
		upper := m.SectionBase(idx + 1)
		if !(base <= pos && pos < upper) {
			t.Fatalf("pos=%d idx=%d base=%d upper=%d: invariant violated", pos, idx, base, upper)
		}
	}

	for i := int64(0); i < 200; i++ {
		probe(i * pageSize / 3)
	}
	// Exercise the exponential tail: every section boundary itself, and
	// one byte before/after each.
	for i := 0; i < 80; i++ {
		b := m.SectionBase(i)
		if b > 0 {
			probe(b - 1)
		}
		probe(b)
		probe(b + 1)
	}
}

func TestSectionFirstSixteenAreOnePage(t *testing.T) {
	const pageSize = 4096
	m := NewSectionMap(pageSize)
	for i := 0; i < firstGroupSections; i++ {
		got := m.SectionBase(i + 1) - m.SectionBase(i)
		if got != pageSize {
			t.Errorf("section %d size = %d, want %d", i, got, pageSize)
		}
	}
}

func TestSectionGeometryDoubles(t *testing.T) {
	const pageSize = 4096
	m := NewSectionMap(pageSize)

	// Section 16 (first of group 0) should be 2 pages.
	got := m.SectionBase(17) - m.SectionBase(16)
	if got != 2*pageSize {
		t.Errorf("section 16 size = %d, want %d", got, 2*pageSize)
	}
	// Section 24 (first of group 1) should be 4 pages.
	got = m.SectionBase(25) - m.SectionBase(24)
	if got != 4*pageSize {
		t.Errorf("section 24 size = %d, want %d", got, 4*pageSize)
	}
	// Section 32 (first of group 2) should be 8 pages.
	got = m.SectionBase(33) - m.SectionBase(32)
	if got != 8*pageSize {
		t.Errorf("section 32 size = %d, want %d", got, 8*pageSize)
	}
}

func TestMatchesBoundary(t *testing.T) {
	const pageSize = 4096
	m := NewSectionMap(pageSize)

	if !m.MatchesBoundary(m.SectionBase(5)) {
		t.Error("exact boundary should match")
	}
	if m.MatchesBoundary(m.SectionBase(5) + 1) {
		t.Error("non-boundary should not match")
	}
}

func TestSectionCountFor(t *testing.T) {
	const pageSize = 4096
	m := NewSectionMap(pageSize)

	for i := 1; i < 50; i++ {
		size := m.SectionBase(i)
		if got := m.SectionCountFor(size); got != i {
			t.Errorf("SectionCountFor(%d) = %d, want %d", size, got, i)
		}
	}
}
