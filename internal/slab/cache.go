// Reference translation cache, spec.md §4.3/§9's open question #2:
// a 256-entry direct-mapped cache of ref -> addr, keyed by a hash of
// ref so repeated translate() calls for hot refs skip the
// file/scratch dispatch and slab binary search. Resolved (DESIGN.md,
// SPEC_FULL.md §6) by keeping the 256-entry size but hashing with
// siphash under a random per-attach key instead of a hand-rolled mix,
// so correctness never depends on ref-allocation order.
package slab

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/dchest/siphash"
)

const cacheSize = 256

type cacheEntry struct {
	valid   bool
	version uint64
	ref     uint64
	addr    []byte
}

// RefCache is a small fixed-size, versioned translation cache.
// Bumping version invalidates every entry in O(1): entries compare their
// stored version against the cache's current version on lookup instead
// of being individually cleared.
type RefCache struct {
	k0, k1  uint64
	version uint64
	entries [cacheSize]cacheEntry
}

// NewRefCache builds a cache with a fresh random siphash key, generated
// once per Allocator (spec.md §9).
func NewRefCache() *RefCache {
	var keyBuf [16]byte
	_, _ = rand.Read(keyBuf[:])
	return &RefCache{
		k0: binary.LittleEndian.Uint64(keyBuf[0:8]),
		k1: binary.LittleEndian.Uint64(keyBuf[8:16]),
	}
}

func (c *RefCache) slot(ref uint64) int {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], ref)
	h := siphash.Hash(c.k0, c.k1, buf[:])
	return int(h % cacheSize)
}

// Lookup returns the cached address for ref, if present and not stale.
func (c *RefCache) Lookup(ref uint64) ([]byte, bool) {
	e := &c.entries[c.slot(ref)]
	if e.valid && e.version == c.version && e.ref == ref {
		return e.addr, true
	}
	return nil, false
}

// Insert records addr for ref at the current cache version.
func (c *RefCache) Insert(ref uint64, addr []byte) {
	e := &c.entries[c.slot(ref)]
	e.valid = true
	e.version = c.version
	e.ref = ref
	e.addr = addr
}

// Invalidate bumps the cache version, logically clearing every entry in
// O(1) — used whenever the allocator's free-space state changes (alloc,
// free, realloc, reset_free_space_tracking), per spec.md §4.3.
func (c *RefCache) Invalidate() {
	c.version++
}
