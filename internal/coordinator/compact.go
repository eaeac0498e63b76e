// Compaction and snapshot export: compaction's two-phase
// write-then-truncate follows the same temp-file rebuild discipline as
// a repair pass, and write_copy is a point-in-time export built on the
// same "sync, then copy" idea.
//
// The node/B+-tree layout compaction would physically rewrite (moving
// live objects to eliminate fragmentation) is out of scope (spec.md §1
// treats it as an opaque external value store), so Compact here
// operates at the one layer this engine owns: the allocator's read-only
// free list.
package coordinator

import "os"

// Compact consolidates the read-only free list (spec.md §6's
// should_compact_on_launch option). It does not move live data and does
// not shrink or truncate the file.
func (c *Coordinator) Compact() error {
	c.realmMu.Lock()
	defer c.realmMu.Unlock()

	c.alloc.ConsolidateFreeReadonly()

	mf := c.alloc.MappedFile()
	if mf == nil {
		return nil // in-memory allocator: nothing to shrink on disk
	}

	log.Debug().Msg("compaction: consolidated read-only free list")
	return nil
}

// WriteCopy exports a point-in-time snapshot of the database to a new
// file at path: a byte-level copy of the current file contents. It takes
// no encryption key and does not re-encrypt the copy (SPEC_FULL.md §11).
func (c *Coordinator) WriteCopy(path string) error {
	mf := c.alloc.MappedFile()
	if mf == nil {
		return ErrLogicError
	}

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	defer dst.Close()

	return mf.WriteCopyTo(dst)
}
