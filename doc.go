// Package lattice implements the storage and transaction engine core of an
// embedded, object-oriented database with optional cross-device
// synchronization: multi-version concurrency control over a single
// memory-mapped file, a slab allocator unifying file-backed and scratch
// memory behind one reference space, and an operational-transform layer
// that applies remote sync instructions to the local object graph.
//
// The package is a thin facade over internal/pagestore (mapped file and
// section geometry), internal/slab (allocator), internal/txn (transaction
// and history log), internal/coordinator (per-file singleton, MVCC
// lifecycle, notifiers) and internal/applier + internal/reset (sync
// instruction application and client-reset recovery).
package lattice
