// Package txn implements the transaction and history-log layers: a
// read, write, or frozen handle on the database at a specific snapshot
// version. The state gating follows a familiar blockRead/blockWrite
// pattern (sync.Cond + atomic state), trimmed from a four-state
// all/read/none/closed machine (which exists to block readers during
// compaction/rehash) down to the two states this engine's MVCC model
// actually needs: whether a writer is currently active, and whether the
// owning realm has closed.
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/latticedb/lattice/internal/slab"
	"github.com/latticedb/lattice/internal/telemetry"
)

var log = telemetry.Component("txn")

// Kind distinguishes the three transaction lifecycles spec.md §3 names.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
	KindFrozen
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindFrozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// writerState values for Guard.
const (
	writerIdle int32 = iota
	writerActive
	writerClosed
)

// Guard serializes write-transaction begin/commit against a closing
// realm, the same shape as a fileLock+cond pairing but scoped to "is a
// writer active" rather than a whole-file OS lock, since the
// coordinator's mutexes already serialize cross-process writers at the
// file level.
type Guard struct {
	state atomic.Int32
	cond  *sync.Cond
}

// NewGuard returns a Guard ready for write transactions.
func NewGuard() *Guard {
	return &Guard{cond: sync.NewCond(&sync.Mutex{})}
}

// BeginWrite blocks until no other write transaction is active on this
// realm, then marks one active. Returns an error if the realm has
// closed in the meantime.
func (g *Guard) BeginWrite() error {
	g.cond.L.Lock()
	defer g.cond.L.Unlock()
	for g.state.Load() == writerActive {
		g.cond.Wait()
	}
	if g.state.Load() == writerClosed {
		return ErrLogicError
	}
	g.state.Store(writerActive)
	return nil
}

// EndWrite releases the active write slot and wakes the next waiter.
func (g *Guard) EndWrite() {
	g.cond.L.Lock()
	if g.state.Load() == writerActive {
		g.state.Store(writerIdle)
	}
	g.cond.L.Unlock()
	g.cond.Broadcast()
}

// Close transitions the guard to closed and wakes every waiter so they
// observe ErrLogicError instead of blocking forever.
func (g *Guard) Close() {
	g.cond.L.Lock()
	g.state.Store(writerClosed)
	g.cond.L.Unlock()
	g.cond.Broadcast()
}

// Transaction is a read, write, or frozen handle at a specific snapshot
// version, riding on an Allocator for all ref translation.
type Transaction struct {
	alloc   *slab.Allocator
	guard   *Guard
	kind    Kind
	version uint64
	topRef  uint64
	done    atomic.Bool
}

// newTransaction is the shared constructor; callers (coordinator) pick
// kind/version/topRef.
func newTransaction(alloc *slab.Allocator, guard *Guard, kind Kind, version, topRef uint64) *Transaction {
	return &Transaction{alloc: alloc, guard: guard, kind: kind, version: version, topRef: topRef}
}

// BeginRead opens a read transaction pinned at the given
// version/topRef. Readers never block on the write guard — MVCC
// snapshot isolation means a concurrent writer's uncommitted slabs are
// simply invisible to refs below the reader's own baseline.
func BeginRead(alloc *slab.Allocator, version, topRef uint64) *Transaction {
	return newTransaction(alloc, nil, KindRead, version, topRef)
}

// BeginWrite blocks for exclusive write access via guard, then returns a
// write transaction at currentVersion; Commit sets its new version.
func BeginWrite(alloc *slab.Allocator, guard *Guard, currentVersion, currentTopRef uint64) (*Transaction, error) {
	if err := guard.BeginWrite(); err != nil {
		return nil, err
	}
	return newTransaction(alloc, guard, KindWrite, currentVersion, currentTopRef), nil
}

// Freeze pins src's version, producing an immutable Transaction that
// never advances; the coordinator refuses to trim history below the
// oldest pinned frozen version (spec.md §3's Lifecycles bullet).
func Freeze(src *Transaction) *Transaction {
	return newTransaction(src.alloc, nil, KindFrozen, src.version, src.topRef)
}

func (t *Transaction) Kind() Kind        { return t.kind }
func (t *Transaction) Version() uint64   { return t.version }
func (t *Transaction) TopRef() uint64    { return t.topRef }
func (t *Transaction) IsFrozen() bool    { return t.kind == KindFrozen }
func (t *Transaction) Allocator() *slab.Allocator { return t.alloc }

// Alloc/Free/Translate proxy to the underlying allocator; Alloc and Free
// return LogicError if called on a read or frozen transaction (spec.md
// §7's begin_transaction-on-frozen-realm example), while Translate works
// on every kind.
func (t *Transaction) Alloc(size uint64) (slab.MemRef, error) {
	if t.kind != KindWrite {
		return slab.MemRef{}, ErrLogicError
	}
	return t.alloc.Alloc(size)
}

func (t *Transaction) Free(ref, size uint64) error {
	if t.kind != KindWrite {
		return ErrLogicError
	}
	return t.alloc.Free(ref, size)
}

func (t *Transaction) Translate(ref uint64) ([]byte, error) {
	return t.alloc.Translate(ref)
}

// Commit finalizes a write transaction at newTopRef/newVersion and
// releases the write guard. Only valid on KindWrite transactions that
// haven't already been closed.
func (t *Transaction) Commit(newTopRef, newVersion uint64) error {
	if t.kind != KindWrite {
		return ErrLogicError
	}
	if !t.done.CompareAndSwap(false, true) {
		return ErrLogicError
	}
	t.topRef = newTopRef
	t.version = newVersion
	t.guard.EndWrite()
	log.Debug().Uint64("version", newVersion).Msg("write transaction committed")
	return nil
}

// Rollback discards a write transaction's uncommitted slabs and
// releases the write guard. The realm remains at its pre-transaction
// snapshot (spec.md §7's "Observable failure behavior").
func (t *Transaction) Rollback() error {
	if t.kind != KindWrite {
		return nil
	}
	if !t.done.CompareAndSwap(false, true) {
		return nil
	}
	t.alloc.ResetFreeSpaceTracking()
	t.guard.EndWrite()
	return nil
}

// Close releases a read or frozen transaction. A no-op for write
// transactions — callers must Commit or Rollback those explicitly.
func (t *Transaction) Close() error {
	if t.kind == KindWrite {
		return nil
	}
	t.done.Store(true)
	return nil
}
