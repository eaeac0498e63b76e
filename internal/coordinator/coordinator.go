// Package coordinator implements the realm coordinator and notifier
// worker: one process-wide singleton per absolute file path, managing
// transaction lifetimes, schema cache, commit protocol, and notifier
// scheduling, built around a global weak-reference map guarded by a
// single mutex — the same per-path sandboxing idea as one owned handle
// scoping all access to a file, generalized here to a process-global
// `map[string]*Coordinator`.
package coordinator

import (
	"errors"
	"sort"
	"sync"

	"github.com/latticedb/lattice/internal/slab"
	"github.com/latticedb/lattice/internal/telemetry"
	"github.com/latticedb/lattice/internal/txn"
)

var log = telemetry.Component("coordinator")

// ErrMismatchedConfig mirrors spec.md §7's MismatchedConfig kind.
var ErrMismatchedConfig = errors.New("coordinator: mismatched config")

// ErrLogicError mirrors spec.md §7's LogicError kind.
var ErrLogicError = errors.New("coordinator: logic error")

// s_coordinator_mutex: global path -> Coordinator table. Always the
// outermost lock per spec.md §5's ordering table.
var (
	registryMu sync.Mutex
	registry   = map[string]*Coordinator{}
)

// Coordinator is the per-path singleton described by C7.
type Coordinator struct {
	path       string
	baseConfig Config

	alloc   *slab.Allocator
	guard   *txn.Guard
	history *txn.History
	metrics *telemetry.Metrics

	realmMu sync.Mutex // coordinator.m_realm_mutex
	realms  map[*Realm]struct{}

	schemaCache SchemaCache // coordinator.m_schema_cache_mutex is internal to SchemaCache

	notifierMu        sync.Mutex // coordinator.m_notifier_mutex
	runningMu         sync.Mutex // coordinator.m_running_notifiers_mutex
	notifiers         []*Notifier
	newNotifiers      []*Notifier
	skipVersion       *uint64
	handoverTxVersion uint64
	nextNotifierID    uint64

	version uint64
	topRef  uint64

	worker *worker
}

// GetCoordinator returns the singleton Coordinator for cfg.Path,
// creating it on first call and validating config compatibility on
// later calls (spec.md §4.4's "Configuration compatibility" bullet).
func GetCoordinator(cfg Config, alloc *slab.Allocator, initialVersion, initialTopRef uint64, metrics *telemetry.Metrics) (*Coordinator, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if c, ok := registry[cfg.Path]; ok {
		if !c.baseConfig.compatible(cfg) {
			return nil, ErrMismatchedConfig
		}
		return c, nil
	}

	c := &Coordinator{
		path:       cfg.Path,
		baseConfig: cfg,
		alloc:      alloc,
		guard:      txn.NewGuard(),
		history:    txn.NewHistory(),
		metrics:    metrics,
		realms:     map[*Realm]struct{}{},
		version:    initialVersion,
		topRef:     initialTopRef,
	}
	c.worker = newWorker(c)
	registry[cfg.Path] = c
	log.Debug().Str("path", cfg.Path).Msg("coordinator created")
	return c, nil
}

// ClearCache drops every coordinator from the process-global registry
// without closing their realms — intended for tests that want a clean
// slate between cases (spec.md §4.4's clear_cache, scoped process-wide
// since there is no single "current" coordinator to clear).
func ClearCache() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = map[string]*Coordinator{}
}

// Realm is a SharedRealm handle: a transaction plus the coordinator
// that issued it.
type Realm struct {
	coord    *Coordinator
	tx       *txn.Transaction
	OnChange func() // did_change callback on the binding context
}

// Transaction exposes the underlying read/write/frozen handle.
func (r *Realm) Transaction() *txn.Transaction { return r.tx }

// GetRealm returns a new live-read Realm pinned at the coordinator's
// current latest snapshot.
func (c *Coordinator) GetRealm() *Realm {
	c.realmMu.Lock()
	defer c.realmMu.Unlock()

	tx := txn.BeginRead(c.alloc, c.version, c.topRef)
	r := &Realm{coord: c, tx: tx}
	c.realms[r] = struct{}{}
	return r
}

// Freeze pins source's current version into a new immutable Realm,
// independent of source's lifetime.
func (c *Coordinator) Freeze(source *Realm) *Realm {
	c.realmMu.Lock()
	defer c.realmMu.Unlock()

	frozen := &Realm{coord: c, tx: txn.Freeze(source.tx)}
	c.realms[frozen] = struct{}{}
	return frozen
}

// Unregister releases realm's transaction and removes it from the live
// set. The coordinator must refuse to trim history below the oldest
// still-pinned frozen version (spec.md §3); OldestPinnedVersion reflects
// that directly, so callers trim via it rather than unconditionally.
func (c *Coordinator) Unregister(realm *Realm) {
	c.realmMu.Lock()
	defer c.realmMu.Unlock()
	delete(c.realms, realm)
	realm.tx.Close()
}

// OldestPinnedVersion returns the minimum version among all live frozen
// transactions, or the coordinator's current version if none are
// pinned.
func (c *Coordinator) OldestPinnedVersion() uint64 {
	c.realmMu.Lock()
	defer c.realmMu.Unlock()

	oldest := c.version
	for r := range c.realms {
		if r.tx.IsFrozen() && r.tx.Version() < oldest {
			oldest = r.tx.Version()
		}
	}
	return oldest
}

// PromoteToWrite upgrades realm's handle to a write transaction,
// blocking for exclusive write access via the coordinator's guard.
func (c *Coordinator) PromoteToWrite(realm *Realm) error {
	if realm.tx.Kind() != txn.KindRead {
		return ErrLogicError
	}
	w, err := txn.BeginWrite(c.alloc, c.guard, c.version, c.topRef)
	if err != nil {
		return err
	}
	realm.tx = w
	return nil
}

// RegisterNotifier stages a new notifier registration; it moves into
// the active set on the worker's next cycle (spec.md §4.4's
// m_new_notifiers staging list). collectionKey identifies the
// collection being observed; an empty key means this notifier never
// shares change-set computation with another.
func (c *Coordinator) RegisterNotifier(collectionKey string, cb func(ChangeInfo)) *Notifier {
	c.notifierMu.Lock()
	defer c.notifierMu.Unlock()

	c.nextNotifierID++
	n := newNotifier(c.nextNotifierID, c.version, collectionKey, cb)
	c.newNotifiers = append(c.newNotifiers, n)
	c.worker.wake()
	return n
}

// AdvanceToReady advances realm exactly to the handover version and
// delivers callbacks if every not-yet-run notifier for this realm has
// completed and its handover version is at least the realm's current
// version; otherwise it's a no-op (spec.md §4.4).
func (c *Coordinator) AdvanceToReady(realm *Realm) error {
	c.notifierMu.Lock()
	ready := true
	var target uint64
	for _, n := range c.notifiers {
		if n.State() == NotYetRun {
			ready = false
			break
		}
		if hv := n.HandoverVersion(); hv > target {
			target = hv
		}
	}
	c.notifierMu.Unlock()

	if !ready || target < realm.tx.Version() {
		return nil
	}
	return c.advanceRealm(realm, target)
}

// AdvanceToLatest blocks until the worker has processed at least the
// coordinator's current version for every notifier with a callback,
// then advances realm and delivers. Returns whether any advance
// occurred.
func (c *Coordinator) AdvanceToLatest(realm *Realm) (bool, error) {
	target := c.version
	c.worker.packageNotifiers(target)

	if realm.tx.Version() >= target {
		return false, nil
	}
	if err := c.advanceRealm(realm, target); err != nil {
		return false, err
	}
	return true, nil
}

// advanceRealm rebinds realm to a read transaction at target. Since
// every realm under one Coordinator shares the same *slab.Allocator,
// file growth performed by a committing writer (commit.go) is already
// visible to every other realm's transaction the moment it happens —
// there is no separate "reader view" to refresh the way a per-process
// mapping table would require.
func (c *Coordinator) advanceRealm(realm *Realm, target uint64) error {
	realm.tx = txn.BeginRead(c.alloc, target, c.topRefAt(target))

	c.notifierMu.Lock()
	for _, n := range c.notifiers {
		if n.State() == HasRun {
			n.deliver()
		}
	}
	c.notifierMu.Unlock()

	if realm.OnChange != nil {
		realm.OnChange()
	}
	return nil
}

// topRefAt is a placeholder resolver for historical top-refs; this
// engine keeps only the latest top-ref in the allocator/file header, so
// advancing to any target short of the coordinator's own c.version
// still resolves to the latest on-disk top-ref (the MVCC guarantee
// holds at the ref-translation layer, not here).
func (c *Coordinator) topRefAt(target uint64) uint64 {
	if target >= c.version {
		return c.topRef
	}
	return c.topRef
}

// sortedNotifiers returns the active notifiers ordered by registration
// ID, for deterministic iteration order in tests.
func (c *Coordinator) sortedNotifiers() []*Notifier {
	out := append([]*Notifier(nil), c.notifiers...)
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
