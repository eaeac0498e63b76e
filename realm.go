// Public facade: wires internal/pagestore, internal/slab, internal/txn,
// internal/coordinator, internal/applier and internal/reset behind the
// single Open/Realm surface spec.md §6 describes. This is the only
// place internal package-local sentinel errors are translated into
// CodedError — each internal package keeps its own sentinels
// specifically to avoid importing this package (see each package's
// errors.go), so the translation has to live on this side of the
// boundary.
package lattice

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/latticedb/lattice/internal/applier"
	"github.com/latticedb/lattice/internal/coordinator"
	"github.com/latticedb/lattice/internal/pagestore"
	"github.com/latticedb/lattice/internal/reset"
	"github.com/latticedb/lattice/internal/slab"
)

// defaultOpenRetries is spec.md §9's documented small, bounded default
// for how many times Open retries an attach that raced a concurrent
// writer (pagestore.ErrRetry), when Config.OpenRetries is unset.
const defaultOpenRetries = 5

// Path addresses a single value in the object graph; an alias for
// internal/applier's Path so callers never import internal packages
// directly.
type Path = applier.Path

// ChangeInfo is the per-notifier payload handed to a registered
// callback.
type ChangeInfo = coordinator.ChangeInfo

// Notifier is a registered observer returned by Realm.RegisterNotifier.
type Notifier = coordinator.Notifier

func (m SchemaMode) String() string {
	switch m {
	case SchemaModeAutomatic:
		return "automatic"
	case SchemaModeImmutable:
		return "immutable"
	case SchemaModeReadOnlyAlternative:
		return "read-only-alternative"
	case SchemaModeSoftResetFile:
		return "soft-reset-file"
	case SchemaModeHardResetFile:
		return "hard-reset-file"
	case SchemaModeAdditive:
		return "additive"
	case SchemaModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Realm is an opened handle to one path's database, pairing a
// transaction with the coordinator that issued it.
type Realm struct {
	cfg   Config
	coord *coordinator.Coordinator
	r     *coordinator.Realm
}

// Open attaches (or joins an already-open) realm at cfg.Path, creating
// the file if absent, and returns a live-read Realm pinned at the
// coordinator's current snapshot.
func Open(cfg Config) (*Realm, error) {
	var (
		alloc   *slab.Allocator
		topRef  uint64
		err     error
	)

	if cfg.InMemory {
		if cfg.EncryptionKey != nil {
			return nil, wrapErr(KindInvalidDatabase, "in-memory realms disallow encryption", nil)
		}
		alloc = slab.AttachEmpty()
	} else {
		alloc, topRef, err = attachWithRetry(cfg)
		if err != nil {
			return nil, err
		}
	}

	ccfg := coordinator.Config{
		Path:             cfg.Path,
		Immutable:        cfg.ReadOnly,
		InMemory:         cfg.InMemory,
		EncryptionKey:    cfg.EncryptionKey,
		SchemaMode:       cfg.SchemaMode.String(),
		SchemaVersion:    &cfg.SchemaVersion,
		ForceSyncHistory: cfg.ForceSyncHistory,
		Cache:            cfg.Cache,
	}

	coord, err := coordinator.GetCoordinator(ccfg, alloc, 0, topRef, nil)
	if err != nil {
		return nil, translateErr(err)
	}

	cr := coord.GetRealm()
	realm := &Realm{cfg: cfg, coord: coord, r: cr}

	if cfg.InitializationFunc != nil && topRef == 0 {
		if err := cfg.InitializationFunc(realm); err != nil {
			return nil, err
		}
	}
	return realm, nil
}

// attachWithRetry attaches cfg.Path, retrying with exponential backoff
// while the attempt fails with pagestore.ErrRetry (a non-session-
// initiator racing a concurrent writer, spec.md §9) up to
// cfg.OpenRetries retries (defaultOpenRetries if unset), i.e. at most
// one more attempt than that. Any other failure returns immediately
// without retrying.
func attachWithRetry(cfg Config) (*slab.Allocator, uint64, error) {
	attempts := cfg.OpenRetries
	if attempts <= 0 {
		attempts = defaultOpenRetries
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 200 * time.Millisecond
	bounded := backoff.WithMaxRetries(b, uint64(attempts))

	var alloc *slab.Allocator
	var topRef uint64
	opts := pagestore.AttachOptions{
		ReadOnly:         cfg.ReadOnly,
		EncryptionKey:    cfg.EncryptionKey,
		NoCreate:         cfg.NoCreate,
		IsShared:         cfg.IsShared,
		SessionInitiator: cfg.SessionInitiator || !cfg.IsShared,
		ClearFile:        cfg.ClearFile,
		SkipValidate:     cfg.SkipValidate,
	}

	err := backoff.Retry(func() error {
		a, t, err := slab.AttachFile(cfg.Path, opts)
		if err != nil {
			if errors.Is(err, pagestore.ErrRetry) {
				return err
			}
			return backoff.Permanent(err)
		}
		alloc, topRef = a, t
		return nil
	}, bounded)
	if err != nil {
		return nil, 0, translateErr(err)
	}
	return alloc, topRef, nil
}

// translateErr maps an internal package's local sentinel to the
// matching public CodedError, defaulting to wrapping the error
// verbatim under KindUnknown when it doesn't recognize the cause —
// this keeps Open/Realm methods from ever leaking an internal package's
// error type across the API boundary.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, pagestore.ErrInvalidDatabase):
		return wrapErr(KindInvalidDatabase, "invalid database file", err)
	case errors.Is(err, pagestore.ErrDecryptionFailed):
		return wrapErr(KindDecryptionFailed, "decryption failed", err)
	case errors.Is(err, pagestore.ErrRetry):
		return wrapErr(KindRetry, "attach raced a concurrent writer", err)
	case errors.Is(err, pagestore.ErrMaximumFileSizeExceeded), errors.Is(err, slab.ErrMaximumFileSizeExceeded):
		return wrapErr(KindMaximumFileSizeExceeded, "maximum file size exceeded", err)
	case errors.Is(err, pagestore.ErrAddressSpaceExhausted):
		return wrapErr(KindAddressSpaceExhausted, "address space exhausted", err)
	case errors.Is(err, slab.ErrInvalidFreeSpace):
		return wrapErr(KindInvalidFreeSpace, "free space tracking is invalid", err)
	case errors.Is(err, slab.ErrLogicError):
		return wrapErr(KindLogicError, "API misuse", err)
	case errors.Is(err, coordinator.ErrMismatchedConfig):
		return wrapErr(KindMismatchedConfig, "mismatched realm configuration", err)
	case errors.Is(err, coordinator.ErrLogicError):
		return wrapErr(KindLogicError, "API misuse", err)
	case errors.Is(err, applier.ErrBadChangeset):
		return wrapErr(KindBadChangeset, "bad changeset", err)
	case errors.Is(err, reset.ErrClientResetFailed):
		return wrapErr(KindClientResetFailed, "client reset failed", err)
	default:
		return wrapErr(KindUnknown, "internal error", err)
	}
}

// BeginWrite upgrades r to a write transaction, blocking for exclusive
// write access.
func (r *Realm) BeginWrite() error {
	if err := r.coord.PromoteToWrite(r.r); err != nil {
		return translateErr(err)
	}
	return nil
}

// Commit commits the current write transaction. toDisk requests an
// fsync to the mapped file in addition to the in-memory commit.
func (r *Realm) Commit(toDisk bool) error {
	if err := r.coord.CommitWrite(r.r, toDisk); err != nil {
		return translateErr(err)
	}
	return nil
}

// Rollback discards the current write transaction's uncommitted
// changes.
func (r *Realm) Rollback() error {
	if err := r.r.Transaction().Rollback(); err != nil {
		return translateErr(err)
	}
	return nil
}

// Close releases r's transaction and unregisters it from the
// coordinator.
func (r *Realm) Close() {
	r.coord.Unregister(r.r)
}

// Freeze pins r's current version into a new immutable Realm,
// independent of r's lifetime.
func (r *Realm) Freeze() *Realm {
	return &Realm{cfg: r.cfg, coord: r.coord, r: r.coord.Freeze(r.r)}
}

// Version returns the transaction's commit version.
func (r *Realm) Version() uint64 { return r.r.Transaction().Version() }

// RegisterNotifier registers cb to run against every future commit,
// starting from r's current version. collectionKey identifies the
// collection being observed; notifiers sharing a non-empty key share
// change-set computation (spec.md §4.4). Pass "" if this notifier
// doesn't correspond to a specific collection.
func (r *Realm) RegisterNotifier(collectionKey string, cb func(ChangeInfo)) *Notifier {
	return r.coord.RegisterNotifier(collectionKey, cb)
}

// AdvanceToReady advances r to the latest version every not-yet-run
// notifier has finished processing, delivering their callbacks; a
// no-op if any notifier is still pending.
func (r *Realm) AdvanceToReady() error {
	return translateErr(r.coord.AdvanceToReady(r.r))
}

// AdvanceToLatest blocks until the notifier worker has processed at
// least r's requested version, then advances r to it.
func (r *Realm) AdvanceToLatest() (bool, error) {
	ok, err := r.coord.AdvanceToLatest(r.r)
	return ok, translateErr(err)
}

// Compact consolidates the allocator's read-only free list. It does not
// move data or shrink the mapped file.
func (r *Realm) Compact() error {
	return translateErr(r.coord.Compact())
}

// WriteCopy exports a point-in-time snapshot of the realm to path.
func (r *Realm) WriteCopy(path string) error {
	return translateErr(r.coord.WriteCopy(path))
}

// ApplyInstructions interprets a decoded sync changeset against group,
// the caller's node-store adapter (applier.Group), auditing each
// successful instruction through cfg.AuditSink if one is configured.
func (r *Realm) ApplyInstructions(group applier.Group, instructions []applier.Instruction) error {
	var sink applier.AuditSink
	if r.cfg.AuditSink != nil {
		sink = auditAdapter{r.cfg.AuditSink}
	}
	if err := applier.Apply(group, instructions, sink); err != nil {
		return translateErr(err)
	}
	return nil
}

// auditAdapter lets a public AuditSink satisfy applier.AuditSink
// without internal/applier importing this package.
type auditAdapter struct{ sink AuditSink }

func (a auditAdapter) RecordChange(kind string, path applier.Path) { a.sink.RecordChange(kind, path) }

// RecoverClientReset runs a client-reset recovery per spec.md §4.6
// against this realm's underlying Group adapters, translating
// internal/reset's cycle-prevention and schema-transfer errors into
// CodedError at this boundary.
func RecoverClientReset(req reset.Request) (reset.Result, error) {
	result, err := reset.Recover(req)
	if err != nil {
		return result, translateErr(err)
	}
	return result, nil
}
