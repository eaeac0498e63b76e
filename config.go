// Configuration surfaces, spec.md §6: Config (opened realm) and
// SyncConfig (sync client): one struct per open/sync surface, plus a
// YAML loader for operators who template a sync configuration across
// devices.
package lattice

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SchemaMode governs migration/open behavior when a caller-supplied
// schema differs from the one cached for this path.
type SchemaMode int

const (
	SchemaModeAutomatic SchemaMode = iota
	SchemaModeImmutable
	SchemaModeReadOnlyAlternative
	SchemaModeSoftResetFile
	SchemaModeHardResetFile
	SchemaModeAdditive
	SchemaModeManual
)

// ResyncMode selects client-reset recovery behavior for a sync session,
// mirroring internal/reset.Mode one-for-one at the public boundary.
type ResyncMode int

const (
	ResyncManual ResyncMode = iota
	ResyncDiscardLocal
	ResyncRecover
	ResyncRecoverOrDiscard
)

// MetadataMode selects how the sync client's own metadata realm is
// stored.
type MetadataMode int

const (
	MetadataPlaintext MetadataMode = iota
	MetadataEncrypted
	MetadataDisabled
)

// ReconnectMode selects the sync client's reconnect backoff behavior.
type ReconnectMode int

const (
	ReconnectNormal ReconnectMode = iota
	ReconnectTesting
)

// StopPolicy selects when a sync session is allowed to stop.
type StopPolicy int

const (
	StopImmediately StopPolicy = iota
	StopLiveIndefinitely
	StopAfterChangesUploaded
)

// MigrationFunc runs only for explicit-mutable schema modes, given the
// old and new schema-bearing transactions.
type MigrationFunc func(oldRealm, newRealm *Realm) error

// InitializationFunc runs once, on a freshly created file.
type InitializationFunc func(realm *Realm) error

// AuditSink receives one notification per change applied to a realm,
// named by spec.md §6's audit_config option and specified in
// SPEC_FULL.md §11. The method set matches internal/applier.AuditSink
// structurally, so a *Realm can hand one straight through without
// either package importing the other.
type AuditSink interface {
	RecordChange(kind string, path Path)
}

// Config configures one opened realm, per spec.md §6's "Configuration
// (opened realm)" table.
type Config struct {
	Path                  string
	ReadOnly              bool
	InMemory              bool
	EncryptionKey         *[64]byte
	Schema                any
	SchemaVersion         uint64
	SchemaMode            SchemaMode
	MigrationFunction     MigrationFunc
	InitializationFunc    InitializationFunc
	ShouldCompactOnLaunch func(totalBytes, usedBytes uint64) bool
	ForceSyncHistory      bool
	SyncConfig            *SyncConfig
	Cache                 bool
	Scheduler             Scheduler
	AuditSink             AuditSink

	// NoCreate refuses to create Path if it doesn't already exist,
	// per spec.md §4.2's no_create Attach option.
	NoCreate bool
	// IsShared opens Path under lock-file discipline for multi-process
	// safety, per spec.md §4.2's is_shared Attach option.
	IsShared bool
	// SessionInitiator marks this Open call as the first opener of Path
	// among cooperating processes, per spec.md §4.2's session_initiator
	// Attach option. Only consulted when IsShared is set; a
	// non-shared Open always behaves as the initiator, since no other
	// process can be racing it.
	SessionInitiator bool
	// ClearFile truncates and reinitializes Path's header before
	// attaching. Requires SessionInitiator when IsShared is also set.
	ClearFile bool
	// SkipValidate bypasses the header/footer and section-boundary
	// checks Attach normally runs.
	SkipValidate bool

	// OpenRetries bounds how many times Open retries attaching Path
	// after a transient Retry race with a concurrent writer (spec.md
	// §9's open question), backing off exponentially between attempts.
	// Zero uses the documented default of 5.
	OpenRetries int
}

// Scheduler is the delivery target for notifications, per spec.md §6's
// `scheduler` option; a nil Scheduler runs notifier callbacks
// synchronously on the calling goroutine.
type Scheduler interface {
	Invoke(func())
}

// SyncConfig configures a sync session, per spec.md §6's "Sync-client
// configuration" list. Only partially enumerated there; this carries
// every named field.
type SyncConfig struct {
	BaseFilePath        string
	MetadataMode        MetadataMode
	MetadataEncryptionKey *[64]byte
	ReconnectMode       ReconnectMode
	MultiplexSessions   bool
	UserAgent           string
	ConnectTimeout      time.Duration
	LingerTimeout       time.Duration
	PingKeepAlive       time.Duration
	PongKeepAlive       time.Duration
	FastReconnectLimit  time.Duration

	StopPolicy          StopPolicy
	ResyncMode          ResyncMode
	SSLValidate         bool
	AuthorizationHeader string
	CustomHTTPHeaders   map[string]string
	RecoveryDirectory   string
}

// LoadSyncConfigYAML reads a SyncConfig from a YAML file, for operators
// who template one sync configuration across devices. Additive tooling
// per SPEC_FULL.md §4, not a spec requirement; callers that construct a
// SyncConfig in code never need this.
func LoadSyncConfigYAML(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg SyncConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
