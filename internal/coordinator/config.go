package coordinator

// Config mirrors spec.md §6's recognized open options, trimmed to the
// fields config-compatibility checking and the allocator/guard setup
// need; binding-level options (migration/initialization functions,
// audit_config, scheduler) are threaded through opaquely as
// interface{}/func values owned by the root facade.
type Config struct {
	Path             string
	Immutable        bool
	InMemory         bool
	EncryptionKey    *[64]byte
	SchemaMode       string
	SchemaVersion    *uint64
	ForceSyncHistory bool
	Cache            bool
}

// compatible reports whether other may share this Coordinator's base
// config, per spec.md §4.4's "Configuration compatibility" bullet:
// mismatches on immutable/in_memory/encryption_key/schema_mode/
// schema_version/sync fail; cache and scheduler differences are fine.
func (c Config) compatible(other Config) bool {
	if c.Immutable != other.Immutable || c.InMemory != other.InMemory {
		return false
	}
	if c.ForceSyncHistory != other.ForceSyncHistory {
		return false
	}
	if !keysEqual(c.EncryptionKey, other.EncryptionKey) {
		return false
	}
	if c.SchemaMode != other.SchemaMode {
		return false
	}
	if other.SchemaVersion != nil && c.SchemaVersion != nil && *c.SchemaVersion != *other.SchemaVersion {
		return false
	}
	return true
}

func keysEqual(a, b *[64]byte) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return *a == *b
}
