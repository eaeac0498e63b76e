// Schema cache interval tracking, spec.md §4.4 directly: a tuple
// (schema, version, [min_tr, max_tr]) names the range of commit
// versions over which a cached schema is known valid. Stdlib only —
// this is a three-field interval struct; no third-party library adds
// value over a mutex-guarded struct.
package coordinator

import "sync"

// SchemaCache tracks the commit-version interval a given schema value
// is known valid for.
type SchemaCache struct {
	mu       sync.Mutex
	schema   any
	version  uint64
	minTr    uint64
	maxTr    uint64
	hasValue bool
}

// Get returns the cached schema and whether it's known valid at
// txVersion.
func (c *SchemaCache) Get(txVersion uint64) (schema any, version uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasValue || txVersion < c.minTr || txVersion > c.maxTr {
		return nil, 0, false
	}
	return c.schema, c.version, true
}

// AdvanceSchemaCache widens the known-valid interval to include
// nextMaxTr, used when a reader advances without observing a schema
// change — the same schema remains valid at the new version too.
func (c *SchemaCache) AdvanceSchemaCache(nextMaxTr uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasValue && nextMaxTr > c.maxTr {
		c.maxTr = nextMaxTr
	}
}

// CacheSchema overwrites the cached schema only with a non-empty schema
// at a later max_tr than what's already cached, per spec.md §4.4's
// "cache_schema only overwrites with a non-empty schema at a later
// max_tr" rule.
func (c *SchemaCache) CacheSchema(schema any, version, txVersion uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if schema == nil {
		return
	}
	if c.hasValue && txVersion <= c.maxTr {
		return
	}
	c.schema = schema
	c.version = version
	c.minTr = txVersion
	c.maxTr = txVersion
	c.hasValue = true
}
