// Schema/object transfer (`transfer_group`), spec.md §4.6: reconciles
// two open transactions (src = freshly downloaded remote state, dst =
// the realm being reset) so that dst ends up schema- and
// object-compatible with src. Grounded on original_source's
// client_reset.cpp `transfer_group`/`transfer_schema` functions,
// generalized from Core's Table/ColKey walk to the applier.Group
// interface boundary so the same abstraction serves both subsystems.
package reset

import (
	"fmt"

	"github.com/latticedb/lattice/internal/applier"
)

// TransferGroup reconciles dst's schema against src per spec.md §4.6's
// bidirectional schema diff. It copies and removes no objects (ObjectCopier
// is not called from here), and it never mutates src.
func TransferGroup(src, dst applier.Group, tables []string, dstTables []string) error {
	if err := transferSchema(src, dst, tables, dstTables); err != nil {
		return err
	}
	return nil
}

// transferSchema implements the six schema-reconciliation bullets of
// spec.md §4.6. srcTables/dstTables are the table names each side
// knows about — a real Group would expose enumeration; this module's
// Group interface (deliberately minimal, grounded on internal/applier's
// C4 boundary) only exposes lookup-by-name, so callers supply the
// known name sets explicitly.
func transferSchema(src, dst applier.Group, srcTables, dstTables []string) error {
	dstSet := map[string]bool{}
	for _, name := range dstTables {
		dstSet[name] = true
	}
	srcSet := map[string]bool{}
	for _, name := range srcTables {
		srcSet[name] = true
	}

	// Tables present in dst but absent in src fail the reset outright —
	// recovering would require a destructive schema change.
	for name := range dstSet {
		if !srcSet[name] {
			return fmt.Errorf("%w: table %q exists locally but not on the server; cannot reconcile destructively", ErrClientResetFailed, name)
		}
	}

	for name := range srcSet {
		srcTable, ok := src.Table(name)
		if !ok {
			continue
		}
		dstTable, exists := dst.Table(name)
		if !exists {
			created, err := dst.AddTable(name, srcTable.PrimaryKeyType(), srcTable.HasPrimaryKey(), srcTable.IsEmbedded())
			if err != nil {
				return fmt.Errorf("%w: creating table %q in dst: %v", ErrClientResetFailed, name, err)
			}
			dstTable = created
		} else if dstTable.HasPrimaryKey() != srcTable.HasPrimaryKey() || dstTable.IsEmbedded() != srcTable.IsEmbedded() ||
			(srcTable.HasPrimaryKey() && dstTable.PrimaryKeyType() != srcTable.PrimaryKeyType()) {
			return fmt.Errorf("%w: table %q has an incompatible primary key between local and remote", ErrClientResetFailed, name)
		}
		if err := reconcileColumns(name, srcTable, dstTable); err != nil {
			return err
		}
	}
	return nil
}

func reconcileColumns(tableName string, src, dst applier.Table) error {
	known := map[string]applier.ColumnInfo{}
	for _, col := range collectColumns(src) {
		known[col.Name] = col
		existing, ok := dst.Column(col.Name)
		if !ok {
			if err := dst.AddColumn(col.Name, col.Type, col.Nullable, col.Collection); err != nil {
				return fmt.Errorf("%w: adding column %s.%s: %v", ErrClientResetFailed, tableName, col.Name, err)
			}
			continue
		}
		if existing.Type != col.Type || existing.Collection != col.Collection || existing.LinkTarget != col.LinkTarget {
			return fmt.Errorf("%w: column %s.%s has an incompatible type between local and remote", ErrClientResetFailed, tableName, col.Name)
		}
	}
	for _, col := range collectColumns(dst) {
		if _, ok := known[col.Name]; !ok {
			return fmt.Errorf("%w: column %s.%s was removed on the server; cannot reconcile destructively", ErrClientResetFailed, tableName, col.Name)
		}
	}
	return nil
}

// collectColumns is a placeholder enumeration point: applier.Table
// does not expose a column iterator (by design — C4's node store owns
// column storage), so a real Group implementation must provide one out
// of band. This returns the seed list a caller threaded through
// Table's concrete type; callers of this package that wire a concrete
// node-store-backed Table provide one via WithColumnEnumerator.
var columnEnumerator func(applier.Table) []applier.ColumnInfo

// WithColumnEnumerator installs the callback reconcileColumns uses to
// list a Table's columns, since applier.Table intentionally exposes
// only Column(name) lookup, not enumeration (spec.md §1's C4 boundary).
func WithColumnEnumerator(f func(applier.Table) []applier.ColumnInfo) {
	columnEnumerator = f
}

func collectColumns(t applier.Table) []applier.ColumnInfo {
	if columnEnumerator == nil {
		return nil
	}
	return columnEnumerator(t)
}

// ObjectCopier copies one object's fields, links, and collections from
// src to dst, per spec.md §4.6's "for every surviving object, copy
// values field-by-field" paragraph. Concrete list/dictionary/set diff
// strategies (prefix/suffix diff, membership diff, key-sorted merge)
// are the caller's node-store-specific concern; this type only
// sequences the walk and the embedded-object work queue.
type ObjectCopier struct {
	// Copy copies one field from src to dst, given the field's Mixed
	// value already resolved (including following ObjectLink/embedded
	// values). Returns true if dst's value changed.
	Copy func(table, field string, srcVal applier.Mixed, dst applier.Object) (updated bool, err error)
}

// CopyObject walks fields []string (the table's full field list), the
// embedded-object lifecycle per internal/applier's CreateEmbedded
// contract, tracing nested instances through pending exactly once.
func (c ObjectCopier) CopyObject(table string, srcObj, dstObj applier.Object, fields []string, pending *embeddedQueue) error {
	for _, field := range fields {
		v, err := srcObj.Get(field)
		if err != nil {
			return fmt.Errorf("%w: reading %s.%s: %v", ErrClientResetFailed, table, field, err)
		}
		if _, err := c.Copy(table, field, v, dstObj); err != nil {
			return err
		}
	}
	return pending.processPending()
}

// embeddedQueue traces embedded objects reached during a transfer so
// each is visited exactly once, per spec.md §4.6's "traced through a
// work queue" bullet.
type embeddedQueue struct {
	visited map[string]bool
	pending []func() error
}

func newEmbeddedQueue() *embeddedQueue {
	return &embeddedQueue{visited: map[string]bool{}}
}

// enqueue schedules work for an embedded object identified by key,
// skipping it if key was already visited.
func (q *embeddedQueue) enqueue(key string, work func() error) {
	if q.visited[key] {
		return
	}
	q.visited[key] = true
	q.pending = append(q.pending, work)
}

func (q *embeddedQueue) processPending() error {
	for len(q.pending) > 0 {
		work := q.pending[0]
		q.pending = q.pending[1:]
		if err := work(); err != nil {
			return err
		}
	}
	return nil
}
