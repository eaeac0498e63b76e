// Group/Table/Object/collection interfaces: the boundary between the
// applier and C4's Node Store, which spec.md §1 explicitly treats as an
// opaque external value store keyed by reference ("the column/B+-tree
// node formats ... out of scope"). The applier only needs to walk and
// mutate through this contract; whatever concrete B+-tree/node-header
// implementation backs it is someone else's concern.
package applier

// Group is the object-graph root a write transaction exposes to the
// applier.
type Group interface {
	Table(name string) (Table, bool)
	AddTable(name string, pkType ValueType, hasPK bool, embedded bool) (Table, error)
	EraseTable(name string) error
}

// Table is one class/schema's object collection.
type Table interface {
	IsEmbedded() bool
	HasPrimaryKey() bool
	PrimaryKeyType() ValueType

	Column(name string) (ColumnInfo, bool)
	AddColumn(name string, typ ValueType, nullable bool, collection CollectionKind) error
	EraseColumn(name string) error

	Object(pk Mixed) (Object, bool)
	CreateObject(pk Mixed) (Object, error)
	CreateObjectGlobalKey() (Object, error)
	EraseObject(pk Mixed) error
}

// CollectionKind distinguishes a plain field from a list/dict/set
// column.
type CollectionKind int

const (
	CollectionNone CollectionKind = iota
	CollectionList
	CollectionDictionary
	CollectionSet
)

// ColumnInfo describes one column's declared type.
type ColumnInfo struct {
	Name       string
	Type       ValueType
	Nullable   bool
	Collection CollectionKind
	LinkTarget string // non-empty for TypeObjectLink columns
}

// Object is a single row/instance within a Table.
type Object interface {
	Get(field string) (Mixed, error)
	Set(field string, value Mixed) error

	List(field string) (List, error)
	Dictionary(field string) (Dictionary, error)
	SetCollection(field string) (SetCollection, error)

	// CreateEmbedded creates (or returns, if already present) the
	// embedded object linked from field, per spec.md §4.5's
	// embedded-object-lifecycle paragraph.
	CreateEmbedded(field string) (Object, error)
}

// List is a sequenced collection column.
type List interface {
	Size() int
	Insert(index int, v Mixed) error
	Set(index int, v Mixed) error
	Erase(index int) error
	Move(from, to int) error
	Clear() error
	CreateEmbedded(index int) (Object, error)
}

// Dictionary is a key-sorted map column.
type Dictionary interface {
	Get(key string) (Mixed, bool)
	Set(key string, v Mixed) error
	Erase(key string) error
	Clear() error
	CreateEmbedded(key string) (Object, error)
}

// SetCollection is a membership-only collection column.
type SetCollection interface {
	Insert(v Mixed) error
	Erase(v Mixed) error
	Clear() error
}
