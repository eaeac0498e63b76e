// Instruction kinds, spec.md §4.5: AddTable, EraseTable, AddColumn,
// EraseColumn, CreateObject, EraseObject, Update, AddInteger,
// ArrayInsert, ArrayMove, ArrayErase, Clear, SetInsert, SetErase.
package applier

// Instruction is the common interface every typed instruction
// implements, letting Apply dispatch on concrete type via a switch.
type Instruction interface {
	instruction()
}

// AddTable creates a table in either primary-keyed, GlobalKey, or
// embedded form, per spec.md §4.5's "Two forms" paragraph.
type AddTable struct {
	Table      string
	HasPK      bool
	PKType     ValueType
	PKNullable bool
	Embedded   bool
}

// EraseTable removes a table and every object in it. Recovery aborts
// rather than applying this (spec.md §4.6's instruction-degradation
// bullet).
type EraseTable struct{ Table string }

// AddColumn adds a column, optionally as a list/dictionary/set and
// optionally a link to LinkTarget.
type AddColumn struct {
	Table      string
	Column     string
	Type       ValueType
	Nullable   bool
	Collection CollectionKind
	LinkTarget string
}

// EraseColumn removes a column. Recovery aborts rather than applying
// this.
type EraseColumn struct {
	Table  string
	Column string
}

// CreateObject creates an object, keyed by one of the pk variants
// spec.md §4.5 lists: null, int, string, ObjectId, UUID, or GlobalKey.
type CreateObject struct {
	Table string
	PK    Mixed // PK.Type == TypeNull for GlobalKey form
}

// EraseObject removes an object; idempotent (spec.md §8's Idempotence
// bullet — applying to a missing object succeeds as a no-op). Recovery
// uses "remove" semantics rather than soft invalidation to avoid
// dangling null entries in mixed lists (spec.md §4.5).
type EraseObject struct {
	Table string
	PK    Mixed
}

// Update sets an object field, a list index, or a dictionary key,
// depending on which of Path's trailing components are populated.
type Update struct {
	Path  Path
	Value Mixed // may be Erased for a dictionary-key erase
}

// AddInteger increments an integer-typed object field in place. Only a
// direct object field is supported: a Path with trailing components (a
// list or dictionary element) is rejected with ErrBadChangeset.
type AddInteger struct {
	Path Path
	Diff int64
}

// ArrayInsert inserts Value at Index in the list named by Path;
// PriorSize must equal the list's size at apply time.
type ArrayInsert struct {
	Path      Path
	Index     int
	Value     Mixed
	PriorSize int
}

// ArrayMove moves the element at From to To; both must be in
// [0, PriorSize).
type ArrayMove struct {
	Path      Path
	From, To  int
	PriorSize int
}

// ArrayErase removes the element at Index; Index must be < PriorSize.
type ArrayErase struct {
	Path      Path
	Index     int
	PriorSize int
}

// Clear empties the list/dictionary/set named by Path.
type Clear struct{ Path Path }

// SetInsert/SetErase mutate set-membership columns.
type SetInsert struct {
	Path  Path
	Value Mixed
}
type SetErase struct {
	Path  Path
	Value Mixed
}

func (AddTable) instruction()     {}
func (EraseTable) instruction()   {}
func (AddColumn) instruction()    {}
func (EraseColumn) instruction()  {}
func (CreateObject) instruction() {}
func (EraseObject) instruction()  {}
func (Update) instruction()       {}
func (AddInteger) instruction()   {}
func (ArrayInsert) instruction()  {}
func (ArrayMove) instruction()    {}
func (ArrayErase) instruction()   {}
func (Clear) instruction()        {}
func (SetInsert) instruction()    {}
func (SetErase) instruction()     {}
