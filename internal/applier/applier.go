// Instruction Applier (C9), spec.md §4.5: interprets a parsed changeset
// — a sequence of typed instructions — in order against an open write
// transaction's Group. Grounded on spec.md §4.5 directly; the common
// path-resolution contract below enumerates exactly the failure modes
// spec.md lists, each surfacing ErrBadChangeset.
package applier

import (
	"fmt"

	"github.com/latticedb/lattice/internal/telemetry"
)

var log = telemetry.Component("applier")

// AuditSink receives one notification per successfully applied
// instruction. SPEC_FULL.md §11's audit-sink hook: the root package's
// lattice.AuditSink satisfies this by method set alone, no import
// needed in either direction.
type AuditSink interface {
	RecordChange(kind string, path Path)
}

// Apply interprets instructions in order against group. The first
// instruction that fails path/type/size resolution stops the whole
// batch and returns its error — the caller (reset.Recovery or the sync
// client) is responsible for any partial-application policy. sink may
// be omitted (nil-by-default per SPEC_FULL.md §11).
func Apply(group Group, instructions []Instruction, sink ...AuditSink) error {
	var audit AuditSink
	if len(sink) > 0 {
		audit = sink[0]
	}
	for i, instr := range instructions {
		if err := apply1(group, instr); err != nil {
			log.Debug().Int("index", i).Err(err).Msg("instruction rejected")
			return fmt.Errorf("applier: instruction %d: %w", i, err)
		}
		if audit != nil {
			audit.RecordChange(fmt.Sprintf("%T", instr), pathOf(instr))
		}
	}
	return nil
}

// pathOf extracts the Path an instruction acts on, for audit logging
// only; instructions with no natural Path (AddTable/EraseTable/
// AddColumn/EraseColumn) report a table-scoped Path.
func pathOf(instr Instruction) Path {
	switch ins := instr.(type) {
	case AddTable:
		return Path{Table: ins.Table}
	case EraseTable:
		return Path{Table: ins.Table}
	case AddColumn:
		return Path{Table: ins.Table, Field: ins.Column}
	case EraseColumn:
		return Path{Table: ins.Table, Field: ins.Column}
	case CreateObject:
		return Path{Table: ins.Table, ObjectPK: ins.PK}
	case EraseObject:
		return Path{Table: ins.Table, ObjectPK: ins.PK}
	case Update:
		return ins.Path
	case AddInteger:
		return ins.Path
	case ArrayInsert:
		return ins.Path
	case ArrayMove:
		return ins.Path
	case ArrayErase:
		return ins.Path
	case Clear:
		return ins.Path
	case SetInsert:
		return ins.Path
	case SetErase:
		return ins.Path
	default:
		return Path{}
	}
}

func apply1(group Group, instr Instruction) error {
	switch ins := instr.(type) {
	case AddTable:
		return applyAddTable(group, ins)
	case EraseTable:
		return group.EraseTable(ins.Table)
	case AddColumn:
		return applyAddColumn(group, ins)
	case EraseColumn:
		t, ok := group.Table(ins.Table)
		if !ok {
			return fmt.Errorf("%w: erase column on unknown table %q", ErrBadChangeset, ins.Table)
		}
		return t.EraseColumn(ins.Column)
	case CreateObject:
		return applyCreateObject(group, ins)
	case EraseObject:
		return applyEraseObject(group, ins)
	case Update:
		return applyUpdate(group, ins)
	case AddInteger:
		return applyAddInteger(group, ins)
	case ArrayInsert:
		return applyArrayInsert(group, ins)
	case ArrayMove:
		return applyArrayMove(group, ins)
	case ArrayErase:
		return applyArrayErase(group, ins)
	case Clear:
		return applyClear(group, ins)
	case SetInsert:
		return applySetMutate(group, ins.Path, ins.Value, true)
	case SetErase:
		return applySetMutate(group, ins.Path, ins.Value, false)
	default:
		return fmt.Errorf("%w: unrecognized instruction %T", ErrBadChangeset, instr)
	}
}

func applyAddTable(group Group, ins AddTable) error {
	if ins.Embedded {
		if ins.HasPK {
			return fmt.Errorf("%w: embedded table %q cannot declare a primary key", ErrBadChangeset, ins.Table)
		}
	} else if ins.HasPK && !pkAllowSet[ins.PKType] {
		return fmt.Errorf("%w: table %q pk type %v not in allow-set", ErrBadChangeset, ins.Table, ins.PKType)
	}

	if existing, ok := group.Table(ins.Table); ok {
		// Idempotence (spec.md §8): AddTable applied twice with equal
		// arguments succeeds.
		if existing.HasPrimaryKey() != ins.HasPK || existing.IsEmbedded() != ins.Embedded {
			return fmt.Errorf("%w: table %q already exists with incompatible shape", ErrBadChangeset, ins.Table)
		}
		return nil
	}

	_, err := group.AddTable(ins.Table, ins.PKType, ins.HasPK, ins.Embedded)
	return err
}

func applyAddColumn(group Group, ins AddColumn) error {
	t, ok := group.Table(ins.Table)
	if !ok {
		return fmt.Errorf("%w: add column on unknown table %q", ErrBadChangeset, ins.Table)
	}
	if existing, ok := t.Column(ins.Column); ok {
		if existing.Type != ins.Type || existing.Nullable != ins.Nullable || existing.Collection != ins.Collection {
			return fmt.Errorf("%w: column %s.%s already exists with a different type", ErrBadChangeset, ins.Table, ins.Column)
		}
		return nil // idempotent
	}
	return t.AddColumn(ins.Column, ins.Type, ins.Nullable, ins.Collection)
}

func applyCreateObject(group Group, ins CreateObject) error {
	t, ok := group.Table(ins.Table)
	if !ok {
		return fmt.Errorf("%w: create object on unknown table %q", ErrBadChangeset, ins.Table)
	}

	if ins.PK.Type == TypeNull {
		if !t.HasPrimaryKey() {
			_, err := t.CreateObjectGlobalKey()
			return err
		}
		// Null pk variant requires a nullable pk column; ColumnInfo for
		// the pk itself isn't separately exposed here, so the concrete
		// Table implementation is responsible for rejecting a non-null
		// pk table with ErrBadChangeset.
	} else if !t.HasPrimaryKey() {
		return fmt.Errorf("%w: create object with pk on table %q that has no primary key", ErrBadChangeset, ins.Table)
	} else if t.PrimaryKeyType() != ins.PK.Type {
		return fmt.Errorf("%w: create object pk type %v does not match table %q's pk type %v", ErrBadChangeset, ins.PK.Type, ins.Table, t.PrimaryKeyType())
	}

	if _, exists := t.Object(ins.PK); exists {
		return nil // idempotent: object already present
	}
	_, err := t.CreateObject(ins.PK)
	return err
}

func applyEraseObject(group Group, ins EraseObject) error {
	t, ok := group.Table(ins.Table)
	if !ok {
		return fmt.Errorf("%w: erase object on unknown table %q", ErrBadChangeset, ins.Table)
	}
	if _, exists := t.Object(ins.PK); !exists {
		return nil // idempotent no-op (spec.md §8)
	}
	return t.EraseObject(ins.PK)
}

// resolveObject walks the (table, object) prefix of a Path, applying
// the common path-resolution contract's table/object checks.
func resolveObject(group Group, p Path) (Table, Object, error) {
	t, ok := group.Table(p.Table)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown table %q", ErrBadChangeset, p.Table)
	}
	obj, ok := t.Object(p.ObjectPK)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown object in table %q", ErrBadChangeset, p.Table)
	}
	return t, obj, nil
}

// resolveCollection walks from obj.Field through any leading embedded
// path components, returning the innermost Object and the final field
// name a List/Dictionary/SetCollection should be fetched from. Embedded
// object lifecycle per spec.md §4.5: Update/ArrayInsert with an
// ObjectValue payload create embedded objects in place.
func resolveCollection(t Table, obj Object, p Path) (Object, string, error) {
	col, ok := t.Column(p.Field)
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown column %s.%s", ErrBadChangeset, p.Table, p.Field)
	}
	field := p.Field
	cur := obj

	for i, c := range p.Components {
		if i == len(p.Components)-1 {
			break // final component is consumed by the caller (index/key)
		}
		if c.Kind != PathField {
			return nil, "", fmt.Errorf("%w: path through %s.%s continues past a non-embedded component", ErrBadChangeset, p.Table, p.Field)
		}
		// Only the first hop has a declared column type to check against
		// (subsequent hops land inside an embedded object, whose fields
		// aren't reachable through Table.Column). An intermediate column
		// that isn't an object link can't carry the path any further,
		// per spec.md §4.5's path-resolution contract.
		if i == 0 && (col.Type != TypeObjectLink || col.LinkTarget == "") {
			return nil, "", fmt.Errorf("%w: intermediate column %s.%s has a type incompatible with the path continuation", ErrBadChangeset, p.Table, field)
		}
		next, err := cur.CreateEmbedded(field)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrBadChangeset, err)
		}
		cur = next
		field = c.Field
	}
	return cur, field, nil
}

func applyUpdate(group Group, ins Update) error {
	t, obj, err := resolveObject(group, ins.Path)
	if err != nil {
		return err
	}

	if len(ins.Path.Components) == 0 {
		col, ok := t.Column(ins.Path.Field)
		if !ok {
			return fmt.Errorf("%w: unknown column %s.%s", ErrBadChangeset, ins.Path.Table, ins.Path.Field)
		}
		if ins.Value.Type == TypeNull && !col.Nullable {
			return fmt.Errorf("%w: null written to non-nullable %s.%s", ErrBadChangeset, ins.Path.Table, ins.Path.Field)
		}
		return obj.Set(ins.Path.Field, ins.Value)
	}

	last := ins.Path.Components[len(ins.Path.Components)-1]
	cur, field, err := resolveCollection(t, obj, ins.Path)
	if err != nil {
		return err
	}

	switch last.Kind {
	case PathIndex:
		list, err := cur.List(field)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadChangeset, err)
		}
		if last.ListIndex < 0 || last.ListIndex >= list.Size() {
			return fmt.Errorf("%w: list index %d out of range (size %d)", ErrBadChangeset, last.ListIndex, list.Size())
		}
		return list.Set(last.ListIndex, ins.Value)
	case PathKey:
		dict, err := cur.Dictionary(field)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadChangeset, err)
		}
		if ins.Value.isErased() {
			return dict.Erase(last.DictKey)
		}
		return dict.Set(last.DictKey, ins.Value)
	default:
		return fmt.Errorf("%w: update path ends in an unsupported component kind", ErrBadChangeset)
	}
}

func applyAddInteger(group Group, ins AddInteger) error {
	t, obj, err := resolveObject(group, ins.Path)
	if err != nil {
		return err
	}
	if len(ins.Path.Components) != 0 {
		return fmt.Errorf("%w: AddInteger only supported on a direct object field", ErrBadChangeset)
	}
	col, ok := t.Column(ins.Path.Field)
	if !ok || col.Type != TypeInt {
		return fmt.Errorf("%w: AddInteger on non-integer column %s.%s", ErrBadChangeset, ins.Path.Table, ins.Path.Field)
	}
	cur, err := obj.Get(ins.Path.Field)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadChangeset, err)
	}
	var n int64
	_ = cur.Decode(&n)
	return obj.Set(ins.Path.Field, intMixed(n+ins.Diff))
}

func applyArrayInsert(group Group, ins ArrayInsert) error {
	list, err := resolveList(group, ins.Path, ins.PriorSize)
	if err != nil {
		return err
	}
	if ins.Index < 0 || ins.Index > ins.PriorSize {
		return fmt.Errorf("%w: ArrayInsert index %d out of [0,%d]", ErrBadChangeset, ins.Index, ins.PriorSize)
	}
	return list.Insert(ins.Index, ins.Value)
}

func applyArrayMove(group Group, ins ArrayMove) error {
	list, err := resolveList(group, ins.Path, ins.PriorSize)
	if err != nil {
		return err
	}
	if ins.From < 0 || ins.From >= ins.PriorSize || ins.To < 0 || ins.To >= ins.PriorSize {
		return fmt.Errorf("%w: ArrayMove(%d,%d) out of range for size %d", ErrBadChangeset, ins.From, ins.To, ins.PriorSize)
	}
	return list.Move(ins.From, ins.To)
}

func applyArrayErase(group Group, ins ArrayErase) error {
	list, err := resolveList(group, ins.Path, ins.PriorSize)
	if err != nil {
		return err
	}
	if ins.Index < 0 || ins.Index >= ins.PriorSize {
		return fmt.Errorf("%w: ArrayErase index %d out of range for size %d", ErrBadChangeset, ins.Index, ins.PriorSize)
	}
	return list.Erase(ins.Index)
}

func resolveList(group Group, p Path, priorSize int) (List, error) {
	t, obj, err := resolveObject(group, p)
	if err != nil {
		return nil, err
	}
	cur, field, err := resolveCollection(t, obj, p)
	if err != nil {
		return nil, err
	}
	list, err := cur.List(field)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadChangeset, err)
	}
	if list.Size() != priorSize {
		return nil, fmt.Errorf("%w: prior_size %d does not match current list size %d", ErrBadChangeset, priorSize, list.Size())
	}
	return list, nil
}

func applyClear(group Group, ins Clear) error {
	t, obj, err := resolveObject(group, ins.Path)
	if err != nil {
		return err
	}
	cur, field, err := resolveCollection(t, obj, ins.Path)
	if err != nil {
		return err
	}
	if list, err := cur.List(field); err == nil {
		return list.Clear()
	}
	if dict, err := cur.Dictionary(field); err == nil {
		return dict.Clear()
	}
	if set, err := cur.SetCollection(field); err == nil {
		return set.Clear()
	}
	return fmt.Errorf("%w: Clear on a non-collection field %s.%s", ErrBadChangeset, ins.Path.Table, field)
}

func applySetMutate(group Group, p Path, value Mixed, insert bool) error {
	t, obj, err := resolveObject(group, p)
	if err != nil {
		return err
	}
	cur, field, err := resolveCollection(t, obj, p)
	if err != nil {
		return err
	}
	set, err := cur.SetCollection(field)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadChangeset, err)
	}
	if insert {
		return set.Insert(value)
	}
	return set.Erase(value)
}

func intMixed(n int64) Mixed {
	return Mixed{Type: TypeInt, Raw: []byte(fmt.Sprintf("%d", n))}
}
