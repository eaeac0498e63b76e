package reset

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/latticedb/lattice/internal/applier"
)

// memStore is an in-memory MetadataStore test double.
type memStore struct {
	row PendingReset
	has bool
}

func (s *memStore) Load() (PendingReset, bool, error) { return s.row, s.has, nil }
func (s *memStore) Save(p PendingReset) error          { s.row, s.has = p, true; return nil }
func (s *memStore) Clear() error                       { s.has = false; return nil }

// memIdentityStore is an in-memory IdentityStore test double.
type memIdentityStore struct {
	ident ClientFileIdent
	has   bool
}

func (s *memIdentityStore) LoadIdent() (ClientFileIdent, bool, error) { return s.ident, s.has, nil }
func (s *memIdentityStore) SaveIdent(i ClientFileIdent) error {
	s.ident, s.has = i, true
	return nil
}

func TestEnsureClientFileIdentGeneratesOnce(t *testing.T) {
	store := &memIdentityStore{}

	first, err := EnsureClientFileIdent(store)
	if err != nil {
		t.Fatalf("EnsureClientFileIdent: %v", err)
	}
	if first.Ident.String() == "" {
		t.Fatal("expected a non-empty generated ident")
	}

	second, err := EnsureClientFileIdent(store)
	if err != nil {
		t.Fatalf("EnsureClientFileIdent (second): %v", err)
	}
	if first.Ident != second.Ident || first.Salt != second.Salt {
		t.Fatal("expected the second call to return the persisted identity, not generate a new one")
	}
}

func TestValidateClientFileIdentRejectsMismatch(t *testing.T) {
	store := &memIdentityStore{}
	bound, err := EnsureClientFileIdent(store)
	if err != nil {
		t.Fatalf("EnsureClientFileIdent: %v", err)
	}

	other, err := EnsureClientFileIdent(&memIdentityStore{})
	if err != nil {
		t.Fatalf("EnsureClientFileIdent (other): %v", err)
	}

	if err := ValidateClientFileIdent(store, bound); err != nil {
		t.Fatalf("expected the matching identity to validate, got %v", err)
	}
	if err := ValidateClientFileIdent(store, other); !errors.Is(err, ErrClientResetFailed) {
		t.Fatalf("expected ErrClientResetFailed for a mismatched identity, got %v", err)
	}
}

func TestResolveModeNoPriorReset(t *testing.T) {
	store := &memStore{}
	mode, err := resolveMode(store, Recover, true)
	if err != nil {
		t.Fatalf("resolveMode: %v", err)
	}
	if mode != Recover {
		t.Fatalf("expected Recover, got %v", mode)
	}
}

// TestCycleDetectionDiscardLocal is spec.md §8 end-to-end scenario #5.
func TestCycleDetectionDiscardLocal(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{row: PendingReset{Version: 1, Timestamp: t0, Mode: DiscardLocal}, has: true}

	_, err := resolveMode(store, DiscardLocal, true)
	if !errors.Is(err, ErrClientResetFailed) {
		t.Fatalf("expected ErrClientResetFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), t0.String()) {
		t.Fatalf("expected error to reference prior timestamp %v, got %q", t0, err)
	}
}

func TestCycleDetectionRecoverToRecoverAborts(t *testing.T) {
	store := &memStore{row: PendingReset{Version: 1, Timestamp: time.Now(), Mode: Recover}, has: true}
	_, err := resolveMode(store, Recover, true)
	if !errors.Is(err, ErrClientResetFailed) {
		t.Fatalf("expected ErrClientResetFailed, got %v", err)
	}
}

func TestCycleDetectionRecoverToRecoverOrDiscardDowngrades(t *testing.T) {
	store := &memStore{row: PendingReset{Version: 1, Timestamp: time.Now(), Mode: Recover}, has: true}
	mode, err := resolveMode(store, RecoverOrDiscard, true)
	if err != nil {
		t.Fatalf("resolveMode: %v", err)
	}
	if mode != DiscardLocal {
		t.Fatalf("expected downgrade to DiscardLocal, got %v", mode)
	}
}

func TestRecoveryDisallowedDowngradesRecoverOrDiscard(t *testing.T) {
	store := &memStore{}
	mode, err := resolveMode(store, RecoverOrDiscard, false)
	if err != nil {
		t.Fatalf("resolveMode: %v", err)
	}
	if mode != DiscardLocal {
		t.Fatalf("expected downgrade to DiscardLocal when recovery disallowed, got %v", mode)
	}
}

func TestRecoveryDisallowedAbortsPlainRecover(t *testing.T) {
	store := &memStore{}
	_, err := resolveMode(store, Recover, false)
	if !errors.Is(err, ErrClientResetFailed) {
		t.Fatalf("expected ErrClientResetFailed, got %v", err)
	}
}

// TestListTrackerInsertExample is spec.md §8 scenario #4's worked
// example for the Insert half of translation.
func TestListTrackerInsertExample(t *testing.T) {
	tr := NewListTracker()

	remote0, ok := tr.Insert(0, 3)
	if !ok || remote0 != 0 {
		t.Fatalf("insert(0,x): expected remote 0, got %d (ok=%v)", remote0, ok)
	}

	remote2, ok := tr.Insert(2, 4)
	if !ok || remote2 != 2 {
		t.Fatalf("insert(2,y): expected remote 2, got %d (ok=%v)", remote2, ok)
	}
}

func TestListTrackerRemoveUnknownTriggersManualCopy(t *testing.T) {
	tr := NewListTracker()
	tr.Insert(0, 3)
	tr.Insert(2, 4)

	if _, ok := tr.Remove(1); ok {
		t.Fatal("expected Remove on an untracked index to fail")
	}
	if !tr.RequiresManualCopy() {
		t.Fatal("expected list to require manual copy after an untracked erase")
	}
}

func TestListTrackerRemoveKnownIndex(t *testing.T) {
	tr := NewListTracker()
	tr.Insert(0, 3)
	remote, ok := tr.Remove(0)
	if !ok || remote != 0 {
		t.Fatalf("expected remove(0) to translate to remote 0, got %d (ok=%v)", remote, ok)
	}
	if tr.RequiresManualCopy() {
		t.Fatal("removing a known index should not trigger manual copy")
	}
}

// --- minimal in-memory Group/Table/Object for transfer/recovery tests ---

type memGroup struct{ tables map[string]*memTable }

func newMemGroup() *memGroup { return &memGroup{tables: map[string]*memTable{}} }

func (g *memGroup) Table(name string) (applier.Table, bool) {
	t, ok := g.tables[name]
	return t, ok
}
func (g *memGroup) AddTable(name string, pkType applier.ValueType, hasPK, embedded bool) (applier.Table, error) {
	t := &memTable{hasPK: hasPK, pkType: pkType, embedded: embedded, cols: map[string]applier.ColumnInfo{}, objects: map[string]*memObject{}}
	g.tables[name] = t
	return t, nil
}
func (g *memGroup) EraseTable(name string) error { delete(g.tables, name); return nil }

type memTable struct {
	hasPK    bool
	pkType   applier.ValueType
	embedded bool
	cols     map[string]applier.ColumnInfo
	objects  map[string]*memObject
}

func (t *memTable) IsEmbedded() bool                  { return t.embedded }
func (t *memTable) HasPrimaryKey() bool                { return t.hasPK }
func (t *memTable) PrimaryKeyType() applier.ValueType  { return t.pkType }
func (t *memTable) Column(name string) (applier.ColumnInfo, bool) {
	c, ok := t.cols[name]
	return c, ok
}
func (t *memTable) AddColumn(name string, typ applier.ValueType, nullable bool, collection applier.CollectionKind) error {
	t.cols[name] = applier.ColumnInfo{Name: name, Type: typ, Nullable: nullable, Collection: collection}
	return nil
}
func (t *memTable) EraseColumn(name string) error { delete(t.cols, name); return nil }
func pkKeyR(pk applier.Mixed) string               { return fmt.Sprintf("%d:%s", pk.Type, string(pk.Raw)) }
func (t *memTable) Object(pk applier.Mixed) (applier.Object, bool) {
	o, ok := t.objects[pkKeyR(pk)]
	return o, ok
}
func (t *memTable) CreateObject(pk applier.Mixed) (applier.Object, error) {
	o := &memObject{fields: map[string]applier.Mixed{}}
	t.objects[pkKeyR(pk)] = o
	return o, nil
}
func (t *memTable) CreateObjectGlobalKey() (applier.Object, error) {
	return t.CreateObject(applier.Mixed{Type: applier.TypeNull, Raw: []byte(fmt.Sprintf("%d", len(t.objects)))})
}
func (t *memTable) EraseObject(pk applier.Mixed) error { delete(t.objects, pkKeyR(pk)); return nil }

type memObject struct{ fields map[string]applier.Mixed }

func (o *memObject) Get(field string) (applier.Mixed, error) { return o.fields[field], nil }
func (o *memObject) Set(field string, v applier.Mixed) error  { o.fields[field] = v; return nil }
func (o *memObject) List(field string) (applier.List, error) {
	return nil, errors.New("lists not supported in transfer test double")
}
func (o *memObject) Dictionary(field string) (applier.Dictionary, error) {
	return nil, errors.New("dictionaries not supported in transfer test double")
}
func (o *memObject) SetCollection(field string) (applier.SetCollection, error) {
	return nil, errors.New("sets not supported in transfer test double")
}
func (o *memObject) CreateEmbedded(field string) (applier.Object, error) {
	return nil, errors.New("embedded objects not supported in transfer test double")
}

func TestTransferSchemaCreatesMissingTable(t *testing.T) {
	src := newMemGroup()
	src.AddTable("Person", applier.TypeString, true, false)

	dst := newMemGroup()

	WithColumnEnumerator(func(applier.Table) []applier.ColumnInfo { return nil })

	if err := transferSchema(src, dst, []string{"Person"}, nil); err != nil {
		t.Fatalf("transferSchema: %v", err)
	}
	if _, ok := dst.Table("Person"); !ok {
		t.Fatal("expected Person table to be created in dst")
	}
}

func TestTransferSchemaFailsOnLocalOnlyTable(t *testing.T) {
	src := newMemGroup()
	dst := newMemGroup()
	dst.AddTable("Orphan", applier.TypeString, true, false)

	err := transferSchema(src, dst, nil, []string{"Orphan"})
	if !errors.Is(err, ErrClientResetFailed) {
		t.Fatalf("expected ErrClientResetFailed, got %v", err)
	}
}

func TestRecoverDiscardLocalRunsTransferOnly(t *testing.T) {
	src := newMemGroup()
	src.AddTable("Person", applier.TypeString, true, false)
	dst := newMemGroup()
	WithColumnEnumerator(func(applier.Table) []applier.ColumnInfo { return nil })

	req := Request{
		Mode:            DiscardLocal,
		Metadata:        &memStore{},
		RecoveryAllowed: true,
		Src:             src,
		Dst:             dst,
		SrcTables:       []string{"Person"},
	}
	result, err := Recover(req)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if result.ModeUsed != DiscardLocal {
		t.Fatalf("expected ModeUsed DiscardLocal, got %v", result.ModeUsed)
	}
	if _, ok := dst.Table("Person"); !ok {
		t.Fatal("expected Person transferred into dst")
	}
}
