// Path type and Mixed value model: the applier walks a (table, object,
// field, path-components*) tuple through column -> list-index | dict-key
// | embedded-object-field. The addressing scheme follows a familiar
// ListPath-shaped "canonical identifier for a nested collection" idea,
// generalized from a byte offset into a structured path, and decodes
// Mixed-typed payloads via goccy/go-json, the JSON library used
// elsewhere in this module.
package applier

import json "github.com/goccy/go-json"

// ValueType enumerates the primitive/pk types the applier validates
// payloads against, per spec.md §4.5's AddTable/CreateObject pk
// allow-set and Update's type-check contract.
type ValueType int

const (
	TypeNull ValueType = iota
	TypeInt
	TypeString
	TypeBool
	TypeFloat
	TypeObjectID
	TypeUUID
	TypeObjectLink
	TypeList
	TypeDictionary
	TypeSet
)

// pkAllowSet is spec.md §4.5's "small allow-set" for primary-key typed
// columns: Int, String, ObjectId, UUID.
var pkAllowSet = map[ValueType]bool{
	TypeInt: true, TypeString: true, TypeObjectID: true, TypeUUID: true,
}

// Mixed is a dynamically typed value, decoded from a JSON-shaped wire
// payload the same way document content gets treated elsewhere in this
// module: goccy/go-json repointed here from whole-document bodies to
// individual sync-instruction payloads.
type Mixed struct {
	Type ValueType
	// Raw holds the JSON-encoded scalar/ObjectLink/collection-seed
	// payload; Decode unmarshals it into v.
	Raw json.RawMessage
}

// Decode unmarshals m's raw payload into v.
func (m Mixed) Decode(v any) error {
	if len(m.Raw) == 0 {
		return nil
	}
	return json.Unmarshal(m.Raw, v)
}

// Erased is the sentinel payload value for dictionary-key erasure
// (spec.md §4.5's Update bullet: "Erased (only valid for dictionary
// values)").
var Erased = Mixed{Type: -1}

func (m Mixed) isErased() bool { return m.Type == -1 }

// PathComponent is one step past the initial (table, object, field)
// triple: a list index, a dictionary key, or a nested field name inside
// an embedded object.
type PathComponent struct {
	ListIndex int     // valid when Kind == PathIndex
	DictKey   string  // valid when Kind == PathKey
	Field     string  // valid when Kind == PathField
	Kind      PathKind
}

type PathKind int

const (
	PathIndex PathKind = iota
	PathKey
	PathField
)

// Path addresses a single value anywhere in the object graph, per
// spec.md §4.5.
type Path struct {
	Table      string
	ObjectPK   Mixed
	Field      string
	Components []PathComponent
}
