// Package schema models schema.yaml: collection, field, reference, and
// view definitions (component C1). A *Schema is immutable for the
// lifetime of one store session.
package schema

import "sort"

// FieldType enumerates the field types a Field may declare.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeDateTime FieldType = "datetime"
	TypeList     FieldType = "list"
	TypeObject   FieldType = "object"
	TypeRef      FieldType = "ref"
)

// OnDelete enumerates the cascade policy applied to a reference field
// when its target is deleted.
type OnDelete string

const (
	OnDeleteError    OnDelete = "error"
	OnDeleteCascade  OnDelete = "cascade"
	OnDeleteNullify  OnDelete = "nullify"
	OnDeleteArchive  OnDelete = "archive"
)

// OnConflict enumerates the path-collision policy for inserts/renames.
type OnConflict string

const (
	OnConflictError  OnConflict = "error"
	OnConflictSuffix OnConflict = "suffix"
)

// AutoID enumerates the supported id.auto generator choices.
type AutoID string

const (
	AutoIDNone  AutoID = ""
	AutoIDULID  AutoID = "ulid"
	AutoIDUUID  AutoID = "uuid"
	AutoIDNanoID AutoID = "nanoid"
)

// Field describes one field of a collection (or reusable type).
type Field struct {
	Name     string
	Type     FieldType
	ItemType FieldType // for list<T>: the element type
	Required bool
	Enum     []string
	Default  interface{}
	HasDefault bool

	// Object fields may reference a reusable type by name instead of
	// inlining their shape.
	ObjectType string
	Fields     []Field // inline object shape, ordered

	// Ref fields.
	Targets  []string // one or many collection names (polymorphic when >1)
	OnDelete OnDelete
}

// IDConfig describes a collection's id.auto / id.on_conflict options.
type IDConfig struct {
	Auto      AutoID
	OnConflict OnConflict
}

// RecordVariant describes one variant of a records (JSONL) block.
type RecordVariant struct {
	Discriminant string
	Fields       []Field
}

// RecordsBlock describes a collection's JSONL discriminated-union shape.
type RecordsBlock struct {
	BaseFields      []Field
	Discriminator   string
	Variants        map[string]RecordVariant
}

// Collection describes one collection: path template, field map (ordered),
// and the options spec §3 lists.
type Collection struct {
	Name                string
	Path                string // raw path template string
	Fields              []Field // ordered, for deterministic codegen/codec order
	Content             bool
	AdditionalProperties bool
	Strict              bool
	Readonly            bool
	ID                  IDConfig
	DefaultOnDelete     OnDelete
	Records             *RecordsBlock
	Ext                 string // "md" (default), "json", "jsonl"
}

// FieldByName returns the declared field with the given name, if any.
func (c *Collection) FieldByName(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ParamType describes one declared parameter of a query view.
type ParamType struct {
	Name string
	Type FieldType
}

// ViewKind distinguishes static (eagerly maintained) views from
// parameterized query templates.
type ViewKind string

const (
	ViewStatic ViewKind = "static"
	ViewQuery  ViewKind = "query"
)

// View describes one view definition.
type View struct {
	Name        string
	Query       string
	Kind        ViewKind
	Params      []ParamType
	Materialize bool
	MaterializeFormat string // "yaml" (default) or "json"
	BufferMultiplier  int    // default 2
}

// Schema is the immutable, fully-parsed contents of schema.yaml.
type Schema struct {
	Types       map[string][]Field // reusable type name -> field map
	Collections map[string]*Collection
	Views       map[string]*View

	// Hash is the content hash of the schema.yaml bytes, used by the
	// migration engine to detect changes against schema_history.
	Hash string
	YAML string // raw schema.yaml text, kept for schema_history + diffing
}

// CollectionNames returns collection names in a stable, sorted order.
func (s *Schema) CollectionNames() []string {
	names := make([]string, 0, len(s.Collections))
	for name := range s.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
