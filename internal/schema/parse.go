package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JustMaier/groundDb/internal/pathtemplate"
)

// Load reads and parses schema.yaml at path, returning an immutable Schema.
// Field order inside collections and reusable types is preserved by
// walking yaml.Node mapping pairs directly instead of decoding into a Go
// map, since spec §4.2 requires deterministic, schema-field-order codec
// output.
func Load(path string) (*Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Parse parses raw schema.yaml bytes into an immutable Schema.
func Parse(raw []byte) (*Schema, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema.yaml: invalid yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return &Schema{
			Types:       map[string][]Field{},
			Collections: map[string]*Collection{},
			Views:       map[string]*View{},
			Hash:        hashBytes(raw),
			YAML:        string(raw),
		}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("schema.yaml: root must be a mapping")
	}

	s := &Schema{
		Types:       map[string][]Field{},
		Collections: map[string]*Collection{},
		Views:       map[string]*View{},
		Hash:        hashBytes(raw),
		YAML:        string(raw),
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := root.Content[i+1]
		switch key {
		case "types":
			if err := parseTypes(val, s); err != nil {
				return nil, err
			}
		case "collections":
			if err := parseCollections(val, s); err != nil {
				return nil, err
			}
		case "views":
			if err := parseViews(val, s); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("schema.yaml: unknown top-level key %q", key)
		}
	}
	return s, nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func parseTypes(node *yaml.Node, s *Schema) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("schema.yaml: types must be a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		fields, err := parseFieldMap(node.Content[i+1])
		if err != nil {
			return fmt.Errorf("type %q: %w", name, err)
		}
		s.Types[name] = fields
	}
	return nil
}

func parseCollections(node *yaml.Node, s *Schema) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("schema.yaml: collections must be a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		c, err := parseCollection(name, node.Content[i+1], s)
		if err != nil {
			return fmt.Errorf("collection %q: %w", name, err)
		}
		s.Collections[name] = c
	}
	return nil
}

func parseCollection(name string, node *yaml.Node, s *Schema) (*Collection, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("must be a mapping")
	}
	c := &Collection{
		Name:                 name,
		AdditionalProperties: true,
		Strict:               true,
		Ext:                  "md",
		ID:                   IDConfig{OnConflict: OnConflictError},
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "path":
			c.Path = val.Value
			if err := pathtemplate.Validate(c.Path); err != nil {
				return nil, err
			}
		case "fields":
			fields, err := parseFieldMap(val)
			if err != nil {
				return nil, err
			}
			c.Fields = fields
		case "content":
			c.Content = val.Value == "true"
		case "additional_properties":
			c.AdditionalProperties = val.Value != "false"
		case "strict":
			c.Strict = val.Value != "false"
		case "readonly":
			c.Readonly = val.Value == "true"
		case "ext":
			c.Ext = val.Value
		case "on_delete":
			c.DefaultOnDelete = OnDelete(val.Value)
		case "id":
			if err := parseIDConfig(val, c); err != nil {
				return nil, err
			}
		case "records":
			rb, err := parseRecords(val)
			if err != nil {
				return nil, err
			}
			c.Records = rb
			c.Ext = "jsonl"
		default:
			return nil, fmt.Errorf("unknown key %q", key)
		}
	}
	if c.Path == "" && c.Records == nil {
		return nil, fmt.Errorf("missing required key \"path\"")
	}
	return c, nil
}

func parseIDConfig(node *yaml.Node, c *Collection) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("id: must be a mapping")
	}
	c.ID.OnConflict = OnConflictError
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1].Value
		switch key {
		case "auto":
			c.ID.Auto = AutoID(val)
		case "on_conflict":
			c.ID.OnConflict = OnConflict(val)
		default:
			return fmt.Errorf("id: unknown key %q", key)
		}
	}
	return nil
}

func parseRecords(node *yaml.Node) (*RecordsBlock, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("records: must be a mapping")
	}
	rb := &RecordsBlock{Variants: map[string]RecordVariant{}}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "base":
			fields, err := parseFieldMap(val)
			if err != nil {
				return nil, err
			}
			rb.BaseFields = fields
		case "discriminator":
			rb.Discriminator = val.Value
		case "variants":
			if val.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("records.variants: must be a mapping")
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				variantName := val.Content[j].Value
				fields, err := parseFieldMap(val.Content[j+1])
				if err != nil {
					return nil, err
				}
				rb.Variants[variantName] = RecordVariant{Discriminant: variantName, Fields: fields}
			}
		default:
			return nil, fmt.Errorf("records: unknown key %q", key)
		}
	}
	if rb.Discriminator == "" {
		return nil, fmt.Errorf("records: missing discriminator")
	}
	return rb, nil
}

// parseFieldMap walks a mapping of field name -> field definition in
// document order and returns fields in that same order.
func parseFieldMap(node *yaml.Node) ([]Field, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("fields: must be a mapping")
	}
	fields := make([]Field, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		f, err := parseField(name, node.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// parseField accepts either a scalar shorthand ("string", "list<string>",
// a reusable type name) or a full mapping with required/enum/default/target.
func parseField(name string, node *yaml.Node) (Field, error) {
	f := Field{Name: name}
	switch node.Kind {
	case yaml.ScalarNode:
		if err := parseTypeExpr(node.Value, &f); err != nil {
			return f, err
		}
		return f, nil
	case yaml.MappingNode:
		var typeExpr string
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			val := node.Content[i+1]
			switch key {
			case "type":
				typeExpr = val.Value
			case "required":
				f.Required = val.Value == "true"
			case "enum":
				for _, item := range val.Content {
					f.Enum = append(f.Enum, item.Value)
				}
			case "default":
				var def interface{}
				if err := val.Decode(&def); err != nil {
					return f, fmt.Errorf("default: %w", err)
				}
				f.Default = def
				f.HasDefault = true
			case "target":
				if val.Kind == yaml.SequenceNode {
					for _, item := range val.Content {
						f.Targets = append(f.Targets, item.Value)
					}
				} else {
					f.Targets = []string{val.Value}
				}
			case "on_delete":
				f.OnDelete = OnDelete(val.Value)
			case "object":
				fields, err := parseFieldMap(val)
				if err != nil {
					return f, err
				}
				f.Type = TypeObject
				f.Fields = fields
			default:
				return f, fmt.Errorf("unknown key %q", key)
			}
		}
		if typeExpr != "" {
			if err := parseTypeExpr(typeExpr, &f); err != nil {
				return f, err
			}
		}
		return f, nil
	default:
		return f, fmt.Errorf("must be a scalar or mapping")
	}
}

func parseTypeExpr(expr string, f *Field) error {
	switch {
	case expr == "string", expr == "number", expr == "boolean", expr == "date", expr == "datetime", expr == "object":
		f.Type = FieldType(expr)
	case expr == "ref":
		f.Type = TypeRef
	case len(expr) > 6 && expr[:5] == "list<" && expr[len(expr)-1] == '>':
		f.Type = TypeList
		f.ItemType = FieldType(expr[5 : len(expr)-1])
	default:
		// Reusable type reference.
		f.Type = TypeObject
		f.ObjectType = expr
	}
	return nil
}

func parseViews(node *yaml.Node, s *Schema) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("schema.yaml: views must be a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		v, err := parseView(name, node.Content[i+1])
		if err != nil {
			return fmt.Errorf("view %q: %w", name, err)
		}
		s.Views[name] = v
	}
	return nil
}

func parseView(name string, node *yaml.Node) (*View, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("must be a mapping")
	}
	v := &View{Name: name, Kind: ViewStatic, BufferMultiplier: 2, MaterializeFormat: "yaml"}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "query":
			v.Query = val.Value
		case "type":
			if val.Value == "query" {
				v.Kind = ViewQuery
			}
		case "materialize":
			v.Materialize = val.Value == "true"
		case "format":
			v.MaterializeFormat = val.Value
		case "buffer":
			var n int
			if err := val.Decode(&n); err == nil && n > 0 {
				v.BufferMultiplier = n
			}
		case "params":
			if val.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("params: must be a mapping")
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				pname := val.Content[j].Value
				ptype := val.Content[j+1].Value
				v.Params = append(v.Params, ParamType{Name: pname, Type: FieldType(ptype)})
			}
		default:
			return nil, fmt.Errorf("unknown key %q", key)
		}
	}
	if v.Query == "" {
		return nil, fmt.Errorf("missing required key \"query\"")
	}
	return v, nil
}
