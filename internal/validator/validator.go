// Package validator implements component C5: type-checking a front-matter
// map against its collection's declared fields, applying defaults, and
// enforcing enum/required/additional_properties rules (spec §4.4).
package validator

import (
	"fmt"
	"sort"
	"time"

	"github.com/agnivade/levenshtein"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/schema"
)

// Result carries the normalized (defaults-filled, coerced) document
// alongside any warnings produced under strict: false.
type Result struct {
	Fields   map[string]interface{}
	Warnings []string
}

// Validate checks input against coll's declared fields using sch for
// reusable-type lookups. Under strict: true (the default), the first
// violation is returned as a ValidationErr. Under strict: false,
// violations are downgraded to warnings and the write proceeds with
// best-effort coercion, per spec §4.4.
func Validate(sch *schema.Schema, coll *schema.Collection, input map[string]interface{}) (*Result, error) {
	res := &Result{Fields: make(map[string]interface{}, len(input))}
	var issues []string

	declared := make(map[string]bool, len(coll.Fields))
	for _, f := range coll.Fields {
		declared[f.Name] = true
	}

	for _, f := range coll.Fields {
		v, present := input[f.Name]
		if !present {
			if f.HasDefault {
				res.Fields[f.Name] = f.Default
				continue
			}
			if f.Required {
				issues = append(issues, fmt.Sprintf("missing required field %q", f.Name))
				continue
			}
			continue
		}
		coerced, err := checkField(sch, f, v)
		if err != nil {
			issues = append(issues, err.Error())
			res.Fields[f.Name] = v // best-effort: keep the raw value under strict:false
			continue
		}
		res.Fields[f.Name] = coerced
	}

	if !coll.AdditionalProperties {
		names := fieldNames(coll.Fields)
		for key, v := range input {
			if declared[key] {
				continue
			}
			issues = append(issues, unknownFieldMessage(key, names))
			if coll.Strict {
				continue
			}
			res.Fields[key] = v
		}
	} else {
		for key, v := range input {
			if declared[key] {
				continue
			}
			res.Fields[key] = v
		}
	}

	if len(issues) == 0 {
		return res, nil
	}
	if coll.Strict {
		return nil, grounddb.Errorf(grounddb.ValidationErr, "%s", issues[0])
	}
	res.Warnings = issues
	return res, nil
}

func fieldNames(fields []schema.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

// unknownFieldMessage builds the "unknown field ... (did you mean ...?)"
// diagnostic, suggesting the declared field name with the smallest edit
// distance when one is reasonably close (spec §4.4 **[ADD]**).
func unknownFieldMessage(key string, declared []string) string {
	best := ""
	bestDist := -1
	for _, name := range declared {
		d := levenshtein.ComputeDistance(key, name)
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = name
		}
	}
	if best == "" || bestDist > 3 {
		return fmt.Sprintf("unknown field %q", key)
	}
	return fmt.Sprintf("unknown field %q (did you mean %q?)", key, best)
}

// checkField type-checks and coerces a single value against its field
// definition, recursing into list element types and object shapes.
func checkField(sch *schema.Schema, f schema.Field, v interface{}) (interface{}, error) {
	switch f.Type {
	case schema.TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: expected string, got %T", f.Name, v)
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: value %q not in enum %v", f.Name, s, f.Enum)
		}
		return s, nil
	case schema.TypeNumber:
		switch n := v.(type) {
		case float64, int, int64:
			return n, nil
		default:
			return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: expected number, got %T", f.Name, v)
		}
	case schema.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: expected boolean, got %T", f.Name, v)
		}
		return b, nil
	case schema.TypeDate, schema.TypeDateTime:
		s, ok := v.(string)
		if !ok {
			return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: expected date/datetime string, got %T", f.Name, v)
		}
		if _, err := parseTemporal(s); err != nil {
			return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: %v", f.Name, err)
		}
		return s, nil
	case schema.TypeList:
		items, ok := v.([]interface{})
		if !ok {
			return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: expected list, got %T", f.Name, v)
		}
		elemField := schema.Field{Name: f.Name, Type: f.ItemType}
		out := make([]interface{}, len(items))
		for i, item := range items {
			coerced, err := checkField(sch, elemField, item)
			if err != nil {
				return nil, err
			}
			out[i] = coerced
		}
		return out, nil
	case schema.TypeObject:
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: expected object, got %T", f.Name, v)
		}
		fields := f.Fields
		if f.ObjectType != "" {
			typeFields, ok := sch.Types[f.ObjectType]
			if !ok {
				return nil, grounddb.Errorf(grounddb.SchemaErr, "field %q: unknown reusable type %q", f.Name, f.ObjectType)
			}
			fields = typeFields
		}
		out := make(map[string]interface{}, len(m))
		for _, sub := range fields {
			sv, present := m[sub.Name]
			if !present {
				if sub.HasDefault {
					out[sub.Name] = sub.Default
				} else if sub.Required {
					return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q.%q: missing required field", f.Name, sub.Name)
				}
				continue
			}
			coerced, err := checkField(sch, sub, sv)
			if err != nil {
				return nil, err
			}
			out[sub.Name] = coerced
		}
		for k, v := range m {
			if !hasField(fields, k) {
				out[k] = v
			}
		}
		return out, nil
	case schema.TypeRef:
		return checkRef(f, v)
	default:
		return v, nil
	}
}

// checkRef validates a reference field's on-disk shape: either a bare id
// string (single-target references) or {type, id} (polymorphic
// references), per the REDESIGN FLAGS note on polymorphic ref
// representation. Target existence is checked by the Store against the
// index, not here, since that requires a live index lookup.
func checkRef(f schema.Field, v interface{}) (interface{}, error) {
	if len(f.Targets) <= 1 {
		switch vv := v.(type) {
		case string:
			return vv, nil
		case map[string]interface{}:
			id, _ := vv["id"].(string)
			if id == "" {
				return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: reference object missing \"id\"", f.Name)
			}
			return vv, nil
		default:
			return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: expected a reference id or {type,id}, got %T", f.Name, v)
		}
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: polymorphic reference must be {type, id}, got %T", f.Name, v)
	}
	refType, _ := m["type"].(string)
	id, _ := m["id"].(string)
	if refType == "" || id == "" {
		return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: polymorphic reference requires both \"type\" and \"id\"", f.Name)
	}
	if !contains(f.Targets, refType) {
		return nil, grounddb.Errorf(grounddb.ValidationErr, "field %q: reference type %q is not one of %v", f.Name, refType, f.Targets)
	}
	return m, nil
}

func parseTemporal(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date/datetime %q", s)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func hasField(fields []schema.Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// SuggestField returns the unknown-field message for key, with a "did you
// mean" suggestion drawn from declared. It sorts declared in place.
func SuggestField(key string, declared []string) string {
	sort.Strings(declared)
	return unknownFieldMessage(key, declared)
}
