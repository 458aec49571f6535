package store

import (
	"context"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/index"
	"github.com/JustMaier/groundDb/internal/schema"
)

// referrer is one document holding a reference field that points at a
// delete's target.
type referrer struct {
	Collection string
	ID         string
	Field      schema.Field
}

// checkRefTargets verifies every ref field in fields resolves to an
// existing document, per invariant I5. idx is passed explicitly so this
// can run both under Insert/Update (already holding s.mu) without
// re-entering the lock.
func checkRefTargets(ctx context.Context, idx *index.Index, coll *schema.Collection, fields map[string]interface{}) error {
	for _, f := range coll.Fields {
		if f.Type != schema.TypeRef {
			continue
		}
		v, ok := fields[f.Name]
		if !ok || v == nil {
			continue
		}
		targets, id, err := refTarget(f, v)
		if err != nil {
			return err
		}
		if id == "" {
			continue
		}
		found := false
		for _, target := range targets {
			if _, err := idx.GetDocument(ctx, target, id); err == nil {
				found = true
				break
			}
		}
		if !found {
			return grounddb.Errorf(grounddb.ReferenceErr, "field %q: referenced document %q not found in %v", f.Name, id, targets)
		}
	}
	return nil
}

// refTarget extracts the candidate target collections and id a ref
// field's value names.
func refTarget(f schema.Field, v interface{}) (targets []string, id string, err error) {
	switch vv := v.(type) {
	case string:
		return f.Targets, vv, nil
	case map[string]interface{}:
		refType, _ := vv["type"].(string)
		refID, _ := vv["id"].(string)
		if refType != "" {
			return []string{refType}, refID, nil
		}
		return f.Targets, refID, nil
	default:
		return nil, "", grounddb.Errorf(grounddb.ValidationErr, "field %q: unsupported reference shape %T", f.Name, v)
	}
}

// findReferrers scans every collection's indexed documents for ref
// fields that point at (targetCollection, targetID), per spec §4.7
// delete step 1.
func findReferrers(ctx context.Context, sch *schema.Schema, idx *index.Index, targetCollection, targetID string) ([]referrer, error) {
	var out []referrer
	for name, coll := range sch.Collections {
		var refFields []schema.Field
		for _, f := range coll.Fields {
			if f.Type == schema.TypeRef && targetsInclude(f.Targets, targetCollection) {
				refFields = append(refFields, f)
			}
		}
		if len(refFields) == 0 {
			continue
		}
		rows, err := idx.ListByCollection(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			for _, f := range refFields {
				v, ok := row.Data[f.Name]
				if !ok || v == nil {
					continue
				}
				_, id, err := refTarget(f, v)
				if err != nil {
					continue
				}
				if id == targetID {
					out = append(out, referrer{Collection: name, ID: row.ID, Field: f})
				}
			}
		}
	}
	return out, nil
}

func targetsInclude(targets []string, name string) bool {
	if len(targets) == 0 {
		return true // unresolved target list (schema error elsewhere); don't hide the referrer
	}
	for _, t := range targets {
		if t == name {
			return true
		}
	}
	return false
}
