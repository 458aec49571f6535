// Package migration implements component C10: diffing two schema
// versions, classifying each change's safety, and applying the safe
// ones against the system index and on-disk documents (spec §4.10).
package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sergi/go-diff/diffmatchpatch"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/codec"
	"github.com/JustMaier/groundDb/internal/index"
	"github.com/JustMaier/groundDb/internal/schema"
)

// Kind identifies the shape of one schema change.
type Kind string

const (
	CollectionAdded    Kind = "collection_added"
	CollectionRemoved  Kind = "collection_removed"
	FieldAdded         Kind = "field_added"
	FieldRemoved       Kind = "field_removed"
	FieldTypeChanged   Kind = "field_type_changed"
	EnumValueAdded     Kind = "enum_value_added"
	EnumValueRemoved   Kind = "enum_value_removed"
	DefaultChanged     Kind = "default_changed"
	PathTemplateChanged Kind = "path_template_changed"
)

// Safety is the classification spec §4.10's table assigns each Kind.
type Safety string

const (
	Safe       Safety = "safe"
	SafeWarn   Safety = "safe-warn"
	Unsafe     Safety = "unsafe"
	UnsafeWarn Safety = "unsafe-warn"
)

// Change is one classified schema difference.
type Change struct {
	Kind       Kind
	Safety     Safety
	Collection string
	Field      string
	Detail     string
	HasDefault bool
	Default    interface{}
}

// Diff compares oldSch against newSch and returns every change,
// classified per spec §4.10's table, in a stable (collection, field)
// order.
func Diff(oldSch, newSch *schema.Schema) []Change {
	var changes []Change

	oldNames := oldSch.CollectionNames()
	newNames := newSch.CollectionNames()
	oldSet := toSet(oldNames)
	newSet := toSet(newNames)

	for _, name := range newNames {
		if !oldSet[name] {
			changes = append(changes, Change{Kind: CollectionAdded, Safety: Safe, Collection: name, Detail: "collection added"})
		}
	}
	for _, name := range oldNames {
		if !newSet[name] {
			changes = append(changes, Change{Kind: CollectionRemoved, Safety: SafeWarn, Collection: name, Detail: "collection removed from schema; data left on disk"})
			continue
		}
		changes = append(changes, diffCollection(name, oldSch.Collections[name], newSch.Collections[name])...)
	}
	return changes
}

func diffCollection(name string, oldC, newC *schema.Collection) []Change {
	var changes []Change
	if oldC.Path != newC.Path {
		changes = append(changes, Change{
			Kind: PathTemplateChanged, Safety: UnsafeWarn, Collection: name,
			Detail: fmt.Sprintf("path template changed from %q to %q; run migrate explicitly", oldC.Path, newC.Path),
		})
	}

	oldFields := map[string]schema.Field{}
	for _, f := range oldC.Fields {
		oldFields[f.Name] = f
	}
	newFields := map[string]schema.Field{}
	for _, f := range newC.Fields {
		newFields[f.Name] = f
	}

	var newNames []string
	for _, f := range newC.Fields {
		newNames = append(newNames, f.Name)
	}
	sort.Strings(newNames)
	for _, fname := range newNames {
		nf := newFields[fname]
		of, existed := oldFields[fname]
		if !existed {
			changes = append(changes, fieldAddedChange(name, nf))
			continue
		}
		changes = append(changes, diffField(name, of, nf)...)
	}

	var oldNames []string
	for _, f := range oldC.Fields {
		oldNames = append(oldNames, f.Name)
	}
	sort.Strings(oldNames)
	for _, fname := range oldNames {
		if _, stillPresent := newFields[fname]; !stillPresent {
			changes = append(changes, Change{Kind: FieldRemoved, Safety: SafeWarn, Collection: name, Field: fname, Detail: "field removed; validator stops enforcing it, values left in place"})
		}
	}
	return changes
}

func fieldAddedChange(collection string, f schema.Field) Change {
	if !f.Required {
		return Change{Kind: FieldAdded, Safety: Safe, Collection: collection, Field: f.Name, Detail: "optional field added"}
	}
	if f.HasDefault {
		return Change{Kind: FieldAdded, Safety: Safe, Collection: collection, Field: f.Name, HasDefault: true, Default: f.Default, Detail: "required field added with default; existing documents will be backfilled"}
	}
	return Change{Kind: FieldAdded, Safety: Unsafe, Collection: collection, Field: f.Name, Detail: "required field added with no default"}
}

func diffField(collection string, of, nf schema.Field) []Change {
	var changes []Change
	if of.Type != nf.Type || (of.Type == schema.TypeList && of.ItemType != nf.ItemType) {
		changes = append(changes, Change{Kind: FieldTypeChanged, Safety: Unsafe, Collection: collection, Field: nf.Name, Detail: fmt.Sprintf("type changed from %s to %s", of.Type, nf.Type)})
	}
	oldEnum := toSet(of.Enum)
	newEnum := toSet(nf.Enum)
	for _, v := range nf.Enum {
		if !oldEnum[v] {
			changes = append(changes, Change{Kind: EnumValueAdded, Safety: Safe, Collection: collection, Field: nf.Name, Detail: fmt.Sprintf("enum value %q added", v)})
		}
	}
	for _, v := range of.Enum {
		if !newEnum[v] {
			changes = append(changes, Change{Kind: EnumValueRemoved, Safety: SafeWarn, Collection: collection, Field: nf.Name, Detail: fmt.Sprintf("enum value %q removed; existing documents may still hold it", v)})
		}
	}
	if of.HasDefault != nf.HasDefault || !valuesEqual(of.Default, nf.Default) {
		changes = append(changes, Change{Kind: DefaultChanged, Safety: Safe, Collection: collection, Field: nf.Name, Detail: "default changed; existing documents keep their stored values"})
	}
	return changes
}

func valuesEqual(a, b interface{}) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

// FirstUnsafe returns the first unsafe change, if any, for callers that
// abort startup on unsafe changes per spec §4.10's "unsafe: Abort
// startup with MigrationRequired" rule.
func FirstUnsafe(changes []Change) (Change, bool) {
	for _, c := range changes {
		if c.Safety == Unsafe {
			return c, true
		}
	}
	return Change{}, false
}

// DryRun renders a character-level diff of the two schema.yaml texts,
// with insertions and deletions marked by ANSI colours, for the CLI's
// `migrate --dry-run`.
func DryRun(oldSch, newSch *schema.Schema) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldSch.YAML, newSch.YAML, false)
	return dmp.DiffPrettyText(diffs)
}

// Apply applies every Safe/SafeWarn change: creating new collection
// directories and backfilling required-with-default fields onto
// existing documents, preserving their timestamps and body bytes. It
// assumes FirstUnsafe has already been checked by the caller.
func Apply(ctx context.Context, dataDir string, idx *index.Index, newSch *schema.Schema, changes []Change) error {
	for _, c := range changes {
		switch c.Kind {
		case CollectionAdded:
			coll := newSch.Collections[c.Collection]
			root := collectionRoot(dataDir, coll)
			if err := os.MkdirAll(root, 0o755); err != nil {
				return grounddb.Wrap(grounddb.IoErr, err, "create directory for new collection %q", c.Collection)
			}
		case FieldAdded:
			if c.HasDefault {
				if err := backfillDefault(ctx, dataDir, idx, newSch.Collections[c.Collection], c); err != nil {
					return err
				}
			}
		}
		if err := idx.RecordMigration(ctx, "", newSch.Hash, string(c.Kind), c, "applied"); err != nil {
			return err
		}
	}
	return nil
}

func collectionRoot(dataDir string, coll *schema.Collection) string {
	first := coll.Path
	for i := 0; i < len(first); i++ {
		if first[i] == '{' || first[i] == '/' {
			return filepath.Join(dataDir, first[:i])
		}
	}
	return dataDir
}

// backfillDefault scans every existing document in a collection missing
// a newly required field and writes the field's default value, rewriting
// the file in place while preserving its modification time.
func backfillDefault(ctx context.Context, dataDir string, idx *index.Index, coll *schema.Collection, c Change) error {
	rows, err := idx.ListByCollection(ctx, c.Collection)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if _, present := row.Data[c.Field]; present {
			continue
		}
		row.Data[c.Field] = c.Default
		fullPath := filepath.Join(dataDir, row.Path)
		raw, err := os.ReadFile(fullPath)
		if err != nil {
			return grounddb.Wrap(grounddb.IoErr, err, "read %s for migration backfill", row.Path)
		}
		doc, err := decodeByExt(coll, raw)
		if err != nil {
			return err
		}
		doc.FrontMatter[c.Field] = c.Default
		encoded, err := encodeByExt(coll, doc)
		if err != nil {
			return err
		}
		info, statErr := os.Stat(fullPath)
		if err := os.WriteFile(fullPath, encoded, 0o644); err != nil {
			return grounddb.Wrap(grounddb.IoErr, err, "write %s for migration backfill", row.Path)
		}
		if statErr == nil {
			os.Chtimes(fullPath, info.ModTime(), info.ModTime())
		}
		if err := idx.UpsertDocument(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func decodeByExt(coll *schema.Collection, raw []byte) (*codec.Document, error) {
	switch coll.Ext {
	case "json":
		return codec.DecodeJSON(raw)
	default:
		return codec.DecodeMarkdown(raw)
	}
}

func encodeByExt(coll *schema.Collection, doc *codec.Document) ([]byte, error) {
	names := make([]string, len(coll.Fields))
	for i, f := range coll.Fields {
		names[i] = f.Name
	}
	switch coll.Ext {
	case "json":
		return codec.EncodeJSON(doc, names)
	default:
		return codec.EncodeMarkdown(doc, names)
	}
}
