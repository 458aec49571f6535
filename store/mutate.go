package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/idgen"
	"github.com/JustMaier/groundDb/internal/index"
	"github.com/JustMaier/groundDb/internal/schema"
	"github.com/JustMaier/groundDb/internal/validator"
)

// Insert creates a new document in collection. If id is empty, it is
// resolved per spec §4.7 step 1: generated from id.auto if declared,
// otherwise derived from the rendered path's filename stem.
func (s *Store) Insert(ctx context.Context, collection, id string, fields map[string]interface{}, content string, hasContent bool) (*Document, error) {
	if err := s.subs.checkReentrant(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCore(ctx, collection, id, fields, content, hasContent)
}

// insertCore is Insert's body, callable without re-acquiring s.mu so
// Batch can reuse it while already holding the lock.
func (s *Store) insertCore(ctx context.Context, collection, id string, fields map[string]interface{}, content string, hasContent bool) (*Document, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if coll.Readonly {
		return nil, grounddb.Errorf(grounddb.ValidationErr, "collection %q is readonly", collection)
	}

	res, err := validator.Validate(s.sch, coll, fields)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		s.log.Warnf("insert %s: %s", collection, w)
	}

	if id == "" && coll.ID.Auto != "" {
		id, err = idgen.Generate(coll.ID.Auto)
		if err != nil {
			return nil, grounddb.Wrap(grounddb.InternalErr, err, "generate id")
		}
	}
	renderFields := res.Fields
	if id != "" {
		renderFields = withID(res.Fields, id)
	}

	if err := checkRefTargets(ctx, s.idx, coll, res.Fields); err != nil {
		return nil, err
	}

	relPath, err := s.resolvePath(coll, renderFields)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = idFromPath(relPath)
	}
	if existing, err := s.idx.GetDocument(ctx, collection, id); err == nil {
		_ = existing
		return nil, grounddb.Errorf(grounddb.PathConflictErr, "document %s/%s already exists", collection, id)
	}

	raw, err := encodeDocument(coll, res.Fields, content, hasContent)
	if err != nil {
		return nil, err
	}
	fullPath := filepath.Join(s.dataDir, relPath)
	if err := ensureDir(filepath.Dir(fullPath)); err != nil {
		return nil, grounddb.Wrap(grounddb.IoErr, err, "create directory for %s", relPath)
	}
	if err := atomic.WriteFile(fullPath, bytes.NewReader(raw)); err != nil {
		return nil, grounddb.Wrap(grounddb.IoErr, err, "write %s", relPath)
	}

	now := fsTimestamps(fullPath)
	row := index.DocumentRow{
		Collection:  collection,
		ID:          id,
		Path:        relPath,
		CreatedAt:   now,
		ModifiedAt:  now,
		ContentText: content,
		Data:        res.Fields,
	}
	if err := s.idx.UpsertDocument(ctx, row); err != nil {
		return nil, err
	}
	s.paths.add(relPath)

	doc := documentFromRow(&row)
	s.recomputeAndNotify(ctx, collection, CollectionChange{Collection: collection, Kind: Inserted, New: doc})
	return doc, nil
}

// Update replaces a document's front matter and content in full.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]interface{}, content string, hasContent bool) (*Document, error) {
	return s.update(ctx, collection, id, fields, content, hasContent, false)
}

// UpdatePartial merges fields onto the existing document's front matter,
// leaving content untouched unless hasContent is true.
func (s *Store) UpdatePartial(ctx context.Context, collection, id string, fields map[string]interface{}, content string, hasContent bool) (*Document, error) {
	return s.update(ctx, collection, id, fields, content, hasContent, true)
}

func (s *Store) update(ctx context.Context, collection, id string, fields map[string]interface{}, content string, hasContent, partial bool) (*Document, error) {
	if err := s.subs.checkReentrant(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCore(ctx, collection, id, fields, content, hasContent, partial)
}

// updateCore is update's body, callable without re-acquiring s.mu.
func (s *Store) updateCore(ctx context.Context, collection, id string, fields map[string]interface{}, content string, hasContent, partial bool) (*Document, error) {
	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if coll.Readonly {
		return nil, grounddb.Errorf(grounddb.ValidationErr, "collection %q is readonly", collection)
	}
	current, err := s.idx.GetDocument(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	merged := fields
	if partial {
		merged = mergeFields(current.Data, fields)
	}
	if !hasContent {
		content = current.ContentText
	}

	res, err := validator.Validate(s.sch, coll, merged)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		s.log.Warnf("update %s/%s: %s", collection, id, w)
	}
	if err := checkRefTargets(ctx, s.idx, coll, res.Fields); err != nil {
		return nil, err
	}

	renderFields := withID(res.Fields, id)
	newRelPath, err := s.resolvePathForUpdate(coll, renderFields, current.Path)
	if err != nil {
		return nil, err
	}

	raw, err := encodeDocument(coll, res.Fields, content, hasContent || current.ContentText != "")
	if err != nil {
		return nil, err
	}

	oldFullPath := filepath.Join(s.dataDir, current.Path)
	newFullPath := filepath.Join(s.dataDir, newRelPath)
	if err := ensureDir(filepath.Dir(newFullPath)); err != nil {
		return nil, grounddb.Wrap(grounddb.IoErr, err, "create directory for %s", newRelPath)
	}
	if err := atomic.WriteFile(newFullPath, bytes.NewReader(raw)); err != nil {
		return nil, grounddb.Wrap(grounddb.IoErr, err, "write %s", newRelPath)
	}
	moved := newRelPath != current.Path
	if moved {
		if err := os.Remove(oldFullPath); err != nil && !os.IsNotExist(err) {
			return nil, grounddb.Wrap(grounddb.IoErr, err, "remove old file %s", current.Path)
		}
		s.paths.remove(current.Path)
		s.paths.add(newRelPath)
	}

	row := index.DocumentRow{
		Collection:  collection,
		ID:          id,
		Path:        newRelPath,
		CreatedAt:   current.CreatedAt,
		ModifiedAt:  time.Now(),
		ContentText: content,
		Data:        res.Fields,
	}
	if err := s.idx.UpsertDocument(ctx, row); err != nil {
		return nil, err
	}

	oldDoc := documentFromRow(current)
	newDoc := documentFromRow(&row)
	s.recomputeAndNotify(ctx, collection, CollectionChange{Collection: collection, Kind: Updated, Old: oldDoc, New: newDoc})
	return newDoc, nil
}

// Delete removes a document, applying cascade policies to its referrers
// in the order spec §4.7 describes: error, then cascade, then nullify,
// then archive.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.subs.checkReentrant(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ctx, collection, id, map[string]bool{})
}

func (s *Store) deleteLocked(ctx context.Context, collection, id string, visited map[string]bool) error {
	key := collection + "/" + id
	if visited[key] {
		return nil
	}
	visited[key] = true

	current, err := s.idx.GetDocument(ctx, collection, id)
	if err != nil {
		return err
	}

	referrers, err := findReferrers(ctx, s.sch, s.idx, collection, id)
	if err != nil {
		return err
	}
	var cascaders, nullifiers, archivers []referrer
	for _, r := range referrers {
		policy := r.Field.OnDelete
		if policy == "" {
			if coll, ok := s.sch.Collections[r.Collection]; ok {
				policy = coll.DefaultOnDelete
			}
		}
		if policy == "" {
			policy = schema.OnDeleteError
		}
		switch policy {
		case schema.OnDeleteError:
			return grounddb.Errorf(grounddb.ReferenceErr, "cannot delete %s/%s: referenced by %s/%s", collection, id, r.Collection, r.ID)
		case schema.OnDeleteCascade:
			cascaders = append(cascaders, r)
		case schema.OnDeleteNullify:
			nullifiers = append(nullifiers, r)
		case schema.OnDeleteArchive:
			archivers = append(archivers, r)
		}
	}
	for _, r := range cascaders {
		if err := s.deleteLocked(ctx, r.Collection, r.ID, visited); err != nil {
			return err
		}
	}
	for _, r := range nullifiers {
		if err := s.nullifyReference(ctx, r); err != nil {
			return err
		}
	}
	for _, r := range archivers {
		if err := s.archiveReferrer(ctx, r); err != nil {
			return err
		}
	}

	fullPath := filepath.Join(s.dataDir, current.Path)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return grounddb.Wrap(grounddb.IoErr, err, "remove %s", current.Path)
	}
	s.paths.remove(current.Path)
	if err := s.idx.DeleteDocument(ctx, collection, id); err != nil {
		return err
	}

	oldDoc := documentFromRow(current)
	s.recomputeAndNotify(ctx, collection, CollectionChange{Collection: collection, Kind: Deleted, Old: oldDoc})
	return nil
}

// nullifyReference partial-updates a referrer's reference field to nil,
// preserving timestamps and body, per spec §4.7.
func (s *Store) nullifyReference(ctx context.Context, r referrer) error {
	row, err := s.idx.GetDocument(ctx, r.Collection, r.ID)
	if err != nil {
		return err
	}
	coll := s.sch.Collections[r.Collection]
	data := cloneFields(row.Data)
	data[r.Field.Name] = nil
	raw, err := encodeDocument(coll, data, row.ContentText, row.ContentText != "")
	if err != nil {
		return err
	}
	fullPath := filepath.Join(s.dataDir, row.Path)
	if err := atomic.WriteFile(fullPath, bytes.NewReader(raw)); err != nil {
		return grounddb.Wrap(grounddb.IoErr, err, "nullify reference in %s", row.Path)
	}
	row.Data = data
	return s.idx.UpsertDocument(ctx, *row)
}

// archiveReferrer moves a referrer's file under _archive/ relative to
// the data directory root, removing it from the live index.
func (s *Store) archiveReferrer(ctx context.Context, r referrer) error {
	row, err := s.idx.GetDocument(ctx, r.Collection, r.ID)
	if err != nil {
		return err
	}
	oldFull := filepath.Join(s.dataDir, row.Path)
	newRel := filepath.Join("_archive", row.Path)
	newFull := filepath.Join(s.dataDir, newRel)
	if err := ensureDir(filepath.Dir(newFull)); err != nil {
		return grounddb.Wrap(grounddb.IoErr, err, "create archive directory")
	}
	if err := os.Rename(oldFull, newFull); err != nil {
		return grounddb.Wrap(grounddb.IoErr, err, "archive %s", row.Path)
	}
	s.paths.remove(row.Path)
	return s.idx.DeleteDocument(ctx, r.Collection, r.ID)
}

func cloneFields(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func mergeFields(base, patch map[string]interface{}) map[string]interface{} {
	out := cloneFields(base)
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func withID(fields map[string]interface{}, id string) map[string]interface{} {
	out := cloneFields(fields)
	out["id"] = id
	return out
}

func idFromPath(relPath string) string {
	base := filepath.Base(relPath)
	if dot := strings.LastIndex(base, "."); dot >= 0 {
		base = base[:dot]
	}
	return base
}

// fsTimestamps returns the file's modification time for both created_at
// and modified_at; Go's os.FileInfo has no portable birthtime accessor,
// so a just-written file uses its single available timestamp for both,
// per spec §3's fallback ("else the index's first-seen timestamp").
func fsTimestamps(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Now()
	}
	return info.ModTime()
}

// recomputeAndNotify recomputes every view affected by a change to
// collection and fires collection/view subscription callbacks, per
// invariant I4 and spec §4.7 steps 8-9.
func (s *Store) recomputeAndNotify(ctx context.Context, collection string, change CollectionChange) {
	affected := s.view.AffectedViews(collection)
	for _, name := range affected {
		if err := s.view.RebuildView(ctx, name); err != nil {
			s.log.Errorf("rebuild view %s after change to %s: %v", name, collection, err)
			continue
		}
		rows, err := s.view.Get(ctx, name)
		if err != nil {
			continue
		}
		s.subs.notifyView(name, rows)
	}
	s.subs.notifyCollection(collection, change)
}
