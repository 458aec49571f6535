package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/JustMaier/groundDb/internal/index"
	"github.com/JustMaier/groundDb/internal/schema"
	"github.com/JustMaier/groundDb/internal/watcher"
)

// drainWatcher is the single goroutine started by startWatcher; it applies
// every debounced event in arrival order until the watcher is closed.
func (s *Store) drainWatcher(events <-chan watcher.Event) {
	for evt := range events {
		if err := s.handleWatchEvent(evt); err != nil {
			s.log.Errorf("watcher: handle %s: %v", evt.Path, err)
		}
	}
}

// handleWatchEvent applies one settled filesystem change to the system
// index. A move is not correlated across its two settled events — the old
// path's Removed and the new path's Upserted are applied independently,
// which already yields the right end state. Per spec §4.9, no cascade
// policy runs on a watcher-originated delete: a file removed out from
// under GroundDB is just dropped from the index.
func (s *Store) handleWatchEvent(evt watcher.Event) error {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, err := filepath.Rel(s.dataDir, evt.Path)
	if err != nil {
		return err
	}
	rel = filepath.ToSlash(rel)
	coll, name := s.collectionForPath(rel)
	if coll == nil {
		return nil
	}

	switch evt.Kind {
	case watcher.Removed:
		return s.handleWatchRemove(ctx, name, rel)
	case watcher.Upserted:
		return s.handleWatchUpsert(ctx, name, coll, rel, evt.Path)
	default:
		return nil
	}
}

func (s *Store) handleWatchRemove(ctx context.Context, collection, rel string) error {
	row, err := s.idx.GetDocumentByPath(ctx, rel)
	if err != nil {
		return nil // already gone from the index
	}
	if err := s.idx.DeleteDocument(ctx, collection, row.ID); err != nil {
		return err
	}
	s.paths.remove(rel)
	s.recomputeAndNotify(ctx, collection, CollectionChange{Collection: collection, Kind: Deleted, Old: documentFromRow(row)})
	return nil
}

func (s *Store) handleWatchUpsert(ctx context.Context, collection string, coll *schema.Collection, rel, fullPath string) error {
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		// File vanished between the debounce settling and this read; the
		// Removed event for it (if any) will settle separately.
		return nil
	}
	doc, err := decodeDocument(coll, raw)
	if err != nil {
		s.log.Warnf("watcher: skipping invalid document %s: %v", rel, err)
		return nil
	}
	if err := s.reconcilePathFields(coll, rel, fullPath, doc); err != nil {
		return err
	}
	id, _ := doc.FrontMatter["id"].(string)
	if id == "" {
		id = idFromPath(rel)
	}

	created := fsTimestamps(fullPath)
	kind := Inserted
	var oldDoc *Document
	if existing, err := s.idx.GetDocument(ctx, collection, id); err == nil {
		created = existing.CreatedAt
		kind = Updated
		oldDoc = documentFromRow(existing)
	}

	row := index.DocumentRow{
		Collection:  collection,
		ID:          id,
		Path:        rel,
		CreatedAt:   created,
		ModifiedAt:  fsTimestamps(fullPath),
		ContentText: doc.Content,
		Data:        doc.FrontMatter,
	}
	if err := s.idx.UpsertDocument(ctx, row); err != nil {
		return err
	}
	s.paths.add(rel)
	newDoc := documentFromRow(&row)
	s.recomputeAndNotify(ctx, collection, CollectionChange{Collection: collection, Kind: kind, Old: oldDoc, New: newDoc})
	return nil
}

// collectionForPath finds the collection a data-directory-relative path
// belongs to, by matching its declared root prefix.
func (s *Store) collectionForPath(rel string) (*schema.Collection, string) {
	for name, coll := range s.sch.Collections {
		if coll.Records != nil {
			if rel == filepath.ToSlash(coll.Path) {
				return coll, name
			}
			continue
		}
		root := collectionRootRel(coll)
		if root == "" {
			if !strings.Contains(rel, "/") {
				return coll, name
			}
			continue
		}
		if strings.HasPrefix(rel, root+"/") {
			return coll, name
		}
	}
	return nil, ""
}

// collectionRootRel is collectionRoot without the data-directory prefix,
// for matching a watcher event's already-relative path.
func collectionRootRel(coll *schema.Collection) string {
	p := coll.Path
	for i := 0; i < len(p); i++ {
		if p[i] == '{' || p[i] == '/' {
			return p[:i]
		}
	}
	return ""
}
