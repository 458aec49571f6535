package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/codec"
	"github.com/JustMaier/groundDb/internal/index"
	"github.com/JustMaier/groundDb/internal/migration"
	"github.com/JustMaier/groundDb/internal/schema"
	"github.com/JustMaier/groundDb/internal/view"
	"github.com/JustMaier/groundDb/internal/watcher"
)

const schemaFileName = "schema.yaml"

// boot runs the C11 startup pipeline: load and (if changed) migrate the
// schema, populate the in-memory path index from the system index,
// reconcile every collection directory that changed since the last
// recorded hash, rebuild every static view, and start the watcher.
func (s *Store) boot(ctx context.Context) error {
	newSch, err := schema.Load(filepath.Join(s.dataDir, schemaFileName))
	if err != nil {
		return grounddb.Wrap(grounddb.SchemaErr, err, "load schema.yaml")
	}

	prevHash, prevYAML, had, err := s.idx.LastSchemaRecord(ctx)
	if err != nil {
		return err
	}
	switch {
	case had && prevHash != newSch.Hash:
		oldSch, perr := schema.Parse([]byte(prevYAML))
		if perr != nil {
			return grounddb.Wrap(grounddb.SchemaErr, perr, "parse previous schema version")
		}
		changes := migration.Diff(oldSch, newSch)
		if bad, unsafe := migration.FirstUnsafe(changes); unsafe {
			return grounddb.Errorf(grounddb.MigrationRequiredErr, "unsafe schema change in %s.%s: %s", bad.Collection, bad.Field, bad.Detail)
		}
		if err := migration.Apply(ctx, s.dataDir, s.idx, newSch, changes); err != nil {
			return err
		}
		if err := s.idx.RecordSchemaVersion(ctx, newSch.Hash, newSch.YAML); err != nil {
			return err
		}
		s.log.Infof("schema changed: applied %d migration change(s)", len(changes))
	case !had:
		if err := s.idx.RecordSchemaVersion(ctx, newSch.Hash, newSch.YAML); err != nil {
			return err
		}
	}

	s.sch = newSch
	viewEngine, err := view.New(s.idx, s.sch, s.dataDir)
	if err != nil {
		return err
	}
	s.view = viewEngine

	if err := s.loadPathIndex(ctx); err != nil {
		return err
	}
	for _, name := range newSch.CollectionNames() {
		if err := s.reconcileCollection(ctx, name, false); err != nil {
			return err
		}
	}
	if err := s.view.RebuildAll(ctx); err != nil {
		s.log.Errorf("initial view rebuild: %v", err)
	}
	if err := s.startWatcher(ctx); err != nil {
		return err
	}
	return nil
}

// loadPathIndex seeds the in-memory path-uniqueness trie from the system
// index, since the trie itself is not persisted and starts empty every
// process start.
func (s *Store) loadPathIndex(ctx context.Context) error {
	for name := range s.sch.Collections {
		rows, err := s.idx.ListByCollection(ctx, name)
		if err != nil {
			return err
		}
		for _, row := range rows {
			s.paths.add(row.Path)
		}
	}
	return nil
}

// reconcileCollection walks a collection's directory (or, for a records
// collection, reads its single JSONL file) and brings the system index in
// line with what is on disk. When force is false, a directory whose
// content hash matches the last recorded hash is skipped entirely (spec
// §4.11 step 4: "unchanged: keep existing index rows").
func (s *Store) reconcileCollection(ctx context.Context, name string, force bool) error {
	coll, err := s.collection(name)
	if err != nil {
		return err
	}
	if coll.Records != nil {
		return s.reconcileRecordsCollection(ctx, name, coll)
	}

	root := collectionRoot(s.dataDir, coll)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return grounddb.Wrap(grounddb.IoErr, err, "stat collection directory %s", root)
	}

	currentHash, err := directoryHash(root, root == s.dataDir, coll.Ext)
	if err != nil {
		return err
	}
	if !force {
		prevHash, had, err := s.idx.GetDirectoryHash(ctx, name)
		if err != nil {
			return err
		}
		if had && prevHash == currentHash {
			return nil
		}
	}

	seen := map[string]bool{}
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if root == s.dataDir && path != root {
				return fs.SkipDir // a flat (top-level) collection does not nest
			}
			return nil
		}
		if !hasExt(path, coll.Ext) {
			return nil
		}
		rel, err := filepath.Rel(s.dataDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		seen[rel] = true
		return s.reconcileFile(ctx, name, coll, rel, path)
	})
	if walkErr != nil {
		return grounddb.Wrap(grounddb.IoErr, walkErr, "walk collection directory %s", root)
	}

	rows, err := s.idx.ListByCollection(ctx, name)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if seen[row.Path] {
			continue
		}
		if err := s.idx.DeleteDocument(ctx, name, row.ID); err != nil {
			return err
		}
		s.paths.remove(row.Path)
	}
	return s.idx.SetDirectoryHash(ctx, name, currentHash)
}

// hasExt reports whether path's extension matches a collection's declared
// extension (default "md").
func hasExt(path, want string) bool {
	if want == "" {
		want = "md"
	}
	got := filepath.Ext(path)
	if len(got) > 0 {
		got = got[1:]
	}
	return got == want
}

func (s *Store) reconcileFile(ctx context.Context, collection string, coll *schema.Collection, rel, fullPath string) error {
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return grounddb.Wrap(grounddb.IoErr, err, "read %s", rel)
	}
	doc, err := decodeDocument(coll, raw)
	if err != nil {
		s.log.Warnf("reconcile %s: skipping invalid document %s: %v", collection, rel, err)
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
	if existing, err := s.idx.GetDocumentByPath(ctx, rel); err == nil {
		created = existing.CreatedAt
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
	return nil
}

// reconcileRecordsCollection reloads a records (JSONL) collection's single
// backing file in full, since a discriminated-union block is small enough
// that a partial diff buys nothing spec §4.2 requires.
func (s *Store) reconcileRecordsCollection(ctx context.Context, name string, coll *schema.Collection) error {
	fullPath := filepath.Join(s.dataDir, coll.Path)
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return grounddb.Wrap(grounddb.IoErr, err, "read records file %s", coll.Path)
	}
	records, err := codec.DecodeJSONLRecords(raw)
	if err != nil {
		return err
	}
	mtime := fsTimestamps(fullPath)

	seen := map[string]bool{}
	for i, rec := range records {
		id, _ := rec["id"].(string)
		if id == "" {
			id = fmt.Sprintf("%d", i)
		}
		seen[id] = true
		created := mtime
		if existing, err := s.idx.GetDocument(ctx, name, id); err == nil {
			created = existing.CreatedAt
		}
		row := index.DocumentRow{
			Collection: name,
			ID:         id,
			Path:       coll.Path,
			CreatedAt:  created,
			ModifiedAt: mtime,
			Data:       rec,
		}
		if err := s.idx.UpsertDocument(ctx, row); err != nil {
			return err
		}
	}
	s.paths.add(coll.Path)

	rows, err := s.idx.ListByCollection(ctx, name)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if !seen[row.ID] {
			if err := s.idx.DeleteDocument(ctx, name, row.ID); err != nil {
				return err
			}
		}
	}
	return s.idx.SetDirectoryHash(ctx, name, fmt.Sprintf("%d-%d", len(records), mtime.UnixNano()))
}

// directoryHash hashes every matching file's relative path, size, and
// modification time under root, cheaply enough to run on every boot
// without reading file contents (spec §4.11 step 3). flat restricts the
// walk to root's direct children, for a collection whose path template
// has no directory component and therefore shares the data directory with
// everything else; ext then also filters out unrelated siblings there
// (the system index file, schema.yaml, other collections' files).
func directoryHash(root string, flat bool, ext string) (string, error) {
	h := xxhash.New()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if flat && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if flat && !hasExt(path, ext) {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		fmt.Fprintf(h, "%s:%d:%d\n", filepath.ToSlash(rel), info.Size(), info.ModTime().UnixNano())
		return nil
	})
	if err != nil {
		return "", grounddb.Wrap(grounddb.IoErr, err, "hash directory %s", root)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// startWatcher adds one watch per collection's root directory (or, for a
// records collection, the directory containing its single file) and
// launches the debounced event drain loop.
func (s *Store) startWatcher(ctx context.Context) error {
	rootSet := map[string]bool{}
	for _, coll := range s.sch.Collections {
		var root string
		if coll.Records != nil {
			root = filepath.Join(s.dataDir, filepath.Dir(coll.Path))
		} else {
			root = collectionRoot(s.dataDir, coll)
		}
		if err := ensureDir(root); err != nil {
			return grounddb.Wrap(grounddb.IoErr, err, "create collection directory %s", root)
		}
		rootSet[root] = true
	}
	if len(rootSet) == 0 {
		return nil
	}
	roots := make([]string, 0, len(rootSet))
	for r := range rootSet {
		roots = append(roots, r)
	}

	w, err := watcher.New(roots)
	if err != nil {
		return err
	}
	s.watcher = w
	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancelWatch = cancel
	w.Start(watchCtx)
	go s.drainWatcher(w.Events())
	return nil
}
