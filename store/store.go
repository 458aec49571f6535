// Package store implements component C8: the public Store surface
// (spec §4.7) — the single entry point that ties together the schema
// model, path templates, the document codec, the system index, the view
// engine, referential integrity, and the filesystem watcher.
package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/index"
	"github.com/JustMaier/groundDb/internal/schema"
	"github.com/JustMaier/groundDb/internal/view"
	"github.com/JustMaier/groundDb/internal/watcher"
	"github.com/JustMaier/groundDb/logging"
)

// Document is one materialized document: the file's decoded front
// matter plus body, together with its index-owned metadata.
type Document struct {
	Collection string
	ID         string
	Path       string // relative to the data directory
	CreatedAt  time.Time
	ModifiedAt time.Time
	Fields     map[string]interface{}
	Content    string
	HasContent bool
}

// ChangeKind describes how a document changed for OnCollectionChange
// subscribers.
type ChangeKind int

const (
	Inserted ChangeKind = iota
	Updated
	Deleted
)

// CollectionChange is delivered to collection subscribers. Old is nil
// for Inserted, New is nil for Deleted.
type CollectionChange struct {
	Collection string
	Kind       ChangeKind
	Old        *Document
	New        *Document
}

// ViewChange is delivered to view subscribers after a successful
// rebuild.
type ViewChange struct {
	View string
	Rows []map[string]interface{}
}

// Store is the concurrency-safe, single-process entry point over one
// data directory. The zero value is not usable; construct with Open.
type Store struct {
	dataDir string
	idx     *index.Index
	view    *view.Engine
	watcher *watcher.Watcher
	log     logging.Logger

	templates *templateCache
	paths     *pathIndex

	// mu is the single-writer-lane guard spec §5 describes: mutating
	// paths take the write lock, readers take the read lock.
	mu  sync.RWMutex
	sch *schema.Schema

	subs *subscriptions

	shutdownOnce sync.Once
	cancelWatch  context.CancelFunc
}

const systemDBName = "_system.db"

// Open boots a Store over dataDir per the C11 pipeline: open the index,
// load and (if needed) migrate the schema, reconcile each collection's
// directory against the index, rebuild views, and start the watcher.
// The heavier steps 3-7 of the boot pipeline are delegated to boot.go's
// boot method; Open itself wires the components together.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	idxPath := filepath.Join(dataDir, systemDBName)
	idx, err := index.Open(idxPath)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dataDir:   dataDir,
		idx:       idx,
		log:       logging.Global(),
		templates: newTemplateCache(),
		paths:     newPathIndex(),
		subs:      newSubscriptions(),
	}

	if err := s.boot(ctx); err != nil {
		idx.Close()
		return nil, err
	}
	return s, nil
}

// Schema returns the currently active, immutable schema.
func (s *Store) Schema() *schema.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sch
}

func (s *Store) collection(name string) (*schema.Collection, error) {
	coll, ok := s.sch.Collections[name]
	if !ok {
		return nil, grounddb.Errorf(grounddb.NotFoundErr, "collection %q not found", name)
	}
	return coll, nil
}

// Get loads one document by collection and id, served from the system
// index.
func (s *Store) Get(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.collection(collection); err != nil {
		return nil, err
	}
	row, err := s.idx.GetDocument(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return documentFromRow(row), nil
}

// List returns every document in a collection, optionally filtered by
// exact-match field equality. Filtering happens in-process over the
// indexed rows rather than via generated SQL, since the Store's list
// surface (unlike views) does not expose arbitrary query shapes.
func (s *Store) List(ctx context.Context, collection string, filters map[string]interface{}) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.collection(collection); err != nil {
		return nil, err
	}
	rows, err := s.idx.ListByCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	var out []*Document
	for _, row := range rows {
		if !matchesFilters(row, filters) {
			continue
		}
		out = append(out, documentFromRow(&row))
	}
	return out, nil
}

func matchesFilters(row index.DocumentRow, filters map[string]interface{}) bool {
	for k, want := range filters {
		got, ok := row.Data[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func documentFromRow(row *index.DocumentRow) *Document {
	return &Document{
		Collection: row.Collection,
		ID:         row.ID,
		Path:       row.Path,
		CreatedAt:  row.CreatedAt,
		ModifiedAt: row.ModifiedAt,
		Fields:     row.Data,
		Content:    row.ContentText,
		HasContent: row.ContentText != "",
	}
}

// Views returns the view engine, for callers that need RebuildView,
// QueryDynamic, or Explain directly.
func (s *Store) Views() *view.Engine { return s.view }

// ValidateAll scans every document in every collection through the
// validator, returning a warning per violation it finds (strict
// collections stop at the first violation per document; non-strict
// collections report every warning). It never mutates files.
func (s *Store) ValidateAll(ctx context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validateAllLocked(ctx)
}

// Rebuild re-walks every collection's directory against the index (as
// if directory hashes had all changed) and recomputes every static
// view. It takes the write lock for the duration.
func (s *Store) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.sch.Collections {
		if err := s.reconcileCollection(ctx, name, true); err != nil {
			return err
		}
	}
	return s.view.RebuildAll(ctx)
}

// RebuildView rebuilds a single named static view on demand.
func (s *Store) RebuildView(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.RebuildView(ctx, name)
}

// QueryDynamic executes a query-type view with bound parameters.
func (s *Store) QueryDynamic(ctx context.Context, name string, params map[string]interface{}) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view.QueryDynamic(ctx, name, params)
}

// Explain returns the rewritten SQL and per-collection row counts for a
// view, for the CLI's `explain` command.
func (s *Store) Explain(ctx context.Context, name string) (*view.Explain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view.Explain(ctx, name)
}

// Shutdown stops the watcher and closes the index connection. Safe to
// call more than once.
func (s *Store) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.cancelWatch != nil {
			s.cancelWatch()
		}
		if s.watcher != nil {
			err = s.watcher.Close()
		}
		s.subs.close()
		if cerr := s.idx.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
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

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
