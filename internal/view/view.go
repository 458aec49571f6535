// Package view implements component C7: rebuilding static views against
// the system index, caching their rows, materializing them to disk, and
// answering query-view and explain requests (spec §4.6).
package view

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/natefinch/atomic"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/index"
	"github.com/JustMaier/groundDb/internal/schema"
	"github.com/JustMaier/groundDb/internal/viewsql"
	"github.com/JustMaier/groundDb/logging"
)

const maxCachedViews = 256

var (
	rebuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grounddb_view_rebuilds_total",
		Help: "Total number of static view rebuilds, labeled by view and outcome.",
	}, []string{"view", "outcome"})

	rebuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "grounddb_view_rebuild_duration_seconds",
		Help: "Static view rebuild latency.",
	}, []string{"view"})

	viewRows = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grounddb_view_rows",
		Help: "Row count of the last successful rebuild, labeled by view.",
	}, []string{"view"})
)

func init() {
	prometheus.MustRegister(rebuildsTotal, rebuildDuration, viewRows)
}

// Explain is the result of Engine.Explain: the rewritten SQL plus the
// document count of every referenced collection, per spec §4.6.
type Explain struct {
	SQL              string
	CollectionCounts map[string]int
}

// Engine owns the view cache and materialization for one open Store.
type Engine struct {
	idx     *index.Index
	dataDir string
	log     logging.Logger

	mu     sync.RWMutex
	sch    *schema.Schema
	cache  *lru.Cache[string, []map[string]interface{}]
}

// New creates a view engine bound to idx and sch, materializing views
// under dataDir/views.
func New(idx *index.Index, sch *schema.Schema, dataDir string) (*Engine, error) {
	cache, err := lru.New[string, []map[string]interface{}](maxCachedViews)
	if err != nil {
		return nil, grounddb.Wrap(grounddb.InternalErr, err, "create view cache")
	}
	return &Engine{idx: idx, sch: sch, dataDir: dataDir, cache: cache, log: logging.Global()}, nil
}

func (e *Engine) schema() *schema.Schema {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sch
}

// RebuildAll rebuilds every static view; the order of the rebuilds is not
// defined. One view's failure does not stop the others (spec §4.6, §7:
// "one broken view cannot break reads of others"); the first error seen
// is returned.
func (e *Engine) RebuildAll(ctx context.Context) error {
	sch := e.schema()
	var firstErr error
	for name, v := range sch.Views {
		if v.Kind != schema.ViewStatic {
			continue
		}
		if err := e.RebuildView(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AffectedViews returns the names of every static view whose rewriter
// lists collection among its table references, per invariant I4.
func (e *Engine) AffectedViews(collection string) []string {
	sch := e.schema()
	var names []string
	for name, v := range sch.Views {
		if v.Kind != schema.ViewStatic {
			continue
		}
		parsed, err := viewsql.Parse(v.Query)
		if err != nil {
			continue
		}
		for _, ref := range parsed.Tables {
			if ref.Collection == collection {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

// RebuildView executes view's rewritten SQL, buffers the result into
// view_data and the in-memory cache, and materializes it to disk when
// declared, per spec §4.6.
func (e *Engine) RebuildView(ctx context.Context, name string) error {
	start := time.Now()
	sch := e.schema()
	v, ok := sch.Views[name]
	if !ok {
		return grounddb.Errorf(grounddb.NotFoundErr, "view %q not found", name)
	}
	if v.Kind != schema.ViewStatic {
		return grounddb.Errorf(grounddb.QueryErr, "view %q is a query view, not static", name)
	}

	err := e.rebuildOnce(ctx, sch, name, v)
	rebuildDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		rebuildsTotal.WithLabelValues(name, "error").Inc()
		if setErr := e.idx.SetViewError(ctx, name, err); setErr != nil {
			e.log.Errorf("view %s: failed to record rebuild error: %v", name, setErr)
		}
		return err
	}
	rebuildsTotal.WithLabelValues(name, "success").Inc()
	return nil
}

func (e *Engine) rebuildOnce(ctx context.Context, sch *schema.Schema, name string, v *schema.View) error {
	parsed, err := viewsql.Parse(v.Query)
	if err != nil {
		return err
	}
	rewritten, err := viewsql.Rewrite(parsed, sch, v.BufferMultiplier)
	if err != nil {
		return err
	}
	_, rows, err := e.idx.ExecuteSQL(ctx, rewritten.SQL, nil)
	if err != nil {
		return err
	}

	if err := e.idx.StoreViewRows(ctx, name, rows); err != nil {
		return err
	}
	e.cache.Add(name, rows)
	viewRows.WithLabelValues(name).Set(float64(len(rows)))
	if err := e.idx.SetViewMetadata(ctx, name, sch.Hash); err != nil {
		return err
	}

	if v.Materialize {
		materialRows := rows
		if rewritten.OriginalLimit != nil && *rewritten.OriginalLimit < len(materialRows) {
			materialRows = materialRows[:*rewritten.OriginalLimit]
		}
		if err := e.materialize(name, v, materialRows); err != nil {
			return err
		}
	}
	return nil
}

// materialize writes views/<name>.<ext> atomically, per spec §4.6.
func (e *Engine) materialize(name string, v *schema.View, rows []map[string]interface{}) error {
	ext := "yaml"
	if v.MaterializeFormat == "json" {
		ext = "json"
	}
	var buf bytes.Buffer
	var err error
	switch ext {
	case "json":
		err = encodeJSON(&buf, rows)
	default:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		err = enc.Encode(rows)
		enc.Close()
	}
	if err != nil {
		return grounddb.Wrap(grounddb.InternalErr, err, "encode materialized view %q", name)
	}
	path := filepath.Join(e.dataDir, "views", fmt.Sprintf("%s.%s", name, ext))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return grounddb.Wrap(grounddb.IoErr, err, "create views directory")
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return grounddb.Wrap(grounddb.IoErr, err, "write materialized view %q", name)
	}
	return nil
}

func encodeJSON(buf *bytes.Buffer, rows []map[string]interface{}) error {
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte('\n')
	return nil
}

// Get returns a static view's cached rows, reading through to view_data
// when the in-process cache was evicted or this is a fresh process.
func (e *Engine) Get(ctx context.Context, name string) ([]map[string]interface{}, error) {
	v, ok := e.schema().Views[name]
	if !ok {
		return nil, grounddb.Errorf(grounddb.NotFoundErr, "view %q not found", name)
	}
	if v.Kind != schema.ViewStatic {
		return nil, grounddb.Errorf(grounddb.QueryErr, "view %q is a query view, not static", name)
	}
	if rows, ok := e.cache.Get(name); ok {
		return rows, nil
	}
	rows, err := e.idx.GetViewRows(ctx, name)
	if err != nil {
		return nil, err
	}
	e.cache.Add(name, rows)
	return rows, nil
}

// QueryDynamic binds params against a query-type view and executes it
// directly. Query views are never cached or buffered, per spec §4.6.
func (e *Engine) QueryDynamic(ctx context.Context, name string, params map[string]interface{}) ([]map[string]interface{}, error) {
	sch := e.schema()
	v, ok := sch.Views[name]
	if !ok {
		return nil, grounddb.Errorf(grounddb.NotFoundErr, "view %q not found", name)
	}
	if v.Kind != schema.ViewQuery {
		return nil, grounddb.Errorf(grounddb.QueryErr, "view %q is not a query view", name)
	}
	parsed, err := viewsql.Parse(v.Query)
	if err != nil {
		return nil, err
	}
	if err := checkParams(v, parsed, params); err != nil {
		return nil, err
	}
	rewritten, err := viewsql.Rewrite(parsed, sch, 1)
	if err != nil {
		return nil, err
	}
	_, rows, err := e.idx.ExecuteSQL(ctx, rewritten.SQL, params)
	return rows, err
}

func checkParams(v *schema.View, parsed *viewsql.Parsed, params map[string]interface{}) error {
	declared := map[string]bool{}
	for _, p := range v.Params {
		declared[p.Name] = true
	}
	for _, name := range parsed.ParamNames {
		if !declared[name] {
			return grounddb.Errorf(grounddb.QueryErr, "view %q: undeclared parameter %q", v.Name, name)
		}
		if _, ok := params[name]; !ok {
			return grounddb.Errorf(grounddb.QueryErr, "view %q: missing parameter %q", v.Name, name)
		}
	}
	return nil
}

// Explain returns the rewritten SQL and the document count of every
// referenced collection, per spec §4.6.
func (e *Engine) Explain(ctx context.Context, name string) (*Explain, error) {
	sch := e.schema()
	v, ok := sch.Views[name]
	if !ok {
		return nil, grounddb.Errorf(grounddb.NotFoundErr, "view %q not found", name)
	}
	parsed, err := viewsql.Parse(v.Query)
	if err != nil {
		return nil, err
	}
	rewritten, err := viewsql.Rewrite(parsed, sch, v.BufferMultiplier)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, ref := range parsed.Tables {
		if _, done := counts[ref.Collection]; done {
			continue
		}
		n, err := e.idx.CountByCollection(ctx, ref.Collection)
		if err != nil {
			return nil, err
		}
		counts[ref.Collection] = n
	}
	return &Explain{SQL: rewritten.SQL, CollectionCounts: counts}, nil
}
