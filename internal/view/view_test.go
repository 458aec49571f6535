package view

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JustMaier/groundDb/internal/index"
	"github.com/JustMaier/groundDb/internal/schema"
)

const viewTestSchemaYAML = `
collections:
  posts:
    path: "posts/{id}.md"
    fields:
      title: string
      status: string
views:
  published_posts:
    query: "SELECT id, title FROM posts WHERE status = 'published'"
    materialize: true
  by_status:
    query: "SELECT id, title FROM posts WHERE status = :status"
    type: query
    params:
      status: string
`

func newTestEngine(t *testing.T) (*Engine, *index.Index, string) {
	t.Helper()
	dir := t.TempDir()
	idx, err := index.Open(filepath.Join(dir, "_system.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	sch, err := schema.Parse([]byte(viewTestSchemaYAML))
	require.NoError(t, err)

	eng, err := New(idx, sch, dir)
	require.NoError(t, err)
	return eng, idx, dir
}

func seedPost(t *testing.T, idx *index.Index, id, title, status string) {
	t.Helper()
	now := time.Now()
	err := idx.UpsertDocument(context.Background(), index.DocumentRow{
		Collection: "posts",
		ID:         id,
		Path:       "posts/" + id + ".md",
		CreatedAt:  now,
		ModifiedAt: now,
		Data:       map[string]interface{}{"title": title, "status": status},
	})
	require.NoError(t, err)
}

func TestRebuildViewStoresRowsAndMaterializes(t *testing.T) {
	eng, idx, dir := newTestEngine(t)
	ctx := context.Background()
	seedPost(t, idx, "a", "Hello", "published")
	seedPost(t, idx, "b", "Draft One", "draft")

	require.NoError(t, eng.RebuildView(ctx, "published_posts"))

	rows, err := eng.Get(ctx, "published_posts")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Hello", rows[0]["title"])

	require.FileExists(t, filepath.Join(dir, "views", "published_posts.yaml"))
}

func TestRebuildAllSkipsQueryViews(t *testing.T) {
	eng, idx, _ := newTestEngine(t)
	ctx := context.Background()
	seedPost(t, idx, "a", "Hello", "published")

	require.NoError(t, eng.RebuildAll(ctx))

	_, err := eng.Get(ctx, "by_status")
	require.Error(t, err)
}

func TestAffectedViewsFindsStaticViewReferencingCollection(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	names := eng.AffectedViews("posts")
	require.Contains(t, names, "published_posts")
	require.NotContains(t, names, "by_status")
}

func TestQueryDynamicBindsParams(t *testing.T) {
	eng, idx, _ := newTestEngine(t)
	ctx := context.Background()
	seedPost(t, idx, "a", "Hello", "published")
	seedPost(t, idx, "b", "Draft One", "draft")

	rows, err := eng.QueryDynamic(ctx, "by_status", map[string]interface{}{"status": "draft"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Draft One", rows[0]["title"])
}

func TestQueryDynamicMissingParamErrors(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.QueryDynamic(context.Background(), "by_status", map[string]interface{}{})
	require.Error(t, err)
}

func TestQueryDynamicRejectsStaticView(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.QueryDynamic(context.Background(), "published_posts", nil)
	require.Error(t, err)
}

func TestExplainReturnsCollectionCounts(t *testing.T) {
	eng, idx, _ := newTestEngine(t)
	ctx := context.Background()
	seedPost(t, idx, "a", "Hello", "published")
	seedPost(t, idx, "b", "World", "published")

	ex, err := eng.Explain(ctx, "published_posts")
	require.NoError(t, err)
	require.Contains(t, ex.SQL, "WITH")
	require.Equal(t, 2, ex.CollectionCounts["posts"])
}

func TestRebuildViewUnknownNameErrors(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	err := eng.RebuildView(context.Background(), "nope")
	require.Error(t, err)
}

func TestMaterializeJSONFormat(t *testing.T) {
	dir := t.TempDir()
	idx, err := index.Open(filepath.Join(dir, "_system.db"))
	require.NoError(t, err)
	defer idx.Close()

	sch, err := schema.Parse([]byte(`
collections:
  posts:
    path: "posts/{id}.md"
    fields:
      title: string
      status: string
views:
  published_posts:
    query: "SELECT id, title FROM posts WHERE status = 'published'"
    materialize: true
    format: json
`))
	require.NoError(t, err)

	eng, err := New(idx, sch, dir)
	require.NoError(t, err)
	seedPost(t, idx, "a", "Hello", "published")

	require.NoError(t, eng.RebuildView(context.Background(), "published_posts"))
	_, err = os.Stat(filepath.Join(dir, "views", "published_posts.json"))
	require.NoError(t, err)
}
