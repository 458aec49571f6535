package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "_system.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestUpsertGetDeleteDocument(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	now := time.Now()

	row := DocumentRow{
		Collection: "posts", ID: "a", Path: "posts/a.md",
		CreatedAt: now, ModifiedAt: now,
		ContentText: "body", Data: map[string]interface{}{"title": "Hello"},
	}
	require.NoError(t, idx.UpsertDocument(ctx, row))

	got, err := idx.GetDocument(ctx, "posts", "a")
	require.NoError(t, err)
	require.Equal(t, "Hello", got.Data["title"])
	require.Equal(t, "body", got.ContentText)

	byPath, err := idx.GetDocumentByPath(ctx, "posts/a.md")
	require.NoError(t, err)
	require.Equal(t, "a", byPath.ID)

	require.NoError(t, idx.DeleteDocument(ctx, "posts", "a"))
	_, err = idx.GetDocument(ctx, "posts", "a")
	require.Error(t, err)
}

func TestUpsertDocumentOverwritesOnConflict(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	now := time.Now()

	base := DocumentRow{Collection: "posts", ID: "a", Path: "posts/a.md", CreatedAt: now, ModifiedAt: now, Data: map[string]interface{}{"title": "One"}}
	require.NoError(t, idx.UpsertDocument(ctx, base))

	base.Data = map[string]interface{}{"title": "Two"}
	base.Path = "posts/a-renamed.md"
	require.NoError(t, idx.UpsertDocument(ctx, base))

	got, err := idx.GetDocument(ctx, "posts", "a")
	require.NoError(t, err)
	require.Equal(t, "Two", got.Data["title"])
	require.Equal(t, "posts/a-renamed.md", got.Path)
}

func TestListByCollectionAndCount(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, idx.UpsertDocument(ctx, DocumentRow{
			Collection: "posts", ID: id, Path: "posts/" + id + ".md",
			CreatedAt: now, ModifiedAt: now, Data: map[string]interface{}{"title": id},
		}))
	}

	rows, err := idx.ListByCollection(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	n, err := idx.CountByCollection(ctx, "posts")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = idx.CountByCollection(ctx, "authors")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestExecuteSQLWithNamedParams(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, idx.UpsertDocument(ctx, DocumentRow{
		Collection: "posts", ID: "a", Path: "posts/a.md",
		CreatedAt: now, ModifiedAt: now, Data: map[string]interface{}{"title": "Hello"},
	}))

	cols, rows, err := idx.ExecuteSQL(ctx, `SELECT id FROM documents WHERE collection = :coll`, map[string]interface{}{"coll": "posts"})
	require.NoError(t, err)
	require.Equal(t, []string{"id"}, cols)
	require.Len(t, rows, 1)
	require.Equal(t, "a", rows[0]["id"])
}

func TestSchemaHistoryRoundTrip(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	_, _, ok, err := idx.LastSchemaRecord(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, idx.RecordSchemaVersion(ctx, "hash1", "collections: {}"))
	require.NoError(t, idx.RecordSchemaVersion(ctx, "hash2", "collections: {posts: {}}"))

	hash, yamlText, ok, err := idx.LastSchemaRecord(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hash2", hash)
	require.Equal(t, "collections: {posts: {}}", yamlText)
}

func TestViewDataRoundTrip(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	rows := []map[string]interface{}{{"id": "a"}, {"id": "b"}}
	require.NoError(t, idx.StoreViewRows(ctx, "published_posts", rows))

	got, err := idx.GetViewRows(ctx, "published_posts")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0]["id"])

	require.NoError(t, idx.StoreViewRows(ctx, "published_posts", []map[string]interface{}{{"id": "c"}}))
	got, err = idx.GetViewRows(ctx, "published_posts")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestViewMetadataSuccessAndError(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.SetViewMetadata(ctx, "published_posts", "hash1"))
	require.NoError(t, idx.SetViewError(ctx, "published_posts", assertErr{"boom"}))
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestDirectoryHashRoundTrip(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	_, ok, err := idx.GetDirectoryHash(ctx, "posts")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, idx.SetDirectoryHash(ctx, "posts", "abc123"))
	hash, ok, err := idx.GetDirectoryHash(ctx, "posts")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc123", hash)

	require.NoError(t, idx.SetDirectoryHash(ctx, "posts", "def456"))
	hash, _, err = idx.GetDirectoryHash(ctx, "posts")
	require.NoError(t, err)
	require.Equal(t, "def456", hash)
}
