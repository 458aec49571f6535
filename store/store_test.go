package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	grounddb "github.com/JustMaier/groundDb"
)

const testSchemaYAML = `
collections:
  authors:
    path: "authors/{id}.md"
    fields:
      name: { type: string, required: true }
  posts:
    path: "posts/{id}.md"
    content: true
    id:
      auto: ulid
    fields:
      title: { type: string, required: true }
      status:
        type: string
        enum: [draft, published]
        default: draft
      author:
        type: ref
        target: authors
        on_delete: cascade
views:
  published_posts:
    query: "SELECT id, title, author FROM posts WHERE status = 'published'"
`

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.yaml"), []byte(testSchemaYAML), 0o644))
	s, err := Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Shutdown())
	})
	return s, dir
}

func TestOpenBootsEmptyStore(t *testing.T) {
	defer leaktest.Check(t)()
	s, _ := newTestStore(t)
	defer func() { require.NoError(t, s.Shutdown()) }()
	require.NotNil(t, s.Schema())
	require.Equal(t, []string{"authors", "posts"}, s.Schema().CollectionNames())
}

func TestInsertGetList(t *testing.T) {
	defer leaktest.Check(t)()
	s, dir := newTestStore(t)
	defer func() { require.NoError(t, s.Shutdown()) }()
	ctx := context.Background()

	author, err := s.Insert(ctx, "authors", "ada", map[string]interface{}{"name": "Ada Lovelace"}, "", false)
	require.NoError(t, err)
	require.Equal(t, "ada", author.ID)
	require.FileExists(t, filepath.Join(dir, "authors/ada.md"))

	post, err := s.Insert(ctx, "posts", "", map[string]interface{}{
		"title":  "Hello World",
		"status": "published",
		"author": "ada",
	}, "Body text.\n", true)
	require.NoError(t, err)
	require.NotEmpty(t, post.ID)
	require.Equal(t, "Body text.\n", post.Content)

	got, err := s.Get(ctx, "posts", post.ID)
	require.NoError(t, err)
	require.Equal(t, "Hello World", got.Fields["title"])

	all, err := s.List(ctx, "posts", nil)
	require.NoError(t, err)
	require.Len(t, all, 1)

	filtered, err := s.List(ctx, "posts", map[string]interface{}{"status": "draft"})
	require.NoError(t, err)
	require.Len(t, filtered, 0)
}

func TestInsertDuplicateIDIsPathConflict(t *testing.T) {
	defer leaktest.Check(t)()
	s, _ := newTestStore(t)
	defer func() { require.NoError(t, s.Shutdown()) }()
	ctx := context.Background()

	_, err := s.Insert(ctx, "authors", "ada", map[string]interface{}{"name": "Ada"}, "", false)
	require.NoError(t, err)
	_, err = s.Insert(ctx, "authors", "ada", map[string]interface{}{"name": "Again"}, "", false)
	require.Error(t, err)
	require.True(t, isErrKind(err, grounddb.PathConflictErr))
}

func TestInsertMissingRequiredFieldIsValidationError(t *testing.T) {
	defer leaktest.Check(t)()
	s, _ := newTestStore(t)
	defer func() { require.NoError(t, s.Shutdown()) }()
	_, err := s.Insert(context.Background(), "authors", "ada", map[string]interface{}{}, "", false)
	require.Error(t, err)
	require.True(t, isErrKind(err, grounddb.ValidationErr))
}

func TestUpdatePartialMergesFields(t *testing.T) {
	defer leaktest.Check(t)()
	s, _ := newTestStore(t)
	defer func() { require.NoError(t, s.Shutdown()) }()
	ctx := context.Background()

	_, err := s.Insert(ctx, "authors", "ada", map[string]interface{}{"name": "Ada"}, "", false)
	require.NoError(t, err)

	updated, err := s.UpdatePartial(ctx, "authors", "ada", map[string]interface{}{"name": "Ada Lovelace"}, "", false)
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", updated.Fields["name"])
}

func TestUpdateMovesFileWhenPathDependsOnChangedField(t *testing.T) {
	defer leaktest.Check(t)()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.yaml"), []byte(testSchemaPathReconcileYAML), 0o644))
	s, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Shutdown()) }()
	ctx := context.Background()

	_, err = s.Insert(ctx, "articles", "x", map[string]interface{}{"status": "draft"}, "", false)
	require.NoError(t, err)

	updated, err := s.Update(ctx, "articles", "x", map[string]interface{}{"status": "published"}, "", false)
	require.NoError(t, err)
	require.Equal(t, "articles/published-x.md", updated.Path)
	require.FileExists(t, filepath.Join(dir, "articles/published-x.md"))
	require.NoFileExists(t, filepath.Join(dir, "articles/draft-x.md"))
}

func TestDeleteCascadesToReferrers(t *testing.T) {
	defer leaktest.Check(t)()
	s, _ := newTestStore(t)
	defer func() { require.NoError(t, s.Shutdown()) }()
	ctx := context.Background()

	_, err := s.Insert(ctx, "authors", "ada", map[string]interface{}{"name": "Ada"}, "", false)
	require.NoError(t, err)
	post, err := s.Insert(ctx, "posts", "hello", map[string]interface{}{
		"title": "Hello", "status": "draft", "author": "ada",
	}, "", false)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "authors", "ada"))

	_, err = s.Get(ctx, "posts", post.ID)
	require.Error(t, err)
	require.True(t, isErrKind(err, grounddb.NotFoundErr))
}

const testSchemaErrorPolicyYAML = `
collections:
  authors:
    path: "authors/{id}.md"
    fields:
      name: { type: string, required: true }
  posts:
    path: "posts/{id}.md"
    fields:
      title: { type: string, required: true }
      author:
        type: ref
        target: authors
`

const testSchemaPathReconcileYAML = `
collections:
  articles:
    path: "articles/{status}-{id}.md"
    fields:
      status:
        type: string
        enum: [draft, published]
        default: draft
`

func TestDeleteReferencedWithErrorPolicyFails(t *testing.T) {
	defer leaktest.Check(t)()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.yaml"), []byte(testSchemaErrorPolicyYAML), 0o644))
	s, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer s.Shutdown()
	ctx := context.Background()

	_, err = s.Insert(ctx, "authors", "ada", map[string]interface{}{"name": "Ada"}, "", false)
	require.NoError(t, err)
	_, err = s.Insert(ctx, "posts", "hello", map[string]interface{}{
		"title": "Hello", "author": "ada",
	}, "", false)
	require.NoError(t, err)

	err = s.Delete(ctx, "authors", "ada")
	require.Error(t, err)
	require.True(t, isErrKind(err, grounddb.ReferenceErr))
}

func TestInsertUnknownReferenceTargetIsReferenceError(t *testing.T) {
	defer leaktest.Check(t)()
	s, _ := newTestStore(t)
	defer func() { require.NoError(t, s.Shutdown()) }()
	_, err := s.Insert(context.Background(), "posts", "hello", map[string]interface{}{
		"title": "Hello", "status": "draft", "author": "nobody",
	}, "", false)
	require.Error(t, err)
	require.True(t, isErrKind(err, grounddb.ReferenceErr))
}

func TestCollectionSubscriptionFires(t *testing.T) {
	defer leaktest.Check(t)()
	s, _ := newTestStore(t)
	defer func() { require.NoError(t, s.Shutdown()) }()
	ctx := context.Background()

	changes := make(chan CollectionChange, 4)
	sub := s.OnCollectionChange("authors", func(c CollectionChange) { changes <- c })
	defer s.Unsubscribe(sub)

	_, err := s.Insert(ctx, "authors", "ada", map[string]interface{}{"name": "Ada"}, "", false)
	require.NoError(t, err)

	select {
	case c := <-changes:
		require.Equal(t, Inserted, c.Kind)
		require.Equal(t, "ada", c.New.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for collection change notification")
	}
}

func TestViewSubscriptionFiresAfterAffectingChange(t *testing.T) {
	defer leaktest.Check(t)()
	s, _ := newTestStore(t)
	defer func() { require.NoError(t, s.Shutdown()) }()
	ctx := context.Background()

	_, err := s.Insert(ctx, "authors", "ada", map[string]interface{}{"name": "Ada"}, "", false)
	require.NoError(t, err)

	views := make(chan ViewChange, 4)
	sub := s.OnViewChange("published_posts", func(v ViewChange) { views <- v })
	defer s.Unsubscribe(sub)

	_, err = s.Insert(ctx, "posts", "hello", map[string]interface{}{
		"title": "Hello", "status": "published", "author": "ada",
	}, "", false)
	require.NoError(t, err)

	select {
	case v := <-views:
		require.Equal(t, "published_posts", v.View)
		require.Len(t, v.Rows, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for view change notification")
	}
}

func TestReentrantCallFromCallbackIsBusy(t *testing.T) {
	defer leaktest.Check(t)()
	s, _ := newTestStore(t)
	defer func() { require.NoError(t, s.Shutdown()) }()
	ctx := context.Background()

	done := make(chan error, 1)
	sub := s.OnCollectionChange("authors", func(c CollectionChange) {
		_, err := s.Insert(ctx, "authors", "reentrant", map[string]interface{}{"name": "x"}, "", false)
		done <- err
	})
	defer s.Unsubscribe(sub)

	_, err := s.Insert(ctx, "authors", "ada", map[string]interface{}{"name": "Ada"}, "", false)
	require.NoError(t, err)

	select {
	case cbErr := <-done:
		require.Error(t, cbErr)
		require.True(t, isErrKind(cbErr, grounddb.BusyErr))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reentrant callback")
	}
}

func TestRebuildRecomputesViews(t *testing.T) {
	defer leaktest.Check(t)()
	s, _ := newTestStore(t)
	defer func() { require.NoError(t, s.Shutdown()) }()
	ctx := context.Background()

	_, err := s.Insert(ctx, "authors", "ada", map[string]interface{}{"name": "Ada"}, "", false)
	require.NoError(t, err)
	_, err = s.Insert(ctx, "posts", "hello", map[string]interface{}{
		"title": "Hello", "status": "published", "author": "ada",
	}, "", false)
	require.NoError(t, err)

	require.NoError(t, s.Rebuild(ctx))

	rows, err := s.Views().Get(ctx, "published_posts")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestValidateAllReportsNothingForCleanStore(t *testing.T) {
	defer leaktest.Check(t)()
	s, _ := newTestStore(t)
	defer func() { require.NoError(t, s.Shutdown()) }()
	ctx := context.Background()

	_, err := s.Insert(ctx, "authors", "ada", map[string]interface{}{"name": "Ada"}, "", false)
	require.NoError(t, err)

	warnings, err := s.ValidateAll(ctx)
	require.NoError(t, err)
	require.Empty(t, warnings["authors"])
}

func TestReopenReconcilesManuallyAddedFile(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "authors", "ada", map[string]interface{}{"name": "Ada"}, "", false)
	require.NoError(t, err)
	require.NoError(t, s.Shutdown())

	manual := "---\nname: Grace Hopper\n---\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "authors/grace.md"), []byte(manual), 0o644))

	s2, err := Open(ctx, dir)
	require.NoError(t, err)
	defer s2.Shutdown()

	doc, err := s2.Get(ctx, "authors", "grace")
	require.NoError(t, err)
	require.Equal(t, "Grace Hopper", doc.Fields["name"])
}

// TestWatcherReconcilesPathOnlyFieldAfterExternalMove covers invariant I6
// (§4.9): moving a document's file to a new value of a path-template field
// must correct that field in the front matter, not just the index.
func TestWatcherReconcilesPathOnlyFieldAfterExternalMove(t *testing.T) {
	defer leaktest.Check(t)()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.yaml"), []byte(testSchemaPathReconcileYAML), 0o644))
	s, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Shutdown()) }()
	ctx := context.Background()

	_, err = s.Insert(ctx, "articles", "x", map[string]interface{}{"status": "draft"}, "", false)
	require.NoError(t, err)

	oldPath := filepath.Join(dir, "articles", "draft-x.md")
	newPath := filepath.Join(dir, "articles", "published-x.md")
	require.NoError(t, os.Rename(oldPath, newPath))

	var doc *Document
	require.Eventually(t, func() bool {
		doc, err = s.Get(ctx, "articles", "x")
		return err == nil && doc.Fields["status"] == "published"
	}, 3*time.Second, 50*time.Millisecond, "front matter should be reconciled to the moved-to path's status")

	raw, err := os.ReadFile(newPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), "status: published")
}

func isErrKind(err error, code grounddb.ErrCode) bool {
	var ge *grounddb.Error
	return errors.As(err, &ge) && ge.Code == code
}
