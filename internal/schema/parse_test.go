package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
collections:
  posts:
    path: "posts/{id}.md"
    content: true
    fields:
      title: string
      tags: list<string>
      status:
        type: string
        required: true
        enum: [draft, published]
        default: draft
      author:
        type: ref
        target: authors
        on_delete: nullify
  authors:
    path: "authors/{id}.md"
    fields:
      name: { type: string, required: true }
views:
  published_posts:
    query: "SELECT id, title FROM posts WHERE status = 'published'"
    materialize: true
`

func TestParseCollectionsPreserveFieldOrder(t *testing.T) {
	sch, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	posts, ok := sch.Collections["posts"]
	require.True(t, ok)
	require.Equal(t, "posts/{id}.md", posts.Path)

	var names []string
	for _, f := range posts.Fields {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"title", "tags", "status", "author"}, names)

	status, ok := posts.FieldByName("status")
	require.True(t, ok)
	require.True(t, status.Required)
	require.Equal(t, []string{"draft", "published"}, status.Enum)
	require.True(t, status.HasDefault)
	require.Equal(t, "draft", status.Default)

	author, ok := posts.FieldByName("author")
	require.True(t, ok)
	require.Equal(t, TypeRef, author.Type)
	require.Equal(t, []string{"authors"}, author.Targets)
	require.Equal(t, OnDeleteNullify, author.OnDelete)
}

func TestParseViews(t *testing.T) {
	sch, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	v, ok := sch.Views["published_posts"]
	require.True(t, ok)
	require.Equal(t, ViewStatic, v.Kind)
	require.True(t, v.Materialize)
	require.Equal(t, 2, v.BufferMultiplier)
}

func TestCollectionNamesSorted(t *testing.T) {
	sch, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, []string{"authors", "posts"}, sch.CollectionNames())
}

func TestHashStableAcrossReparse(t *testing.T) {
	a, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	b, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, a.Hash, b.Hash)

	c, err := Parse([]byte(sampleYAML + "\n"))
	require.NoError(t, err)
	require.NotEqual(t, a.Hash, c.Hash)
}

func TestParseRejectsUnknownTopLevelKey(t *testing.T) {
	_, err := Parse([]byte("bogus: true\n"))
	require.Error(t, err)
}

func TestParseRejectsMissingPath(t *testing.T) {
	_, err := Parse([]byte("collections:\n  posts:\n    fields:\n      title: string\n"))
	require.Error(t, err)
}
