package viewsql

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JustMaier/groundDb/internal/schema"
)

const viewsqlSchemaYAML = `
collections:
  posts:
    path: "posts/{id}.md"
    content: true
    fields:
      title: string
      status: string
  authors:
    path: "authors/{id}.md"
    fields:
      name: string
`

func mustParseSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sch, err := schema.Parse([]byte(viewsqlSchemaYAML))
	require.NoError(t, err)
	return sch
}

func TestParseExtractsTablesAndParams(t *testing.T) {
	p, err := Parse("SELECT id, title FROM posts WHERE status = :status LIMIT 10")
	require.NoError(t, err)
	require.Equal(t, []TableRef{{Collection: "posts", Alias: "posts"}}, p.Tables)
	require.Equal(t, []string{"status"}, p.ParamNames)
}

func TestParseExtractsAliasedJoin(t *testing.T) {
	p, err := Parse("SELECT p.title, a.name FROM posts p JOIN authors a ON p.author = a.id")
	require.NoError(t, err)
	require.Len(t, p.Tables, 2)
	require.Equal(t, TableRef{Collection: "posts", Alias: "p"}, p.Tables[0])
	require.Equal(t, TableRef{Collection: "authors", Alias: "a"}, p.Tables[1])
}

func TestParseRejectsNonSelect(t *testing.T) {
	_, err := Parse("DELETE FROM posts")
	require.Error(t, err)
}

func TestParseRejectsEmbeddedMutatingKeyword(t *testing.T) {
	_, err := Parse("SELECT id FROM posts WHERE title = 'DROP TABLE'; DROP TABLE posts")
	require.Error(t, err)
}

func TestParseIgnoresKeywordsInsideStringLiterals(t *testing.T) {
	p, err := Parse("SELECT id FROM posts WHERE title = 'FROM authors'")
	require.NoError(t, err)
	require.Len(t, p.Tables, 1)
	require.Equal(t, "posts", p.Tables[0].Collection)
}

func TestParseRejectsEmptyQuery(t *testing.T) {
	_, err := Parse("   ")
	require.Error(t, err)
}

func TestParseRejectsQueryWithNoTable(t *testing.T) {
	_, err := Parse("SELECT 1")
	require.Error(t, err)
}

func TestRewriteBuildsCTEsAndInflatesLimit(t *testing.T) {
	sch := mustParseSchema(t)
	p, err := Parse("SELECT id, title FROM posts WHERE status = 'published' LIMIT 5")
	require.NoError(t, err)

	rewritten, err := Rewrite(p, sch, 3)
	require.NoError(t, err)
	require.Contains(t, rewritten.SQL, "WITH")
	require.Contains(t, rewritten.SQL, `posts AS`)
	require.Contains(t, rewritten.SQL, "LIMIT 15")
	require.Equal(t, 5, *rewritten.OriginalLimit)
	require.Equal(t, 15, *rewritten.BufferLimit)
}

func TestRewriteWithoutLimitLeavesLimitsNil(t *testing.T) {
	sch := mustParseSchema(t)
	p, err := Parse("SELECT id FROM posts")
	require.NoError(t, err)

	rewritten, err := Rewrite(p, sch, 2)
	require.NoError(t, err)
	require.Nil(t, rewritten.OriginalLimit)
	require.Nil(t, rewritten.BufferLimit)
}

func TestRewriteUnknownCollectionErrors(t *testing.T) {
	sch := mustParseSchema(t)
	p, err := Parse("SELECT id FROM nonexistent")
	require.NoError(t, err)

	_, err = Rewrite(p, sch, 2)
	require.Error(t, err)
}

func TestRewriteJoinBuildsOneCTEPerDistinctCollection(t *testing.T) {
	sch := mustParseSchema(t)
	p, err := Parse("SELECT p.title, a.name FROM posts p JOIN authors a ON p.author = a.id")
	require.NoError(t, err)

	rewritten, err := Rewrite(p, sch, 2)
	require.NoError(t, err)
	require.Contains(t, rewritten.SQL, "posts AS")
	require.Contains(t, rewritten.SQL, "authors AS")
}
