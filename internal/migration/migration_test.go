package migration

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JustMaier/groundDb/internal/schema"
)

func mustParse(t *testing.T, yaml string) *schema.Schema {
	t.Helper()
	sch, err := schema.Parse([]byte(yaml))
	require.NoError(t, err)
	return sch
}

const baseSchema = `
collections:
  posts:
    path: "posts/{id}.md"
    fields:
      title: string
      status:
        type: string
        enum: [draft, published]
`

func TestDiffCollectionAdded(t *testing.T) {
	oldSch := mustParse(t, baseSchema)
	newSch := mustParse(t, baseSchema+`
  authors:
    path: "authors/{id}.md"
    fields:
      name: string
`)
	changes := Diff(oldSch, newSch)
	require.Contains(t, changes, Change{Kind: CollectionAdded, Safety: Safe, Collection: "authors", Detail: "collection added"})
}

const schemaWithUnsafeRequiredField = `
collections:
  posts:
    path: "posts/{id}.md"
    fields:
      title: string
      status:
        type: string
        enum: [draft, published]
      published_at:
        type: datetime
        required: true
`

const schemaWithSafeRequiredField = `
collections:
  posts:
    path: "posts/{id}.md"
    fields:
      title: string
      status:
        type: string
        enum: [draft, published]
      published_at:
        type: datetime
        required: true
        default: "2020-01-01"
`

func TestDiffFieldAddedRequiredNoDefaultIsUnsafe(t *testing.T) {
	oldSch := mustParse(t, baseSchema)
	newSch := mustParse(t, schemaWithUnsafeRequiredField)
	changes := Diff(oldSch, newSch)
	bad, unsafe := FirstUnsafe(changes)
	require.True(t, unsafe)
	require.Equal(t, FieldAdded, bad.Kind)
	require.Equal(t, "published_at", bad.Field)
}

func TestDiffFieldAddedRequiredWithDefaultIsSafe(t *testing.T) {
	oldSch := mustParse(t, baseSchema)
	newSch := mustParse(t, schemaWithSafeRequiredField)
	changes := Diff(oldSch, newSch)
	_, unsafe := FirstUnsafe(changes)
	require.False(t, unsafe)

	found := false
	for _, c := range changes {
		if c.Kind == FieldAdded && c.Field == "published_at" {
			found = true
			require.Equal(t, Safe, c.Safety)
			require.True(t, c.HasDefault)
		}
	}
	require.True(t, found)
}

func TestDiffFieldTypeChangeIsUnsafe(t *testing.T) {
	oldSch := mustParse(t, baseSchema)
	newSch := mustParse(t, `
collections:
  posts:
    path: "posts/{id}.md"
    fields:
      title: number
      status:
        type: string
        enum: [draft, published]
`)
	changes := Diff(oldSch, newSch)
	bad, unsafe := FirstUnsafe(changes)
	require.True(t, unsafe)
	require.Equal(t, FieldTypeChanged, bad.Kind)
	require.Equal(t, "title", bad.Field)
}

func TestDiffEnumValueAddedIsSafeRemovedIsSafeWarn(t *testing.T) {
	oldSch := mustParse(t, baseSchema)
	newSch := mustParse(t, `
collections:
  posts:
    path: "posts/{id}.md"
    fields:
      title: string
      status:
        type: string
        enum: [draft, archived]
`)
	changes := Diff(oldSch, newSch)
	var added, removed bool
	for _, c := range changes {
		if c.Kind == EnumValueAdded && c.Field == "status" {
			added = true
			require.Equal(t, Safe, c.Safety)
		}
		if c.Kind == EnumValueRemoved && c.Field == "status" {
			removed = true
			require.Equal(t, SafeWarn, c.Safety)
		}
	}
	require.True(t, added)
	require.True(t, removed)
}

func TestDiffPathTemplateChangedIsUnsafeWarn(t *testing.T) {
	oldSch := mustParse(t, baseSchema)
	newSch := mustParse(t, `
collections:
  posts:
    path: "blog/{id}.md"
    fields:
      title: string
      status:
        type: string
        enum: [draft, published]
`)
	changes := Diff(oldSch, newSch)
	var found bool
	for _, c := range changes {
		if c.Kind == PathTemplateChanged {
			found = true
			require.Equal(t, UnsafeWarn, c.Safety)
		}
	}
	require.True(t, found)
}

func TestDiffNoChanges(t *testing.T) {
	oldSch := mustParse(t, baseSchema)
	newSch := mustParse(t, baseSchema)
	require.Empty(t, Diff(oldSch, newSch))
}

func TestDryRunProducesNonEmptyDiff(t *testing.T) {
	oldSch := mustParse(t, baseSchema)
	newSch := mustParse(t, baseSchema+"\n# trailing comment\n")
	out := DryRun(oldSch, newSch)
	require.NotEmpty(t, out)
}
