package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/stretchr/testify/require"
)

func TestParseJSONArgEmptyStringYieldsEmptyMap(t *testing.T) {
	m, err := parseJSONArg("")
	require.NoError(t, err)
	require.Empty(t, m)
}

func TestParseJSONArgRejectsInvalidJSON(t *testing.T) {
	_, err := parseJSONArg("{not json")
	require.Error(t, err)
}

func TestExitCodeForGrounddbErrorIsTwo(t *testing.T) {
	err := grounddb.Errorf(grounddb.NotFoundErr, "missing")
	require.Equal(t, 2, exitCodeFor(err))
}

func TestExitCodeForGenericErrorIsOne(t *testing.T) {
	require.Equal(t, 1, exitCodeFor(io.ErrUnexpectedEOF))
}

const cmdTestSchemaYAML = `
collections:
  posts:
    path: "posts/{id}.md"
    fields:
      title:
        type: string
        required: true
`

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	fn()
	require.NoError(t, w.Close())
	os.Stdout = old

	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	return buf.String()
}

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	RootCommand.SetArgs(args)
	var out string
	out = captureStdout(t, func() {
		require.NoError(t, RootCommand.Execute())
	})
	return out
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.yaml"), []byte(cmdTestSchemaYAML), 0o644))

	runRoot(t, "insert", "posts", "--data-dir", dir, "--id", "a", "--fields", `{"title":"Hello"}`)

	out := runRoot(t, "get", "posts", "a", "--data-dir", dir)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Equal(t, "Hello", doc["Fields"].(map[string]interface{})["title"])
}
