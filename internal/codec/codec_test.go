package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEncodeMarkdownRoundTrip(t *testing.T) {
	raw := []byte("---\ntitle: Hello\nstatus: draft\n---\n\nBody text.\n")
	doc, err := DecodeMarkdown(raw)
	require.NoError(t, err)
	require.Equal(t, "Hello", doc.FrontMatter["title"])
	require.Equal(t, "draft", doc.FrontMatter["status"])
	require.Equal(t, "Body text.\n", doc.Content)
	require.True(t, doc.HasContent)

	out, err := EncodeMarkdown(doc, []string{"title", "status"})
	require.NoError(t, err)
	redecoded, err := DecodeMarkdown(out)
	require.NoError(t, err)
	require.Equal(t, doc.FrontMatter, redecoded.FrontMatter)
	require.Equal(t, doc.Content, redecoded.Content)
}

func TestEncodeMarkdownFieldOrder(t *testing.T) {
	doc := &Document{FrontMatter: map[string]interface{}{
		"z_extra": "last",
		"title":   "Hello",
		"status":  "draft",
	}}
	out, err := EncodeMarkdown(doc, []string{"title", "status"})
	require.NoError(t, err)

	titleIdx := indexOf(t, string(out), "title:")
	statusIdx := indexOf(t, string(out), "status:")
	extraIdx := indexOf(t, string(out), "z_extra:")
	require.Less(t, titleIdx, statusIdx)
	require.Less(t, statusIdx, extraIdx)
}

func TestDecodeMarkdownMissingFenceErrors(t *testing.T) {
	_, err := DecodeMarkdown([]byte("title: Hello\n"))
	require.Error(t, err)
}

func TestDecodeEncodeJSONRoundTrip(t *testing.T) {
	doc := &Document{FrontMatter: map[string]interface{}{"title": "Hello", "count": float64(3)}}
	out, err := EncodeJSON(doc, []string{"title", "count"})
	require.NoError(t, err)
	redecoded, err := DecodeJSON(out)
	require.NoError(t, err)
	require.Equal(t, doc.FrontMatter, redecoded.FrontMatter)
}

func TestDecodeEncodeJSONLRecords(t *testing.T) {
	raw := []byte("{\"id\":\"a\",\"kind\":\"x\"}\n{\"id\":\"b\",\"kind\":\"y\"}\n")
	records, err := DecodeJSONLRecords(raw)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a", records[0]["id"])

	out, err := EncodeJSONLRecords(records)
	require.NoError(t, err)
	redecoded, err := DecodeJSONLRecords(out)
	require.NoError(t, err)
	require.Equal(t, records, redecoded)
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	t.Fatalf("%q not found in %q", needle, haystack)
	return -1
}
