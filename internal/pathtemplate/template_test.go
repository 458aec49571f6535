package pathtemplate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRejectsUnterminatedPlaceholder(t *testing.T) {
	_, err := Parse("posts/{id.md")
	require.Error(t, err)
}

func TestParseRejectsUnknownFormatSpec(t *testing.T) {
	_, err := Parse("posts/{date:NOTAREALSPEC}.md")
	require.Error(t, err)
}

func TestRenderSimplePlaceholder(t *testing.T) {
	tmpl, err := Parse("posts/{id}.md")
	require.NoError(t, err)
	out, err := tmpl.Render(map[string]interface{}{"id": "hello-world"})
	require.NoError(t, err)
	require.Equal(t, "posts/hello-world.md", out)
}

func TestRenderSlugifiesFreeText(t *testing.T) {
	tmpl, err := Parse("posts/{title}.md")
	require.NoError(t, err)
	out, err := tmpl.Render(map[string]interface{}{"title": "Hello, World!"})
	require.NoError(t, err)
	require.Equal(t, "posts/hello-world.md", out)
}

func TestRenderMissingFieldErrors(t *testing.T) {
	tmpl, err := Parse("posts/{id}.md")
	require.NoError(t, err)
	_, err = tmpl.Render(map[string]interface{}{})
	require.Error(t, err)
}

func TestRenderDateFormatSpec(t *testing.T) {
	tmpl, err := Parse("posts/{date:YYYY-MM-DD}-{title}.md")
	require.NoError(t, err)
	out, err := tmpl.Render(map[string]interface{}{
		"date": "2026-02-13T00:00:00Z", "title": "Hello",
	})
	require.NoError(t, err)
	require.Equal(t, "posts/2026-02-13-hello.md", out)
}

func TestExtractRecoversLiteralFields(t *testing.T) {
	tmpl, err := Parse("posts/{status}/{id}.md")
	require.NoError(t, err)
	out, err := tmpl.Extract("posts/published/hello-world.md")
	require.NoError(t, err)
	require.Equal(t, "published", out["status"])
	require.Equal(t, "hello-world", out["id"])
}

func TestExtractRecoversDatePrefix(t *testing.T) {
	tmpl, err := Parse("posts/{date:YYYY-MM-DD}-{title}.md")
	require.NoError(t, err)
	out, err := tmpl.Extract("posts/2026-02-13-hello-world.md")
	require.NoError(t, err)
	require.Equal(t, "2026-02-13", out["date"])
	require.Equal(t, "hello-world", out["title"])
}

func TestExtractMismatchedLiteralErrors(t *testing.T) {
	tmpl, err := Parse("posts/{id}.md")
	require.NoError(t, err)
	_, err = tmpl.Extract("authors/hello.md")
	require.Error(t, err)
}

func TestStringReturnsRawTemplate(t *testing.T) {
	tmpl, err := Parse("posts/{id}.md")
	require.NoError(t, err)
	require.Equal(t, "posts/{id}.md", tmpl.String())
}
