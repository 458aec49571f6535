package store

import (
	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/codec"
	"github.com/JustMaier/groundDb/internal/schema"
)

// fieldOrder returns a collection's declared field names in schema order,
// for codec.Encode{Markdown,JSON}'s deterministic ordering.
func fieldOrder(coll *schema.Collection) []string {
	names := make([]string, len(coll.Fields))
	for i, f := range coll.Fields {
		names[i] = f.Name
	}
	return names
}

// encodeDocument serializes a document's front matter/content by the
// collection's declared file extension (spec §4.2, §6).
func encodeDocument(coll *schema.Collection, fields map[string]interface{}, content string, hasContent bool) ([]byte, error) {
	doc := &codec.Document{FrontMatter: fields, Content: content, HasContent: hasContent}
	switch coll.Ext {
	case "json":
		return codec.EncodeJSON(doc, fieldOrder(coll))
	case "md", "":
		return codec.EncodeMarkdown(doc, fieldOrder(coll))
	default:
		return nil, grounddb.Errorf(grounddb.SchemaErr, "collection %q: unsupported extension %q", coll.Name, coll.Ext)
	}
}

// decodeDocument parses raw file bytes by the collection's declared
// extension.
func decodeDocument(coll *schema.Collection, raw []byte) (*codec.Document, error) {
	switch coll.Ext {
	case "json":
		return codec.DecodeJSON(raw)
	case "md", "":
		return codec.DecodeMarkdown(raw)
	default:
		return nil, grounddb.Errorf(grounddb.SchemaErr, "collection %q: unsupported extension %q", coll.Name, coll.Ext)
	}
}
