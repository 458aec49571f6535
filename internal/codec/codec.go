// Package codec implements component C3: serializing and parsing
// front-matter Markdown documents and JSON/JSONL records.
package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	grounddb "github.com/JustMaier/groundDb"
)

// Document is the decoded pair (front_matter, content) spec §3 describes.
// Implicit fields (id, created_at, modified_at) are not carried here;
// they're attached by the Store/index from filesystem metadata.
type Document struct {
	FrontMatter map[string]interface{}
	Content     string
	HasContent  bool
}

const fence = "---"

// DecodeMarkdown parses a ".md" document: a YAML mapping between "---"
// fences, followed by an optional body, per spec §4.2.
func DecodeMarkdown(raw []byte) (*Document, error) {
	text := string(raw)
	if !strings.HasPrefix(text, fence+"\n") {
		return nil, grounddb.Errorf(grounddb.ValidationErr, "markdown document missing opening front-matter fence")
	}
	rest := text[len(fence)+1:]
	closeIdx := strings.Index(rest, "\n"+fence+"\n")
	var closeLen int
	if closeIdx < 0 {
		// Allow a fence immediately followed by EOF with no trailing body.
		if strings.HasSuffix(rest, "\n"+fence) {
			closeIdx = len(rest) - len(fence) - 1
			closeLen = len(fence) + 1
		} else {
			return nil, grounddb.Errorf(grounddb.ValidationErr, "markdown document missing closing front-matter fence")
		}
	} else {
		closeLen = len(fence) + 2
	}
	yamlPart := rest[:closeIdx]
	body := rest[closeIdx+closeLen:]
	body = strings.TrimPrefix(body, "\n")

	fm := map[string]interface{}{}
	if strings.TrimSpace(yamlPart) != "" {
		if err := yaml.Unmarshal([]byte(yamlPart), &fm); err != nil {
			return nil, grounddb.Wrap(grounddb.ValidationErr, err, "invalid front matter")
		}
	}
	return &Document{FrontMatter: normalizeYAMLMap(fm), Content: body, HasContent: true}, nil
}

// EncodeMarkdown serializes a document back to ".md" shape. fieldOrder
// gives the collection's declared field order; any front-matter keys not
// in fieldOrder (implicit extras) are appended in lexicographic order, per
// spec §4.2.
func EncodeMarkdown(doc *Document, fieldOrder []string) ([]byte, error) {
	node, err := orderedMappingNode(doc.FrontMatter, fieldOrder)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(fence)
	buf.WriteByte('\n')
	if len(node.Content) > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(node); err != nil {
			return nil, grounddb.Wrap(grounddb.InternalErr, err, "encode front matter")
		}
		enc.Close()
	}
	buf.WriteString(fence)
	buf.WriteByte('\n')
	if doc.HasContent {
		buf.WriteByte('\n')
		buf.WriteString(doc.Content)
	}
	return buf.Bytes(), nil
}

// orderedMappingNode builds a yaml mapping node whose keys appear in
// fieldOrder first, then any remaining keys sorted lexicographically.
func orderedMappingNode(fm map[string]interface{}, fieldOrder []string) (*yaml.Node, error) {
	seen := map[string]bool{}
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	appendKV := func(key string) error {
		v, ok := fm[key]
		if !ok {
			return nil
		}
		seen[key] = true
		keyNode := &yaml.Node{}
		if err := keyNode.Encode(key); err != nil {
			return err
		}
		valNode := &yaml.Node{}
		if err := valNode.Encode(v); err != nil {
			return err
		}
		node.Content = append(node.Content, keyNode, valNode)
		return nil
	}
	for _, key := range fieldOrder {
		if err := appendKV(key); err != nil {
			return nil, grounddb.Wrap(grounddb.InternalErr, err, "encode field %q", key)
		}
	}
	extras := make([]string, 0, len(fm))
	for key := range fm {
		if !seen[key] {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		if err := appendKV(key); err != nil {
			return nil, grounddb.Wrap(grounddb.InternalErr, err, "encode field %q", key)
		}
	}
	return node, nil
}

// DecodeJSON parses a ".json" document: the whole file is a JSON object
// that constitutes the front matter, with no body.
func DecodeJSON(raw []byte) (*Document, error) {
	fm := map[string]interface{}{}
	if err := json.Unmarshal(raw, &fm); err != nil {
		return nil, grounddb.Wrap(grounddb.ValidationErr, err, "invalid json document")
	}
	return &Document{FrontMatter: fm}, nil
}

// EncodeJSON serializes a document's front matter as a single JSON object
// in fieldOrder, matching EncodeMarkdown's ordering rule.
func EncodeJSON(doc *Document, fieldOrder []string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := map[string]bool{}
	first := true
	writeKV := func(key string) error {
		v, ok := doc.FrontMatter[key]
		if !ok {
			return nil
		}
		seen[key] = true
		if !first {
			buf.WriteByte(',')
		}
		first = false
		keyBytes, _ := json.Marshal(key)
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(valBytes)
		return nil
	}
	for _, key := range fieldOrder {
		if err := writeKV(key); err != nil {
			return nil, grounddb.Wrap(grounddb.InternalErr, err, "encode field %q", key)
		}
	}
	extras := make([]string, 0, len(doc.FrontMatter))
	for key := range doc.FrontMatter {
		if !seen[key] {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		if err := writeKV(key); err != nil {
			return nil, grounddb.Wrap(grounddb.InternalErr, err, "encode field %q", key)
		}
	}
	buf.WriteByte('}')
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buf.Bytes(), "", "  "); err != nil {
		return buf.Bytes(), nil
	}
	pretty.WriteByte('\n')
	return pretty.Bytes(), nil
}

// DecodeJSONLRecords parses a ".jsonl" file into one front-matter map per
// line, per spec §4.2; the discriminator field (supplied by the caller)
// selects the variant but is not interpreted here.
func DecodeJSONLRecords(raw []byte) ([]map[string]interface{}, error) {
	var records []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec := map[string]interface{}{}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, grounddb.Wrap(grounddb.ValidationErr, err, "jsonl line %d", lineNo)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, grounddb.Wrap(grounddb.IoErr, err, "read jsonl")
	}
	return records, nil
}

// EncodeJSONLRecords serializes records back to ".jsonl" shape, one
// compact JSON object per line.
func EncodeJSONLRecords(records []map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, grounddb.Wrap(grounddb.InternalErr, err, "encode jsonl record")
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// normalizeYAMLMap converts map[interface{}]interface{} nodes that older
// yaml decoders can still surface within nested structures into
// map[string]interface{}, so downstream json.Marshal (used by the index's
// data_json column) never chokes on a non-string-keyed map.
func normalizeYAMLMap(v interface{}) map[string]interface{} {
	out, _ := normalizeValue(v).(map[string]interface{})
	if out == nil {
		return map[string]interface{}{}
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[k] = normalizeValue(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[fmt.Sprintf("%v", k)] = normalizeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, item := range vv {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
