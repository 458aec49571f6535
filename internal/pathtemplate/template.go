// Package pathtemplate implements component C2: rendering a field map into
// a relative file path, and extracting a field map back out of a path,
// per spec §4.1.
package pathtemplate

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gosimple/slug"

	grounddb "github.com/JustMaier/groundDb"
)

// segment is one literal or placeholder piece of a parsed template.
type segment struct {
	literal string // set when this is a literal path segment
	field   string // set when this is a {field} or {field:spec} placeholder
	spec    string // format spec after the colon, if any
}

// Template is a parsed path template, ready for Render/Extract.
type Template struct {
	raw      string
	segments []segment
}

// Validate parses raw and returns a *grounddb.Error (SchemaErr) if the
// template uses an unknown format spec or is otherwise malformed.
func Validate(raw string) error {
	_, err := Parse(raw)
	return err
}

// Parse compiles a raw template string such as "posts/{status}/{date:YYYY-MM-DD}-{title}.md".
func Parse(raw string) (*Template, error) {
	t := &Template{raw: raw}
	i := 0
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}
	for i < len(raw) {
		c := raw[i]
		if c == '{' {
			end := strings.IndexByte(raw[i:], '}')
			if end < 0 {
				return nil, grounddb.Errorf(grounddb.SchemaErr, "path template %q: unterminated placeholder", raw)
			}
			flushLit()
			inner := raw[i+1 : i+end]
			field, spec, _ := strings.Cut(inner, ":")
			if field == "" {
				return nil, grounddb.Errorf(grounddb.SchemaErr, "path template %q: empty placeholder", raw)
			}
			if spec != "" {
				if _, ok := formatLayout(spec); !ok {
					return nil, grounddb.Errorf(grounddb.SchemaErr, "path template %q: unknown format spec %q", raw, spec)
				}
			}
			t.segments = append(t.segments, segment{field: field, spec: spec})
			i += end + 1
			continue
		}
		lit.WriteByte(c)
		i++
	}
	flushLit()
	return t, nil
}

// formatLayout maps a spec token to a Go time layout. Composite specs like
// "YYYY-MM-DDTHHMM" are built by substituting each known token in order.
func formatLayout(spec string) (string, bool) {
	replacer := strings.NewReplacer(
		// MM directly after HH (as in HHMM or HH:MM) is minutes; these
		// pairs come first so they win over the month MM below.
		"HHMM", "1504",
		"HH:MM", "15:04",
		"YYYY", "2006",
		"MM", "01",
		"DD", "02",
		"HH", "15",
		"SS", "05",
	)
	// Accept any combination built purely from the known tokens above;
	// reject anything containing characters the replacer wouldn't touch.
	replaced := replacer.Replace(spec)
	stripped := spec
	for _, tok := range []string{"YYYY", "MM", "DD", "HH", "SS"} {
		stripped = strings.ReplaceAll(stripped, tok, "")
	}
	for _, r := range stripped {
		if r != '-' && r != 'T' && r != ':' {
			return "", false
		}
	}
	return replaced, true
}

// Render replaces each placeholder in the template with the slugified
// stringification of fields[name], per spec §4.1.
func (t *Template) Render(fields map[string]interface{}) (string, error) {
	var out strings.Builder
	for _, seg := range t.segments {
		if seg.literal != "" {
			out.WriteString(seg.literal)
			continue
		}
		v, ok := fields[seg.field]
		if !ok {
			return "", grounddb.Errorf(grounddb.ValidationErr, "path template: missing field %q", seg.field)
		}
		rendered, err := renderValue(v, seg.spec)
		if err != nil {
			return "", err
		}
		out.WriteString(rendered)
	}
	return path.Clean(out.String()), nil
}

func renderValue(v interface{}, spec string) (string, error) {
	if spec != "" {
		layout, ok := formatLayout(spec)
		if !ok {
			return "", grounddb.Errorf(grounddb.SchemaErr, "unknown format spec %q", spec)
		}
		t, err := toTime(v)
		if err != nil {
			return "", err
		}
		return t.Format(layout), nil
	}
	return slugify(v), nil
}

func slugify(v interface{}) string {
	var s string
	switch vv := v.(type) {
	case string:
		s = vv
	case fmt.Stringer:
		s = vv.String()
	default:
		s = fmt.Sprintf("%v", vv)
	}
	return slug.Make(s)
}

func toTime(v interface{}) (time.Time, error) {
	switch vv := v.(type) {
	case time.Time:
		return vv, nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, vv); err == nil {
				return t, nil
			}
		}
		return time.Time{}, grounddb.Errorf(grounddb.ValidationErr, "cannot parse %q as a date/datetime", vv)
	default:
		return time.Time{}, grounddb.Errorf(grounddb.ValidationErr, "expected a date/datetime value, got %T", v)
	}
}

// Extract recovers a field map from a relative path that was produced (or
// claimed to be produced) by this template. Extraction is lossy for
// slugified free-text fields, but path-only fields such as status/date
// round-trip exactly, per spec §4.1.
func (t *Template) Extract(relPath string) (map[string]string, error) {
	out := map[string]string{}
	rest := relPath
	for idx, seg := range t.segments {
		if seg.literal != "" {
			if !strings.HasPrefix(rest, seg.literal) {
				return nil, grounddb.Errorf(grounddb.ValidationErr, "path %q does not match template %q", relPath, t.raw)
			}
			rest = rest[len(seg.literal):]
			continue
		}
		// A date/datetime placeholder has a fixed rendered width (the
		// format layout's length, since every token substitutes a
		// same-length numeral), so it is captured by width rather than by
		// scanning for the next literal's first rune: the formatted date
		// itself may contain that rune (e.g. "-" inside "YYYY-MM-DD").
		if seg.spec != "" {
			layout, _ := formatLayout(seg.spec)
			if len(rest) < len(layout) {
				return nil, grounddb.Errorf(grounddb.ValidationErr, "path %q does not match template %q", relPath, t.raw)
			}
			captured := rest[:len(layout)]
			rest = rest[len(layout):]
			recovered, err := recoverDate(captured, seg.spec)
			if err != nil {
				return nil, err
			}
			out[seg.field] = recovered
			continue
		}

		// Determine how much of rest belongs to this placeholder: up to
		// the next literal segment, or to the end of the path.
		var stop string
		if idx+1 < len(t.segments) && t.segments[idx+1].literal != "" {
			stop = firstRune(t.segments[idx+1].literal)
		}
		var captured string
		if stop != "" {
			pos := strings.Index(rest, stop)
			if pos < 0 {
				return nil, grounddb.Errorf(grounddb.ValidationErr, "path %q does not match template %q", relPath, t.raw)
			}
			captured = rest[:pos]
			rest = rest[pos:]
		} else {
			captured = rest
			rest = ""
		}
		out[seg.field] = captured
	}
	return out, nil
}

func firstRune(s string) string {
	if s == "" {
		return ""
	}
	return s[:1]
}

// recoverDate extracts the date-shaped prefix of a captured segment
// matching the given format spec, e.g. "2026-02-13-hello" with spec
// "YYYY-MM-DD" recovers "2026-02-13".
func recoverDate(captured, spec string) (string, error) {
	want := strings.Count(spec, "-") + 1
	if !strings.HasPrefix(spec, "YYYY") {
		return captured, nil
	}
	parts := strings.SplitN(captured, "-", want+1)
	if len(parts) < want {
		return "", grounddb.Errorf(grounddb.ValidationErr, "cannot recover date from %q", captured)
	}
	return strings.Join(parts[:want], "-"), nil
}

// String returns the raw template text.
func (t *Template) String() string { return t.raw }
