// Package viewsql implements component C6: parsing the restricted SELECT
// grammar views declare, extracting referenced collections and named
// parameters, and rewriting the query against per-collection CTEs that
// expose declared fields as columns over the system index (spec §4.5).
package viewsql

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/huandu/go-sqlbuilder"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/schema"
)

// TableRef is one FROM/JOIN reference: a collection name and its alias,
// if any (alias equals collection name when none was given).
type TableRef struct {
	Collection string
	Alias      string
}

// Parsed is the result of scanning a view's declared query: the
// referenced tables and the named parameters it uses, in first-seen
// order.
type Parsed struct {
	Raw        string
	Tables     []TableRef
	ParamNames []string
}

var (
	fromJoinRe  = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_]*)(?:\s+(?:AS\s+)?([A-Za-z_][A-Za-z0-9_]*))?`)
	namedParamRe = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)
	trailingLimitRe = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\s*$`)
	disallowedKeywordRe = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|ATTACH|PRAGMA)\b`)
	sqlKeywords = map[string]bool{
		"select": true, "from": true, "join": true, "inner": true, "left": true,
		"outer": true, "where": true, "group": true, "by": true, "order": true,
		"limit": true, "and": true, "or": true, "not": true, "as": true, "on": true,
		"in": true, "is": true, "null": true, "asc": true, "desc": true, "having": true,
	}
)

// Parse scans a view's declared SQL for its table references and named
// parameters, per the restricted grammar in spec §4.5. It rejects
// anything resembling a mutating statement; it does not otherwise fully
// parse the SQL (that burden is left to sqlite at execution time, the
// same division of labor the teacher's query-filter layer uses).
func Parse(query string) (*Parsed, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, grounddb.Errorf(grounddb.QueryErr, "view query is empty")
	}
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return nil, grounddb.Errorf(grounddb.QueryErr, "view query must be a SELECT statement")
	}
	// Table and parameter scanning, and the disallowed-statement check,
	// all run against the string-literal-stripped text, so a keyword or
	// :named token that happens to appear inside a quoted SQL literal is
	// never mistaken for a real table reference, bind parameter, or
	// mutating statement; outside of quotes the stripped text is
	// byte-identical to the original.
	stripped := stripStringLiterals(trimmed)
	if disallowedKeywordRe.MatchString(stripped) {
		return nil, grounddb.Errorf(grounddb.QueryErr, "view query contains a disallowed statement")
	}

	p := &Parsed{Raw: trimmed}
	seenTable := map[string]bool{}
	for _, m := range fromJoinRe.FindAllStringSubmatch(stripped, -1) {
		collection := m[1]
		if sqlKeywords[strings.ToLower(collection)] {
			continue
		}
		alias := m[2]
		if alias == "" || sqlKeywords[strings.ToLower(alias)] {
			alias = collection
		}
		key := collection + "/" + alias
		if seenTable[key] {
			continue
		}
		seenTable[key] = true
		p.Tables = append(p.Tables, TableRef{Collection: collection, Alias: alias})
	}
	if len(p.Tables) == 0 {
		return nil, grounddb.Errorf(grounddb.QueryErr, "view query references no collection")
	}

	seenParam := map[string]bool{}
	for _, m := range namedParamRe.FindAllStringSubmatch(stripped, -1) {
		name := m[1]
		if seenParam[name] {
			continue
		}
		seenParam[name] = true
		p.ParamNames = append(p.ParamNames, name)
	}
	return p, nil
}

// stripStringLiterals blanks out the contents of single-quoted string
// literals (doubled '' escapes included) so keyword and parameter
// scanning never matches text that happens to appear inside a string.
func stripStringLiterals(s string) string {
	var out strings.Builder
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' {
			if inString && i+1 < len(s) && s[i+1] == '\'' {
				out.WriteByte('_')
				out.WriteByte('_')
				i++
				continue
			}
			inString = !inString
			out.WriteByte(' ')
			continue
		}
		if inString {
			out.WriteByte('_')
			continue
		}
		out.WriteByte(c)
	}
	return out.String()
}

// Rewritten is the output spec §4.5 names: the final SQL, its ordered
// parameter names, the buffer-inflated LIMIT to execute with, the
// caller's original LIMIT (for materialization truncation), and the
// table refs (for affected-view tracking, I4).
type Rewritten struct {
	SQL           string
	ParamNames    []string
	BufferLimit   *int
	OriginalLimit *int
	Tables        []TableRef
}

// Rewrite builds the CTE-wrapped SQL for a parsed view query against sch,
// using bufferMultiplier to inflate any trailing LIMIT for buffered
// materialization, per spec §4.5.
func Rewrite(p *Parsed, sch *schema.Schema, bufferMultiplier int) (*Rewritten, error) {
	if bufferMultiplier <= 0 {
		bufferMultiplier = 2
	}
	distinct := map[string]bool{}
	var ctes []string
	for _, ref := range p.Tables {
		if distinct[ref.Collection] {
			continue
		}
		distinct[ref.Collection] = true
		coll, ok := sch.Collections[ref.Collection]
		if !ok {
			return nil, grounddb.Errorf(grounddb.QueryErr, "view query references unknown collection %q", ref.Collection)
		}
		cte, err := buildCTE(ref.Collection, coll)
		if err != nil {
			return nil, err
		}
		ctes = append(ctes, cte)
	}
	sort.Strings(ctes) // deterministic ordering; CTE order has no semantic effect

	body := p.Raw
	var originalLimit *int
	var bufferLimit *int
	if m := trailingLimitRe.FindStringSubmatch(body); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, grounddb.Wrap(grounddb.QueryErr, err, "parse LIMIT value")
		}
		originalLimit = &n
		buffered := n * bufferMultiplier
		bufferLimit = &buffered
		body = trailingLimitRe.ReplaceAllString(body, fmt.Sprintf("LIMIT %d", buffered))
	}

	full := "WITH " + strings.Join(ctes, ",\n") + "\n" + body
	return &Rewritten{
		SQL:           full,
		ParamNames:    p.ParamNames,
		BufferLimit:   bufferLimit,
		OriginalLimit: originalLimit,
		Tables:        p.Tables,
	}, nil
}

// buildCTE emits "<name> AS (SELECT id, created_at, modified_at, [content,]
// json_extract(data_json,'$.f') AS f, ... FROM documents WHERE collection
// = '<name>')" using go-sqlbuilder so the column list and predicate are
// assembled safely rather than via raw string concatenation; the
// collection name interpolated into the WHERE predicate comes from the
// parsed schema, never from caller input.
func buildCTE(name string, coll *schema.Collection) (string, error) {
	sb := sqlbuilder.NewSelectBuilder()
	cols := []string{"id", "created_at", "modified_at"}
	if coll.Content {
		cols = append(cols, "content_text AS content")
	}
	for _, f := range coll.Fields {
		cols = append(cols, fmt.Sprintf("json_extract(data_json,'$.%s') AS %s", f.Name, quoteIdent(f.Name)))
	}
	sb.Select(cols...)
	sb.From("documents")
	sb.Where(sb.Equal("collection", name))

	sqlStr, args := sb.BuildWithFlavor(sqlbuilder.SQLite)
	interpolated, err := sqlbuilder.SQLite.Interpolate(sqlStr, args)
	if err != nil {
		return "", grounddb.Wrap(grounddb.QueryErr, err, "build CTE for collection %q", name)
	}
	return fmt.Sprintf("%s AS (\n  %s\n)", quoteIdent(name), interpolated), nil
}

// quoteIdent double-quotes an identifier only when it collides with a SQL
// keyword or contains characters a bare identifier cannot; schema
// collection/field names are otherwise already safe bare identifiers.
func quoteIdent(ident string) string {
	if sqlKeywords[strings.ToLower(ident)] {
		return `"` + ident + `"`
	}
	return ident
}
