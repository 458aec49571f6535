// Package index implements component C4: the system index — a
// modernc.org/sqlite-backed document table, view cache, schema history,
// and directory-hash store. The index is a rebuildable derived cache;
// files on disk remain the source of truth (spec §1).
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/logging"
)

// DocumentRow mirrors the documents table (spec §4.3).
type DocumentRow struct {
	ID          string
	Collection  string
	Path        string
	CreatedAt   time.Time
	ModifiedAt  time.Time
	ContentText string
	Data        map[string]interface{}
}

// Index wraps the single *sql.DB connection the Store treats as
// exclusively its own (spec §5: "The index connection is exclusive to
// the Store; all SQL goes through it").
type Index struct {
	db  *sql.DB
	log logging.Logger
}

// Open opens (creating if necessary) the system index at dbPath, normally
// "<data-dir>/_system.db" (spec §6), and applies additive schema upgrades.
func Open(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, grounddb.Wrap(grounddb.IndexErr, err, "open system index")
	}
	db.SetMaxOpenConns(1) // single-writer-lane model (spec §5): serialize all SQL.
	idx := &Index{db: db, log: logging.Global()}
	if err := idx.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the underlying connection.
func (x *Index) Close() error { return x.db.Close() }

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	collection    TEXT NOT NULL,
	id            TEXT NOT NULL,
	path          TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	modified_at   TEXT NOT NULL,
	content_text  TEXT NOT NULL DEFAULT '',
	data_json     TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (collection, id)
);
CREATE UNIQUE INDEX IF NOT EXISTS documents_path_idx ON documents(path);

CREATE TABLE IF NOT EXISTS schema_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	hash        TEXT NOT NULL,
	schema_yaml TEXT NOT NULL,
	applied_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS migrations (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	schema_version_from TEXT,
	schema_version_to   TEXT NOT NULL,
	kind                TEXT NOT NULL,
	payload_json        TEXT NOT NULL DEFAULT '{}',
	applied_at          TEXT NOT NULL,
	status              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS view_data (
	view_name  TEXT NOT NULL,
	row_index  INTEGER NOT NULL,
	row_json   TEXT NOT NULL,
	PRIMARY KEY (view_name, row_index)
);

CREATE TABLE IF NOT EXISTS view_metadata (
	view_name     TEXT PRIMARY KEY,
	last_built_at TEXT,
	source_hash   TEXT,
	last_error    TEXT
);

CREATE TABLE IF NOT EXISTS directory_hashes (
	collection TEXT PRIMARY KEY,
	hash       TEXT NOT NULL
);
`

// requiredDocumentColumns is the set of columns upsertDocument assumes
// exist; migrate() adds any that are missing via introspection, so older
// index files upgrade transparently (spec §4.3, §4.11 step 1).
var requiredDocumentColumns = []string{
	"collection", "id", "path", "created_at", "modified_at", "content_text", "data_json",
}

func (x *Index) migrate(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, schemaDDL); err != nil {
		return grounddb.Wrap(grounddb.IndexErr, err, "create system index schema")
	}
	existing, err := x.documentColumns(ctx)
	if err != nil {
		return err
	}
	for _, col := range requiredDocumentColumns {
		if existing[col] {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE documents ADD COLUMN %s TEXT NOT NULL DEFAULT ''", col)
		if _, err := x.db.ExecContext(ctx, ddl); err != nil {
			return grounddb.Wrap(grounddb.IndexErr, err, "add column %s", col)
		}
		x.log.Infof("system index: added missing column %q", col)
	}
	return nil
}

func (x *Index) documentColumns(ctx context.Context) (map[string]bool, error) {
	rows, err := x.db.QueryContext(ctx, "PRAGMA table_info(documents)")
	if err != nil {
		return nil, grounddb.Wrap(grounddb.IndexErr, err, "introspect documents table")
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, grounddb.Wrap(grounddb.IndexErr, err, "scan table_info row")
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// UpsertDocument writes or replaces the index row for a document, per the
// I3 invariant.
func (x *Index) UpsertDocument(ctx context.Context, row DocumentRow) error {
	data, err := json.Marshal(row.Data)
	if err != nil {
		return grounddb.Wrap(grounddb.InternalErr, err, "marshal data_json")
	}
	_, err = x.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, path, created_at, modified_at, content_text, data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			path = excluded.path,
			created_at = excluded.created_at,
			modified_at = excluded.modified_at,
			content_text = excluded.content_text,
			data_json = excluded.data_json
	`, row.Collection, row.ID, row.Path, row.CreatedAt.Format(time.RFC3339Nano), row.ModifiedAt.Format(time.RFC3339Nano), row.ContentText, string(data))
	if err != nil {
		return grounddb.Wrap(grounddb.IndexErr, err, "upsert document %s/%s", row.Collection, row.ID)
	}
	return nil
}

// DeleteDocument removes a document's index row.
func (x *Index) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := x.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return grounddb.Wrap(grounddb.IndexErr, err, "delete document %s/%s", collection, id)
	}
	return nil
}

// GetDocument returns the row for (collection, id), or a NotFoundErr.
func (x *Index) GetDocument(ctx context.Context, collection, id string) (*DocumentRow, error) {
	row := x.db.QueryRowContext(ctx, `
		SELECT collection, id, path, created_at, modified_at, content_text, data_json
		FROM documents WHERE collection = ? AND id = ?
	`, collection, id)
	return scanDocumentRow(row)
}

// GetDocumentByPath returns the row stored at path, if any.
func (x *Index) GetDocumentByPath(ctx context.Context, path string) (*DocumentRow, error) {
	row := x.db.QueryRowContext(ctx, `
		SELECT collection, id, path, created_at, modified_at, content_text, data_json
		FROM documents WHERE path = ?
	`, path)
	return scanDocumentRow(row)
}

func scanDocumentRow(row *sql.Row) (*DocumentRow, error) {
	var d DocumentRow
	var createdAt, modifiedAt, dataJSON string
	err := row.Scan(&d.Collection, &d.ID, &d.Path, &createdAt, &modifiedAt, &d.ContentText, &dataJSON)
	if err == sql.ErrNoRows {
		return nil, grounddb.Errorf(grounddb.NotFoundErr, "document not found")
	}
	if err != nil {
		return nil, grounddb.Wrap(grounddb.IndexErr, err, "scan document row")
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	d.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modifiedAt)
	d.Data = map[string]interface{}{}
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &d.Data); err != nil {
			return nil, grounddb.Wrap(grounddb.IndexErr, err, "unmarshal data_json")
		}
	}
	return &d, nil
}

// ListByCollection returns every document row for a collection, ordered by
// id for determinism.
func (x *Index) ListByCollection(ctx context.Context, collection string) ([]DocumentRow, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT collection, id, path, created_at, modified_at, content_text, data_json
		FROM documents WHERE collection = ? ORDER BY id
	`, collection)
	if err != nil {
		return nil, grounddb.Wrap(grounddb.IndexErr, err, "list collection %s", collection)
	}
	defer rows.Close()
	var out []DocumentRow
	for rows.Next() {
		var d DocumentRow
		var createdAt, modifiedAt, dataJSON string
		if err := rows.Scan(&d.Collection, &d.ID, &d.Path, &createdAt, &modifiedAt, &d.ContentText, &dataJSON); err != nil {
			return nil, grounddb.Wrap(grounddb.IndexErr, err, "scan document row")
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		d.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modifiedAt)
		d.Data = map[string]interface{}{}
		if dataJSON != "" {
			if err := json.Unmarshal([]byte(dataJSON), &d.Data); err != nil {
				return nil, grounddb.Wrap(grounddb.IndexErr, err, "unmarshal data_json")
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountByCollection reports how many documents a collection currently
// holds, used by View engine's explain() to let callers judge query cost.
func (x *Index) CountByCollection(ctx context.Context, collection string) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, grounddb.Wrap(grounddb.IndexErr, err, "count collection %s", collection)
	}
	return n, nil
}

// ExecuteSQL runs the view engine's rewritten SQL with named parameters
// (":name" tokens) and returns each result row as an ordered column list
// plus a generic value map, per spec §4.3.
func (x *Index) ExecuteSQL(ctx context.Context, query string, named map[string]interface{}) ([]string, []map[string]interface{}, error) {
	args := make([]interface{}, 0, len(named))
	for k, v := range named {
		args = append(args, sql.Named(k, v))
	}
	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, grounddb.Wrap(grounddb.QueryErr, err, "execute view sql")
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, grounddb.Wrap(grounddb.QueryErr, err, "read result columns")
	}
	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, grounddb.Wrap(grounddb.QueryErr, err, "scan result row")
		}
		m := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			m[c] = normalizeSQLValue(vals[i])
		}
		out = append(out, m)
	}
	return cols, out, rows.Err()
}

func normalizeSQLValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// --- schema_history ---

// LastSchemaHash returns the most recently applied schema hash, if any.
func (x *Index) LastSchemaHash(ctx context.Context) (string, bool, error) {
	var hash string
	err := x.db.QueryRowContext(ctx, `SELECT hash FROM schema_history ORDER BY id DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, grounddb.Wrap(grounddb.IndexErr, err, "read schema_history")
	}
	return hash, true, nil
}

// LastSchemaRecord returns the most recently applied schema hash and its
// full YAML text, if any, so the migration engine can reconstruct the
// previous Schema to diff against.
func (x *Index) LastSchemaRecord(ctx context.Context) (hash, yamlText string, ok bool, err error) {
	row := x.db.QueryRowContext(ctx, `SELECT hash, schema_yaml FROM schema_history ORDER BY id DESC LIMIT 1`)
	if scanErr := row.Scan(&hash, &yamlText); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, grounddb.Wrap(grounddb.IndexErr, scanErr, "read schema_history")
	}
	return hash, yamlText, true, nil
}

// RecordSchemaVersion appends a new schema_history entry.
func (x *Index) RecordSchemaVersion(ctx context.Context, hash, yamlText string) error {
	_, err := x.db.ExecContext(ctx, `INSERT INTO schema_history (hash, schema_yaml, applied_at) VALUES (?, ?, ?)`,
		hash, yamlText, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return grounddb.Wrap(grounddb.IndexErr, err, "record schema_history")
	}
	return nil
}

// --- migrations ---

// RecordMigration appends a migrations entry.
func (x *Index) RecordMigration(ctx context.Context, fromVer, toVer, kind string, payload interface{}, status string) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return grounddb.Wrap(grounddb.InternalErr, err, "marshal migration payload")
	}
	_, err = x.db.ExecContext(ctx, `
		INSERT INTO migrations (schema_version_from, schema_version_to, kind, payload_json, applied_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, fromVer, toVer, kind, string(payloadJSON), time.Now().Format(time.RFC3339Nano), status)
	if err != nil {
		return grounddb.Wrap(grounddb.IndexErr, err, "record migration")
	}
	return nil
}

// --- view_data / view_metadata ---

// StoreViewRows replaces the buffered rows for a view.
func (x *Index) StoreViewRows(ctx context.Context, viewName string, rows []map[string]interface{}) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return grounddb.Wrap(grounddb.IndexErr, err, "begin view_data tx")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM view_data WHERE view_name = ?`, viewName); err != nil {
		return grounddb.Wrap(grounddb.IndexErr, err, "clear view_data for %s", viewName)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO view_data (view_name, row_index, row_json) VALUES (?, ?, ?)`)
	if err != nil {
		return grounddb.Wrap(grounddb.IndexErr, err, "prepare view_data insert")
	}
	defer stmt.Close()
	for i, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return grounddb.Wrap(grounddb.InternalErr, err, "marshal view row")
		}
		if _, err := stmt.ExecContext(ctx, viewName, i, string(b)); err != nil {
			return grounddb.Wrap(grounddb.IndexErr, err, "insert view_data row %d", i)
		}
	}
	return tx.Commit()
}

// GetViewRows returns the buffered rows for a view in row_index order.
func (x *Index) GetViewRows(ctx context.Context, viewName string) ([]map[string]interface{}, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT row_json FROM view_data WHERE view_name = ? ORDER BY row_index`, viewName)
	if err != nil {
		return nil, grounddb.Wrap(grounddb.IndexErr, err, "read view_data for %s", viewName)
	}
	defer rows.Close()
	var out []map[string]interface{}
	for rows.Next() {
		var rowJSON string
		if err := rows.Scan(&rowJSON); err != nil {
			return nil, grounddb.Wrap(grounddb.IndexErr, err, "scan view_data row")
		}
		m := map[string]interface{}{}
		if err := json.Unmarshal([]byte(rowJSON), &m); err != nil {
			return nil, grounddb.Wrap(grounddb.IndexErr, err, "unmarshal view row")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetViewMetadata records a successful rebuild.
func (x *Index) SetViewMetadata(ctx context.Context, viewName, sourceHash string) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO view_metadata (view_name, last_built_at, source_hash, last_error) VALUES (?, ?, ?, '')
		ON CONFLICT(view_name) DO UPDATE SET last_built_at = excluded.last_built_at, source_hash = excluded.source_hash, last_error = ''
	`, viewName, time.Now().Format(time.RFC3339Nano), sourceHash)
	if err != nil {
		return grounddb.Wrap(grounddb.IndexErr, err, "set view_metadata for %s", viewName)
	}
	return nil
}

// SetViewError records a failed rebuild without touching the previous
// view data, per spec §7: "one broken view cannot break reads of others".
func (x *Index) SetViewError(ctx context.Context, viewName string, buildErr error) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO view_metadata (view_name, last_built_at, source_hash, last_error) VALUES (?, ?, '', ?)
		ON CONFLICT(view_name) DO UPDATE SET last_error = excluded.last_error
	`, viewName, time.Now().Format(time.RFC3339Nano), buildErr.Error())
	if err != nil {
		return grounddb.Wrap(grounddb.IndexErr, err, "set view_metadata error for %s", viewName)
	}
	return nil
}

// --- directory_hashes ---

// GetDirectoryHash returns the last recorded hash for a collection's tree.
func (x *Index) GetDirectoryHash(ctx context.Context, collection string) (string, bool, error) {
	var hash string
	err := x.db.QueryRowContext(ctx, `SELECT hash FROM directory_hashes WHERE collection = ?`, collection).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, grounddb.Wrap(grounddb.IndexErr, err, "read directory_hashes for %s", collection)
	}
	return hash, true, nil
}

// SetDirectoryHash upserts the recorded hash for a collection's tree.
func (x *Index) SetDirectoryHash(ctx context.Context, collection, hash string) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO directory_hashes (collection, hash) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET hash = excluded.hash
	`, collection, hash)
	if err != nil {
		return grounddb.Wrap(grounddb.IndexErr, err, "set directory_hashes for %s", collection)
	}
	return nil
}
