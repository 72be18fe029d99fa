// Package sqlite is the default storage backend: a single SQLite file
// (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"fhiretl/internal/storage"
)

// maxParams stays under SQLITE_MAX_VARIABLE_NUMBER (32766).
const maxParams = 32000

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - Foreign keys are declared inline. Enforcement is switched off on the
//     connection, so a medication may reference a person that is not stored.
//   - The pool is limited to one connection; PRAGMAs are per connection and
//     there is a single writer anyway.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens (and with cfg.Recreate, first deletes) the SQLite file at cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	path := FilePath(cfg.DSN)
	if path != "" {
		if cfg.Recreate {
			if err := removeStore(path); err != nil {
				return nil, err
			}
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: create dir %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: disable foreign keys: %w", err)
	}
	return &Repo{db: db}, nil
}

// FilePath extracts the database file path from a DSN. It returns "" for
// in-memory databases.
//
// Examples:
//
//	"out/db.libsql"                  -> "out/db.libsql"
//	"file:out/db.libsql?_pragma=..." -> "out/db.libsql"
//	":memory:"                       -> ""
func FilePath(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	if dsn == ":memory:" {
		return ""
	}
	return dsn
}

// removeStore deletes the database file and its journal siblings.
func removeStore(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("sqlite: remove %s: %w", p, err)
		}
	}
	return nil
}

func (r *Repo) Close() error { return r.db.Close() }

// DropTables drops tables in reverse order so children go first.
func (r *Repo) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		q := "DROP TABLE IF EXISTS " + sqlIdent(tables[i].Name)
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: drop table %s: %w", tables[i].Name, err)
		}
	}
	return nil
}

func (r *Repo) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx implements storage.Tx over a database/sql transaction. SQLite DDL is
// transactional, so a rollback also discards created tables.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) CreateTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, spec := range tables {
		q, err := buildCreateTableSQL(spec)
		if err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", spec.Name, err)
		}
	}
	return nil
}

func (t *Tx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.CheckRows(table, columns, rows); err != nil {
		return 0, err
	}

	var total int64
	for _, batch := range storage.ChunkRows(rows, len(columns), maxParams) {
		q, args := buildInsertSQL(table, columns, batch)
		res, err := t.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("sqlite: insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// AddForeignKeys is a no-op: SQLite cannot add constraints after creation,
// so they are declared inline by CreateTables.
func (t *Tx) AddForeignKeys(context.Context, []storage.TableSpec) error { return nil }

func (t *Tx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *Tx) Rollback(context.Context) error { return t.tx.Rollback() }

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// buildCreateTableSQL renders CREATE TABLE for t. Logical types are used
// verbatim as declared types, so PRAGMA table_info reports them unchanged.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("sqlite: table %s has no columns", t.Name)
	}

	parts := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Type) == "" {
			return "", fmt.Errorf("sqlite: table %s: column name/type must be set", t.Name)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), c.Type)
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		if c.PrimaryKey {
			col += " PRIMARY KEY"
		}
		if ref := c.References; ref != nil {
			col += fmt.Sprintf(" REFERENCES %s (%s)", sqlIdent(ref.Table), sqlIdent(ref.Column))
		}
		parts = append(parts, col)
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

// buildInsertSQL builds one multi-row INSERT with ? placeholders.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}
