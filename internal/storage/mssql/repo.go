package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"fhiretl/internal/storage"
)

// maxParams stays under SQL Server's limit of 2100 parameters per request.
const maxParams = 2000

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Type mapping:
//   - TEXT columns that are keys (primary or foreign) become NVARCHAR(450) so
//     they stay indexable; other TEXT columns become NVARCHAR(MAX).
//   - JSON columns become NVARCHAR(MAX) with an ISJSON check.
//
// Foreign keys are added after the inserts WITH NOCHECK, so existing rows that
// reference absent persons are not validated.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New opens a connection pool using the "sqlserver" driver and validates it
// with PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(4)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: raw}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repo) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := r.db.ExecContext(ctx, buildDropTableSQL(tables[i].Name)); err != nil {
			return fmt.Errorf("mssql: drop table %s: %w", tables[i].Name, err)
		}
	}
	return nil
}

func (r *Repo) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mssql: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx implements storage.Tx over a database/sql transaction.
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
			return fmt.Errorf("mssql: create table %s: %w", spec.Name, err)
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
		q, args := buildBulkInsertSQL(table, columns, batch)
		res, err := t.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (t *Tx) AddForeignKeys(ctx context.Context, tables []storage.TableSpec) error {
	for _, spec := range tables {
		for _, c := range spec.ForeignKeys() {
			if _, err := t.tx.ExecContext(ctx, buildAddForeignKeySQL(spec.Name, c)); err != nil {
				return fmt.Errorf("mssql: add foreign key %s.%s: %w", spec.Name, c.Name, err)
			}
		}
	}
	return nil
}

func (t *Tx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *Tx) Rollback(context.Context) error { return t.tx.Rollback() }

// mssqlColumnDef builds a SQL Server column definition from storage.ColumnSpec.
func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}

	var typ string
	switch strings.ToUpper(strings.TrimSpace(c.Type)) {
	case storage.TypeText:
		typ = "NVARCHAR(MAX)"
		if c.PrimaryKey || c.References != nil {
			typ = "NVARCHAR(450)"
		}
	case storage.TypeJSON:
		typ = "NVARCHAR(MAX)"
	default:
		return "", fmt.Errorf("mssql: column %s: unsupported type %q", c.Name, c.Type)
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if strings.EqualFold(c.Type, storage.TypeJSON) {
		b.WriteString(fmt.Sprintf(" CHECK (ISJSON(%s) = 1)", mssqlIdent(c.Name)))
	}
	return b.String(), nil
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", t.Name)
	}
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		d, err := mssqlColumnDef(c)
		if err != nil {
			return "", err
		}
		defs = append(defs, d)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s);", mssqlTableIdent(t.Name), strings.Join(defs, ", ")), nil
}

// buildDropTableSQL wraps DROP TABLE in an OBJECT_ID guard.
func buildDropTableSQL(table string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;",
		strings.ReplaceAll(table, "'", "''"),
		mssqlTableIdent(table),
	)
}

func buildAddForeignKeySQL(table string, c storage.ColumnSpec) string {
	return fmt.Sprintf(
		"ALTER TABLE %s WITH NOCHECK ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s);",
		mssqlTableIdent(table),
		mssqlIdent("fk_"+table+"_"+c.Name),
		mssqlIdent(c.Name),
		mssqlTableIdent(c.References.Table),
		mssqlIdent(c.References.Column),
	)
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("@p%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.person" -> [dbo].[person]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
