package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fhiretl/internal/storage"
)

// maxParams stays under the protocol limit of 65535 bind parameters.
const maxParams = 65000

/*
Repo implements storage.Repository for Postgres.

It provides:
  - DROP / CREATE of the refinement tables
  - Multi-row inserts inside one pgx transaction
  - Foreign keys added after the inserts as NOT VALID, so medications that
    reference absent persons are accepted while the relationship stays
    declared in the catalog
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a Postgres-backed Repo. Recreate is honored by the writer
// through DropTables.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repo) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := r.pool.Exec(ctx, buildDropTableSQL(tables[i].Name)); err != nil {
			return fmt.Errorf("postgres: drop table %s: %w", tables[i].Name, err)
		}
	}
	return nil
}

func (r *Repo) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx implements storage.Tx over a pgx transaction. Postgres DDL is
// transactional.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) CreateTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, spec := range tables {
		q, err := buildCreateTableSQL(spec)
		if err != nil {
			return err
		}
		if _, err := t.tx.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", spec.Name, err)
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
		cmd, err := t.tx.Exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("postgres: insert into %s: %w", table, err)
		}
		total += cmd.RowsAffected()
	}
	return total, nil
}

func (t *Tx) AddForeignKeys(ctx context.Context, tables []storage.TableSpec) error {
	for _, spec := range tables {
		for _, c := range spec.ForeignKeys() {
			if _, err := t.tx.Exec(ctx, buildAddForeignKeySQL(spec.Name, c)); err != nil {
				return fmt.Errorf("postgres: add foreign key %s.%s: %w", spec.Name, c.Name, err)
			}
		}
	}
	return nil
}

func (t *Tx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// pgType maps logical column types to Postgres types.
func pgType(logical string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(logical)) {
	case storage.TypeText:
		return "TEXT", nil
	case storage.TypeJSON:
		return "JSONB", nil
	default:
		return "", fmt.Errorf("postgres: unsupported column type %q", logical)
	}
}

// buildColumnDef renders a single column definition. Foreign keys are not
// rendered here; see buildAddForeignKeySQL.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("postgres: column name must be set")
	}
	typ, err := pgType(c.Type)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", name, err)
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	return b.String(), nil
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("postgres: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("postgres: table %s has no columns", t.Name)
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		d, err := buildColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, d)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", pgIdent(t.Name), strings.Join(defs, ",\n  ")), nil
}

func buildDropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + pgIdent(table) + " CASCADE;"
}

// foreignKeyName is the constraint name shared by the server backends.
func foreignKeyName(table string, c storage.ColumnSpec) string {
	return "fk_" + table + "_" + c.Name
}

// buildAddForeignKeySQL declares c's reference without validating existing
// rows.
func buildAddForeignKeySQL(table string, c storage.ColumnSpec) string {
	return fmt.Sprintf(
		"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) NOT VALID;",
		pgIdent(table),
		pgIdent(foreignKeyName(table, c)),
		pgIdent(c.Name),
		pgIdent(c.References.Table),
		pgIdent(c.References.Column),
	)
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// Why this exists:
//   - It is pure and deterministic, so placeholder numbering can be unit
//     tested without a database.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
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
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}
