package schema_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"fhiretl/internal/model"
	"fhiretl/internal/persist"
	"fhiretl/internal/schema"
	_ "fhiretl/internal/storage/sqlite"
)

func TestDescribe_Defaults(t *testing.T) {
	t.Parallel()

	m := schema.Describe(schema.Options{})
	if m.Name != schema.DefaultName || m.Version != schema.DefaultVersion || m.Dialect != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", m)
	}

	m = schema.Describe(schema.Options{Name: "n", Version: "2", Description: "d", Dialect: "postgres"})
	if m.Name != "n" || m.Version != "2" || m.Description != "d" || m.Dialect != "postgres" {
		t.Fatalf("options not applied: %+v", m)
	}
}

func TestDescribe_ForeignKeyAndRelationship(t *testing.T) {
	t.Parallel()

	m := schema.Describe(schema.Options{})
	med, ok := m.Table("medication")
	if !ok {
		t.Fatalf("medication table missing")
	}
	var fk string
	for _, c := range med.Columns {
		if c.Name == "person_id" {
			fk = c.ForeignKey
		}
	}
	if fk != "person.id" {
		t.Fatalf("person_id foreign key = %q, want person.id", fk)
	}

	if len(m.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(m.Relationships))
	}
	r := m.Relationships[0]
	if r.Name != "person_medications" || r.SourceTable != "person" || r.SourceColumn != "id" ||
		r.TargetTable != "medication" || r.TargetColumn != "person_id" || r.Type != "one-to-many" {
		t.Fatalf("unexpected relationship: %+v", r)
	}
}

func TestManifest_JSONFieldNames(t *testing.T) {
	t.Parallel()

	b, err := schema.Describe(schema.Options{}).MarshalIndent()
	if err != nil {
		t.Fatalf("MarshalIndent: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"name", "version", "description", "dialect", "tables", "relationships"} {
		if _, ok := doc[k]; !ok {
			t.Fatalf("manifest missing %q", k)
		}
	}
	col := doc["tables"].([]any)[0].(map[string]any)["columns"].([]any)[0].(map[string]any)
	if col["primary_key"] != true || col["nullable"] != false {
		t.Fatalf("unexpected id column document: %v", col)
	}
}

type pragmaColumn struct {
	name    string
	typ     string
	notNull bool
	pk      bool
}

func tableInfo(t *testing.T, db *sql.DB, table string) []pragmaColumn {
	t.Helper()
	rows, err := db.Query(`SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		t.Fatalf("table_info(%s): %v", table, err)
	}
	defer rows.Close()

	var out []pragmaColumn
	for rows.Next() {
		var c pragmaColumn
		var notNull, pk int
		if err := rows.Scan(&c.name, &c.typ, &notNull, &pk); err != nil {
			t.Fatalf("scan: %v", err)
		}
		c.notNull, c.pk = notNull == 1, pk > 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return out
}

// The manifest must describe exactly what the writer created.
func TestDescribe_MatchesWrittenSQLiteStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db.libsql")
	w := persist.New(persist.Config{Kind: "sqlite", DSN: path}, nil)
	if _, err := w.Write(context.Background(), []model.Entity{model.NewPerson("p1", nil, nil)}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	m := schema.Describe(schema.Options{})
	for _, table := range m.Tables {
		got := tableInfo(t, db, table.Name)
		if len(got) != len(table.Columns) {
			t.Fatalf("%s: store has %d columns, manifest %d", table.Name, len(got), len(table.Columns))
		}
		for i, c := range table.Columns {
			g := got[i]
			if g.name != c.Name || g.typ != c.Type || g.notNull == c.Nullable || g.pk != c.PrimaryKey {
				t.Fatalf("%s column %d: store %+v, manifest %+v", table.Name, i, g, c)
			}
		}
	}

	var refTable, from, to string
	err = db.QueryRow(`SELECT "table", "from", "to" FROM pragma_foreign_key_list('medication')`).Scan(&refTable, &from, &to)
	if err != nil {
		t.Fatalf("foreign_key_list: %v", err)
	}
	rel := m.Relationships[0]
	if refTable != rel.SourceTable || to != rel.SourceColumn || from != rel.TargetColumn {
		t.Fatalf("store foreign key %s(%s) <- %s does not match %+v", refTable, to, from, rel)
	}
}
