package mssql

import (
	"strings"
	"testing"

	"fhiretl/internal/storage"
)

func TestMssqlColumnDef_TableDriven(t *testing.T) {
	t.Parallel()

	notNull := false
	tests := []struct {
		name    string
		col     storage.ColumnSpec
		want    string
		wantErr bool
	}{
		{
			name: "primary_key_is_indexable",
			col:  storage.ColumnSpec{Name: "id", Type: "TEXT", PrimaryKey: true},
			want: "[id] NVARCHAR(450) NOT NULL PRIMARY KEY",
		},
		{
			name: "foreign_key_is_indexable",
			col:  storage.ColumnSpec{Name: "person_id", Type: "TEXT", Nullable: &notNull, References: &storage.ForeignKeySpec{Table: "person", Column: "id"}},
			want: "[person_id] NVARCHAR(450) NOT NULL",
		},
		{
			name: "plain_text",
			col:  storage.ColumnSpec{Name: "display", Type: "TEXT", Nullable: &notNull},
			want: "[display] NVARCHAR(MAX) NOT NULL",
		},
		{
			name: "nullable_json",
			col:  storage.ColumnSpec{Name: "contact_points", Type: "JSON"},
			want: "[contact_points] NVARCHAR(MAX) CHECK (ISJSON([contact_points]) = 1)",
		},
		{
			name:    "unsupported",
			col:     storage.ColumnSpec{Name: "x", Type: "BLOB"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := mssqlColumnDef(tt.col)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestBuildCreateTableSQL_NoInlineReferences(t *testing.T) {
	t.Parallel()

	med, _ := storage.Lookup(storage.Tables(), storage.MedicationTable)
	q, err := buildCreateTableSQL(med)
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	if !strings.HasPrefix(q, "CREATE TABLE [medication] (") {
		t.Fatalf("unexpected DDL: %s", q)
	}
	if strings.Contains(q, "REFERENCES") {
		t.Fatalf("foreign keys are added after inserts, not inline: %s", q)
	}
}

func TestBuildAddForeignKeySQL_WithNoCheck(t *testing.T) {
	t.Parallel()

	med, _ := storage.Lookup(storage.Tables(), storage.MedicationTable)
	got := buildAddForeignKeySQL(med.Name, med.ForeignKeys()[0])
	want := "ALTER TABLE [medication] WITH NOCHECK ADD CONSTRAINT [fk_medication_person_id] FOREIGN KEY ([person_id]) REFERENCES [person] ([id]);"
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestBuildBulkInsertSQL(t *testing.T) {
	t.Parallel()

	q, args := buildBulkInsertSQL("dbo.person", []string{"id", "family_name"}, [][]any{{"p1", "A"}, {"p2", "B"}})
	want := "INSERT INTO [dbo].[person] ([id], [family_name]) VALUES (@p1, @p2), (@p3, @p4)"
	if q != want {
		t.Fatalf("got %q want %q", q, want)
	}
	if len(args) != 4 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestBuildDropTableSQL(t *testing.T) {
	t.Parallel()

	want := "IF OBJECT_ID(N'person', N'U') IS NOT NULL DROP TABLE [person];"
	if got := buildDropTableSQL("person"); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestChunking_StaysUnderParameterLimit(t *testing.T) {
	t.Parallel()

	cols := storage.Tables()[1].ColumnNames()
	rows := make([][]any, 1000)
	for i := range rows {
		rows[i] = make([]any, len(cols))
	}
	for _, b := range storage.ChunkRows(rows, len(cols), maxParams) {
		if len(b)*len(cols) > 2100 {
			t.Fatalf("batch of %d rows exceeds SQL Server parameter limit", len(b))
		}
	}
}
