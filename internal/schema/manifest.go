// Package schema describes the written store as a portable manifest document.
//
// The manifest is derived from storage.Tables, the same definitions the
// backends use for DDL, so it cannot drift from what was created.
package schema

import (
	"encoding/json"

	"fhiretl/internal/storage"
)

// Default manifest metadata.
const (
	DefaultName        = "fhir_refinement"
	DefaultVersion     = "0.0.1"
	DefaultDescription = "Normalized FHIR persons and medications"
	DefaultDialect     = "sqlite"
)

// Options are the caller-supplied manifest metadata. Empty fields take the
// defaults above.
type Options struct {
	Name        string
	Version     string
	Description string
	Dialect     string
}

// Manifest is the self-describing schema document.
type Manifest struct {
	Name          string         `json:"name"`
	Version       string         `json:"version"`
	Description   string         `json:"description"`
	Dialect       string         `json:"dialect"`
	Tables        []Table        `json:"tables"`
	Relationships []Relationship `json:"relationships"`
}

type Table struct {
	Name        string   `json:"name"`
	Columns     []Column `json:"columns"`
	Description string   `json:"description,omitempty"`
}

// Column mirrors one storage.ColumnSpec. ForeignKey is "table.column".
type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Nullable    bool   `json:"nullable"`
	PrimaryKey  bool   `json:"primary_key"`
	ForeignKey  string `json:"foreign_key,omitempty"`
	Description string `json:"description,omitempty"`
}

type Relationship struct {
	Name         string `json:"name"`
	SourceTable  string `json:"source_table"`
	TargetTable  string `json:"target_table"`
	SourceColumn string `json:"source_column"`
	TargetColumn string `json:"target_column"`
	Type         string `json:"type"`
}

// Describe builds the manifest for the current table definitions.
func Describe(opts Options) Manifest {
	opts = opts.withDefaults()
	tables := storage.Tables()

	m := Manifest{
		Name:          opts.Name,
		Version:       opts.Version,
		Description:   opts.Description,
		Dialect:       opts.Dialect,
		Tables:        make([]Table, 0, len(tables)),
		Relationships: []Relationship{},
	}
	for _, t := range tables {
		m.Tables = append(m.Tables, describeTable(t))
	}
	for _, r := range storage.Relationships(tables) {
		m.Relationships = append(m.Relationships, Relationship{
			Name:         r.Name,
			SourceTable:  r.SourceTable,
			TargetTable:  r.TargetTable,
			SourceColumn: r.SourceColumn,
			TargetColumn: r.TargetColumn,
			Type:         r.Cardinality,
		})
	}
	return m
}

func describeTable(t storage.TableSpec) Table {
	out := Table{Name: t.Name, Description: t.Description, Columns: make([]Column, 0, len(t.Columns))}
	for _, c := range t.Columns {
		col := Column{
			Name:        c.Name,
			Type:        c.Type,
			Nullable:    c.IsNullable(),
			PrimaryKey:  c.PrimaryKey,
			Description: c.Description,
		}
		if c.References != nil {
			col.ForeignKey = c.References.Table + "." + c.References.Column
		}
		out.Columns = append(out.Columns, col)
	}
	return out
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Version == "" {
		o.Version = DefaultVersion
	}
	if o.Description == "" {
		o.Description = DefaultDescription
	}
	if o.Dialect == "" {
		o.Dialect = DefaultDialect
	}
	return o
}

// Table returns the table named name.
func (m Manifest) Table(name string) (Table, bool) {
	for _, t := range m.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// MarshalIndent renders m the way it is written to schema.json.
func (m Manifest) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(m, "", "    ")
}
