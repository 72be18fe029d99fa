// The TableSpec types live here so the persistence writer, the backends and the
// schema descriptor all read one definition without circular imports.
package storage

// Logical column types. Backends translate them to native types.
const (
	TypeText = "TEXT"
	TypeJSON = "JSON"
)

// Table names.
const (
	PersonTable     = "person"
	MedicationTable = "medication"
)

// TableSpec describes one table.
type TableSpec struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Columns     []ColumnSpec `json:"columns"`
}

// ColumnSpec describes one column. Column order in TableSpec.Columns is the
// order used for DDL, inserts and the manifest.
type ColumnSpec struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Nullable    *bool           `json:"nullable,omitempty"`
	PrimaryKey  bool            `json:"primary_key,omitempty"`
	References  *ForeignKeySpec `json:"references,omitempty"`
	Description string          `json:"description,omitempty"`
}

// IsNullable reports the effective nullability. Primary keys are never
// nullable; other columns default to nullable, mirroring the backends' DDL.
func (c ColumnSpec) IsNullable() bool {
	if c.PrimaryKey {
		return false
	}
	if c.Nullable == nil {
		return true
	}
	return *c.Nullable
}

// ForeignKeySpec points a column at another table's column. Relationship names
// the one-to-many relationship the key realizes.
type ForeignKeySpec struct {
	Table        string `json:"table"`
	Column       string `json:"column"`
	Relationship string `json:"relationship"`
}

// RelationshipSpec is a one-to-many relationship derived from a foreign key.
// Source is the "one" side (the referenced key), Target the "many" side.
type RelationshipSpec struct {
	Name         string `json:"name"`
	SourceTable  string `json:"source_table"`
	SourceColumn string `json:"source_column"`
	TargetTable  string `json:"target_table"`
	TargetColumn string `json:"target_column"`
	Cardinality  string `json:"type"`
}

// CardinalityOneToMany is the only cardinality produced by foreign keys.
const CardinalityOneToMany = "one-to-many"

func notNull() *bool { v := false; return &v }
func nullable() *bool { v := true; return &v }

// Tables returns the authoritative table definitions, parents before
// children. Each call returns a fresh copy.
func Tables() []TableSpec {
	return []TableSpec{
		{
			Name:        PersonTable,
			Description: "One row per unique person (Patient resources).",
			Columns: []ColumnSpec{
				{Name: "id", Type: TypeText, PrimaryKey: true, Nullable: notNull(), Description: "Resource id."},
				{Name: "resource_kind", Type: TypeText, Nullable: notNull(), Description: "Source resource type."},
				{Name: "family_name", Type: TypeText, Nullable: notNull(), Description: "Family name of the first name entry; empty when absent."},
				{Name: "given_names", Type: TypeJSON, Nullable: notNull(), Description: "Ordered name entries {use, family, given[]}."},
				{Name: "contact_points", Type: TypeJSON, Nullable: nullable(), Description: "Ordered contact points {system, value}."},
			},
		},
		{
			Name:        MedicationTable,
			Description: "One row per unique medication (MedicationKnowledge and MedicationStatement resources).",
			Columns: []ColumnSpec{
				{Name: "id", Type: TypeText, PrimaryKey: true, Nullable: notNull(), Description: "Resource id."},
				{
					Name: "person_id", Type: TypeText, Nullable: notNull(),
					References:  &ForeignKeySpec{Table: PersonTable, Column: "id", Relationship: "person_medications"},
					Description: "Referenced person id, or \"unknown\" when unresolved.",
				},
				{Name: "resource_kind", Type: TypeText, Nullable: notNull(), Description: "Canonical medication resource type."},
				{Name: "code", Type: TypeText, Nullable: notNull(), Description: "Code of the first coding."},
				{Name: "display", Type: TypeText, Nullable: notNull(), Description: "Display of the first coding."},
				{Name: "system", Type: TypeText, Nullable: notNull(), Description: "Code system of the first coding."},
				{Name: "text", Type: TypeText, Nullable: notNull(), Description: "Free text of the coded concept."},
			},
		},
	}
}

// Relationships derives the relationships declared by the foreign keys of
// tables, in table then column order.
func Relationships(tables []TableSpec) []RelationshipSpec {
	out := []RelationshipSpec{}
	for _, t := range tables {
		for _, c := range t.Columns {
			if c.References == nil {
				continue
			}
			out = append(out, RelationshipSpec{
				Name:         c.References.Relationship,
				SourceTable:  c.References.Table,
				SourceColumn: c.References.Column,
				TargetTable:  t.Name,
				TargetColumn: c.Name,
				Cardinality:  CardinalityOneToMany,
			})
		}
	}
	return out
}

// ColumnNames returns the column names of t in order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// ForeignKeys returns the columns of t that reference another table.
func (t TableSpec) ForeignKeys() []ColumnSpec {
	var out []ColumnSpec
	for _, c := range t.Columns {
		if c.References != nil {
			out = append(out, c)
		}
	}
	return out
}
