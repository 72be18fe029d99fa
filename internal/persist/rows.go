package persist

import (
	"encoding/json"
	"fmt"

	"fhiretl/internal/model"
	"fhiretl/internal/storage"
)

// record maps column name to value for one row.
type record map[string]any

func personRecord(p model.Person) (record, error) {
	names := p.GivenNames
	if names == nil {
		names = []model.NameEntry{}
	}
	contacts := p.ContactPoints
	if contacts == nil {
		contacts = []model.ContactPoint{}
	}

	given, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("person %s: encode given_names: %w", p.ID, err)
	}
	cp, err := json.Marshal(contacts)
	if err != nil {
		return nil, fmt.Errorf("person %s: encode contact_points: %w", p.ID, err)
	}

	kind := p.ResourceKind
	if kind == "" {
		kind = model.PersonResourceKind
	}
	return record{
		"id":             p.ID,
		"resource_kind":  kind,
		"family_name":    p.FamilyName,
		"given_names":    string(given),
		"contact_points": string(cp),
	}, nil
}

func medicationRecord(m model.Medication) record {
	personID := m.PersonID
	if personID == "" {
		personID = model.UnknownPersonID
	}
	kind := m.ResourceKind
	if kind == "" {
		kind = model.MedicationResourceKind
	}
	return record{
		"id":            m.ID,
		"person_id":     personID,
		"resource_kind": kind,
		"code":          m.Code,
		"display":       m.Display,
		"system":        m.System,
		"text":          m.Text,
	}
}

// tableRows lays records out in the column order of t. A column without a
// value, or a value without a column, is an error: the table definitions and
// the entity mapping must agree exactly.
func tableRows(t storage.TableSpec, recs []record) ([]string, [][]any, error) {
	cols := t.ColumnNames()
	rows := make([][]any, 0, len(recs))
	for i, r := range recs {
		if len(r) != len(cols) {
			return nil, nil, fmt.Errorf("%s row %d: %d values for %d columns", t.Name, i, len(r), len(cols))
		}
		row := make([]any, len(cols))
		for j, c := range cols {
			v, ok := r[c]
			if !ok {
				return nil, nil, fmt.Errorf("%s row %d: no value for column %s", t.Name, i, c)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	return cols, rows, nil
}
