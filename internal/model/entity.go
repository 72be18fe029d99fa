// Package model holds the normalized relational shapes produced by a refine run.
//
// The types here carry no behavior beyond default-value rules: optional
// collections are always empty slices (never nil) and optional strings are
// always "" so downstream code never branches on null vs empty.
package model

// UnknownPersonID is the person_id written for medications whose subject
// reference cannot be resolved. Reporting code may compare against it to find
// unresolved references.
const UnknownPersonID = "unknown"

// Canonical resource_kind values.
const (
	PersonResourceKind     = "Patient"
	MedicationResourceKind = "MedicationKnowledge"
)

// EntityType distinguishes the two entity tables.
type EntityType string

const (
	EntityPerson     EntityType = "person"
	EntityMedication EntityType = "medication"
)

// Entity is a normalized record ready for persistence.
type Entity interface {
	EntityType() EntityType
	EntityID() string
}

// Key is the identity used for deduplication within a run.
type Key struct {
	Type EntityType
	ID   string
}

// KeyOf returns the identity of e.
func KeyOf(e Entity) Key {
	return Key{Type: e.EntityType(), ID: e.EntityID()}
}

func (k Key) String() string { return string(k.Type) + "/" + k.ID }

// NameEntry is one declared name of a person.
type NameEntry struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family"`
	Given  []string `json:"given"`
}

// ContactPoint is one telecom entry of a person.
type ContactPoint struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

// Person is one row of the person table.
type Person struct {
	ID            string
	ResourceKind  string
	FamilyName    string
	GivenNames    []NameEntry
	ContactPoints []ContactPoint
}

func (p Person) EntityType() EntityType { return EntityPerson }
func (p Person) EntityID() string       { return p.ID }

// NewPerson builds a Person with default-value rules applied.
func NewPerson(id string, names []NameEntry, contacts []ContactPoint) Person {
	p := Person{
		ID:            id,
		ResourceKind:  PersonResourceKind,
		GivenNames:    make([]NameEntry, 0, len(names)),
		ContactPoints: make([]ContactPoint, 0, len(contacts)),
	}
	for _, n := range names {
		if n.Given == nil {
			n.Given = []string{}
		}
		p.GivenNames = append(p.GivenNames, n)
	}
	p.ContactPoints = append(p.ContactPoints, contacts...)
	if len(p.GivenNames) > 0 {
		p.FamilyName = p.GivenNames[0].Family
	}
	return p
}

// Medication is one row of the medication table.
type Medication struct {
	ID           string
	PersonID     string
	ResourceKind string
	Code         string
	Display      string
	System       string
	Text         string
}

func (m Medication) EntityType() EntityType { return EntityMedication }
func (m Medication) EntityID() string       { return m.ID }

// NewMedication builds a Medication, defaulting an empty personID to
// UnknownPersonID.
func NewMedication(id, personID, code, display, system, text string) Medication {
	if personID == "" {
		personID = UnknownPersonID
	}
	return Medication{
		ID:           id,
		PersonID:     personID,
		ResourceKind: MedicationResourceKind,
		Code:         code,
		Display:      display,
		System:       system,
		Text:         text,
	}
}

// Split partitions entities by type, preserving order.
func Split(entities []Entity) (persons []Person, medications []Medication) {
	persons = []Person{}
	medications = []Medication{}
	for _, e := range entities {
		switch v := e.(type) {
		case Person:
			persons = append(persons, v)
		case *Person:
			persons = append(persons, *v)
		case Medication:
			medications = append(medications, v)
		case *Medication:
			medications = append(medications, *v)
		}
	}
	return persons, medications
}
