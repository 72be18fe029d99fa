package model

import "testing"

func TestNewPerson_DefaultsAndFamily(t *testing.T) {
	t.Parallel()

	p := NewPerson("p1", []NameEntry{
		{Use: "official", Family: "Smith", Given: []string{"John"}},
		{Family: "Smythe"},
	}, nil)

	if p.FamilyName != "Smith" {
		t.Fatalf("family=%q want Smith", p.FamilyName)
	}
	if p.ResourceKind != PersonResourceKind {
		t.Fatalf("resource kind=%q", p.ResourceKind)
	}
	if p.ContactPoints == nil || len(p.ContactPoints) != 0 {
		t.Fatalf("expected empty non-nil contact points, got %#v", p.ContactPoints)
	}
	if p.GivenNames[1].Given == nil {
		t.Fatalf("expected empty non-nil given list for second name")
	}
}

func TestNewPerson_NoNamesGivesEmptyFamily(t *testing.T) {
	t.Parallel()

	p := NewPerson("p2", nil, nil)
	if p.FamilyName != "" {
		t.Fatalf("family=%q want empty", p.FamilyName)
	}
	if p.GivenNames == nil {
		t.Fatalf("expected non-nil given names")
	}
}

func TestNewMedication_DefaultsPersonID(t *testing.T) {
	t.Parallel()

	m := NewMedication("m1", "", "", "", "", "")
	if m.PersonID != UnknownPersonID {
		t.Fatalf("person_id=%q want %q", m.PersonID, UnknownPersonID)
	}
	if m.ResourceKind != MedicationResourceKind {
		t.Fatalf("resource kind=%q", m.ResourceKind)
	}
}

func TestSplitAndKey(t *testing.T) {
	t.Parallel()

	in := []Entity{
		NewMedication("m1", "p1", "1", "a", "s", ""),
		NewPerson("p1", nil, nil),
		&Medication{ID: "m2"},
	}
	persons, meds := Split(in)
	if len(persons) != 1 || len(meds) != 2 {
		t.Fatalf("split: persons=%d meds=%d", len(persons), len(meds))
	}
	if meds[0].ID != "m1" || meds[1].ID != "m2" {
		t.Fatalf("order not preserved: %#v", meds)
	}
	if got := KeyOf(in[1]).String(); got != "person/p1" {
		t.Fatalf("key=%q", got)
	}
}
