// Package fhir classifies decoded clinical resources and normalizes the
// supported shapes into model entities.
//
// Resources are decoded into a closed set of variants (*Bundle, *Patient,
// *MedicationKnowledge, *MedicationStatement, *Unsupported). Dispatch is by the
// resourceType tag only; field presence never changes the variant.
package fhir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the resourceType tag carried by every resource.
type Kind string

const (
	KindBundle              Kind = "Bundle"
	KindPatient             Kind = "Patient"
	KindMedicationKnowledge Kind = "MedicationKnowledge"
	KindMedicationStatement Kind = "MedicationStatement"
)

// Resource is one decoded resource variant.
type Resource interface {
	Kind() Kind
	ResourceID() string
	isResource()
}

// Text is a JSON scalar kept as its literal text. Numbers and booleans are not
// re-formatted, so a numeric-looking code such as 0012 or 1e3 keeps its spelling.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*t = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
	case '{', '[':
		return fmt.Errorf("expected scalar, got %s", jsonKind(b))
	default:
		*t = Text(b)
	}
	return nil
}

func (t Text) String() string { return string(t) }

// Coding is one (system, code, display) triple.
type Coding struct {
	System  Text `json:"system"`
	Code    Text `json:"code"`
	Display Text `json:"display"`
}

// CodeableConcept is a coded clinical label.
type CodeableConcept struct {
	Coding []*Coding `json:"coding"`
	Text   Text      `json:"text"`
}

// first returns the first non-null coding entry.
func (c *CodeableConcept) first() *Coding {
	if c == nil {
		return nil
	}
	for _, cd := range c.Coding {
		if cd != nil {
			return cd
		}
	}
	return nil
}

// Reference points at another resource ("Patient/123").
type Reference struct {
	Reference Text `json:"reference"`
	Display   Text `json:"display"`
}

// HumanName is one declared name.
type HumanName struct {
	Use    Text    `json:"use"`
	Family Text    `json:"family"`
	Given  []*Text `json:"given"`
}

// ContactPoint is one telecom entry.
type ContactPoint struct {
	System Text `json:"system"`
	Value  Text `json:"value"`
}

// Bundle is a container of entries, each wrapping another resource.
type Bundle struct {
	ID    Text              `json:"id"`
	Type  Text              `json:"type"`
	Entry []json.RawMessage `json:"entry"`
}

// BundleEntry is the envelope of one bundle entry.
type BundleEntry struct {
	FullURL  Text            `json:"fullUrl"`
	Resource json.RawMessage `json:"resource"`
}

// Patient is the demographic shape.
type Patient struct {
	ID      Text            `json:"id"`
	Name    []*HumanName    `json:"name"`
	Telecom []*ContactPoint `json:"telecom"`
}

// MedicationKnowledge is the strict medication shape. The subject is taken
// from subject.reference, falling back to the non-standard patientId field.
type MedicationKnowledge struct {
	ID        Text             `json:"id"`
	Code      *CodeableConcept `json:"code"`
	Subject   *Reference       `json:"subject"`
	PatientID Text             `json:"patientId"`
}

// MedicationStatement is the loose medication shape.
type MedicationStatement struct {
	ID                        Text             `json:"id"`
	Status                    Text             `json:"status"`
	MedicationCodeableConcept *CodeableConcept `json:"medicationCodeableConcept"`
	Subject                   *Reference       `json:"subject"`
}

// Unsupported is any resource whose kind tag is not recognized (including a
// missing tag).
type Unsupported struct {
	Tag string
	ID  string
}

func (*Bundle) Kind() Kind              { return KindBundle }
func (*Patient) Kind() Kind             { return KindPatient }
func (*MedicationKnowledge) Kind() Kind { return KindMedicationKnowledge }
func (*MedicationStatement) Kind() Kind { return KindMedicationStatement }
func (u *Unsupported) Kind() Kind       { return Kind(u.Tag) }

func (r *Bundle) ResourceID() string              { return string(r.ID) }
func (r *Patient) ResourceID() string             { return string(r.ID) }
func (r *MedicationKnowledge) ResourceID() string { return string(r.ID) }
func (r *MedicationStatement) ResourceID() string { return string(r.ID) }
func (r *Unsupported) ResourceID() string         { return r.ID }

func (*Bundle) isResource()              {}
func (*Patient) isResource()             {}
func (*MedicationKnowledge) isResource() {}
func (*MedicationStatement) isResource() {}
func (*Unsupported) isResource()         {}

type header struct {
	ResourceType Text `json:"resourceType"`
	ID           Text `json:"id"`
}

// Decode classifies raw by its resourceType tag and decodes the matching
// variant. A missing or unknown tag yields *Unsupported, not an error.
//
// Errors:
//   - *DecodeError if raw is not a JSON object or a recognized shape has
//     fields of the wrong JSON type.
func Decode(raw json.RawMessage) (Resource, error) {
	if !IsObject(raw) {
		return nil, &DecodeError{Err: fmt.Errorf("expected object, got %s", jsonKind(raw))}
	}

	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, &DecodeError{Err: err}
	}

	var r Resource
	switch Kind(h.ResourceType) {
	case KindBundle:
		r = &Bundle{}
	case KindPatient:
		r = &Patient{}
	case KindMedicationKnowledge:
		r = &MedicationKnowledge{}
	case KindMedicationStatement:
		r = &MedicationStatement{}
	default:
		return &Unsupported{Tag: string(h.ResourceType), ID: string(h.ID)}, nil
	}

	if err := json.Unmarshal(raw, r); err != nil {
		return nil, &DecodeError{Kind: Kind(h.ResourceType), ID: string(h.ID), Err: err}
	}
	return r, nil
}

// IsObject reports whether raw holds a JSON object.
func IsObject(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) > 0 && b[0] == '{'
}

func jsonKind(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return "empty input"
	}
	switch b[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 'n':
		return "null"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}
