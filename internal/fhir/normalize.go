package fhir

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"fhiretl/internal/model"
)

// Logger is the minimal logging interface used by the normalizer.
// *log.Logger and zerolog.Logger satisfy this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// DiagnosticKind classifies a non-fatal normalization event.
type DiagnosticKind string

const (
	// DiagUnsupportedKind: the resource kind is not recognized; it yields nothing.
	DiagUnsupportedKind DiagnosticKind = "unsupported_kind"

	// DiagMalformedEntry: a bundle entry has no embedded object resource.
	DiagMalformedEntry DiagnosticKind = "malformed_entry"

	// DiagInvalidResource: a resource nested in a bundle failed validation.
	// Err carries the *RequiredFieldError or *DecodeError.
	DiagInvalidResource DiagnosticKind = "invalid_resource"

	// DiagDepthExceeded: bundles nested deeper than MaxBundleDepth.
	DiagDepthExceeded DiagnosticKind = "depth_exceeded"
)

// MaxBundleDepth bounds bundle-in-bundle recursion.
const MaxBundleDepth = 32

// Diagnostic describes a skipped resource or entry.
type Diagnostic struct {
	Kind DiagnosticKind

	// ResourceKind and ResourceID identify the skipped resource when known.
	ResourceKind string
	ResourceID   string

	// Path locates the item, e.g. "Bundle/b1.entry[2]". Empty for top-level.
	Path string

	Message string
	Err     error
}

func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(string(d.Kind))
	if d.Path != "" {
		b.WriteString(" path=")
		b.WriteString(d.Path)
	}
	if d.ResourceKind != "" || d.ResourceID != "" {
		fmt.Fprintf(&b, " resource=%s/%s", d.ResourceKind, d.ResourceID)
	}
	if d.Message != "" {
		b.WriteString(" msg=")
		b.WriteString(d.Message)
	}
	return b.String()
}

// Normalizer turns decoded resources into entities.
//
// A Normalizer is not safe for concurrent use when OnDiagnostic is not.
type Normalizer struct {
	Logger Logger

	// OnDiagnostic, when set, receives every non-fatal event.
	OnDiagnostic func(Diagnostic)
}

// Normalize classifies raw and returns the entities it yields: zero for
// unsupported kinds, one for entity shapes, any number for bundles.
//
// Errors:
//   - *RequiredFieldError when an entity shape misses a required field.
//   - *DecodeError when raw is not an object or has mistyped fields.
//
// Failures of resources nested in a bundle are reported as DiagInvalidResource
// diagnostics; the bundle itself still succeeds with the remaining entries.
func (n *Normalizer) Normalize(raw json.RawMessage) ([]model.Entity, error) {
	r, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return n.NormalizeResource(r)
}

// NormalizeResource is Normalize for an already decoded resource.
func (n *Normalizer) NormalizeResource(r Resource) ([]model.Entity, error) {
	return n.normalize(r, "", 0)
}

func (n *Normalizer) normalize(r Resource, path string, depth int) ([]model.Entity, error) {
	switch v := r.(type) {
	case *Bundle:
		return n.unwrap(v, path, depth), nil
	case *Patient:
		p, err := normalizePatient(v)
		if err != nil {
			return nil, err
		}
		return []model.Entity{p}, nil
	case *MedicationKnowledge:
		m, err := normalizeMedicationKnowledge(v)
		if err != nil {
			return nil, err
		}
		return []model.Entity{m}, nil
	case *MedicationStatement:
		m, err := normalizeMedicationStatement(v)
		if err != nil {
			return nil, err
		}
		return []model.Entity{m}, nil
	case *Unsupported:
		n.emit(Diagnostic{
			Kind:         DiagUnsupportedKind,
			ResourceKind: v.Tag,
			ResourceID:   v.ID,
			Path:         path,
			Message:      fmt.Sprintf("unsupported resource type %q", v.Tag),
		})
		return nil, nil
	default:
		return nil, fmt.Errorf("fhir: unhandled resource variant %T", r)
	}
}

// unwrap normalizes every entry of b in order. Entries that cannot be used are
// reported and skipped.
func (n *Normalizer) unwrap(b *Bundle, path string, depth int) []model.Entity {
	base := path
	if base == "" {
		base = "Bundle/" + string(b.ID)
	}
	if depth >= MaxBundleDepth {
		n.emit(Diagnostic{
			Kind:         DiagDepthExceeded,
			ResourceKind: string(KindBundle),
			ResourceID:   string(b.ID),
			Path:         base,
			Message:      fmt.Sprintf("bundle nesting exceeds %d levels", MaxBundleDepth),
		})
		return nil
	}

	var out []model.Entity
	for i, rawEntry := range b.Entry {
		entryPath := fmt.Sprintf("%s.entry[%d]", base, i)

		if !IsObject(rawEntry) {
			n.emit(Diagnostic{Kind: DiagMalformedEntry, Path: entryPath, Message: "entry is " + jsonKind(rawEntry)})
			continue
		}
		var entry BundleEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			n.emit(Diagnostic{Kind: DiagMalformedEntry, Path: entryPath, Message: err.Error(), Err: err})
			continue
		}
		if len(entry.Resource) == 0 || !IsObject(entry.Resource) {
			msg := "missing resource"
			if len(entry.Resource) > 0 {
				msg = "resource is " + jsonKind(entry.Resource)
			}
			n.emit(Diagnostic{Kind: DiagMalformedEntry, Path: entryPath, Message: msg})
			continue
		}

		r, err := Decode(entry.Resource)
		if err == nil {
			var ents []model.Entity
			ents, err = n.normalize(r, entryPath, depth+1)
			out = append(out, ents...)
		}
		if err != nil {
			d := Diagnostic{Kind: DiagInvalidResource, Path: entryPath, Message: err.Error(), Err: err}
			var rf *RequiredFieldError
			var de *DecodeError
			switch {
			case errors.As(err, &rf):
				d.ResourceKind, d.ResourceID = string(rf.Kind), rf.ID
			case errors.As(err, &de):
				d.ResourceKind, d.ResourceID = string(de.Kind), de.ID
			}
			n.emit(d)
		}
	}
	return out
}

func (n *Normalizer) emit(d Diagnostic) {
	n.logf("normalize: %s", d)
	if n.OnDiagnostic != nil {
		n.OnDiagnostic(d)
	}
}

func (n *Normalizer) logf(format string, v ...any) {
	if n.Logger != nil {
		n.Logger.Printf(format, v...)
	}
}

func normalizePatient(p *Patient) (model.Person, error) {
	if p.ID == "" {
		return model.Person{}, &RequiredFieldError{Kind: KindPatient, Field: "id"}
	}

	names := make([]model.NameEntry, 0, len(p.Name))
	for _, hn := range p.Name {
		if hn == nil {
			continue
		}
		given := make([]string, 0, len(hn.Given))
		for _, g := range hn.Given {
			if g != nil {
				given = append(given, nfc(*g))
			}
		}
		names = append(names, model.NameEntry{
			Use:    string(hn.Use),
			Family: nfc(hn.Family),
			Given:  given,
		})
	}
	if len(names) == 0 {
		return model.Person{}, &RequiredFieldError{Kind: KindPatient, ID: string(p.ID), Field: "name"}
	}

	contacts := make([]model.ContactPoint, 0, len(p.Telecom))
	for _, cp := range p.Telecom {
		if cp == nil {
			continue
		}
		contacts = append(contacts, model.ContactPoint{System: string(cp.System), Value: string(cp.Value)})
	}

	return model.NewPerson(string(p.ID), names, contacts), nil
}

func normalizeMedicationKnowledge(m *MedicationKnowledge) (model.Medication, error) {
	if m.ID == "" {
		return model.Medication{}, &RequiredFieldError{Kind: KindMedicationKnowledge, Field: "id"}
	}
	first := m.Code.first()
	if first == nil {
		return model.Medication{}, &RequiredFieldError{Kind: KindMedicationKnowledge, ID: string(m.ID), Field: "code.coding"}
	}
	return model.NewMedication(
		string(m.ID),
		subjectID(m.Subject, m.PatientID),
		string(first.Code),
		string(first.Display),
		string(first.System),
		string(m.Code.Text),
	), nil
}

func normalizeMedicationStatement(m *MedicationStatement) (model.Medication, error) {
	if m.ID == "" {
		return model.Medication{}, &RequiredFieldError{Kind: KindMedicationStatement, Field: "id"}
	}
	var code, display, system, text string
	if c := m.MedicationCodeableConcept; c != nil {
		text = string(c.Text)
		if first := c.first(); first != nil {
			code, display, system = string(first.Code), string(first.Display), string(first.System)
		}
	}
	return model.NewMedication(string(m.ID), subjectID(m.Subject), code, display, system, text), nil
}

// nfc returns the NFC form of a human-readable name part. Codes and ids are
// never passed through here.
func nfc(t Text) string {
	return norm.NFC.String(string(t))
}
