package fhir

import "strings"

// ReferenceID returns the id part of a reference string.
//
//	"Patient/p1"                 -> "p1"
//	"http://x/fhir/Patient/p1"   -> "p1"
//	"Patient/p1/_history/3"      -> "p1"
//	"urn:uuid:0b1c..."           -> "0b1c..."
//	"p1"                         -> "p1"
//	""                           -> ""
func ReferenceID(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if i := strings.Index(ref, "/_history/"); i >= 0 {
		ref = ref[:i]
	}
	if rest, ok := strings.CutPrefix(ref, "urn:uuid:"); ok {
		return rest
	}
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// subjectID resolves the person id of a medication from its subject
// reference, then from any fallbacks, in order.
func subjectID(subject *Reference, fallbacks ...Text) string {
	if subject != nil {
		if id := ReferenceID(string(subject.Reference)); id != "" {
			return id
		}
	}
	for _, f := range fallbacks {
		if id := ReferenceID(string(f)); id != "" {
			return id
		}
	}
	return ""
}
