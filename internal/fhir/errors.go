package fhir

import (
	"errors"
	"fmt"
)

var (
	// ErrRequiredField is matched by every *RequiredFieldError.
	ErrRequiredField = errors.New("required field missing")

	// ErrMalformed is matched by every *DecodeError.
	ErrMalformed = errors.New("malformed resource")
)

// RequiredFieldError aborts normalization of one resource.
type RequiredFieldError struct {
	Kind  Kind
	ID    string
	Field string
}

func (e *RequiredFieldError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("fhir: %s: required field %s missing", e.Kind, e.Field)
	}
	return fmt.Sprintf("fhir: %s/%s: required field %s missing", e.Kind, e.ID, e.Field)
}

func (e *RequiredFieldError) Unwrap() error { return ErrRequiredField }

// DecodeError reports a resource that is not a JSON object or whose fields
// have the wrong JSON types for its declared kind.
type DecodeError struct {
	Kind Kind
	ID   string
	Err  error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Kind == "":
		return fmt.Sprintf("fhir: decode resource: %v", e.Err)
	case e.ID == "":
		return fmt.Sprintf("fhir: decode %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("fhir: decode %s/%s: %v", e.Kind, e.ID, e.Err)
	}
}

func (e *DecodeError) Unwrap() []error { return []error{ErrMalformed, e.Err} }
