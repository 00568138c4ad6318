// Package apperr defines the typed failures surfaced by the analysis pipeline.
// Every stage returns an *Error carrying one Kind; callers match with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	InvalidFormat       Kind = "invalid_format"
	TooLarge            Kind = "too_large"
	ProviderUnavailable Kind = "provider_unavailable"
	ProviderError       Kind = "provider_error"
	EmptyResponse       Kind = "empty_response"
	MalformedJSON       Kind = "malformed_json"
	SchemaViolation     Kind = "schema_violation"
	PersistenceError    Kind = "persistence_error"
	NotFoundOrForbidden Kind = "not_found_or_forbidden"
	Unauthenticated     Kind = "unauthenticated"
)

// Error implements error so a bare Kind can be used as an errors.Is target.
func (k Kind) Error() string {
	return string(k)
}

// Error is a classified failure with a human-readable detail.
type Error struct {
	Kind   Kind
	Detail string
	// Field is the JSON path of the offending value for SchemaViolation.
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Field != "" {
		msg += " (field " + e.Field + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match against another *Error of the same kind or a bare Kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// New returns an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Field returns a SchemaViolation for the JSON path field.
func Field(field, format string, args ...any) *Error {
	return &Error{Kind: SchemaViolation, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FieldOf returns the field path of the first *Error in err's chain.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}
