package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures by how far they are allowed to propagate.
type Kind string

const (
	// TransientAPI covers network errors, 5xx and 429 from the vendor. The
	// affected window or date is skipped for this pass.
	TransientAPI Kind = "transient_api"
	// MalformedRecord marks a record with missing or invalid identity. The
	// record is dropped and counted.
	MalformedRecord Kind = "malformed_record"
	// ClassificationAmbiguous marks a type no classifier rule matched.
	ClassificationAmbiguous Kind = "classification_ambiguous"
	// Persistence marks a failed upsert.
	Persistence Kind = "persistence"
	// Configuration is the only fatal kind: it aborts a run before any fetch.
	Configuration Kind = "configuration"
)

// Error is a classified error carrying the operation and the identifier it
// concerns (a window, a type id, a row key).
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Op
	if e.ID != "" {
		msg += " [" + e.ID + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, op, id string, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
