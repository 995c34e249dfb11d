package expense

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures so callers can tell "try again"
// apart from "enter manually"
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	PayloadTooLarge
	UnsupportedFormat
	ExtractionFailed
	ExtractionTimeout
	IncompleteExtraction
	AlreadyDecided
	InvalidDraft
	// DuplicateSourceRef is informational; materialization resolves it to
	// the existing expense.
	DuplicateSourceRef
)

var kindNames = map[ErrorKind]string{
	KindUnknown:          "unknown",
	PayloadTooLarge:      "payload too large",
	UnsupportedFormat:    "unsupported format",
	ExtractionFailed:     "extraction failed",
	ExtractionTimeout:    "extraction timeout",
	IncompleteExtraction: "incomplete extraction",
	AlreadyDecided:       "already decided",
	InvalidDraft:         "invalid draft",
	DuplicateSourceRef:   "duplicate source ref",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error type returned by every pipeline component
type Error struct {
	Kind  ErrorKind
	Field string
	// Message is safe to show to the end user
	Message string
	// Diagnostic carries upstream context such as raw model output. It is
	// logged, never shown to the user.
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, and the same field when the
// target names one
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

// UserMessage returns text suitable for display
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}

// Sentinels for errors.Is
var (
	ErrPayloadTooLarge      = &Error{Kind: PayloadTooLarge}
	ErrUnsupportedFormat    = &Error{Kind: UnsupportedFormat}
	ErrExtractionFailed     = &Error{Kind: ExtractionFailed}
	ErrExtractionTimeout    = &Error{Kind: ExtractionTimeout}
	ErrIncompleteExtraction = &Error{Kind: IncompleteExtraction}
	ErrAlreadyDecided       = &Error{Kind: AlreadyDecided}
	ErrInvalidDraft         = &Error{Kind: InvalidDraft}
)

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsAlreadyDecided reports whether a triage call found the transaction
// already decided. Callers retrying after a dropped response treat this as
// success.
func IsAlreadyDecided(err error) bool {
	return errors.Is(err, ErrAlreadyDecided)
}

// InvalidDraftError builds an InvalidDraft error for one field
func InvalidDraftError(field, message string) *Error {
	return &Error{Kind: InvalidDraft, Field: field, Message: message}
}
