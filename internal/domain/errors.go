package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompleteResponse means the learner has not supplied enough input to
	// evaluate. The caller re-prompts without touching the attempt record.
	ErrIncompleteResponse = errors.New("incomplete response")
	// ErrPersistence wraps any ledger write that did not durably complete.
	ErrPersistence = errors.New("persistence failure")
	// ErrNotFound is returned when a project, session or interaction is missing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a playback state change is not
	// allowed from the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNoActiveInteraction is returned by submit/skip/hint when nothing is presented.
	ErrNoActiveInteraction = errors.New("no active interaction")
)

// ValidationError reports malformed authoring or import data.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// prefixed returns err with field prefixed when err is a ValidationError.
func prefixed(prefix string, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		field := prefix
		if ve.Field != "" {
			field = prefix + "." + ve.Field
		}
		return &ValidationError{Field: field, Reason: ve.Reason}
	}
	return err
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
