package contact

import (
	"errors"
	"strings"
)

// ErrNotConfigured is returned when the relay secrets are missing. It is
// reported before any network I/O is attempted.
var ErrNotConfigured = errors.New("email service not configured")

// ValidationError reports every field of a submission that failed validation.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields.Fields() {
		parts = append(parts, f+": "+e.Fields[f])
	}
	return "invalid form data: " + strings.Join(parts, "; ")
}

// Step identifies which of the two sends of a dispatch failed.
type Step string

const (
	StepNotification Step = "notification"
	StepConfirmation Step = "confirmation"
)

// DispatchError wraps a relay failure. A confirmation failure is still a
// failed dispatch even though the owner notification was delivered.
type DispatchError struct {
	Step Step
	Err  error
}

// Error returns the underlying relay message so it can be surfaced as detail.
func (e *DispatchError) Error() string {
	if e.Err == nil {
		return string(e.Step) + " send failed"
	}
	return e.Err.Error()
}

func (e *DispatchError) Unwrap() error { return e.Err }

// IsPartial reports whether the owner notification went out before the
// failure.
func (e *DispatchError) IsPartial() bool {
	return e.Step == StepConfirmation
}
