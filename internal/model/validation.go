package model

import (
	"fmt"
	"strings"
)

// ValidationErrors accumulates field-level problems so they can be reported together.
type ValidationErrors struct {
	Errors []ValidationError
}

func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "\n")
}

func (ve *ValidationErrors) FormatStderr() string {
	var sb strings.Builder
	for _, e := range ve.Errors {
		fmt.Fprintf(&sb, "error: %s: %s\n", e.Field, e.Message)
	}
	return sb.String()
}

// Unwrap exposes each field error to errors.As.
func (ve *ValidationErrors) Unwrap() []error {
	out := make([]error, len(ve.Errors))
	for i, e := range ve.Errors {
		out[i] = e
	}
	return out
}
