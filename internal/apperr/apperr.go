// Package apperr holds error types shared by the workflows and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports a rejected input before any side effect happened.
// Message is safe to show to the customer.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Validation returns a *ValidationError.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// AsValidation unwraps err into a *ValidationError when possible.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
