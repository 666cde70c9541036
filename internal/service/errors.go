package service

import "errors"

var (
	ErrProviderFailed = errors.New("provider request failed")
	ErrNotFound       = errors.New("not found")
)

// ValidationError reports a caller mistake. Handlers answer it with 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
