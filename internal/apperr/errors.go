// Package apperr holds the error values shared across catnip packages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("user not authenticated")
	ErrInvalidInput    = errors.New("invalid input")
)

// PlatformError is a failure reported by the external platform.
// Message is the platform's human-readable text and is safe to display.
type PlatformError struct {
	Op      string
	Status  int
	Code    string
	Message string
	// Err optionally classifies the failure, e.g. ErrNotFound.
	Err error
}

func (e *PlatformError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// Message returns the displayable platform text carried by err, if any.
func Message(err error) (string, bool) {
	var pe *PlatformError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message, true
	}
	return "", false
}
