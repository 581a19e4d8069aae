// Package services defines the business logic of the contact-form pipeline.
// This file centralizes the service-level error values and types returned by
// SubmissionService so handlers can translate them into HTTP results.
package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMethodNotAllowed is returned for any verb other than POST on the
	// submission endpoint. It is raised by the transport layer before the
	// service is reached.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
)

// ValidationError lists the required fields that were missing or blank.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// BackupWriteError wraps a failure to write the local submission record.
// It is logged and reported on the Outcome, never returned to callers.
type BackupWriteError struct {
	Err error
}

func (e *BackupWriteError) Error() string { return "backup write failed: " + e.Err.Error() }

func (e *BackupWriteError) Unwrap() error { return e.Err }
