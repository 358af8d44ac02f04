package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrJobNotFound is returned when the job record no longer exists
	ErrJobNotFound = errors.New("job not found")

	// ErrJobCancelled is returned to in-flight work once the job has been moved to failed
	ErrJobCancelled = errors.New("job was cancelled")

	// ErrInvalidState is returned for user actions not allowed in the job's current status
	ErrInvalidState = errors.New("operation not allowed in current job state")

	// ErrInvalidTransition is returned when a status change would move the job backwards
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError rejects a malformed submission before any job exists
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProbeError means the metadata lookup for a URL failed
type ProbeError struct {
	URL string
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("failed to probe %s: %v", e.URL, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// FetchError means the fetch subprocess failed, timed out or exited non-zero
type FetchError struct {
	Reason string
	Output string
	Err    error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString(": ")
		b.WriteString(out)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ResourceError means reclamation could not restore enough free space
type ResourceError struct {
	Free      uint64
	Threshold uint64
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("insufficient disk space: %d bytes free, %d required", e.Free, e.Threshold)
}
