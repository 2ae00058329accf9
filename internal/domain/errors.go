package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
// Implementing this interface keeps the handler error mapping extensible.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrInvalidState indicates an operation that is illegal for the
	// resource's current lifecycle state (e.g. editing content of a
	// merged proposal, resolving a comment back to open).
	ErrInvalidState = errors.New("invalid state")
)

// InvalidStateError reports a lifecycle violation together with the state
// that caused the rejection, so callers know which precondition failed.
type InvalidStateError struct {
	Message string
	State   string
}

func (e *InvalidStateError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s (current state: %s)", e.Message, e.State)
	}
	return e.Message
}

func (e *InvalidStateError) StatusCode() int { return http.StatusBadRequest }

// Is allows errors.Is() to match against ErrInvalidState
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ConflictError represents a resource conflict with details about the existing resource
type ConflictError struct {
	Message      string // Human-readable error message
	ResourceType string // Type of resource (project, proposal, comment)
	ResourceID   string // ID of the existing/conflicting resource
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) StatusCode() int { return http.StatusConflict }

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
