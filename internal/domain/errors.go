package domain

import (
	"errors"
	"net/http"
)

// HTTPError defines errors that carry their own HTTP status code. Structured
// domain errors implement it so the handler layer can map them without a
// per-type switch.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("already exists")
	ErrValidation            = errors.New("validation failed")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// ConflictError represents a resource conflict with details about the existing resource
// Implements HTTPError interface for extensible error handling
type ConflictError struct {
	Message      string // Human-readable error message
	ResourceType string // Type of resource (directory, document)
	ResourceID   string // ID of the existing/conflicting resource
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return e.Message
}

// StatusCode implements the HTTPError interface
func (e *ConflictError) StatusCode() int {
	return http.StatusConflict
}

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// DependencyUnavailableError indicates an external collaborator (the search
// index engine) is unreachable. It degrades search-facing operations only;
// tree and document mutations never fail because of it.
type DependencyUnavailableError struct {
	Message    string
	Dependency string // Name of the unavailable dependency (e.g. "search index")
}

// Error implements the error interface
func (e *DependencyUnavailableError) Error() string {
	return e.Message
}

// StatusCode implements the HTTPError interface
func (e *DependencyUnavailableError) StatusCode() int {
	return http.StatusServiceUnavailable
}

// Is allows errors.Is() to match against ErrDependencyUnavailable
func (e *DependencyUnavailableError) Is(target error) bool {
	return target == ErrDependencyUnavailable
}
