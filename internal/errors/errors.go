// Package errors provides structured error types for taskdeck.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for taskdeck.
const (
	// Task errors
	CodeTaskNotFound     Code = "TASK_NOT_FOUND"
	CodeTaskInvalidState Code = "TASK_INVALID_STATE"

	// Comment errors
	CodeCommentNotFound Code = "COMMENT_NOT_FOUND"

	// Storage errors
	CodeStorageFailure Code = "STORAGE_FAILURE"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeConfigMissing Code = "CONFIG_MISSING"

	// Gateway errors
	CodeGatewayUnavailable Code = "GATEWAY_UNAVAILABLE"
	CodeGatewayTimeout     Code = "GATEWAY_TIMEOUT"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeTaskNotFound:       CategoryNotFound,
	CodeTaskInvalidState:   CategoryBadRequest,
	CodeCommentNotFound:    CategoryNotFound,
	CodeStorageFailure:     CategoryInternal,
	CodeConfigInvalid:      CategoryBadRequest,
	CodeConfigMissing:      CategoryBadRequest,
	CodeGatewayUnavailable: CategoryUnavailable,
	CodeGatewayTimeout:     CategoryTimeout,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// DeckError is the structured error type for taskdeck.
type DeckError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *DeckError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *DeckError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *DeckError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *DeckError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *DeckError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *DeckError) MarshalJSON() ([]byte, error) {
	type alias DeckError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a DeckError with the same code.
func (e *DeckError) Is(target error) bool {
	t, ok := target.(*DeckError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *DeckError) WithCause(err error) *DeckError {
	return &DeckError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id string) *DeckError {
	return &DeckError{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %s not found", id),
		Why:  "No task with this ID exists",
		Fix:  "List tasks with 'GET /api/tasks' to find a valid ID",
	}
}

// ErrTaskInvalidState returns an error when a status transition is rejected.
func ErrTaskInvalidState(id, status string) *DeckError {
	return &DeckError{
		Code: CodeTaskInvalidState,
		What: fmt.Sprintf("task %s cannot move to status '%s'", id, status),
		Why:  "The requested status is not a recognized task status",
		Fix:  "Use one of: backlog, todo, in-progress, review, done, blocked, canceled",
	}
}

// ErrCommentNotFound returns an error when a comment doesn't exist.
func ErrCommentNotFound(id string) *DeckError {
	return &DeckError{
		Code: CodeCommentNotFound,
		What: fmt.Sprintf("comment %s not found", id),
		Why:  "No comment with this ID exists",
	}
}

// ErrStorageFailure wraps a storage-layer failure.
func ErrStorageFailure(op string, cause error) *DeckError {
	return &DeckError{
		Code:  CodeStorageFailure,
		What:  fmt.Sprintf("storage operation failed: %s", op),
		Why:   "The database rejected or could not complete the operation",
		Fix:   "Check database connectivity and retry",
		Cause: cause,
	}
}

// ErrConfigInvalid returns an error for a malformed configuration value.
func ErrConfigInvalid(key, reason string) *DeckError {
	return &DeckError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration for %s", key),
		Why:  reason,
		Fix:  fmt.Sprintf("Correct the %s setting in the config file or environment", key),
	}
}

// ErrConfigMissing returns an error for a required but absent setting.
func ErrConfigMissing(key string) *DeckError {
	return &DeckError{
		Code: CodeConfigMissing,
		What: fmt.Sprintf("missing required configuration: %s", key),
		Fix:  fmt.Sprintf("Set %s in the config file or via the TASKDECK_ environment", key),
	}
}

// ErrGatewayUnavailable returns an error when the agent gateway is unreachable.
func ErrGatewayUnavailable(cause error) *DeckError {
	return &DeckError{
		Code:  CodeGatewayUnavailable,
		What:  "agent gateway is not reachable",
		Why:   "The gateway endpoint did not accept the connection",
		Fix:   "Verify gateway.url and that the gateway process is running",
		Cause: cause,
	}
}

// ErrGatewayTimeout returns an error when a gateway call exceeds its deadline.
func ErrGatewayTimeout(duration string) *DeckError {
	return &DeckError{
		Code: CodeGatewayTimeout,
		What: "agent gateway call timed out",
		Why:  fmt.Sprintf("No response received after %s", duration),
		Fix:  "Increase review.timeout or check gateway load",
	}
}

// AsDeckError attempts to convert an error to a DeckError.
// Returns nil if the error is not a DeckError.
func AsDeckError(err error) *DeckError {
	var de *DeckError
	if As(err, &de) {
		return de
	}
	return nil
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return asError(err, target)
}

// asError implements errors.As behavior.
func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if de, ok := err.(*DeckError); ok {
		if t, ok := target.(**DeckError); ok {
			*t = de
			return true
		}
	}
	// Check unwrapped error
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into a DeckError with unknown code.
func Wrap(err error, what string) *DeckError {
	return &DeckError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}

// GetCode extracts the error code, or empty string for non-DeckErrors.
func GetCode(err error) Code {
	if de := AsDeckError(err); de != nil {
		return de.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}
