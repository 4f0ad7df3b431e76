package models

import "errors"

// ErrorKind classifies caller-facing reservation errors
type ErrorKind string

const (
	ErrKindNotFound          ErrorKind = "NOT_FOUND"
	ErrKindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	ErrKindValidationFailed  ErrorKind = "VALIDATION_FAILED"
	ErrKindUnauthorized      ErrorKind = "UNAUTHORIZED"
	ErrKindBusy              ErrorKind = "BUSY"
	ErrKindConflict          ErrorKind = "CONFLICT"
	ErrKindExpired           ErrorKind = "EXPIRED"
	ErrKindInternal          ErrorKind = "INTERNAL"
)

// WorkflowError is the typed error surfaced to callers of the reservation
// engine. The message is human-readable; no internal identifiers cross the
// boundary.
type WorkflowError struct {
	Kind    ErrorKind
	Message string
}

func (e *WorkflowError) Error() string {
	return e.Message
}

// NewWorkflowError builds a workflow error of the given kind
func NewWorkflowError(kind ErrorKind, message string) *WorkflowError {
	return &WorkflowError{Kind: kind, Message: message}
}

// ErrNotFound builds a NOT_FOUND workflow error
func ErrNotFound(message string) *WorkflowError {
	return NewWorkflowError(ErrKindNotFound, message)
}

// ErrInvalidTransition builds an INVALID_TRANSITION workflow error
func ErrInvalidTransition(message string) *WorkflowError {
	return NewWorkflowError(ErrKindInvalidTransition, message)
}

// ErrValidationFailed builds a VALIDATION_FAILED workflow error
func ErrValidationFailed(message string) *WorkflowError {
	return NewWorkflowError(ErrKindValidationFailed, message)
}

// ErrUnauthorized builds an UNAUTHORIZED workflow error
func ErrUnauthorized(message string) *WorkflowError {
	return NewWorkflowError(ErrKindUnauthorized, message)
}

// ErrBusy builds a BUSY workflow error
func ErrBusy(message string) *WorkflowError {
	return NewWorkflowError(ErrKindBusy, message)
}

// ErrConflict builds a CONFLICT workflow error
func ErrConflict(message string) *WorkflowError {
	return NewWorkflowError(ErrKindConflict, message)
}

// ErrExpired builds an EXPIRED workflow error
func ErrExpired(message string) *WorkflowError {
	return NewWorkflowError(ErrKindExpired, message)
}

// ErrInternal builds an INTERNAL workflow error
func ErrInternal(message string) *WorkflowError {
	return NewWorkflowError(ErrKindInternal, message)
}

// KindOf extracts the error kind from any error. Non-workflow errors are
// reported as INTERNAL.
func KindOf(err error) ErrorKind {
	var wf *WorkflowError
	if errors.As(err, &wf) {
		return wf.Kind
	}
	return ErrKindInternal
}
