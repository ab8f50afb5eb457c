// Package errors defines the typed failure taxonomy shared by every engine
// component. All domain failures are *AppError values carrying a stable
// machine-readable code plus a human-readable message; callers branch on the
// code, never on message text.
package errors

import (
	"errors"
	"fmt"
)

// Stable error codes.
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeGuardNotSatisfied    = "GUARD_NOT_SATISFIED"
	ErrCodeCrossTenantReference = "CROSS_TENANT_REFERENCE"
	ErrCodeWorkflowNotFound     = "WORKFLOW_NOT_FOUND"
	ErrCodeStageMismatch        = "STAGE_MISMATCH"
	ErrCodeTimeoutEscalation    = "TIMEOUT_ESCALATION_FAILURE"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeInternal             = "INTERNAL"
)

// AppError is the single error type returned across package boundaries.
type AppError struct {
	ErrCode string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// New creates an AppError with the given code and message.
func New(code, message string) *AppError {
	return &AppError{ErrCode: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code, message string) *AppError {
	return &AppError{ErrCode: code, Message: message, Err: err}
}

// Code extracts the error code from any error. Unknown errors report INTERNAL.
func Code(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.ErrCode
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return Code(err) == code
}

// NotFound reports that a resource does not exist within the caller's
// organization. A resource that exists in another organization produces the
// same error, deliberately.
func NotFound(resource, id string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", resource, id))
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, message string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("%s: %s", field, message))
}

// Unauthorized reports a denied permission check.
func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

// InvalidTransition reports that no state-machine edge exists between the two
// statuses.
func InvalidTransition(from, to string) *AppError {
	return New(ErrCodeInvalidTransition, fmt.Sprintf("no transition from %s to %s", from, to))
}

// GuardNotSatisfied reports a transition blocked by a missing precondition.
func GuardNotSatisfied(message string) *AppError {
	return New(ErrCodeGuardNotSatisfied, message)
}

// CrossTenantReference reports an attempted link between resources of
// different organizations.
func CrossTenantReference(message string) *AppError {
	return New(ErrCodeCrossTenantReference, message)
}

// WorkflowNotFound reports a missing approval workflow.
func WorkflowNotFound(id string) *AppError {
	return New(ErrCodeWorkflowNotFound, fmt.Sprintf("approval workflow not found: %s", id))
}

// StageMismatch reports a decision submitted by an ineligible approver or
// against a stage that is not current.
func StageMismatch(message string) *AppError {
	return New(ErrCodeStageMismatch, message)
}
