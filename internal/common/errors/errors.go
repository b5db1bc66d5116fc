// Package errors provides the standardized error taxonomy for the deal
// progression engine. Every failure a caller can act on carries an ErrorCode;
// retryability is part of the contract, not a guess made at the call site.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Error Codes
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Malformed or out-of-range input. Surfaced as a field-level message.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// Illegal financing-status change per the adjacency table.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// A deal-stage guard was not satisfied. Details name the unmet precondition.
	ErrCodeStageGuardViolation ErrorCode = "STAGE_GUARD_VIOLATION"

	// Concurrent write collision; safe to retry once.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Actor lacks rights on the deal or company. Fatal for the request.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Backing-store timeout or connectivity failure; retryable with backoff.
	ErrCodeTransient ErrorCode = "TRANSIENT_ERROR"

	// Duplicate submission detected; the deal already left submission_ready.
	ErrCodeAlreadySubmitted ErrorCode = "ALREADY_SUBMITTED"

	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable input validation error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   "Input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError creates a non-retryable financing transition error.
func NewInvalidTransitionError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Financing status transition not allowed",
		Details:   fmt.Sprintf("from: %s, to: %s", from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStageGuardViolationError creates a non-retryable stage guard error.
// The condition names the exact unmet precondition shown to the user.
func NewStageGuardViolationError(targetStage, condition string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStageGuardViolation,
		Message:   fmt.Sprintf("Deal cannot advance to %s", targetStage),
		Details:   condition,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConflictError creates a retryable concurrent-write error.
func NewConflictError(resource string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConflict,
		Message:   "Concurrent update detected, please retry",
		Details:   fmt.Sprintf("resource: %s", resource),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnauthorizedError creates a non-retryable authorization error.
func NewUnauthorizedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnauthorized,
		Message:   "Actor is not authorized for this operation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransientError creates a retryable backing-store error.
func NewTransientError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransient,
		Message:   "Backing store error",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAlreadySubmittedError creates a non-retryable duplicate-submit error.
func NewAlreadySubmittedError(dealID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAlreadySubmitted,
		Message:   "Deal has already been submitted",
		Details:   fmt.Sprintf("dealId: %s", dealID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable lookup error.
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// GetRetryCount returns the recommended retry count per error code.
// Conflicts retry once without backoff; transient store errors retry
// with backoff.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeTransient:
		return 3
	case ErrCodeConflict:
		return 1
	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// CodeOf extracts the ErrorCode from err, unwrapping as needed.
// Unknown errors map to TRANSIENT_ERROR so callers fail safe on retryability.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeTransient
}

// Standard returns the StandardError wrapped in err, or nil.
func Standard(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// HTTPStatus maps an error code to the status the API layer responds with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidation:
		return 400
	case ErrCodeUnauthorized:
		return 403
	case ErrCodeNotFound:
		return 404
	case ErrCodeInvalidTransition, ErrCodeStageGuardViolation, ErrCodeAlreadySubmitted:
		return 422
	case ErrCodeConflict:
		return 409
	default:
		return 503
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	case strings.Contains(codeStr, "TRANSITION") || strings.Contains(codeStr, "STAGE") || strings.Contains(codeStr, "SUBMITTED"):
		return "STATE_MACHINE"
	case strings.Contains(codeStr, "CONFLICT") || strings.Contains(codeStr, "TRANSIENT"):
		return "STORE"
	case strings.Contains(codeStr, "UNAUTHORIZED"):
		return "AUTH"
	default:
		return "OTHER"
	}
}
