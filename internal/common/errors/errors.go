// Package errors provides standardized error handling for the assignment engine.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Matching
	ErrCodeNoMatch ErrorCode = "NO_MATCH"

	// Lifecycle
	ErrCodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrCodeApplicationNotFound ErrorCode = "APPLICATION_NOT_FOUND"

	// Assignment ledger
	ErrCodeConcurrentAssignmentConflict ErrorCode = "CONCURRENT_ASSIGNMENT_CONFLICT"
	ErrCodeNoOpenAssignment             ErrorCode = "NO_OPEN_ASSIGNMENT"

	// Rooms
	ErrCodeRoomNotFound ErrorCode = "ROOM_NOT_FOUND"

	// Infrastructure
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeDatabaseInsertFailed     ErrorCode = "DATABASE_INSERT_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"

	// Validation
	ErrCodeApplicationValidationFailed ErrorCode = "APPLICATION_VALIDATION_FAILED"
)

// StandardError represents a structured engine error.
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

// CodeOf extracts the ErrorCode from err if it wraps a StandardError.
func CodeOf(err error) (ErrorCode, bool) {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return "", false
}

// NewNoMatchError creates a non-retryable matching error. The caller recovers
// locally: the application proceeds unassigned.
func NewNoMatchError(sectorID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoMatch,
		Message:   "no active consultant in sector",
		Details:   fmt.Sprintf("sectorId: %s", sectorID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError creates a non-retryable lifecycle error.
func NewInvalidTransitionError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "status transition not permitted",
		Details:   fmt.Sprintf("from: %s, to: %s", from, to),
		Retryable: false,
		Metadata:  map[string]interface{}{"from": from, "to": to},
		Timestamp: time.Now().UTC(),
	}
}

// NewApplicationNotFoundError creates a non-retryable lookup error.
func NewApplicationNotFoundError(applicationID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeApplicationNotFound,
		Message:   "application not found",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConcurrentAssignmentConflictError creates a transient conflict error,
// surfaced after the ledger's single automatic retry is exhausted.
func NewConcurrentAssignmentConflictError(applicationID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeConcurrentAssignmentConflict,
		Message:   "concurrent assignment detected",
		Details:   fmt.Sprintf("applicationId: %s, error: %v", applicationID, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoOpenAssignmentError creates a non-retryable release error.
func NewNoOpenAssignmentError(applicationID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoOpenAssignment,
		Message:   "application has no open assignment",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRoomNotFoundError creates a non-retryable room error. The manager never
// creates a room outside the status-changed creation path.
func NewRoomNotFoundError(applicationID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRoomNotFound,
		Message:   "room not found for application",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseInsertFailedError creates a retryable insert error.
func NewDatabaseInsertFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseInsertFailed,
		Message:   "Database insert operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification error.
// Notification failures are logged and swallowed, never propagated to the
// primary operation.
func NewNotificationSendFailedError(eventKind string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("eventKind: %s, error: %s", eventKind, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewApplicationValidationFailedError creates a non-retryable validation error.
func NewApplicationValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeApplicationValidationFailed,
		Message:   "Application data validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// IsRetryable reports whether err carries a retryable StandardError.
func IsRetryable(err error) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
