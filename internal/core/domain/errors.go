package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Codes follow the SR-<FAMILY>-<NNNN> format; the last three digits mirror the
// closest HTTP status so transports can map them mechanically.
type DomainError struct {
	Code    string // Error code (e.g., "SR-CONN-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Connector Errors (CONN)
// ============================================================================

var (
	// ErrConnectorNotFound indicates the connector identity does not exist.
	ErrConnectorNotFound = NewDomainError("SR-CONN-4040", "connector not found")

	// ErrConnectorValidation indicates connector data validation failed.
	ErrConnectorValidation = NewDomainError("SR-CONN-4001", "connector validation failed")

	// ErrConnectorConflict indicates a connector with the same id already exists.
	ErrConnectorConflict = NewDomainError("SR-CONN-4090", "connector id conflict")

	// ErrNoBinding indicates the connector has no live runtime binding on this node.
	ErrNoBinding = NewDomainError("SR-CONN-4041", "connector has no runtime binding")
)

// ============================================================================
// Resource Errors (RES)
// ============================================================================

var (
	// ErrResourceNotFound indicates the collaborative resource does not exist.
	ErrResourceNotFound = NewDomainError("SR-RES-4040", "resource not found")

	// ErrUnknownResourceKind indicates an unsupported resource kind.
	ErrUnknownResourceKind = NewDomainError("SR-RES-4001", "unknown resource kind")

	// ErrInvalidDelta indicates an update payload could not be applied.
	ErrInvalidDelta = NewDomainError("SR-RES-4002", "invalid update")

	// ErrResourceElsewhere indicates another cluster node owns the resource.
	ErrResourceElsewhere = NewDomainError("SR-RES-4210", "resource is served by another node")
)

// ============================================================================
// Control Lease Errors (CTRL)
// ============================================================================

var (
	// ErrNotController indicates the actor does not hold the lease.
	ErrNotController = NewDomainError("SR-CTRL-4031", "not controller")

	// ErrNotRequester indicates the actor is not the pending requester.
	ErrNotRequester = NewDomainError("SR-CTRL-4032", "not the pending requester")

	// ErrResourceControlled indicates another actor already holds the lease.
	ErrResourceControlled = NewDomainError("SR-CTRL-4091", "resource is controlled by another actor")

	// ErrRequestAlreadyPending indicates a different actor already has a pending request.
	ErrRequestAlreadyPending = NewDomainError("SR-CTRL-4092", "another control request is pending")

	// ErrNoPendingRequest indicates there is no pending request to resolve.
	ErrNoPendingRequest = NewDomainError("SR-CTRL-4093", "no pending control request")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("SR-SYS-5000", "internal server error")

	// ErrStorageError indicates the persistent store failed or rejected a write.
	ErrStorageError = NewDomainError("SR-SYS-5001", "storage error")

	// ErrServiceUnavailable indicates the service is temporarily unavailable.
	ErrServiceUnavailable = NewDomainError("SR-SYS-5030", "service unavailable")

	// ErrStaleHandle indicates the addressed process is no longer alive.
	ErrStaleHandle = NewDomainError("SR-SYS-4100", "stale process handle")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("SR-SYS-4000", "bad request")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("SR-SYS-4290", "too many requests")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("SR-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("SR-ARG-1002", "missing required argument")
)
