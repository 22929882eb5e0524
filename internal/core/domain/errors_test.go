package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("SR-TEST-1000", "test message"),
			expected: "[SR-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("SR-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[SR-TEST-1001] test message: extra info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	if !errors.Is(ErrNotController.WithDetails("media:lobby"), ErrNotController) {
		t.Error("errors.Is should match on code regardless of details")
	}
	if errors.Is(ErrNotController, ErrNotRequester) {
		t.Error("errors.Is should not match different codes")
	}
	if errors.Is(ErrNotController, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_WithCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := ErrStorageError.WithCause(cause)

	if ErrStorageError.Cause != nil {
		t.Error("WithCause should not modify original error")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if errors.Unwrap(ErrStorageError) != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestIsDomainErrorAndCode(t *testing.T) {
	wrapped := fmt.Errorf("register: %w", ErrConnectorNotFound)

	if !IsDomainError(wrapped, "SR-CONN-4040") {
		t.Error("IsDomainError should work with wrapped errors")
	}
	if !IsDomainError(wrapped, "") {
		t.Error("IsDomainError with empty code should match any DomainError")
	}
	if IsDomainError(fmt.Errorf("plain"), "") {
		t.Error("IsDomainError should return false for plain errors")
	}
	if got := GetErrorCode(wrapped); got != "SR-CONN-4040" {
		t.Errorf("GetErrorCode() = %q", got)
	}
	if got := GetErrorCode(nil); got != "" {
		t.Errorf("GetErrorCode(nil) = %q", got)
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err  *DomainError
		code string
	}{
		{ErrConnectorNotFound, "SR-CONN-4040"},
		{ErrConnectorValidation, "SR-CONN-4001"},
		{ErrConnectorConflict, "SR-CONN-4090"},
		{ErrNoBinding, "SR-CONN-4041"},
		{ErrResourceNotFound, "SR-RES-4040"},
		{ErrUnknownResourceKind, "SR-RES-4001"},
		{ErrInvalidDelta, "SR-RES-4002"},
		{ErrResourceElsewhere, "SR-RES-4210"},
		{ErrNotController, "SR-CTRL-4031"},
		{ErrNotRequester, "SR-CTRL-4032"},
		{ErrResourceControlled, "SR-CTRL-4091"},
		{ErrRequestAlreadyPending, "SR-CTRL-4092"},
		{ErrNoPendingRequest, "SR-CTRL-4093"},
		{ErrInternalServer, "SR-SYS-5000"},
		{ErrStorageError, "SR-SYS-5001"},
		{ErrServiceUnavailable, "SR-SYS-5030"},
		{ErrStaleHandle, "SR-SYS-4100"},
		{ErrBadRequest, "SR-SYS-4000"},
		{ErrRateLimited, "SR-SYS-4290"},
		{ErrInvalidArgument, "SR-ARG-1001"},
		{ErrMissingArgument, "SR-ARG-1002"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Error code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}
