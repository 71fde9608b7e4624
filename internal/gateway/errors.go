package gateway

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the provider error taxonomy. Activity executors map these
// codes onto the retry/branch/abort decision; nothing downstream inspects
// raw provider responses.
type ErrorCode string

const (
	// ErrCodeDisconnectedAccount means the sending account's session is gone
	// or revoked. Account-level, permanent until the account is reconnected.
	ErrCodeDisconnectedAccount ErrorCode = "disconnected_account"

	// ErrCodeRateLimited means the provider itself throttled the call.
	// Transient.
	ErrCodeRateLimited ErrorCode = "rate_limited"

	// ErrCodeNotFound means the target profile or post does not exist.
	// Permanent for that target.
	ErrCodeNotFound ErrorCode = "not_found"

	// ErrCodeUnknown covers provider 5xx and anything unclassified.
	// Treated as transient.
	ErrCodeUnknown ErrorCode = "unknown"
)

// Error is the typed error every Gateway call returns on failure.
type Error struct {
	Code    ErrorCode
	Message string

	// RetryAfter is set for rate_limited errors when the provider told us
	// how long to back off.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: %s", e.Code)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

// NewError builds a typed gateway error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code, returning ErrCodeUnknown for untyped errors.
func CodeOf(err error) ErrorCode {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Code
	}
	return ErrCodeUnknown
}

// IsPermanent reports whether the error can never succeed on retry against
// the same target and account.
func IsPermanent(err error) bool {
	switch CodeOf(err) {
	case ErrCodeDisconnectedAccount, ErrCodeNotFound:
		return true
	}
	return false
}

// IsAccountLevel reports whether the error invalidates the whole sending
// account rather than a single target.
func IsAccountLevel(err error) bool {
	return CodeOf(err) == ErrCodeDisconnectedAccount
}
