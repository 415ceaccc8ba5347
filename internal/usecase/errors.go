package usecase

import (
	"errors"
	"fmt"
	"time"

	"relaybot/internal/ratelimit"
)

type ErrorCode string

const (
	ErrorValidation          ErrorCode = "VALIDATION_ERROR"
	ErrorRateLimited         ErrorCode = "RATE_LIMITED"
	ErrorUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrorUpstreamRejected    ErrorCode = "UPSTREAM_REJECTED"
	ErrorUnknownCommand      ErrorCode = "UNKNOWN_COMMAND"
	ErrorInternal            ErrorCode = "INTERNAL_ERROR"
)

// Reasons carried by Error.Reason. They are safe to log: none contains
// message content.
const (
	reasonInvalidUser    = "invalid_user"
	reasonEmptyInput     = "empty_input"
	reasonTooLong        = "too_long"
	reasonUnsafeContent  = "unsafe_content"
	reasonTooFrequent    = "too_frequent"
	reasonWindowExceeded = "window_exceeded"
	reasonUnavailable    = "upstream_unavailable"
	reasonRejected       = "upstream_rejected"
	reasonUnknownCommand = "unknown_command"
	reasonCompletion     = "completion_error"
	reasonPanic          = "panic"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// PanicError wraps a recovered panic value so adapters can report it as an
// internal error.
func PanicError(v any) error {
	return newError(ErrorInternal, reasonPanic, fmt.Errorf("panic: %v", v))
}

// Code returns the ErrorCode of err, or ErrorInternal when err is not a
// usecase Error.
func Code(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}

// RetryAfter reports how long a rate-limited sender should wait.
func RetryAfter(err error) (time.Duration, bool) {
	var le *ratelimit.LimitError
	if errors.As(err, &le) {
		return le.RetryAfter, true
	}
	return 0, false
}
