package generation

import (
	"errors"
	"fmt"
)

// Code classifies every failure that can leave this service. Codes are
// wire-visible: the HTTP facade puts them in error bodies and the Discord
// facade keys user messages off them.
type Code string

const (
	CodeInvalidRequest    Code = "invalid_request"
	CodeModerationBlocked Code = "moderation_blocked"
	CodeUnknownTemplate   Code = "unknown_template"
	CodeMissingSlot       Code = "missing_slot"
	CodeEngineUnreachable Code = "engine_unreachable"
	CodeEngineRejected    Code = "engine_rejected"
	CodeEngineTimeout     Code = "engine_timeout"
	CodeEngineJobFailed   Code = "engine_job_failed"
	CodeArtifactFetch     Code = "artifact_fetch_failed"
	CodeBusy              Code = "rate_limited"
	CodeDailyLimitReached Code = "daily_limit_reached"
	CodeInternal          Code = "internal"
)

// Error is the typed failure every caller of Generate receives. Message is
// safe to show to end users; the wrapped error keeps the full diagnostic
// for logs.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may reasonably try again without
// changing the request.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeEngineUnreachable, CodeEngineTimeout, CodeArtifactFetch, CodeBusy:
		return true
	}
	return false
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// AsError extracts the typed failure from any error returned by Generate,
// defaulting to CodeInternal so no opaque error ever crosses a facade.
func AsError(err error) *Error {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr
	}
	return &Error{Code: CodeInternal, Message: "unexpected internal error", Err: err}
}
