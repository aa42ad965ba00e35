package models

import "fmt"

// ErrorCode classifies job and admission failures so callers can
// distinguish user errors, throttling, and render-time faults.
type ErrorCode string

const (
	ErrCodeInvalidRequest   ErrorCode = "invalid_request"
	ErrCodeRateLimited      ErrorCode = "rate_limited"
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodeForbidden        ErrorCode = "forbidden"
	ErrCodeResourceGone     ErrorCode = "resource_gone"
	ErrCodeRenderTimeout    ErrorCode = "render_timeout"
	ErrCodeInternalError    ErrorCode = "internal_error"
	ErrCodeWebhookExhausted ErrorCode = "webhook_delivery_exhausted"
)

// JobError is the structured error recorded on a FAILED job
type JobError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewJobError creates a structured job error
func NewJobError(code ErrorCode, format string, args ...interface{}) *JobError {
	return &JobError{Code: code, Message: fmt.Sprintf(format, args...)}
}
