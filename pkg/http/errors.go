package http

import (
	"fmt"
	"net/http"
	"time"
)

// AppError is an error with the HTTP status it should be reported with.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`

	// RetryAfter becomes the Retry-After header when set.
	RetryAfter time.Duration `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Field: field, Message: message, Status: status}
}

// WithError attaches the cause. It is logged, never serialized.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

func BadRequestError(message string) *AppError {
	return NewAppError("ERR_BAD_REQUEST", "", message, http.StatusBadRequest)
}

// UnavailableError reports a dependency the request needs, typically the
// state store or the job queue, as unreachable.
func UnavailableError(message string) *AppError {
	return NewAppError("ERR_UNAVAILABLE", "", message, http.StatusServiceUnavailable)
}

// RateLimitedError is a 429 telling the client when a token is available again.
func RateLimitedError(retryAfter time.Duration) *AppError {
	e := NewAppError("ERR_RATE_LIMITED", "", "too many requests", http.StatusTooManyRequests)
	e.RetryAfter = retryAfter
	return e.WithParam("retry_after_ms", retryAfter.Milliseconds())
}
