package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider request failed, driving both
// the retry policy (internal/backoff) and the circuit breaker
// (internal/infra.CircuitBreaker) wired into each adapter.
//
// Grounded on internal/agent/providers/errors.go's FailoverReason/
// ProviderError/ClassifyError, narrowed to the reasons spec §7's transport
// error taxonomy actually distinguishes (rate limit, auth, server error,
// timeout are retryable/fatal in different ways; billing/content-filter/
// model-unavailable collapse into a single non-retryable "rejected"
// bucket since nothing downstream treats them differently).
type FailoverReason string

const (
	FailoverRateLimit    FailoverReason = "rate_limit"
	FailoverAuth         FailoverReason = "auth"
	FailoverTimeout      FailoverReason = "timeout"
	FailoverServerError  FailoverReason = "server_error"
	FailoverRejected     FailoverReason = "rejected"
	FailoverUnknown      FailoverReason = "unknown"
)

// IsRetryable reports whether a request that failed for this reason is
// worth retrying with backoff.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// Error is a structured error from a provider adapter.
type Error struct {
	Provider  string
	Model     string
	Status    int
	Reason    FailoverReason
	Message   string
	RequestID string
	Cause     error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError classifies cause and wraps it as a provider Error.
func NewError(providerName, model string, cause error) *Error {
	e := &Error{Provider: providerName, Model: model, Cause: cause, Reason: FailoverUnknown}
	if cause != nil {
		e.Message = cause.Error()
		e.Reason = ClassifyError(cause)
	}
	return e
}

// WithStatus folds an HTTP status code into the error, reclassifying the
// failover reason from it.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// ClassifyError infers a FailoverReason from an error's message when no
// structured status code is available (e.g. SSE stream errors).
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return FailoverTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return FailoverRateLimit
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return FailoverAuth
	case strings.Contains(msg, "billing") || strings.Contains(msg, "quota") || strings.Contains(msg, "content_filter") || strings.Contains(msg, "content policy") || strings.Contains(msg, "model not found") || strings.Contains(msg, "404"):
		return FailoverRejected
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504") || strings.Contains(msg, "internal server") || strings.Contains(msg, "bad gateway"):
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusPaymentRequired, status == http.StatusNotFound, status == http.StatusBadRequest:
		return FailoverRejected
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

// IsRetryable reports whether err (provider Error or raw) should be
// retried with backoff.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}
