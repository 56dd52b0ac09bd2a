// Package engine holds the provider capability interfaces, retry policy and
// error taxonomy shared by every repowiki component.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryClass indicates whether an error should be retried.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"
	RetryClassMaybe        RetryClass = "maybe" // at most one more attempt
	RetryClassNonRetryable RetryClass = "non_retryable"
)

// EngineError attaches a retry class, and what the remote side told us, to an error
// from a provider or repository host.
type EngineError struct {
	Err         error
	Class       RetryClass
	HTTPStatus  int
	RetryAfter  string // raw Retry-After header
	IsRateLimit bool
	IsTimeout   bool
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("engine error: %s", e.Class)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError classifies err explicitly.
func NewEngineError(err error, class RetryClass) *EngineError {
	return &EngineError{Err: err, Class: class}
}

// errorMarkers maps message fragments to a class when no status code is known.
// Order matters: the first matching group wins.
var errorMarkers = []struct {
	class   RetryClass
	markers []string
}{
	{RetryClassRetryable, []string{"429", "rate limit", "too many requests"}},
	{RetryClassRetryable, []string{
		"500", "502", "503", "504", "internal server error", "bad gateway",
		"service unavailable", "gateway timeout", "overloaded",
	}},
	{RetryClassRetryable, []string{
		"timeout", "deadline exceeded", "connection reset", "connection refused",
		"no such host", "network", "eof", "temporary failure",
	}},
	{RetryClassMaybe, []string{"context length", "token limit", "maximum context length"}},
	{RetryClassNonRetryable, []string{
		"401", "403", "unauthorized", "forbidden", "invalid api key", "authentication failed",
		"400", "bad request", "invalid request", "malformed",
		"402", "quota", "billing", "payment required",
		"content filter", "safety", "policy violation",
	}},
}

// ClassifyProviderError decides whether a failed embedding, generation or fetch
// call is worth repeating. Unknown errors are not retried.
func ClassifyProviderError(err error) RetryClass {
	if err == nil {
		return RetryClassNonRetryable
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Class
	}
	if errors.Is(err, context.Canceled) {
		return RetryClassNonRetryable
	}

	msg := strings.ToLower(err.Error())
	for _, group := range errorMarkers {
		for _, m := range group.markers {
			if strings.Contains(msg, m) {
				return group.class
			}
		}
	}
	return RetryClassNonRetryable
}

// IsRetryable reports whether err would be retried under ClassifyProviderError.
func IsRetryable(err error) bool {
	return ClassifyProviderError(err) != RetryClassNonRetryable
}

// ExtractRetryAfter returns the delay the remote side asked for, or 0.
func ExtractRetryAfter(err error) time.Duration {
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.RetryAfter != "" {
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(engineErr.RetryAfter)); convErr == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, parseErr := http.ParseTime(engineErr.RetryAfter); parseErr == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}

	msg := strings.ToLower(err.Error())
	if idx := strings.Index(msg, "retry after"); idx >= 0 {
		var seconds int
		if _, scanErr := fmt.Sscanf(msg[idx:], "retry after %d", &seconds); scanErr == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// WrapProviderError classifies err using the HTTP status the provider returned.
// The status code overrides whatever the message suggests.
func WrapProviderError(err error, httpStatus int, retryAfter string) error {
	if err == nil {
		return nil
	}

	class := ClassifyProviderError(err)
	switch {
	case httpStatus == http.StatusTooManyRequests || httpStatus >= 500:
		class = RetryClassRetryable
	case httpStatus == http.StatusUnauthorized, httpStatus == http.StatusForbidden,
		httpStatus == http.StatusBadRequest, httpStatus == http.StatusPaymentRequired,
		httpStatus == http.StatusNotFound:
		class = RetryClassNonRetryable
	}

	return &EngineError{
		Err:         err,
		Class:       class,
		HTTPStatus:  httpStatus,
		RetryAfter:  retryAfter,
		IsRateLimit: httpStatus == http.StatusTooManyRequests,
		IsTimeout:   httpStatus == http.StatusGatewayTimeout || httpStatus == http.StatusRequestTimeout,
	}
}

// RetryExhaustedError is returned by RetryWithPolicy once the budget is spent.
type RetryExhaustedError struct {
	Err         error
	Attempts    int
	MaxAttempts int
	IsGuarded   bool // stopped early because the error was only RetryClassMaybe
}

func (e *RetryExhaustedError) Error() string {
	if e.IsGuarded {
		return fmt.Sprintf("guarded retries exhausted after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// NewRetryExhaustedError creates a RetryExhaustedError.
func NewRetryExhaustedError(err error, attempts, maxAttempts int, isGuarded bool) *RetryExhaustedError {
	return &RetryExhaustedError{Err: err, Attempts: attempts, MaxAttempts: maxAttempts, IsGuarded: isGuarded}
}

// IsRetryExhausted reports whether err came from a spent retry budget.
func IsRetryExhausted(err error) bool {
	var exhausted *RetryExhaustedError
	return errors.As(err, &exhausted)
}
