package regsgov

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRateLimited signals the regulations.gov rate limit was reached.
	// This is an expected steady-state condition, not a failure: callers keep
	// whatever records were fetched and schedule the remainder for
	// reprocessing. It never enters the transient-retry path.
	ErrRateLimited = errors.New("regulations.gov rate limit reached")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents the 429 rate limit signal.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError represents a regulations.gov error with additional context.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("regulations.gov %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("regulations.gov %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its
// classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors are not retriable
		return false
	case ErrorClassServer:
		// 5xx server errors are transient
		return true
	case ErrorClassRateLimit:
		// Rate limiting is a signal handled by the reprocess loop, never a
		// retry. Retrying would burn the shared budget further.
		return false
	case ErrorClassNetwork:
		// Network errors are transient
		return true
	default:
		return false
	}
}

// classify maps an error to its class for retry decisions and metrics.
func classify(err error) ErrorClass {
	if errors.Is(err, ErrRateLimited) {
		return ErrorClassRateLimit
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ErrorClassNetwork
}
