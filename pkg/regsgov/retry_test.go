package regsgov

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

// fastRetryConfig keeps test backoffs short.
func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	ctx := context.Background()

	callCount := 0
	fn := func() error {
		callCount++
		return nil
	}

	err := retryWithBackoff(ctx, fastRetryConfig(), fn)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	ctx := context.Background()

	callCount := 0
	fn := func() error {
		callCount++
		if callCount < 3 {
			return &APIError{StatusCode: 500, ErrorClass: ErrorClassServer, Message: "boom"}
		}
		return nil
	}

	err := retryWithBackoff(ctx, fastRetryConfig(), fn)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	ctx := context.Background()

	callCount := 0
	fn := func() error {
		callCount++
		return &APIError{StatusCode: 503, ErrorClass: ErrorClassServer, Message: "unavailable"}
	}

	err := retryWithBackoff(ctx, fastRetryConfig(), fn)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_RateLimitNotRetried(t *testing.T) {
	ctx := context.Background()

	callCount := 0
	fn := func() error {
		callCount++
		return ErrRateLimited
	}

	err := retryWithBackoff(ctx, fastRetryConfig(), fn)

	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Rate limit must not enter the retry path, got %d calls", callCount)
	}
}

func TestRetryWithBackoff_ClientErrorNotRetried(t *testing.T) {
	ctx := context.Background()

	callCount := 0
	fn := func() error {
		callCount++
		return &APIError{StatusCode: 404, ErrorClass: ErrorClassClient, Message: "not found"}
	}

	err := retryWithBackoff(ctx, fastRetryConfig(), fn)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
		t.Errorf("Expected 404 APIError, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	fn := func() error {
		callCount++
		cancel()
		return &APIError{StatusCode: 500, ErrorClass: ErrorClassServer, Message: "boom"}
	}

	config := RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    10 * time.Second, // never actually waited
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	err := retryWithBackoff(ctx, config, fn)

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}
