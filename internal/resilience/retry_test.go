package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/rewinddvr/rewind/internal/errors"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0.01,
		IsRetryable:  apperrors.IsRetryable,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		if calls < 3 {
			return apperrors.New(apperrors.CodeUpload, "transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Retry = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	permErr := apperrors.New(apperrors.CodeAssemblyFailed, "permanent")

	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		return permErr
	})

	if !errors.Is(err, permErr) && err != permErr {
		t.Errorf("Retry = %v, want %v", err, permErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, non-retryable errors must not be retried", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(2), func() error {
		calls++
		return apperrors.New(apperrors.CodeUnavailable, "still down")
	})

	if !apperrors.IsCode(err, apperrors.CodeUnavailable) {
		t.Errorf("Retry = %v, want last error", err)
	}
	if calls != 3 { // initial attempt + 2 retries
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetryConfig(3), func() error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry = %v, want context.Canceled", err)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:    time.Second,
		MaxDelay:     4 * time.Second,
		JitterFactor: 0.01,
	}.withDefaults()

	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(cfg, attempt)
		if d > 5*time.Second {
			t.Errorf("attempt %d: delay %v exceeds cap", attempt, d)
		}
	}
}

func TestRetryConfigDefaults(t *testing.T) {
	cfg := RetryConfig{}.withDefaults()

	if cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", cfg.MaxRetries, DefaultMaxRetries)
	}
	if cfg.IsRetryable == nil {
		t.Error("IsRetryable default not applied")
	}
	if cfg.IsRetryable(apperrors.New(apperrors.CodeSegmentFailed, "x")) {
		t.Error("segment failures must not be retryable by default")
	}
}
