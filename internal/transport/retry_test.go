package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{401, KindPermission},
		{403, KindPermission},
		{404, KindNotFound},
		{429, KindRateLimited},
		{500, KindTransient},
		{503, KindTransient},
		{418, KindInvalidRequest},
		{200, KindUnknown},
	}
	for _, c := range cases {
		got := ClassifyStatus("example.test", c.status, "boom")
		if got.Kind != c.want {
			t.Errorf("ClassifyStatus(%d) kind = %v, want %v", c.status, got.Kind, c.want)
		}
	}
}

func TestErrorRetryable(t *testing.T) {
	if !(&Error{Kind: KindTransient}).Retryable() {
		t.Error("transient errors must be retryable")
	}
	if !(&Error{Kind: KindRateLimited}).Retryable() {
		t.Error("rate-limited errors must be retryable")
	}
	if (&Error{Kind: KindPermission}).Retryable() {
		t.Error("permission errors must not be retryable")
	}
	if (&Error{Kind: KindInvalidRequest}).Retryable() {
		t.Error("invalid-request errors must not be retryable")
	}
}

func TestShouldRetry(t *testing.T) {
	if ShouldRetry(nil) {
		t.Error("ShouldRetry(nil) must be false")
	}
	if ShouldRetry(errors.New("plain error")) {
		t.Error("a non-transport error must not be retried")
	}
	if !ShouldRetry(NewTimeoutError("host", "dial timeout")) {
		t.Error("a timeout error must be retried")
	}
}

func TestRetryWithBackoff_SucceedsWithoutRetrying(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2}

	err := RetryWithBackoff(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, cfg)

	if err != nil {
		t.Fatalf("RetryWithBackoff() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_StopsOnPermanentError(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2}
	permanent := &Error{Kind: KindPermission}

	err := RetryWithBackoff(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	}, cfg)

	if !errors.Is(err, permanent) {
		t.Fatalf("RetryWithBackoff() error = %v, want permanent error", err)
	}
	if calls != 1 {
		t.Errorf("expected a permanent error to stop after 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_ExhaustsRetriesOnTransientError(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2}
	transient := &Error{Kind: KindTransient}

	err := RetryWithBackoff(context.Background(), func(ctx context.Context) error {
		calls++
		return transient
	}, cfg)

	if !errors.Is(err, transient) {
		t.Fatalf("RetryWithBackoff() error = %v, want transient error", err)
	}
	if calls != cfg.MaxRetries+1 {
		t.Errorf("expected %d calls, got %d", cfg.MaxRetries+1, calls)
	}
}

func TestRetryWithBackoff_HonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2}

	err := RetryWithBackoff(ctx, func(ctx context.Context) error {
		t.Fatal("operation should not run once the context is already canceled")
		return nil
	}, cfg)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RetryWithBackoff() error = %v, want context.Canceled", err)
	}
}

func TestExponentialBackoff_CapsAtMaxBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 2 * time.Second, Multiplier: 10}
	got := ExponentialBackoff(5, cfg)
	if got > cfg.MaxBackoff {
		t.Errorf("ExponentialBackoff() = %v, want <= %v", got, cfg.MaxBackoff)
	}
}
