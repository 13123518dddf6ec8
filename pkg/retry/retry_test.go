package retry

import (
	"context"
	"testing"
	"time"

	errs "fanvault/pkg/errors"
	"fanvault/pkg/logger"
)

func fastConfig(maxAttempts int) *Config {
	return &Config{
		MaxAttempts: maxAttempts,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.NopLogger{},
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		if calls < 3 {
			return errs.New(errs.ErrorTypeConnection, "down")
		}
		return nil
	}, fastConfig(5))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return errs.New(errs.ErrorTypeNotFound, "gone")
	}, fastConfig(5))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error retried: %d calls", calls)
	}
}

func TestDoRespectsMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return errs.New(errs.ErrorTypeConnection, "down")
	}, fastConfig(3))
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := fastConfig(0)
	cfg.Context = ctx
	cfg.Backoff = &ConstantBackoff{Delay: time.Second}

	err := Do(func() error {
		return errs.New(errs.ErrorTypeConnection, "down")
	}, cfg)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errs.New(errs.ErrorTypeServerError, "hiccup")
		}
		return 42, nil
	}, fastConfig(3))
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestExponentialBackoffBounded(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}
	for attempt := 1; attempt <= 10; attempt++ {
		if d := eb.NextDelay(attempt); d > time.Second {
			t.Errorf("attempt %d: delay %v exceeds max", attempt, d)
		}
	}
	if eb.NextDelay(0) != 0 {
		t.Error("attempt 0 must have no delay")
	}
}
