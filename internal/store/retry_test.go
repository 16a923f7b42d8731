package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBusy = errors.New("busy")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, InitialBackoff: time.Microsecond, MaxBackoff: 10 * time.Microsecond}
}

func TestRetrySucceedsAfterConflicts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), isBusy, func() error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExhaustionIsTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(4), isBusy, func() error {
		calls++
		return errBusy
	})
	if !errors.Is(err, ErrTransientStore) {
		t.Fatalf("expected ErrTransientStore, got %v", err)
	}
	if !errors.Is(err, errBusy) {
		t.Fatalf("expected last error to be wrapped, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("constraint violated")
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), isBusy, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || errors.Is(err, ErrTransientStore) {
		t.Fatalf("expected permanent error unchanged, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := RetryPolicy{Attempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	err := Retry(ctx, policy, isBusy, func() error { return errBusy })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
