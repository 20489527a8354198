package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var slept []time.Duration
	r := &RetryConfig{
		MaxAttempts: 5,
		MinDelay:    time.Second,
		MaxDelay:    3 * time.Second,
		Logger:      Discard(),
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	}

	calls := 0
	err := r.Do(context.Background(), "fetch", func() error {
		calls++
		if calls < 3 {
			return errors.New("503")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
	if len(slept) != 2 {
		t.Fatalf("sleeps: got %d, want 2", len(slept))
	}
	for i, d := range slept {
		n := time.Duration(i + 1)
		if d < time.Second*n || d > 3*time.Second*n {
			t.Errorf("sleep %d = %v, want within [%v, %v]", i, d, time.Second*n, 3*time.Second*n)
		}
	}
}

func TestRetryGivesUp(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 3, Logger: Discard(), Sleep: func(time.Duration) {}}
	boom := errors.New("boom")

	calls := 0
	err := r.Do(context.Background(), "fetch", func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error %v should wrap the last failure", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 5, Logger: Discard(), Sleep: func(time.Duration) {}}

	calls := 0
	err := r.Do(context.Background(), "fetch", func() error {
		calls++
		return Permanent(errors.New("bad json"))
	})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &RetryConfig{MaxAttempts: 5, Logger: Discard(), Sleep: func(time.Duration) {}}

	calls := 0
	err := r.Do(ctx, "fetch", func() error {
		calls++
		return errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}
