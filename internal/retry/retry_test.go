package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("flaky")

func TestDo_SucceedsAfterFailures(t *testing.T) {
	p := NewPolicy(5, time.Millisecond, 4*time.Millisecond)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, time.Millisecond)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})

	if !errors.Is(err, errFlaky) {
		t.Errorf("expected wrapped errFlaky, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	p := NewPolicy(5, time.Millisecond, time.Millisecond)
	errStale := errors.New("stale")

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errStale)
	})

	if err != errStale {
		t.Errorf("expected unwrapped errStale, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	p := NewPolicy(10, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errFlaky
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestNewPolicy_MinimumOneAttempt(t *testing.T) {
	p := NewPolicy(0, 0, 0)
	if p.MaxAttempts != 1 {
		t.Errorf("expected MaxAttempts=1, got %d", p.MaxAttempts)
	}
}
