package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingSleep(total *time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*total += d
		return nil
	})
}

func TestDo_FailsTwiceThenSucceeds(t *testing.T) {
	var slept time.Duration
	exec := New(DefaultPolicy(), recordingSleep(&slept), WithRand(func() float64 { return 0.5 }))

	calls := 0
	res := exec.Do(context.Background(), func(context.Context) error {
		calls++
		if calls <= 2 {
			return errors.New("transient")
		}
		return nil
	})

	if res.Err != nil {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.RetryCount != 2 || res.Attempts != 3 {
		t.Fatalf("expected retryCount=2 attempts=3, got %+v", res)
	}
	// base*(1+2) = 3s plus at most 10% jitter.
	if slept < 3*time.Second || slept > 3300*time.Millisecond {
		t.Fatalf("expected ~3s total delay, got %s", slept)
	}
	if res.TotalDelay != slept {
		t.Fatalf("expected TotalDelay %s to match slept %s", res.TotalDelay, slept)
	}
}

func TestDo_AlwaysFailingExhaustsBudget(t *testing.T) {
	var slept time.Duration
	exec := New(DefaultPolicy(), recordingSleep(&slept), WithRand(func() float64 { return 0 }))

	calls := 0
	res := exec.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("down")
	})

	if calls != 4 {
		t.Fatalf("expected MaxRetries+1=4 attempts, got %d", calls)
	}
	if res.Err == nil || res.Attempts != 4 || res.RetryCount != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// 1s + 2s + 4s with no jitter.
	if slept != 7*time.Second {
		t.Fatalf("expected 7s of waiting, got %s", slept)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	var slept time.Duration
	exec := New(DefaultPolicy(), recordingSleep(&slept))

	sentinel := errors.New("bad input")
	calls := 0
	res := exec.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}
	if !errors.Is(res.Err, sentinel) {
		t.Fatalf("expected unwrapped sentinel, got %v", res.Err)
	}
	if slept != 0 {
		t.Fatalf("expected no waiting, got %s", slept)
	}
}

func TestDo_AttemptTimeout(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxRetries = 0
	policy.AttemptTimeout = 10 * time.Millisecond
	exec := New(policy)

	res := exec.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", res.Err)
	}
}

func TestDo_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := New(DefaultPolicy(), WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	calls := 0
	res := exec.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if calls != 1 {
		t.Fatalf("expected to stop after cancellation, got %d calls", calls)
	}
	if res.Err == nil {
		t.Fatalf("expected error")
	}
}

func TestPolicyDelay_CapsAtMax(t *testing.T) {
	p := DefaultPolicy()
	if d := p.Delay(0, 0); d != time.Second {
		t.Fatalf("expected 1s, got %s", d)
	}
	if d := p.Delay(5, 0); d != 10*time.Second {
		t.Fatalf("expected cap at 10s, got %s", d)
	}
	if d := p.Delay(5, 0.999); d > 11*time.Second {
		t.Fatalf("expected jitter bounded to 10%%, got %s", d)
	}
}

func TestNew_DefaultsMaxDelay(t *testing.T) {
	e := New(Policy{MaxRetries: 100, BaseDelay: time.Second})
	p := e.Policy()
	if p.MaxDelay != 10*time.Second {
		t.Fatalf("expected MaxDelay 10s, got %s", p.MaxDelay)
	}
	if d := p.Delay(90, 0); d != 10*time.Second {
		t.Fatalf("expected late attempts capped at 10s, got %s", d)
	}
}
