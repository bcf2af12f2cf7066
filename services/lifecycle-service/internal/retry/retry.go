package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy bounds an Executor. MaxRetries counts retries, so a unit of work
// runs at most MaxRetries+1 times.
type Policy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterRatio    float64
	AttemptTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		JitterRatio:    0.1,
		AttemptTimeout: 30 * time.Second,
	}
}

// Delay is the wait after the attempt with zero-based index attempt fails:
// min(BaseDelay*2^attempt, MaxDelay) plus r*JitterRatio of that, r in [0,1).
func (p Policy) Delay(attempt int, r float64) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d + d*p.JitterRatio*r)
}

type Result struct {
	Attempts   int
	RetryCount int
	TotalDelay time.Duration
	Err        error
}

type Executor struct {
	policy Policy
	sleep  func(context.Context, time.Duration) error
	rand   func() float64
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

type Option func(*Executor)

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithRand replaces the jitter source.
func WithRand(fn func() float64) Option {
	return func(e *Executor) { e.rand = fn }
}

func New(policy Policy, opts ...Option) *Executor {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultPolicy().MaxDelay
	}
	e := &Executor{
		policy: policy,
		sleep:  sleepContext,
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Policy() Policy {
	return e.policy
}

// Do runs fn until it succeeds, returns a Permanent error, the context ends,
// or the attempt budget is spent. Each attempt gets its own timeout.
func (e *Executor) Do(ctx context.Context, fn func(context.Context) error) Result {
	var res Result
	for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
		res.Attempts = attempt + 1
		res.RetryCount = attempt

		err := e.attempt(ctx, fn)
		if err == nil {
			res.Err = nil
			return res
		}
		res.Err = err

		var perm *permanentError
		if errors.As(err, &perm) {
			res.Err = perm.err
			return res
		}
		if attempt == e.policy.MaxRetries || ctx.Err() != nil {
			return res
		}

		delay := e.policy.Delay(attempt, e.rand())
		if e.OnRetry != nil {
			e.OnRetry(attempt+1, delay, err)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return res
		}
		res.TotalDelay += delay
	}
	return res
}

func (e *Executor) attempt(ctx context.Context, fn func(context.Context) error) error {
	if e.policy.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
