package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/scheduler"
)

// Policy controls attempts and backoff
type Policy struct {
	Attempts int           // total attempts; values below 1 mean one
	Base     time.Duration // delay after the first failure
	Max      time.Duration // delay ceiling
	Factor   float64       // growth per attempt, 2 when zero
	Jitter   bool          // add up to 25% random extra delay
	Clock    scheduler.Clock
}

// Default suits request-path operations
func Default() Policy {
	return Policy{Attempts: 3, Base: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}
}

// Quick suits startup dependencies that may still be coming up
func Quick() Policy {
	return Policy{Attempts: 10, Base: 50 * time.Millisecond, Max: time.Second, Factor: 1.5, Jitter: true}
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p permanent
	return stderrors.As(err, &p)
}

// Delay is the wait after the given failed attempt (1-based), without jitter
func (p Policy) Delay(attempt int) time.Duration {
	base, ceiling, factor := p.Base, p.Max, p.Factor
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if factor <= 0 {
		factor = 2
	}
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= factor
		if ceiling > 0 && d >= float64(ceiling) {
			return ceiling
		}
	}
	if ceiling > 0 && d > float64(ceiling) {
		return ceiling
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts
// run out, or ctx ends. fn receives the 1-based attempt number.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	attempts := max(p.Attempts, 1)
	clock := scheduler.OrReal(p.Clock)

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		last = err
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if p.Jitter && delay >= 4 {
			delay += rand.N(delay / 4)
		}
		if err := sleep(ctx, clock, delay); err != nil {
			return errors.WrapTransient(err, "retry", "Do",
				fmt.Sprintf("wait before attempt %d", attempt+1))
		}
	}
	return errors.WrapTransient(last, "retry", "Do", fmt.Sprintf("%d attempts", attempts))
}

// DoValue is Do for operations producing a value
func DoValue[T any](ctx context.Context, p Policy, fn func(attempt int) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(attempt int) error {
		v, err := fn(attempt)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

func sleep(ctx context.Context, clock scheduler.Clock, d time.Duration) error {
	done := make(chan struct{})
	t := clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}
