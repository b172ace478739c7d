// Package resilience wraps outbound calls in retry and circuit breaking.
// The retry executor guards provider calls; the breaker guards the
// persistence boundary (audit stream, state writes).
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Error reports an operation that was given up on, either because its
// attempts ran out or because the failure was not worth retrying.
type Error struct {
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Executor retries operations with exponential backoff. Delays double on
// every retry starting from initialDelay, so attempt gaps run 1s, 2s, 4s
// with the defaults.
type Executor struct {
	maxAttempts  int
	initialDelay time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewExecutor(maxAttempts int, initialDelay time.Duration) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	return &Executor{
		maxAttempts:  maxAttempts,
		initialDelay: initialDelay,
		sleep:        sleepCtx,
	}
}

// Delay returns the backoff taken after failed attempt n (1-based):
// initialDelay * 2^(n-1).
func (e *Executor) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return e.initialDelay << (attempt - 1)
}

// MaxAttempts returns the attempt ceiling, counting the first try.
func (e *Executor) MaxAttempts() int {
	return e.maxAttempts
}

// Do runs op until it succeeds, fails unretryably, or attempts run out.
// The retryable predicate decides whether a failure is worth another try;
// a false verdict returns immediately with the attempt count so far.
func (e *Executor) Do(ctx context.Context, name string, op func(context.Context) error, retryable func(error) bool) error {
	var err error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			if attempt > 1 {
				slog.InfoContext(ctx, "operation recovered",
					"op", name,
					"attempt", attempt)
			}
			return nil
		}

		if !retryable(err) {
			return &Error{Op: name, Attempts: attempt, Err: err}
		}

		if attempt == e.maxAttempts {
			break
		}

		delay := e.Delay(attempt)
		slog.WarnContext(ctx, "operation failed, backing off",
			"op", name,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err)

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return &Error{Op: name, Attempts: attempt, Err: sleepErr}
		}
	}

	return &Error{Op: name, Attempts: e.maxAttempts, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
