package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the breaker rejects a call outright.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerState is the current posture of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets calls through normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls immediately.
	BreakerOpen
	// BreakerHalfOpen lets a limited number of probe calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig sets the breaker thresholds. Zero values fall back to the
// defaults in NewBreaker.
type BreakerConfig struct {
	FailureThreshold    int           // consecutive failures before opening
	ResetTimeout        time.Duration // open duration before probing again
	HalfOpenMaxRequests int           // probe calls allowed while half-open
	SuccessThreshold    int           // consecutive probe successes to close
}

// Breaker is a three-state circuit breaker. Consecutive failures open it,
// the reset timeout lets probes through, and consecutive probe successes
// close it again. Safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu                   sync.Mutex
	state                BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenRequests     int
	lastFailureAt        time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 2
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	return &Breaker{
		cfg:   cfg,
		now:   time.Now,
		state: BreakerClosed,
	}
}

// Allow reports whether a call may proceed, counting it as a probe when
// half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true

	case BreakerOpen:
		if b.now().Sub(b.lastFailureAt) >= b.cfg.ResetTimeout {
			b.transitionTo(BreakerHalfOpen)
			b.halfOpenRequests = 1
			return true
		}
		return false

	case BreakerHalfOpen:
		if b.halfOpenRequests < b.cfg.HalfOpenMaxRequests {
			b.halfOpenRequests++
			return true
		}
		return false

	default:
		return false
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures = 0

	case BreakerHalfOpen:
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.transitionTo(BreakerClosed)
		}
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = b.now()

	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures++
		b.consecutiveSuccesses = 0
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transitionTo(BreakerOpen)
		}

	case BreakerHalfOpen:
		// Any probe failure reopens the circuit
		b.transitionTo(BreakerOpen)
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs op if the breaker allows it and records the outcome.
// Rejected calls return ErrBreakerOpen without invoking op.
func (b *Breaker) Do(op func() error) error {
	if !b.Allow() {
		return ErrBreakerOpen
	}
	if err := op(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// transitionTo changes state. Must be called with the lock held.
func (b *Breaker) transitionTo(state BreakerState) {
	b.state = state
	b.consecutiveSuccesses = 0
	b.halfOpenRequests = 0
	if state == BreakerClosed {
		b.consecutiveFailures = 0
	}
}
