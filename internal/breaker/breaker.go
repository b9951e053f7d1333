// Package breaker implements a per-dependency circuit breaker and the
// exponential-backoff retry helper the Model Gateway wraps every outbound
// call with.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow/Call when the breaker is open and rejecting
// calls immediately.
var ErrOpen = errors.New("breaker: circuit open")

// Config holds the F/W/T_open parameters from §6.
type Config struct {
	FailureThreshold int           // F: consecutive failures within Window that trip the breaker
	Window           time.Duration // W
	OpenDuration     time.Duration // T_open
}

// Breaker guards a single named dependency (e.g. "vertexai.chat",
// "openai.embed"). Zero value is not usable; construct with New.
type Breaker struct {
	name string
	cfg  Config

	mu           sync.Mutex
	state        State
	failures     int
	windowStart  time.Time
	openedAt     time.Time
	halfOpenBusy bool
}

// New constructs a closed breaker for the named dependency.
func New(name string, cfg Config) *Breaker {
	return &Breaker{name: name, cfg: cfg, state: Closed}
}

// State returns the breaker's current state, advancing open->half-open if
// T_open has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpen()
	return b.state
}

func (b *Breaker) maybeTransitionToHalfOpen() {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.OpenDuration {
		b.state = HalfOpen
		b.halfOpenBusy = false
		slog.Info("breaker half-open", "dependency", b.name)
	}
}

// Allow reports whether a call may proceed right now. In half-open state
// only a single probe is admitted at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpen()
	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		if b.halfOpenBusy {
			return false
		}
		b.halfOpenBusy = true
		return true
	default: // Open
		return false
	}
}

// RecordSuccess reports a successful call. In half-open it closes the
// breaker; in closed it resets the failure window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.state = Closed
		b.failures = 0
		b.halfOpenBusy = false
		slog.Info("breaker closed", "dependency", b.name)
	case Closed:
		b.failures = 0
	}
}

// RecordFailure reports a transient failure. It trips the breaker to open
// if F consecutive failures land within W, or immediately reopens a
// half-open probe's failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.trip()
		return
	}

	now := time.Now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.cfg.Window {
		b.windowStart = now
		b.failures = 0
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.halfOpenBusy = false
	slog.Warn("breaker open", "dependency", b.name, "open_duration", b.cfg.OpenDuration)
}

// RetryConfig holds the b/c/R backoff parameters from §6.
type RetryConfig struct {
	BaseDelay   time.Duration
	CapDelay    time.Duration
	MaxAttempts int
}

// IsTransient classifies an error as retryable (timeout, 429, 5xx) versus
// terminal (auth, other 4xx, policy rejection). Callers pass a predicate
// because the shape of "transient" differs per provider SDK.
type IsTransient func(err error) bool

// Call runs fn guarded by b: rejects immediately if the breaker is open,
// retries transient failures with exponential backoff and jitter up to
// retry.MaxAttempts, and records the outcome against the breaker.
func Call[T any](ctx context.Context, b *Breaker, retry RetryConfig, isTransient IsTransient, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if !b.Allow() {
		return zero, fmt.Errorf("%s: %w", operation, ErrOpen)
	}

	result, err := fn(ctx)
	if err == nil {
		b.RecordSuccess()
		return result, nil
	}
	if !isTransient(err) {
		// Non-transient failures (policy rejection, bad request) don't
		// count against the breaker's failure budget.
		return result, err
	}

	for attempt := 1; attempt < retry.MaxAttempts; attempt++ {
		delay := backoffDelay(retry.BaseDelay, retry.CapDelay, attempt)
		slog.Warn("retrying after transient failure",
			"operation", operation, "attempt", attempt+1, "delay_ms", delay.Milliseconds(), "error", err.Error())

		select {
		case <-ctx.Done():
			b.RecordFailure()
			return zero, fmt.Errorf("%s: context cancelled during retry: %w", operation, ctx.Err())
		case <-time.After(delay):
		}

		result, err = fn(ctx)
		if err == nil {
			b.RecordSuccess()
			return result, nil
		}
		if !isTransient(err) {
			return result, err
		}
	}

	b.RecordFailure()
	return zero, fmt.Errorf("%s: retries exhausted: %w", operation, err)
}

// backoffDelay computes base*2^(attempt-1), capped, with +/-25% jitter.
func backoffDelay(base, capDelay time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	if d > capDelay || d <= 0 {
		d = capDelay
	}
	jitter := 0.75 + rand.Float64()*0.5 // [0.75, 1.25)
	return time.Duration(float64(d) * jitter)
}
