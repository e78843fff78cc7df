// file: internal/ratelimit/limiter.go
// version: 1.1.0
// guid: a1a5570d-18f1-475c-a835-051c139bb564

// Package ratelimit provides a lazily refilled token bucket and a chain that
// acquires from several buckets in a fixed order.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jdfalk/paced-downloader/internal/clock"
)

// ErrExceedsCapacity is returned when a request asks for more tokens than
// the bucket can ever hold.
var ErrExceedsCapacity = errors.New("requested tokens exceed bucket capacity")

// epsilon absorbs float drift between WaitTime and the following refill.
const epsilon = 1e-9

// State is a point-in-time view of a bucket.
type State struct {
	Tokens        float64
	Capacity      float64
	RatePerSecond float64
	LastRefill    time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithCapacity overrides the default burst capacity (one minute's worth).
func WithCapacity(capacity float64) Option {
	return func(l *Limiter) {
		if capacity > 0 {
			l.capacity = capacity
		}
	}
}

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(l *Limiter) {
		if clk != nil {
			l.clock = clk
		}
	}
}

// WithName labels the limiter in logs and metrics.
func WithName(name string) Option {
	return func(l *Limiter) { l.name = name }
}

// Limiter is a token bucket refilled on access rather than by a ticker.
// Token count stays within [0, capacity].
type Limiter struct {
	mu         sync.Mutex
	name       string
	tokens     float64
	capacity   float64
	rate       float64 // tokens per second
	lastRefill time.Time
	unlimited  bool
	clock      clock.Clock
}

// New creates a limiter allowing opsPerHour operations per hour. A value of
// zero or less produces an unlimited limiter.
func New(opsPerHour float64, opts ...Option) *Limiter {
	l := &Limiter{clock: clock.Real{}}
	if opsPerHour <= 0 {
		l.unlimited = true
	} else {
		l.rate = opsPerHour / 3600.0
		l.capacity = math.Max(opsPerHour/60.0, 1)
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.unlimited {
		return l
	}
	// Half full: some initial throughput without a burst at process start.
	l.tokens = l.capacity / 2
	l.lastRefill = l.clock.Now()
	return l
}

// Name returns the limiter label.
func (l *Limiter) Name() string { return l.name }

// Unlimited reports whether the limiter never blocks.
func (l *Limiter) Unlimited() bool { return l.unlimited }

// refillLocked adds tokens for the time elapsed since the last refill.
// Caller must hold l.mu.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	l.tokens = math.Min(l.capacity, l.tokens+elapsed.Seconds()*l.rate)
	l.lastRefill = now
}

func (l *Limiter) check(n float64) error {
	if n <= 0 {
		return fmt.Errorf("ratelimit: invalid token request %v", n)
	}
	if !l.unlimited && n > l.capacity {
		return fmt.Errorf("%w: want %v, capacity %v", ErrExceedsCapacity, n, l.capacity)
	}
	return nil
}

// TryAcquire takes n tokens if they are available right now.
func (l *Limiter) TryAcquire(n float64) bool {
	if l.check(n) != nil {
		return false
	}
	if l.unlimited {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(l.clock.Now())
	if l.tokens+epsilon < n {
		return false
	}
	l.tokens = math.Max(0, l.tokens-n)
	return true
}

// refund returns tokens taken by a chain that could not complete.
func (l *Limiter) refund(n float64) {
	if l.unlimited {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = math.Min(l.capacity, l.tokens+n)
}

// WaitTime returns how long until n tokens will be available; zero if they
// already are.
func (l *Limiter) WaitTime(n float64) time.Duration {
	if l.unlimited || l.check(n) != nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(l.clock.Now())
	missing := n - l.tokens
	if missing <= epsilon {
		return 0
	}
	return time.Duration(math.Ceil(missing / l.rate * float64(time.Second)))
}

// Acquire blocks until n tokens are taken or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, n float64) error {
	if err := l.check(n); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.TryAcquire(n) {
			return nil
		}
		wait := l.WaitTime(n)
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		if err := clock.Sleep(ctx, l.clock, wait); err != nil {
			return err
		}
	}
}

// Tokens returns the current token count after refill.
func (l *Limiter) Tokens() float64 {
	if l.unlimited {
		return math.Inf(1)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(l.clock.Now())
	return l.tokens
}

// State returns a copy of the bucket state.
func (l *Limiter) State() State {
	if l.unlimited {
		return State{Tokens: math.Inf(1), Capacity: math.Inf(1), RatePerSecond: math.Inf(1)}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(l.clock.Now())
	return State{
		Tokens:        l.tokens,
		Capacity:      l.capacity,
		RatePerSecond: l.rate,
		LastRefill:    l.lastRefill,
	}
}
