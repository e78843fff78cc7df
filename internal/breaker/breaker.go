// file: internal/breaker/breaker.go
// version: 1.3.0
// guid: 9b120437-a426-45e2-b838-64e3c73118a9

// Package breaker implements a three-state circuit breaker around calls to
// the remote content API, plus the exponential backoff applied to
// rate-limit responses.
package breaker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jdfalk/paced-downloader/internal/clock"
)

// ErrOpen is returned by callers that short-circuit because the breaker
// rejected the request. It is not a remote failure.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker position.
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
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config tunes the breaker.
type Config struct {
	// FailureThreshold consecutive failures trip the breaker.
	FailureThreshold int
	// Window bounds how far apart counted failures may be.
	Window time.Duration
	// Cooldown is the initial time spent Open before a trial.
	Cooldown time.Duration
	// MaxCooldown caps the doubled cooldown after failed trials.
	MaxCooldown time.Duration
	// RateLimitDelay is used when the server gives no retry hint.
	RateLimitDelay time.Duration
	// RateLimitMaxBackoff caps the rate-limit backoff.
	RateLimitMaxBackoff time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		Window:              5 * time.Minute,
		Cooldown:            30 * time.Second,
		MaxCooldown:         5 * time.Minute,
		RateLimitDelay:      30 * time.Second,
		RateLimitMaxBackoff: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = max(d.MaxCooldown, c.Cooldown)
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = d.RateLimitDelay
	}
	if c.RateLimitMaxBackoff <= 0 {
		c.RateLimitMaxBackoff = d.RateLimitMaxBackoff
	}
	return c
}

// Snapshot is a copy of the breaker state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
	Cooldown            time.Duration
	RateLimitIncidents  int
}

// TransitionFunc observes state changes. It is called without the breaker
// lock held.
type TransitionFunc func(from, to State)

// Breaker is safe for concurrent use.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	clock    clock.Clock
	onChange TransitionFunc

	state        State
	failures     int
	lastFailure  time.Time
	openedAt     time.Time
	cooldown     time.Duration
	trialPending bool
	incidents    int
}

// New creates a Closed breaker.
func New(cfg Config, clk clock.Clock) *Breaker {
	if clk == nil {
		clk = clock.Real{}
	}
	cfg = cfg.withDefaults()
	return &Breaker{
		cfg:      cfg,
		clock:    clk,
		state:    Closed,
		cooldown: cfg.Cooldown,
	}
}

// OnTransition registers a state-change observer.
func (b *Breaker) OnTransition(fn TransitionFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Allow reports whether a request may proceed. In HalfOpen exactly one
// caller is admitted until its outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	from := b.state
	allowed := false
	switch b.state {
	case Closed:
		allowed = true
	case Open:
		if b.clock.Now().Sub(b.openedAt) >= b.cooldown {
			b.state = HalfOpen
			b.trialPending = true
			allowed = true
		}
	case HalfOpen:
		if !b.trialPending {
			b.trialPending = true
			allowed = true
		}
	}
	to, fn := b.state, b.onChange
	b.mu.Unlock()

	b.notify(fn, from, to)
	return allowed
}

// RecordSuccess clears the failure count while Closed and closes the
// breaker after a successful HalfOpen trial. While Open it is ignored: a
// request admitted before the trip says nothing about recovery.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.failures = 0
		b.incidents = 0
	case HalfOpen:
		if b.trialPending {
			b.state = Closed
			b.failures = 0
			b.trialPending = false
			b.cooldown = b.cfg.Cooldown
			b.incidents = 0
		}
	}
	to, fn := b.state, b.onChange
	b.mu.Unlock()

	b.notify(fn, from, to)
}

// ReleaseTrial gives up a HalfOpen trial whose outcome says nothing about
// the remote side, such as a cancelled request.
func (b *Breaker) ReleaseTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.trialPending = false
	}
}

// RecordFailure counts a remote failure and trips the breaker when needed.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	b.recordFailureLocked(b.clock.Now())
	to, fn := b.state, b.onChange
	b.mu.Unlock()

	b.notify(fn, from, to)
}

// RecordRateLimited counts a 429-style response as a failure and returns
// the backoff to wait before the next attempt against the same resource:
// min(2^incidents * base, cap), base being retryAfter when positive and
// incidents counting earlier rate-limit responses since the last success.
func (b *Breaker) RecordRateLimited(retryAfter time.Duration) time.Duration {
	b.mu.Lock()
	from := b.state
	b.recordFailureLocked(b.clock.Now())
	backoff := b.backoffLocked(retryAfter)
	b.incidents++
	to, fn := b.state, b.onChange
	b.mu.Unlock()

	b.notify(fn, from, to)
	return backoff
}

func (b *Breaker) backoffLocked(retryAfter time.Duration) time.Duration {
	base := retryAfter
	if base <= 0 {
		base = b.cfg.RateLimitDelay
	}
	limit := b.cfg.RateLimitMaxBackoff
	factor := math.Pow(2, float64(b.incidents))
	d := float64(base) * factor
	if d >= float64(limit) {
		return limit
	}
	return time.Duration(d)
}

func (b *Breaker) recordFailureLocked(now time.Time) {
	switch b.state {
	case HalfOpen:
		b.cooldown = min(b.cooldown*2, b.cfg.MaxCooldown)
		b.tripLocked(now)
		return
	case Open:
		return
	}
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.Window {
		b.failures = 0
	}
	b.failures++
	b.lastFailure = now
	if b.failures >= b.cfg.FailureThreshold {
		b.tripLocked(now)
	}
}

func (b *Breaker) tripLocked(now time.Time) {
	b.state = Open
	b.openedAt = now
	b.trialPending = false
}

// RemainingCooldown is the time left before an Open breaker admits a trial.
func (b *Breaker) RemainingCooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return 0
	}
	left := b.cooldown - b.clock.Now().Sub(b.openedAt)
	if left < 0 {
		return 0
	}
	return left
}

// State returns the current position without advancing Open to HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker internals.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
		Cooldown:            b.cooldown,
		RateLimitIncidents:  b.incidents,
	}
}

func (b *Breaker) notify(fn TransitionFunc, from, to State) {
	if fn != nil && from != to {
		fn(from, to)
	}
}
