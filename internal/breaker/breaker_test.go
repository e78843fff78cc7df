// file: internal/breaker/breaker_test.go
// version: 1.2.0
// guid: 5fad1844-e36b-4ebd-92e5-9092c72571ba

package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/paced-downloader/internal/clock"
)

var epoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestBreaker(t *testing.T) (*Breaker, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	return New(Config{
		FailureThreshold: 3,
		Window:           time.Minute,
		Cooldown:         10 * time.Second,
		MaxCooldown:      30 * time.Second,
	}, clk), clk
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
	assert.Equal(t, 3, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_FailuresOutsideWindowReset(t *testing.T) {
	b, clk := newTestBreaker(t)

	b.RecordFailure()
	b.RecordFailure()
	clk.Advance(2 * time.Minute)
	b.RecordFailure()

	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 1, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_HalfOpenOnlyAfterCooldown(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	clk.Advance(9 * time.Second)
	assert.False(t, b.Allow())
	assert.Equal(t, time.Second, b.RemainingCooldown())

	clk.Advance(time.Second)
	assert.True(t, b.Allow(), "trial admitted once cooldown elapsed")
	assert.Equal(t, HalfOpen, b.State())
	assert.False(t, b.Allow(), "only one trial in half-open")
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Advance(10 * time.Second)
	require.True(t, b.Allow())

	b.RecordSuccess()
	snap := b.Snapshot()
	assert.Equal(t, Closed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Equal(t, 10*time.Second, snap.Cooldown)
	assert.True(t, b.Allow())
}

func TestBreaker_LateSuccessDoesNotCloseOpenBreaker(t *testing.T) {
	b, clk := newTestBreaker(t)

	var seen []string
	b.OnTransition(func(from, to State) { seen = append(seen, from.String()+"->"+to.String()) })

	require.True(t, b.Allow(), "request admitted while closed")
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, Open, b.State())

	// The earlier request finishes after the trip.
	b.RecordSuccess()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
	assert.Equal(t, 3, b.Snapshot().ConsecutiveFailures)

	clk.Advance(10 * time.Second)
	require.True(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, seen)
}

func TestBreaker_SuccessWithoutTrialKeepsHalfOpen(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Advance(10 * time.Second)
	require.True(t, b.Allow())
	b.ReleaseTrial()

	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.State())
}

func TestBreaker_TrialFailureReopensWithLongerCooldown(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	cooldowns := []time.Duration{20 * time.Second, 30 * time.Second, 30 * time.Second}
	for _, want := range cooldowns {
		clk.Advance(b.RemainingCooldown())
		require.True(t, b.Allow())
		b.RecordFailure()

		snap := b.Snapshot()
		assert.Equal(t, Open, snap.State)
		assert.Equal(t, clk.Now(), snap.OpenedAt, "cooldown timer restarts")
		assert.Equal(t, want, snap.Cooldown)
	}
}

func TestBreaker_ReleaseTrialAdmitsAnotherCaller(t *testing.T) {
	b, clk := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Advance(10 * time.Second)

	require.True(t, b.Allow())
	assert.False(t, b.Allow())
	b.ReleaseTrial()
	assert.Equal(t, HalfOpen, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_RateLimitedBackoff(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := New(Config{
		FailureThreshold:    100,
		RateLimitDelay:      30 * time.Second,
		RateLimitMaxBackoff: 5 * time.Minute,
	}, clk)

	tests := []struct {
		name       string
		retryAfter time.Duration
		want       time.Duration
	}{
		{"first uses default", 0, 30 * time.Second},
		{"second doubles", 0, time.Minute},
		{"server hint", 10 * time.Second, 40 * time.Second},
		{"capped", 0, 4 * time.Minute},
		{"stays capped", 0, 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.RecordRateLimited(tt.retryAfter))
		})
	}

	b.RecordSuccess()
	assert.Equal(t, 30*time.Second, b.RecordRateLimited(0), "incidents reset on success")
}

func TestBreaker_RateLimitedCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordRateLimited(time.Second)
	}
	assert.Equal(t, Open, b.State())
}

func TestBreaker_TransitionCallback(t *testing.T) {
	b, clk := newTestBreaker(t)

	var mu sync.Mutex
	var seen []string
	b.OnTransition(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, from.String()+"->"+to.String())
	})

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Advance(10 * time.Second)
	b.Allow()
	b.RecordSuccess()
	b.RecordSuccess()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, seen)
}

func TestConfig_Defaults(t *testing.T) {
	b := New(Config{}, nil)
	snap := b.Snapshot()
	assert.Equal(t, Closed, snap.State)
	assert.Equal(t, 30*time.Second, snap.Cooldown)
	assert.Equal(t, "state(9)", State(9).String())
}
