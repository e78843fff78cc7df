// file: internal/ratelimit/limiter_test.go
// version: 1.1.0
// guid: 30292342-cb43-4fea-b7cd-20ab64e1d8bd

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jdfalk/paced-downloader/internal/clock"
)

var epoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestNew_Defaults(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := New(600, WithClock(clk))

	st := l.State()
	assert.InDelta(t, 10.0, st.Capacity, 1e-9, "capacity defaults to one minute of rate")
	assert.InDelta(t, 5.0, st.Tokens, 1e-9, "bucket starts half full")
	assert.InDelta(t, 600.0/3600.0, st.RatePerSecond, 1e-12)
}

func TestNew_Unlimited(t *testing.T) {
	l := New(0)
	assert.True(t, l.Unlimited())
	assert.True(t, l.TryAcquire(1000))
	assert.Zero(t, l.WaitTime(1000))
	assert.NoError(t, l.Acquire(context.Background(), 5))
}

func TestLimiter_SixtyPerHourRunsDry(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := New(60, WithClock(clk))

	for i := 0; i < 60; i++ {
		clk.Advance(l.WaitTime(1))
		require.True(t, l.TryAcquire(1), "acquire %d", i)
	}
	assert.Greater(t, l.WaitTime(1), time.Duration(0))
}

func TestLimiter_RefillIsClamped(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := New(3600, WithClock(clk))

	clk.Advance(24 * time.Hour)
	assert.InDelta(t, 60.0, l.Tokens(), 1e-9)
}

func TestLimiter_ClockGoingBackwardsAddsNothing(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := New(3600, WithClock(clk))
	before := l.Tokens()

	clk.Set(epoch.Add(-time.Hour))
	assert.InDelta(t, before, l.Tokens(), 1e-9)
}

func TestLimiter_ExceedsCapacity(t *testing.T) {
	l := New(60, WithCapacity(2))
	assert.False(t, l.TryAcquire(3))
	assert.ErrorIs(t, l.Acquire(context.Background(), 3), ErrExceedsCapacity)
}

func TestLimiter_AcquireWaitsForRefill(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := New(3600, WithClock(clk), WithCapacity(1))
	require.True(t, l.TryAcquire(0.5))

	done := make(chan error, 1)
	go func() { done <- l.Acquire(context.Background(), 1) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clk.BlockUntil(ctx, 1))
	clk.Advance(time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return after refill")
	}
	assert.InDelta(t, 0.0, l.Tokens(), 1e-9)
}

func TestLimiter_AcquireCancelled(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := New(1, WithClock(clk))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx, 1) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clk.BlockUntil(waitCtx, 1))
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire ignored cancellation")
	}
}

func TestLimiter_TokensStayInBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clk := clock.NewFake(epoch)
		perHour := rapid.Float64Range(1, 10000).Draw(rt, "perHour")
		l := New(perHour, WithClock(clk))
		capacity := l.State().Capacity

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				n := rapid.Float64Range(0.01, capacity).Draw(rt, "n")
				l.TryAcquire(n)
			case 1:
				ms := rapid.Int64Range(0, int64(2*time.Hour/time.Millisecond)).Draw(rt, "advanceMs")
				clk.Advance(time.Duration(ms) * time.Millisecond)
			case 2:
				n := rapid.Float64Range(0.01, capacity).Draw(rt, "n")
				clk.Advance(l.WaitTime(n))
				if !l.TryAcquire(n) {
					rt.Fatalf("tokens not available after WaitTime(%v)", n)
				}
			}
			tokens := l.Tokens()
			if tokens < 0 || tokens > capacity+1e-9 {
				rt.Fatalf("tokens %v outside [0, %v]", tokens, capacity)
			}
		}
	})
}

func TestChain_AllOrNothing(t *testing.T) {
	clk := clock.NewFake(epoch)
	global := New(3600, WithClock(clk), WithCapacity(10), WithName("global"))
	narrow := New(3600, WithClock(clk), WithCapacity(2), WithName("lossless"))
	chain := NewChain(clk, global, narrow)

	// narrow starts with 1 token, global with 5.
	assert.False(t, chain.TryAcquire(2))
	assert.InDelta(t, 5.0, global.Tokens(), 1e-9, "global refunded after narrow refused")

	assert.True(t, chain.TryAcquire(1))
	assert.InDelta(t, 4.0, global.Tokens(), 1e-9)
	assert.InDelta(t, 0.0, narrow.Tokens(), 1e-9)
	assert.Equal(t, time.Second, chain.WaitTime(1))
}

func TestChain_AcquireBlocksOnNarrowest(t *testing.T) {
	clk := clock.NewFake(epoch)
	global := New(36000, WithClock(clk))
	narrow := New(3600, WithClock(clk), WithCapacity(1))
	chain := NewChain(clk, nil, global).With(narrow)
	require.Len(t, chain.Limiters(), 2)
	require.True(t, chain.TryAcquire(0.5))

	done := make(chan error, 1)
	go func() { done <- chain.Acquire(context.Background(), 1) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clk.BlockUntil(ctx, 1))
	clk.Advance(time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("chain Acquire did not complete")
	}
}
