// file: internal/ratelimit/chain.go
// version: 1.0.0
// guid: 34de5553-b195-4f59-a9be-29e383d3d50f

package ratelimit

import (
	"context"
	"time"

	"github.com/jdfalk/paced-downloader/internal/clock"
)

// Chain acquires from several limiters, broadest scope first. Tokens are
// taken from every member or from none; no member lock is held while
// another member is consulted.
type Chain struct {
	limiters []*Limiter
	clock    clock.Clock
}

// NewChain builds a chain. Order matters: pass the global limiter first.
// Nil entries are skipped.
func NewChain(clk clock.Clock, limiters ...*Limiter) *Chain {
	if clk == nil {
		clk = clock.Real{}
	}
	c := &Chain{clock: clk}
	for _, l := range limiters {
		if l != nil {
			c.limiters = append(c.limiters, l)
		}
	}
	return c
}

// With returns a new chain with extra narrower-scope limiters appended.
func (c *Chain) With(limiters ...*Limiter) *Chain {
	all := append(append([]*Limiter{}, c.limiters...), limiters...)
	return NewChain(c.clock, all...)
}

// Limiters returns the members in acquisition order.
func (c *Chain) Limiters() []*Limiter {
	return append([]*Limiter(nil), c.limiters...)
}

// TryAcquire takes n tokens from every member or from none.
func (c *Chain) TryAcquire(n float64) bool {
	for i, l := range c.limiters {
		if !l.TryAcquire(n) {
			for j := i - 1; j >= 0; j-- {
				c.limiters[j].refund(n)
			}
			return false
		}
	}
	return true
}

// WaitTime is the longest wait across members.
func (c *Chain) WaitTime(n float64) time.Duration {
	var longest time.Duration
	for _, l := range c.limiters {
		if w := l.WaitTime(n); w > longest {
			longest = w
		}
	}
	return longest
}

// Acquire blocks until every member granted n tokens or ctx is done.
func (c *Chain) Acquire(ctx context.Context, n float64) error {
	for _, l := range c.limiters {
		if err := l.check(n); err != nil {
			return err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.TryAcquire(n) {
			return nil
		}
		wait := c.WaitTime(n)
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		if err := clock.Sleep(ctx, c.clock, wait); err != nil {
			return err
		}
	}
}
