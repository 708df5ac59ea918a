// Package schedule runs a unit of work at a fixed wall-clock cadence
// without accumulating drift from variable work duration.
package schedule

import (
	"context"
	"time"
)

// threshold is how close to the anchor the sleep loop gets before firing
// the next cycle. Per-cycle drift stays bounded by this magnitude.
const threshold = time.Millisecond

// Run invokes work once per period until ctx is cancelled, aiming to start
// cycle N at start+N*period. The anchor advances by exactly one period per
// cycle regardless of how long work takes; if work overruns the period,
// cycles fire back-to-back with no sleep until the anchor is caught up.
// Always returns ctx.Err().
func Run(ctx context.Context, period time.Duration, work func(now time.Time)) error {
	anchor := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		work(time.Now())
		anchor = anchor.Add(period)
		if err := sleepUntil(ctx, anchor); err != nil {
			return err
		}
	}
}

// sleepUntil sleeps in halving intervals, re-checking the clock after each
// one, until the deadline is within threshold. Halving tolerates system
// clock adjustments better than one long sleep, and each interval selects
// on ctx so cancellation latency is at most half the remaining time.
func sleepUntil(ctx context.Context, deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining < threshold {
			return nil
		}
		timer := time.NewTimer(remaining / 2)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
