// Copyright 2024-2026 Aiku AI

// Package clock abstracts the time operations used by the gateway and the
// REST client so heartbeat, retry and timeout behavior can be driven
// deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package the library depends on.
// Production code uses Real(); tests use Fake().
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. C has capacity 1; ticks are
// dropped if the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. No tick is delivered on C after Stop
// returns. C is not closed.
func (t *Ticker) Stop() { t.stop() }
