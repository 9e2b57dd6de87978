// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

// Package retry provides the fixed-interval retry policy and the cancellable
// timer abstraction shared by the arena client, the HyperDeck client and the
// controller's scoring timers.
//
// Reconnect loops at a live event need fast, predictable recovery, so the
// policy is a fixed interval with an optional attempt bound - never an
// exponential backoff.
package retry

import (
	"context"
	"time"
)

// Policy describes a fixed-interval retry schedule.
type Policy struct {
	// Interval is the delay between attempts.
	Interval time.Duration

	// MaxAttempts bounds the number of attempts. Zero means unbounded.
	MaxAttempts int
}

// Do runs fn until it succeeds, the attempt bound is exhausted, or the
// context is canceled. The first attempt runs immediately; subsequent
// attempts wait Interval on the policy's clock. The last error is returned
// on exhaustion.
func (p Policy) Do(ctx context.Context, clock Clock, fn func() error) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return lastErr
		}

		if err := Sleep(ctx, clock, p.Interval); err != nil {
			return err
		}
	}
}

// Sleep waits for d on the given clock, returning early if ctx is canceled.
func Sleep(ctx context.Context, clock Clock, d time.Duration) error {
	done := make(chan struct{})
	t := clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the cancellation prevented
	// the callback from running; a callback already executing runs to
	// completion regardless.
	Stop() bool
}

// Clock abstracts timer scheduling so state machine tests can drive time
// deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{t: time.AfterFunc(d, fn)}
}

type realTimer struct {
	t *time.Timer
}

func (rt realTimer) Stop() bool {
	return rt.t.Stop()
}
