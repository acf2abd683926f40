// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source used by the event log,
// the session registry and the SSE transport. Production wiring uses
// Real; tests use Fake and move time forward explicitly with Advance.
package clock

import "time"

// Clock is the subset of the time package that sandbox-agent code is
// allowed to call. Event timestamps, idle eviction and keepalive
// tickers all go through it.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed. A
	// non-positive d fires immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker panics if d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	Sleep(d time.Duration)
}

// Ticker delivers ticks on C until Stop is called. C has capacity one;
// ticks are dropped while the consumer is behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop ends tick delivery. C is not closed.
func (ticker *Ticker) Stop() { ticker.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
