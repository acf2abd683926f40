// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

type pendingTimer struct {
	deadline time.Time
	channel  chan time.Time
	period   time.Duration // zero for one-shot timers
	stopped  bool
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

func (fake *FakeClock) Now() time.Time {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.now
}

func (fake *FakeClock) After(d time.Duration) <-chan time.Time {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- fake.now
		return channel
	}
	fake.addLocked(&pendingTimer{deadline: fake.now.Add(d), channel: channel})
	return channel
}

func (fake *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()

	timer := &pendingTimer{
		deadline: fake.now.Add(d),
		channel:  make(chan time.Time, 1),
		period:   d,
	}
	fake.addLocked(timer)

	return &Ticker{
		C: timer.channel,
		stop: func() {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			timer.stopped = true
		},
	}
}

func (fake *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-fake.After(d)
}

// Advance moves time forward by d and fires every timer whose deadline
// is reached, in deadline order. A ticker spanning several periods
// fires once per period; ticks that find C full are dropped.
func (fake *FakeClock) Advance(d time.Duration) {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	fake.now = fake.now.Add(d)
	for {
		due := fake.dueLocked()
		if due == nil {
			return
		}
		select {
		case due.channel <- fake.now:
		default:
		}
		if due.period > 0 {
			due.deadline = due.deadline.Add(due.period)
		} else {
			due.stopped = true
		}
	}
}

// dueLocked returns the earliest live timer whose deadline has passed,
// pruning stopped timers as it goes.
func (fake *FakeClock) dueLocked() *pendingTimer {
	live := fake.pending[:0]
	for _, timer := range fake.pending {
		if !timer.stopped {
			live = append(live, timer)
		}
	}
	fake.pending = live
	sort.SliceStable(fake.pending, func(i, j int) bool {
		return fake.pending[i].deadline.Before(fake.pending[j].deadline)
	})
	if len(fake.pending) == 0 || fake.pending[0].deadline.After(fake.now) {
		return nil
	}
	return fake.pending[0]
}

// WaitForTimers blocks until at least n timers or tickers are pending.
// Call it before Advance so that a goroutine's timer registration does
// not race with the advance.
func (fake *FakeClock) WaitForTimers(n int) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	for fake.liveLocked() < n {
		fake.changed.Wait()
	}
}

// PendingCount returns the number of live timers and tickers.
func (fake *FakeClock) PendingCount() int {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.liveLocked()
}

func (fake *FakeClock) addLocked(timer *pendingTimer) {
	fake.pending = append(fake.pending, timer)
	fake.changed.Broadcast()
}

func (fake *FakeClock) liveLocked() int {
	count := 0
	for _, timer := range fake.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}
