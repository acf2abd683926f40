// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventlog is the per-session, in-memory, append-only event
// log and its subscriber fan-out.
//
// The log itself is the buffer for every consumer. A [Subscription] is
// only a cursor plus a one-slot wake-up channel, so a slow reader lags
// its own cursor and never holds up [Log.Append] or any other reader.
// Poll-style readers use [Log.ReadFrom] directly; push-style readers
// hold a Subscription and block in [Subscription.Next].
package eventlog

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/clock"
	"github.com/computesdk/sandbox-agent/lib/event"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("eventlog: log is closed")

// Log is an ordered sequence of events with IDs starting at 1 and
// strictly increasing. Safe for concurrent use.
type Log struct {
	clock clock.Clock

	mu          sync.RWMutex
	events      []event.Event
	lastID      uint64
	subscribers map[*Subscription]struct{}
	closed      bool

	// done is closed by Close. Subscriptions select on it to learn that
	// no further events will arrive.
	done chan struct{}
}

// New returns an empty log stamping events with clk.
func New(clk clock.Clock) *Log {
	if clk == nil {
		clk = clock.Real()
	}
	return &Log{
		clock:       clk,
		subscribers: make(map[*Subscription]struct{}),
		done:        make(chan struct{}),
	}
}

// Append assigns the next ID to payload, stores it and wakes every
// subscription. It holds the write lock for one slice append and a
// non-blocking send per subscriber; it never waits on a reader.
func (eventLog *Log) Append(agent agents.ID, payload event.Payload) (event.Event, error) {
	eventLog.mu.Lock()
	defer eventLog.mu.Unlock()

	if eventLog.closed {
		return event.Event{}, ErrClosed
	}

	eventLog.lastID++
	appended := event.Event{
		ID:        eventLog.lastID,
		Agent:     agent,
		Timestamp: eventLog.clock.Now().UTC(),
		Data:      payload,
	}
	eventLog.events = append(eventLog.events, appended)

	for subscription := range eventLog.subscribers {
		select {
		case subscription.notify <- struct{}{}:
		default:
			// Already signalled; the reader will see this event on its
			// next read.
		}
	}
	return appended, nil
}

// ReadFrom returns up to limit events with ID greater than offset, in
// order. A limit of zero or less means no limit. An offset at or past
// the last ID returns an empty slice. The result is a copy.
func (eventLog *Log) ReadFrom(offset uint64, limit int) []event.Event {
	eventLog.mu.RLock()
	defer eventLog.mu.RUnlock()
	return eventLog.readLocked(offset, limit)
}

func (eventLog *Log) readLocked(offset uint64, limit int) []event.Event {
	start := sort.Search(len(eventLog.events), func(index int) bool {
		return eventLog.events[index].ID > offset
	})
	end := len(eventLog.events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	if start >= end {
		return []event.Event{}
	}
	return append([]event.Event(nil), eventLog.events[start:end]...)
}

// LastID is the ID of the most recent event, or zero if none.
func (eventLog *Log) LastID() uint64 {
	eventLog.mu.RLock()
	defer eventLog.mu.RUnlock()
	return eventLog.lastID
}

// Len is the number of stored events.
func (eventLog *Log) Len() int {
	eventLog.mu.RLock()
	defer eventLog.mu.RUnlock()
	return len(eventLog.events)
}

// Close stops further appends and ends every subscription once it has
// drained. Stored events remain readable. Idempotent.
func (eventLog *Log) Close() {
	eventLog.mu.Lock()
	defer eventLog.mu.Unlock()
	if eventLog.closed {
		return
	}
	eventLog.closed = true
	close(eventLog.done)
}

// Done is closed when the log is closed.
func (eventLog *Log) Done() <-chan struct{} {
	return eventLog.done
}

// Subscribers is the number of open subscriptions.
func (eventLog *Log) Subscribers() int {
	eventLog.mu.RLock()
	defer eventLog.mu.RUnlock()
	return len(eventLog.subscribers)
}

// Subscribe returns a cursor positioned after offset. Events already in
// the log past offset are delivered first, then live events, with no
// gap between the two: the subscription is registered before its first
// read.
func (eventLog *Log) Subscribe(offset uint64) *Subscription {
	subscription := &Subscription{
		log:    eventLog,
		cursor: offset,
		notify: make(chan struct{}, 1),
	}
	eventLog.mu.Lock()
	if !eventLog.closed {
		eventLog.subscribers[subscription] = struct{}{}
	}
	eventLog.mu.Unlock()
	return subscription
}

func (eventLog *Log) unsubscribe(subscription *Subscription) {
	eventLog.mu.Lock()
	delete(eventLog.subscribers, subscription)
	eventLog.mu.Unlock()
}

// Subscription is one reader's position in a Log. A Subscription is
// owned by a single goroutine; only Close may be called from another.
type Subscription struct {
	log    *Log
	cursor uint64
	notify chan struct{}
	once   sync.Once
}

// Poll returns up to limit events past the cursor without blocking and
// advances the cursor past them.
func (subscription *Subscription) Poll(limit int) []event.Event {
	batch := subscription.log.ReadFrom(subscription.cursor, limit)
	if len(batch) > 0 {
		subscription.cursor = batch[len(batch)-1].ID
	}
	return batch
}

// Wait receives a value after at least one append since the previous
// receive. Wake-ups can be spurious; always Poll afterwards.
func (subscription *Subscription) Wait() <-chan struct{} {
	return subscription.notify
}

// Done is closed when the underlying log is closed.
func (subscription *Subscription) Done() <-chan struct{} {
	return subscription.log.done
}

// Next blocks until at least one event is past the cursor and returns
// up to limit of them. When the log is closed and every event has been
// delivered, Next returns io.EOF. It returns ctx.Err() if ctx ends
// first.
func (subscription *Subscription) Next(ctx context.Context, limit int) ([]event.Event, error) {
	for {
		if batch := subscription.Poll(limit); len(batch) > 0 {
			return batch, nil
		}
		select {
		case <-subscription.notify:
		case <-subscription.log.done:
			if batch := subscription.Poll(limit); len(batch) > 0 {
				return batch, nil
			}
			return nil, io.EOF
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cursor is the ID of the last event delivered, or the starting offset.
func (subscription *Subscription) Cursor() uint64 {
	return subscription.cursor
}

// Close detaches the subscription from the log. Other subscriptions are
// unaffected. Idempotent.
func (subscription *Subscription) Close() {
	subscription.once.Do(func() {
		subscription.log.unsubscribe(subscription)
	})
}
