// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns live agent sessions: their identity, their event
// log and the goroutines running their turns.
//
// A [Registry] creates sessions through a [Backend], which reports a
// native session ID and later runs each turn. Turns run asynchronously;
// everything a backend produces reaches clients only as events appended
// to the session's log through [Turn.Emit].
package session

import (
	"context"
	"sync"
	"time"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/eventlog"
)

// Session is one conversation with one agent. Its identity fields are
// fixed at creation.
type Session struct {
	ID              string
	Agent           agents.ID
	PermissionMode  string
	NativeSessionID string
	CreatedAt       time.Time

	log *eventlog.Log

	// ctx is cancelled at teardown, which cancels in-flight turns.
	ctx    context.Context
	cancel context.CancelFunc
	turns  sync.WaitGroup

	mu           sync.Mutex
	lastActivity time.Time
	turnCount    int
	activeTurns  int
	closed       bool
}

// Log returns the session's event log.
func (session *Session) Log() *eventlog.Log {
	return session.log
}

// Info is a point-in-time description of a session.
type Info struct {
	ID              string    `json:"id"`
	Agent           agents.ID `json:"agent"`
	PermissionMode  string    `json:"permissionMode"`
	NativeSessionID string    `json:"native_session_id"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
	LastEventID     uint64    `json:"last_event_id"`
	Turns           int       `json:"turns"`
	ActiveTurns     int       `json:"active_turns"`
}

func (session *Session) Info() Info {
	session.mu.Lock()
	defer session.mu.Unlock()
	return Info{
		ID:              session.ID,
		Agent:           session.Agent,
		PermissionMode:  session.PermissionMode,
		NativeSessionID: session.NativeSessionID,
		CreatedAt:       session.CreatedAt,
		LastActivity:    session.lastActivity,
		LastEventID:     session.log.LastID(),
		Turns:           session.turnCount,
		ActiveTurns:     session.activeTurns,
	}
}

// Touch records client activity so idle eviction leaves the session be.
func (session *Session) Touch(now time.Time) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if now.After(session.lastActivity) {
		session.lastActivity = now
	}
}

// beginTurn reserves the next turn number. It fails once the session
// has been torn down.
func (session *Session) beginTurn(now time.Time) (int, bool) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.closed {
		return 0, false
	}
	session.turnCount++
	session.activeTurns++
	session.lastActivity = now
	session.turns.Add(1)
	return session.turnCount, true
}

func (session *Session) endTurn(now time.Time) {
	session.mu.Lock()
	session.activeTurns--
	if now.After(session.lastActivity) {
		session.lastActivity = now
	}
	session.mu.Unlock()
	session.turns.Done()
}

// idleSince reports whether the session has had no turns running, no
// subscribers and no client activity since cutoff.
func (session *Session) idleSince(cutoff time.Time) bool {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.activeTurns == 0 &&
		session.log.Subscribers() == 0 &&
		!session.lastActivity.After(cutoff)
}

// teardown cancels running turns and closes the log. Subscriptions
// drain and then end.
func (session *Session) teardown() {
	session.mu.Lock()
	session.closed = true
	session.mu.Unlock()

	session.cancel()
	session.log.Close()
}

// Wait blocks until every turn started on the session has returned.
func (session *Session) Wait() {
	session.turns.Wait()
}
