// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/event"
	"github.com/computesdk/sandbox-agent/lib/eventlog"
)

// CreateRequest asks for a new session.
type CreateRequest struct {
	ID             string
	Agent          agents.ID
	PermissionMode string
}

// Backend talks to the agent behind a session.
//
// CreateSession returns the backend's own identifier for the new
// session; an empty identifier is an error. Send runs one turn,
// emitting its output through turn, and returns when the turn is over.
// Send is called on its own goroutine and may overlap with other Send
// calls for the same session. It must return promptly once ctx is done.
type Backend interface {
	CreateSession(ctx context.Context, request CreateRequest) (string, error)
	Send(ctx context.Context, turn *Turn) error
}

// Turn is one message sent to a session, handed to Backend.Send.
type Turn struct {
	SessionID       string
	NativeSessionID string
	Agent           agents.ID
	PermissionMode  string

	// Number counts turns within the session from 1.
	Number  int
	Message string

	log *eventlog.Log
}

// NewTurn builds a Turn that appends to eventLog. Backends under test
// use it to drive Send without a Registry.
func NewTurn(info Info, number int, message string, eventLog *eventlog.Log) *Turn {
	return &Turn{
		SessionID:       info.ID,
		NativeSessionID: info.NativeSessionID,
		Agent:           info.Agent,
		PermissionMode:  info.PermissionMode,
		Number:          number,
		Message:         message,
		log:             eventLog,
	}
}

// Emit normalizes a raw backend payload and appends it.
func (turn *Turn) Emit(raw []byte) (event.Event, error) {
	return turn.EmitPayload(event.Normalize(raw))
}

// EmitPayload appends an already-canonical payload. It fails with
// eventlog.ErrClosed once the session has been torn down.
func (turn *Turn) EmitPayload(payload event.Payload) (event.Event, error) {
	return turn.log.Append(turn.Agent, payload)
}

// Resume reports whether the backend has seen this session before.
func (turn *Turn) Resume() bool {
	return turn.Number > 1
}

// AdapterError is a backend failure. Kind is a short machine-readable
// category that becomes the kind of the error event.
type AdapterError struct {
	Kind string
	Err  error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Adapter error kinds used by this package.
const (
	KindCreateFailed = "create_failed"
	KindAdapterError = "adapter_error"
	KindTimeout      = "timeout"
)
