// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/computesdk/sandbox-agent/lib/clock"
	"github.com/computesdk/sandbox-agent/lib/event"
	"github.com/computesdk/sandbox-agent/lib/session"
)

// Step is one payload a scripted turn emits, after waiting Delay.
type Step struct {
	Delay time.Duration

	// Raw is passed through the normalizer exactly like a payload from
	// a real agent.
	Raw json.RawMessage
}

// Script decides the steps for a turn.
type Script func(turn *session.Turn) []Step

// ScriptedConfig configures a Scripted backend.
type ScriptedConfig struct {
	// Script defaults to EchoScript.
	Script Script
	Clock  clock.Clock

	// NewID generates native session IDs. Defaults to random UUIDs.
	NewID func() string
}

// Scripted is the in-process mock agent. It never fails on its own; a
// script can still emit error payloads.
type Scripted struct {
	script Script
	clock  clock.Clock
	newID  func() string
}

func NewScripted(config ScriptedConfig) *Scripted {
	if config.Script == nil {
		config.Script = EchoScript
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}
	return &Scripted{
		script: config.Script,
		clock:  config.Clock,
		newID:  config.NewID,
	}
}

func (scripted *Scripted) CreateSession(ctx context.Context, request session.CreateRequest) (string, error) {
	return "mock-" + scripted.newID(), nil
}

func (scripted *Scripted) Send(ctx context.Context, turn *session.Turn) error {
	for _, step := range scripted.script(turn) {
		if step.Delay > 0 {
			select {
			case <-scripted.clock.After(step.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := turn.Emit(step.Raw); err != nil {
			return err
		}
	}
	return nil
}

// EchoScript starts the turn and answers with the message text.
func EchoScript(turn *session.Turn) []Step {
	return []Step{
		{Raw: mustMarshal(event.NewStarted(turn.Message))},
		{Raw: mustMarshal(event.NewMessage(event.RoleAssistant, event.TextPart(turn.Message)))},
	}
}

// ChunkedScript starts the turn and streams one assistant message per
// chunk, spaced by delay. Clients stop at the first one.
func ChunkedScript(delay time.Duration, chunks ...string) Script {
	return func(turn *session.Turn) []Step {
		steps := []Step{{Raw: mustMarshal(event.NewStarted(turn.Message))}}
		for _, chunk := range chunks {
			steps = append(steps, Step{
				Delay: delay,
				Raw:   mustMarshal(event.NewMessage(event.RoleAssistant, event.TextPart(chunk))),
			})
		}
		return steps
	}
}

// FailingScript starts the turn, waits delay and reports an error of
// the given kind.
func FailingScript(delay time.Duration, kind, message string) Script {
	return func(turn *session.Turn) []Step {
		return []Step{
			{Raw: mustMarshal(event.NewStarted(turn.Message))},
			{Delay: delay, Raw: mustMarshal(event.NewError(kind, message))},
		}
	}
}

func mustMarshal(payload event.Payload) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		panic("backend: marshalling scripted payload: " + err.Error())
	}
	return data
}
