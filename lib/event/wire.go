// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/computesdk/sandbox-agent/lib/agents"
)

type wireMessage struct {
	Role     string          `json:"role,omitempty"`
	Parts    []Part          `json:"parts,omitempty"`
	Unparsed bool            `json:"unparsed,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// MarshalJSON writes the message with "parts" always present for parsed
// messages, and "raw" plus "unparsed": true for unparsed ones.
func (message Message) MarshalJSON() ([]byte, error) {
	if message.Unparsed {
		raw := message.Raw
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		return json.Marshal(wireMessage{Role: message.Role, Unparsed: true, Raw: raw})
	}
	parts := message.Parts
	if parts == nil {
		parts = []Part{}
	}
	return json.Marshal(struct {
		Role  string `json:"role,omitempty"`
		Parts []Part `json:"parts"`
	}{message.Role, parts})
}

// MarshalJSON writes the wire form: a single-key object named after the
// variant ({"message":...}, {"started":...}, {"error":...},
// {"questionAsked":...}, {"permissionAsked":...}) or {"raw":...} for
// unparsed payloads.
func (payload Payload) MarshalJSON() ([]byte, error) {
	switch payload.Kind {
	case KindMessage:
		if payload.Message != nil {
			return json.Marshal(map[string]*Message{keyMessage: payload.Message})
		}
	case KindStarted:
		if payload.Started != nil {
			return json.Marshal(map[string]*Started{keyStarted: payload.Started})
		}
	case KindError:
		if payload.Error != nil {
			return json.Marshal(map[string]*Error{keyError: payload.Error})
		}
	case KindQuestion:
		if payload.Question != nil {
			question := *payload.Question
			if question.Questions == nil {
				question.Questions = []json.RawMessage{}
			}
			return json.Marshal(map[string]Question{keyQuestion: question})
		}
	case KindPermission:
		if payload.Permission != nil {
			return json.Marshal(map[string]*Permission{keyPermission: payload.Permission})
		}
	case KindUnparsed:
		if payload.Unparsed != nil && len(payload.Unparsed.Raw) > 0 {
			return json.Marshal(map[string]json.RawMessage{keyRaw: payload.Unparsed.Raw})
		}
		return []byte(`{"raw":null}`), nil
	case "":
		return []byte(`{"raw":null}`), nil
	}
	return nil, fmt.Errorf("event: payload kind %q has no %s body", payload.Kind, payload.Kind)
}

// UnmarshalJSON reads the wire form written by MarshalJSON. An object
// whose only key is "raw" is an unparsed payload; anything else goes
// through Normalize, so decoding never fails on well-formed JSON.
func (payload *Payload) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("event: payload is not valid JSON")
	}
	var object map[string]json.RawMessage
	if json.Unmarshal(data, &object) == nil && len(object) == 1 {
		if raw, ok := object[keyRaw]; ok {
			*payload = NewUnparsed(append(json.RawMessage(nil), bytes.TrimSpace(raw)...))
			return nil
		}
	}
	*payload = Normalize(data)
	return nil
}

// Event is one entry in a session's log.
type Event struct {
	// ID is unique and strictly increasing within a session. Consumers
	// resume by passing the last ID they saw as the next offset.
	ID        uint64
	Agent     agents.ID
	Timestamp time.Time
	Data      Payload
}

type wireEvent struct {
	ID        uint64    `json:"id"`
	Sequence  uint64    `json:"sequence"`
	Agent     agents.ID `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
	Data      Payload   `json:"data"`
}

// MarshalJSON writes the event with its ID under both "id" and
// "sequence".
func (event Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		ID:        event.ID,
		Sequence:  event.ID,
		Agent:     event.Agent,
		Timestamp: event.Timestamp,
		Data:      event.Data,
	})
}

func (event *Event) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID        uint64          `json:"id"`
		Sequence  uint64          `json:"sequence"`
		Agent     string          `json:"agent"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	*event = Event{
		ID:        wire.ID,
		Agent:     agents.ID(wire.Agent),
		Timestamp: wire.Timestamp,
	}
	if event.ID == 0 {
		event.ID = wire.Sequence
	}
	if len(wire.Data) > 0 {
		if err := event.Data.UnmarshalJSON(wire.Data); err != nil {
			return err
		}
	} else {
		event.Data = NewUnparsed(json.RawMessage("null"))
	}
	return nil
}
