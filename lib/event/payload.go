// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the canonical session event and the normalizer
// that maps arbitrary backend output onto it.
//
// Every backend reports activity as loosely shaped JSON. [Normalize]
// turns any input, including invalid JSON, into a [Payload]: a tagged
// union with an explicit [Kind]. Input that matches no known shape is
// kept verbatim as an unparsed payload rather than rejected. Clients see
// a single schema across agents.
package event

import (
	"encoding/json"
)

// Kind discriminates Payload.
type Kind string

const (
	KindMessage    Kind = "message"
	KindStarted    Kind = "started"
	KindError      Kind = "error"
	KindQuestion   Kind = "question"
	KindPermission Kind = "permission"
	KindUnparsed   Kind = "unparsed"
)

// Payload is the canonical body of an event. Exactly the field matching
// Kind is non-nil.
type Payload struct {
	Kind Kind

	Message    *Message
	Started    *Started
	Error      *Error
	Question   *Question
	Permission *Permission
	Unparsed   *Unparsed
}

// Message is one chat message from any role. When the backend's message
// could not be broken into parts, Unparsed is set and Raw holds the
// original value.
type Message struct {
	Role     string
	Parts    []Part
	Unparsed bool
	Raw      json.RawMessage
}

// Part is one element of a message. Text, Input and Output are opaque
// JSON values passed through untouched.
type Part struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Text   json.RawMessage `json:"text,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}

// Started marks the backend beginning work on a session or turn.
type Started struct {
	Message string `json:"message,omitempty"`
}

// Error is a failure reported by, or about, the backend.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Question is the backend asking the user something.
type Question struct {
	ID        string            `json:"id"`
	Questions []json.RawMessage `json:"questions"`
}

// Permission is the backend asking to be allowed to do something.
type Permission struct {
	ID         string `json:"id"`
	Permission string `json:"permission"`
}

// Unparsed holds input that matched no known shape.
type Unparsed struct {
	Raw json.RawMessage
}

// Part types produced by the built-in translators.
const (
	PartText       = "text"
	PartThinking   = "thinking"
	PartToolCall   = "tool_call"
	PartToolResult = "tool_result"
	PartUnknown    = "unknown"
)

// Message roles produced by the built-in translators.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

func NewMessage(role string, parts ...Part) Payload {
	if parts == nil {
		parts = []Part{}
	}
	return Payload{Kind: KindMessage, Message: &Message{Role: role, Parts: parts}}
}

func NewStarted(message string) Payload {
	return Payload{Kind: KindStarted, Started: &Started{Message: message}}
}

func NewError(kind, message string) Payload {
	return Payload{Kind: KindError, Error: &Error{Kind: kind, Message: message}}
}

func NewQuestion(id string, questions ...json.RawMessage) Payload {
	if questions == nil {
		questions = []json.RawMessage{}
	}
	return Payload{Kind: KindQuestion, Question: &Question{ID: id, Questions: questions}}
}

func NewPermission(id, permission string) Payload {
	return Payload{Kind: KindPermission, Permission: &Permission{ID: id, Permission: permission}}
}

// NewUnparsed wraps raw verbatim. raw must be valid JSON; use Normalize
// for arbitrary bytes.
func NewUnparsed(raw json.RawMessage) Payload {
	return Payload{Kind: KindUnparsed, Unparsed: &Unparsed{Raw: raw}}
}

// TextPart builds a text part from a Go string.
func TextPart(text string) Part {
	encoded, _ := json.Marshal(text)
	return Part{Type: PartText, Text: encoded}
}

// TextOf returns the part's text when it is a JSON string.
func (part Part) TextOf() (string, bool) {
	var text string
	if len(part.Text) == 0 || json.Unmarshal(part.Text, &text) != nil {
		return "", false
	}
	return text, true
}

// IsAssistantMessage reports whether the payload is a message with the
// assistant role.
func (payload Payload) IsAssistantMessage() bool {
	return payload.Kind == KindMessage && payload.Message != nil && payload.Message.Role == RoleAssistant
}

// IsError reports whether the payload is an error.
func (payload Payload) IsError() bool {
	return payload.Kind == KindError
}

// EndsTurn reports whether a client waiting for a turn may stop at this
// payload: the first assistant message or the first error.
func (payload Payload) EndsTurn() bool {
	return payload.IsAssistantMessage() || payload.IsError()
}
