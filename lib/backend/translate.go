// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/event"
)

// Translator turns one line of agent stdout into a payload. It returns
// false for lines that carry nothing worth recording.
type Translator func(line []byte) (event.Payload, bool)

// TranslatorFor returns the translator for an output format.
func TranslatorFor(format agents.OutputFormat) (Translator, error) {
	switch format {
	case agents.OutputClaudeStreamJSON:
		return TranslateClaudeStreamJSON, nil
	case agents.OutputCanonical, "":
		return TranslateCanonical, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// TranslateCanonical treats the line as a raw event payload.
func TranslateCanonical(line []byte) (event.Payload, bool) {
	return event.Normalize(line), true
}

// streamJSONEnvelope is the common shape of Claude Code stream-json
// output lines.
type streamJSONEnvelope struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	Message json.RawMessage `json:"message"`
	IsError bool            `json:"is_error"`
	Result  json.RawMessage `json:"result"`
}

type streamJSONMessage struct {
	Content json.RawMessage `json:"content"`
}

type streamJSONBlock struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Text      json.RawMessage `json:"text"`
	Thinking  json.RawMessage `json:"thinking"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

// TranslateClaudeStreamJSON maps Claude Code's --output-format
// stream-json lines onto canonical payloads:
//
//	{"type":"system","subtype":"init",...}  → started
//	{"type":"assistant","message":{...}}    → message, role assistant
//	{"type":"user", tool_result content}    → message, role tool
//	{"type":"user", other content}          → message, role user
//	{"type":"result","is_error":true,...}   → error, kind agent_error
//	{"type":"result",...}                   → dropped
//
// Anything else, including malformed lines, is kept as unparsed.
func TranslateClaudeStreamJSON(line []byte) (event.Payload, bool) {
	var envelope streamJSONEnvelope
	if err := json.Unmarshal(line, &envelope); err != nil {
		return event.Normalize(line), true
	}

	switch envelope.Type {
	case "system":
		if envelope.Subtype == "init" {
			return event.NewStarted(envelope.Subtype), true
		}
	case "assistant":
		if parts, ok := translateContent(envelope.Message); ok {
			return event.NewMessage(event.RoleAssistant, parts...), true
		}
	case "user":
		if parts, ok := translateContent(envelope.Message); ok {
			role := event.RoleUser
			if len(parts) > 0 && allToolResults(parts) {
				role = event.RoleTool
			}
			return event.NewMessage(role, parts...), true
		}
	case "result":
		if !envelope.IsError {
			return event.Payload{}, false
		}
		return event.NewError(KindAgentError, resultText(envelope)), true
	}
	return event.NewUnparsed(bytes.Clone(line)), true
}

// translateContent decodes message.content, which is either a string
// or an array of content blocks.
func translateContent(raw json.RawMessage) ([]event.Part, bool) {
	var message streamJSONMessage
	if len(raw) == 0 || json.Unmarshal(raw, &message) != nil || len(message.Content) == 0 {
		return nil, false
	}

	var text string
	if json.Unmarshal(message.Content, &text) == nil {
		return []event.Part{event.TextPart(text)}, true
	}

	var blocks []json.RawMessage
	if json.Unmarshal(message.Content, &blocks) != nil {
		return nil, false
	}
	parts := make([]event.Part, 0, len(blocks))
	for _, rawBlock := range blocks {
		parts = append(parts, translateBlock(rawBlock))
	}
	return parts, true
}

func translateBlock(raw json.RawMessage) event.Part {
	var block streamJSONBlock
	if json.Unmarshal(raw, &block) != nil {
		return event.Part{Type: event.PartUnknown, Text: bytes.Clone(raw)}
	}
	switch block.Type {
	case "text":
		return event.Part{Type: event.PartText, Text: bytes.Clone(block.Text)}
	case "thinking":
		return event.Part{Type: event.PartThinking, Text: bytes.Clone(block.Thinking)}
	case "tool_use":
		return event.Part{
			Type:  event.PartToolCall,
			ID:    block.ID,
			Name:  block.Name,
			Input: bytes.Clone(block.Input),
		}
	case "tool_result":
		return event.Part{
			Type:   event.PartToolResult,
			ID:     block.ToolUseID,
			Output: bytes.Clone(block.Content),
		}
	default:
		return event.Part{Type: event.PartUnknown, Text: bytes.Clone(raw)}
	}
}

func allToolResults(parts []event.Part) bool {
	for _, part := range parts {
		if part.Type != event.PartToolResult {
			return false
		}
	}
	return true
}

func resultText(envelope streamJSONEnvelope) string {
	var text string
	if json.Unmarshal(envelope.Result, &text) == nil && text != "" {
		return text
	}
	if envelope.Subtype != "" {
		return envelope.Subtype
	}
	return "agent reported an error"
}
