// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"bytes"
	"encoding/json"
)

// Keys recognized at the top level of a raw payload, in precedence
// order. When several are present the earliest wins.
const (
	keyMessage    = "message"
	keyStarted    = "started"
	keyError      = "error"
	keyQuestion   = "questionAsked"
	keyPermission = "permissionAsked"
	keyRaw        = "raw"
)

var precedence = []string{keyMessage, keyStarted, keyError, keyQuestion, keyPermission}

// Normalize maps any backend payload onto the canonical schema. It never
// fails: input that is not a JSON object, or an object carrying no
// recognized key with a usable value, becomes an unparsed payload that
// preserves the input. Invalid JSON is preserved as a JSON string.
//
// A "raw" key inside a message object marks that message as unparsed. A
// "raw" key at the top level has no special meaning and yields an
// unparsed payload holding the whole object.
func Normalize(raw []byte) Payload {
	trimmed := bytes.TrimSpace(raw)

	var object map[string]json.RawMessage
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &object) != nil {
		return unparsed(trimmed)
	}

	for _, key := range precedence {
		value, ok := object[key]
		if !ok {
			continue
		}
		if payload, ok := decodeVariant(key, value); ok {
			return payload
		}
	}
	return unparsed(trimmed)
}

func unparsed(raw []byte) Payload {
	if len(raw) > 0 && json.Valid(raw) {
		return NewUnparsed(append(json.RawMessage(nil), raw...))
	}
	encoded, _ := json.Marshal(string(raw))
	return NewUnparsed(encoded)
}

// decodeVariant reports false when value cannot carry the variant, so
// the next key in precedence order gets a chance. A null or empty error
// is how many RPC-style backends say "no error".
func decodeVariant(key string, value json.RawMessage) (Payload, bool) {
	if isNull(value) {
		return Payload{}, false
	}
	if key == keyError {
		var text string
		if json.Unmarshal(value, &text) == nil {
			if text == "" {
				return Payload{}, false
			}
			return NewError("unknown", text), true
		}
	}

	var fields map[string]json.RawMessage
	if json.Unmarshal(value, &fields) != nil || fields == nil {
		return Payload{}, false
	}

	switch key {
	case keyMessage:
		return Payload{Kind: KindMessage, Message: decodeMessage(value, fields)}, true

	case keyStarted:
		return NewStarted(stringField(fields, "message")), true

	case keyError:
		kind := stringField(fields, "kind")
		if kind == "" {
			kind = "unknown"
		}
		return NewError(kind, textField(fields, "message")), true

	case keyQuestion:
		var questions []json.RawMessage
		if json.Unmarshal(fields["questions"], &questions) != nil || questions == nil {
			questions = []json.RawMessage{}
		}
		return NewQuestion(stringField(fields, "id"), questions...), true

	case keyPermission:
		return NewPermission(stringField(fields, "id"), stringField(fields, "permission")), true
	}
	return Payload{}, false
}

func decodeMessage(value json.RawMessage, fields map[string]json.RawMessage) *Message {
	message := &Message{Role: stringField(fields, "role")}

	partsValue, hasParts := fields["parts"]
	var entries []json.RawMessage
	partsIsArray := hasParts && json.Unmarshal(partsValue, &entries) == nil && !isNull(partsValue)

	switch {
	case partsIsArray:
		message.Parts = make([]Part, 0, len(entries))
		for _, entry := range entries {
			message.Parts = append(message.Parts, decodePart(entry))
		}
	case fields[keyRaw] != nil:
		message.Unparsed = true
		message.Raw = append(json.RawMessage(nil), fields[keyRaw]...)
	case hasParts:
		message.Unparsed = true
		message.Raw = append(json.RawMessage(nil), value...)
	default:
		message.Parts = []Part{}
	}
	return message
}

func decodePart(entry json.RawMessage) Part {
	var fields map[string]json.RawMessage
	if json.Unmarshal(entry, &fields) != nil || fields == nil {
		part := Part{Type: PartUnknown}
		if !isNull(entry) {
			part.Text = append(json.RawMessage(nil), entry...)
		}
		return part
	}
	part := Part{
		Type:   stringField(fields, "type"),
		ID:     stringField(fields, "id"),
		Name:   stringField(fields, "name"),
		Text:   rawField(fields, "text"),
		Input:  rawField(fields, "input"),
		Output: rawField(fields, "output"),
	}
	if part.Type == "" {
		part.Type = PartUnknown
	}
	return part
}

func stringField(fields map[string]json.RawMessage, name string) string {
	var value string
	if json.Unmarshal(fields[name], &value) != nil {
		return ""
	}
	return value
}

// textField is stringField that falls back to the compact JSON text of
// non-string values, so structured error messages are not lost.
func textField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return ""
	}
	var value string
	if json.Unmarshal(raw, &value) == nil {
		return value
	}
	var compact bytes.Buffer
	if json.Compact(&compact, raw) != nil {
		return string(raw)
	}
	return compact.String()
}

func rawField(fields map[string]json.RawMessage, name string) json.RawMessage {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
