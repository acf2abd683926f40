// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/computesdk/sandbox-agent/lib/agents"
)

type record struct {
	Session   string    `cbor:"session"`
	Agent     agents.ID `cbor:"agent"`
	At        time.Time `cbor:"at"`
	Note      string    `cbor:"note,omitempty"`
	Body      []byte    `cbor:"body"`
	Sequences []uint64  `cbor:"sequences"`
}

func sampleRecord() record {
	return record{
		Session:   "s-1",
		Agent:     agents.Claude,
		At:        time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		Body:      []byte(`{"started":{}}`),
		Sequences: []uint64{1, 2, 300},
	}
}

func TestRoundTripKeepsNanoseconds(t *testing.T) {
	t.Parallel()

	original := sampleRecord()
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.At.Equal(original.At) {
		t.Errorf("At = %v, want %v", decoded.At, original.At)
	}
	if decoded.Agent != agents.Claude || !bytes.Equal(decoded.Body, original.Body) {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()

	first, err := Marshal(map[string]any{"b": 1, "a": []string{"x"}, "c": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 10 {
		again, _ := Marshal(map[string]any{"c": true, "a": []string{"x"}, "b": 1})
		if !bytes.Equal(first, again) {
			t.Fatal("equal maps encoded differently")
		}
	}
}

func TestAgentEncodesAsText(t *testing.T) {
	t.Parallel()

	data, err := Marshal(sampleRecord())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diagnostic, `"claude"`) {
		t.Errorf("agent not encoded as text: %s", diagnostic)
	}
	if strings.Contains(diagnostic, "note") {
		t.Errorf("omitempty field encoded: %s", diagnostic)
	}
}

func TestUnknownAgentRejected(t *testing.T) {
	t.Parallel()

	data, _ := Marshal(map[string]string{"agent": "gemini"})
	var decoded record
	if err := Unmarshal(data, &decoded); err == nil {
		t.Error("Unmarshal accepted an unknown agent")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for index := range 3 {
		if err := encoder.Encode(record{Session: strings.Repeat("s", index+1)}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for index := range 3 {
		var decoded record
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode %d: %v", index, err)
		}
		if len(decoded.Session) != index+1 {
			t.Errorf("record %d session = %q", index, decoded.Session)
		}
	}
}

func TestMapsDecodeWithStringKeys(t *testing.T) {
	t.Parallel()

	data, _ := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	if _, ok := outer["nested"].(map[string]any); !ok {
		t.Errorf("nested %T, want map[string]any", outer["nested"])
	}
}
