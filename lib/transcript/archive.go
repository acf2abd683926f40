// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package transcript packs a session's event log into a self-verifying
// binary archive.
//
// An archive is a fixed frame followed by a body:
//
//	magic "SATR" | version (1 byte) | compression (1 byte)
//	| body size, uncompressed (uint32, big endian) | digest (32 bytes)
//	| body
//
// The body is a deterministic CBOR [Transcript] with each event stored
// as its JSON wire form, so decoding yields exactly what the event
// endpoints served. Archives may additionally be sealed with age; a
// sealed archive is the age ciphertext of the frame above.
package transcript

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/codec"
	"github.com/computesdk/sandbox-agent/lib/event"
)

// FormatVersion is written into every frame.
const FormatVersion = 1

var magic = [4]byte{'S', 'A', 'T', 'R'}

const frameSize = len(magic) + 1 + 1 + 4 + len(Digest{})

// ErrCorrupt is wrapped by every decoding failure caused by the bytes
// themselves rather than by I/O.
var ErrCorrupt = errors.New("corrupt transcript archive")

// Header describes the session a transcript came from.
type Header struct {
	SessionID       string    `cbor:"session_id" json:"session_id"`
	Agent           agents.ID `cbor:"agent" json:"agent"`
	PermissionMode  string    `cbor:"permission_mode,omitempty" json:"permission_mode,omitempty"`
	NativeSessionID string    `cbor:"native_session_id" json:"native_session_id"`
	CreatedAt       time.Time `cbor:"created_at" json:"created_at"`
	ArchivedAt      time.Time `cbor:"archived_at" json:"archived_at"`
	EventCount      int       `cbor:"event_count" json:"event_count"`
	LastEventID     uint64    `cbor:"last_event_id" json:"last_event_id"`
}

// Transcript is a header plus the session's events in log order.
type Transcript struct {
	Header Header   `cbor:"header"`
	Events [][]byte `cbor:"events"`
}

// New builds a transcript from events read out of a log. EventCount
// and LastEventID are filled in from events.
func New(header Header, events []event.Event) (*Transcript, error) {
	transcript := &Transcript{Header: header, Events: make([][]byte, 0, len(events))}
	for _, e := range events {
		encoded, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encoding event %d: %w", e.ID, err)
		}
		transcript.Events = append(transcript.Events, encoded)
	}
	transcript.Header.EventCount = len(events)
	transcript.Header.LastEventID = 0
	if len(events) > 0 {
		transcript.Header.LastEventID = events[len(events)-1].ID
	}
	return transcript, nil
}

// DecodeEvents parses the stored events.
func (transcript *Transcript) DecodeEvents() ([]event.Event, error) {
	events := make([]event.Event, 0, len(transcript.Events))
	for index, encoded := range transcript.Events {
		var decoded event.Event
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			return nil, fmt.Errorf("%w: event %d: %v", ErrCorrupt, index, err)
		}
		events = append(events, decoded)
	}
	return events, nil
}

// Encode serializes transcript into an archive. Data that would not
// shrink is stored uncompressed, and the frame records that.
func Encode(transcript *Transcript, compression Compression) ([]byte, Digest, error) {
	body, err := codec.Marshal(transcript)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("encoding transcript: %w", err)
	}
	if len(body) > math.MaxUint32 {
		return nil, Digest{}, fmt.Errorf("transcript body is %d bytes, over the archive limit", len(body))
	}
	digest := digestOf(body)

	compressed, err := compress(body, compression)
	if errors.Is(err, errIncompressible) {
		compressed, compression = body, CompressionNone
	} else if err != nil {
		return nil, Digest{}, err
	}

	archive := make([]byte, 0, frameSize+len(compressed))
	archive = append(archive, magic[:]...)
	archive = append(archive, FormatVersion, byte(compression))
	archive = binary.BigEndian.AppendUint32(archive, uint32(len(body)))
	archive = append(archive, digest[:]...)
	archive = append(archive, compressed...)
	return archive, digest, nil
}

// Decode parses an archive, verifying its size and digest.
func Decode(archive []byte) (*Transcript, Digest, error) {
	if len(archive) < frameSize {
		return nil, Digest{}, fmt.Errorf("%w: %d bytes is shorter than the frame", ErrCorrupt, len(archive))
	}
	if !bytes.Equal(archive[:len(magic)], magic[:]) {
		return nil, Digest{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, archive[:len(magic)])
	}
	position := len(magic)
	version := archive[position]
	if version != FormatVersion {
		return nil, Digest{}, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, version)
	}
	compression := Compression(archive[position+1])
	size := int(binary.BigEndian.Uint32(archive[position+2:]))
	var digest Digest
	copy(digest[:], archive[position+6:frameSize])

	body, err := decompress(archive[frameSize:], compression, size)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if actual := digestOf(body); actual != digest {
		return nil, Digest{}, fmt.Errorf("%w: digest mismatch: header %s, body %s", ErrCorrupt, digest, actual)
	}

	var transcript Transcript
	if err := codec.Unmarshal(body, &transcript); err != nil {
		return nil, Digest{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &transcript, digest, nil
}
