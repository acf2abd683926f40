// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/computesdk/sandbox-agent/lib/event"
	"github.com/computesdk/sandbox-agent/lib/sse"
)

// ErrStreamEnded means the server closed the stream, which happens
// only when the session is torn down.
var ErrStreamEnded = errors.New("event stream ended")

// Stream reads one server-sent event connection. It is not safe for
// concurrent use.
type Stream struct {
	body    io.ReadCloser
	scanner *sse.Scanner
	current event.Event
	lastID  uint64
	err     error
}

// Stream opens a push connection delivering events with IDs greater
// than offset. The offset travels as Last-Event-ID, the header a
// browser sends when it reconnects, so resuming after a drop is just
// another Stream call with LastID.
func (client *Client) Stream(ctx context.Context, id string, offset uint64) (*Stream, error) {
	header := http.Header{}
	header.Set("Accept", "text/event-stream")
	if offset > 0 {
		header.Set("Last-Event-ID", strconv.FormatUint(offset, 10))
	}
	response, err := client.do(ctx, http.MethodGet, sessionPath(id)+"/events/sse", header, nil)
	if err != nil {
		return nil, fmt.Errorf("streaming events of %q: %w", id, err)
	}
	if response.StatusCode != http.StatusOK {
		defer response.Body.Close()
		return nil, fmt.Errorf("streaming events of %q: %w", id, decodeAPIError(response))
	}
	return &Stream{
		body:    response.Body,
		scanner: sse.NewScanner(response.Body),
		lastID:  offset,
	}, nil
}

// Next blocks until the next event and reports whether there is one.
// Keepalive comments are skipped. After Next returns false, Err says
// why.
func (stream *Stream) Next() bool {
	if stream.err != nil {
		return false
	}
	for stream.scanner.Next() {
		block := stream.scanner.Event()
		if block.Data == "" {
			continue
		}
		var decoded event.Event
		if err := json.Unmarshal([]byte(block.Data), &decoded); err != nil {
			stream.err = fmt.Errorf("decoding event %s: %w", block.ID, err)
			return false
		}
		stream.current = decoded
		stream.lastID = decoded.ID
		return true
	}
	if err := stream.scanner.Err(); err != nil {
		stream.err = err
	} else {
		stream.err = ErrStreamEnded
	}
	return false
}

// Event returns the event read by the last successful Next.
func (stream *Stream) Event() event.Event {
	return stream.current
}

// LastID is the ID of the last event read, or the starting offset.
func (stream *Stream) LastID() uint64 {
	return stream.lastID
}

// Err returns ErrStreamEnded after a clean server close, or the read
// error that stopped the stream.
func (stream *Stream) Err() error {
	return stream.err
}

func (stream *Stream) Close() error {
	return stream.body.Close()
}

// StreamUntil reads events from offset until done reports true for the
// accumulated slice. It returns ErrStreamEnded if the session goes
// away first.
func (client *Client) StreamUntil(ctx context.Context, id string, offset uint64, done func([]event.Event) bool) ([]event.Event, error) {
	stream, err := client.Stream(ctx, id, offset)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var collected []event.Event
	for stream.Next() {
		collected = append(collected, stream.Event())
		if done(collected) {
			return collected, nil
		}
	}
	if ctx.Err() != nil {
		return collected, ctx.Err()
	}
	return collected, stream.Err()
}
