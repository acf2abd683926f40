// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrStreamingUnsupported is returned by NewWriter when the response
// writer cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported by response writer")

// Writer frames events onto an HTTP response and flushes after each.
type Writer struct {
	writer  io.Writer
	flusher http.Flusher
}

// NewWriter sets the event-stream headers, writes the status line and
// flushes it so the client sees the stream open before the first event.
func NewWriter(response http.ResponseWriter) (*Writer, error) {
	flusher, ok := response.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	header := response.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	response.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{writer: response, flusher: flusher}, nil
}

// WriteEvent writes one event block. Data is split on newlines so that
// any payload survives framing.
func (writer *Writer) WriteEvent(event Event) error {
	var block bytes.Buffer
	if event.ID != "" {
		fmt.Fprintf(&block, "id: %s\n", sanitize(event.ID))
	}
	if event.Type != "" {
		fmt.Fprintf(&block, "event: %s\n", sanitize(event.Type))
	}
	for line := range strings.SplitSeq(strings.ReplaceAll(event.Data, "\r\n", "\n"), "\n") {
		block.WriteString("data: ")
		block.WriteString(line)
		block.WriteByte('\n')
	}
	block.WriteByte('\n')
	return writer.flush(block.Bytes())
}

// Comment writes a comment line. Readers skip it; proxies see traffic.
func (writer *Writer) Comment(text string) error {
	return writer.flush([]byte(": " + sanitize(text) + "\n\n"))
}

func (writer *Writer) flush(block []byte) error {
	if _, err := writer.writer.Write(block); err != nil {
		return err
	}
	writer.flusher.Flush()
	return nil
}

// sanitize keeps single-line fields on one line.
func sanitize(value string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(value)
}
