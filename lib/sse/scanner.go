// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package sse reads and writes Server-Sent Events streams.
//
// Each event on the wire is a block of "field: value" lines closed by
// a blank line. Payloads containing newlines are split across several
// data lines and rejoined with newlines by readers. Lines starting
// with ":" are comments; servers send them as keepalives.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is one Server-Sent Event.
type Event struct {
	// ID is the "id:" field, empty if absent. Clients echo the last
	// one they saw in Last-Event-ID when reconnecting.
	ID string

	// Type is the "event:" field, empty for the default type.
	Type string

	// Data is the concatenation of the block's data lines.
	Data string
}

// Scanner reads events from a stream.
//
//	scanner := sse.NewScanner(response.Body)
//	for scanner.Next() {
//	    event := scanner.Event()
//	}
//	if err := scanner.Err(); err != nil {
//	    // handle error
//	}
type Scanner struct {
	reader  *bufio.Reader
	current Event
	err     error
}

func NewScanner(reader io.Reader) *Scanner {
	return &Scanner{
		reader: bufio.NewReaderSize(reader, 64*1024),
	}
}

// Next advances to the next event carrying data. It returns false when
// the stream ends or fails; Err tells the two apart.
func (scanner *Scanner) Next() bool {
	scanner.current = Event{}
	if scanner.err != nil {
		return false
	}

	var block Event
	var dataLines []string
	hasData := false

	for {
		line, err := scanner.reader.ReadString('\n')
		if err != nil && line == "" {
			scanner.err = err
			if err == io.EOF && hasData {
				block.Data = strings.Join(dataLines, "\n")
				scanner.current = block
				return true
			}
			return false
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData {
				block.Data = strings.Join(dataLines, "\n")
				scanner.current = block
				return true
			}
			block = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field = line
			value = ""
		} else {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			block.Type = value
		case "id":
			// An id containing NUL is ignored.
			if !strings.ContainsRune(value, 0) {
				block.ID = value
			}
		}
	}
}

// Event returns the event read by the last successful Next.
func (scanner *Scanner) Event() Event {
	return scanner.current
}

// Err returns the error that stopped the scanner, or nil after a clean
// end of stream.
func (scanner *Scanner) Err() error {
	if scanner.err == io.EOF {
		return nil
	}
	return scanner.err
}
