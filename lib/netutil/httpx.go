// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds HTTP I/O helpers shared by the server and its
// client.
//
// ReadResponse, DecodeResponse and ErrorBody bound body reads at
// MaxResponseSize. They are for JSON request and response bodies, not
// for event streams or transcript downloads, which are read
// incrementally.
//
// IsExpectedCloseError classifies write and read failures caused by the
// peer going away mid-stream.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON body reads: 64 MB. An event page at the
// maximum page size stays far below it.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a JSON body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON body (up to MaxResponseSize bytes) and
// decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// ErrorBody reads an error response body as a string for diagnostics.
// Read errors are ignored; a partial body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
