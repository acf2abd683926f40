// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// resolveLogFormat picks text for a terminal and json otherwise, unless
// the config names a format.
func resolveLogFormat(configured string, output *os.File) string {
	if configured != "" {
		return configured
	}
	if term.IsTerminal(int(output.Fd())) {
		return "text"
	}
	return "json"
}

func newLogger(output io.Writer, level slog.Level, format string) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(output, options))
	}
	return slog.New(slog.NewJSONHandler(output, options))
}
