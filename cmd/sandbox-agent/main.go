// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// sandbox-agent serves the session API. Two maintenance subcommands
// work on archived transcripts:
//
//	sandbox-agent [--config FILE] [--listen ADDR] [--log-level LEVEL]
//	sandbox-agent transcript [--identity FILE] ARCHIVE
//	sandbox-agent keygen
package main

import (
	"os"

	"github.com/computesdk/sandbox-agent/lib/process"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "transcript":
			return runTranscript(args[1:], os.Stdout)
		case "keygen":
			return runKeygen(os.Stdout)
		}
	}
	return runServe(args)
}
