// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package agents names the coding-agent backends sandbox-agent can
// drive and tracks which of them are installed on this host.
//
// An agent is identified by an [ID] from a closed set. Each ID has a
// [Manifest] describing how its command line is built and how its
// output is read. The [Manager] owns the install directory and answers
// the IsInstalled question the session registry asks before creating a
// session.
package agents

import (
	"errors"
	"fmt"
	"strings"
)

// ID identifies an agent backend. The string form is lowercase and is
// what appears in URLs, config files and event payloads.
type ID string

const (
	Claude   ID = "claude"
	Codex    ID = "codex"
	Opencode ID = "opencode"
	Amp      ID = "amp"
	Pi       ID = "pi"

	// Mock is a built-in scripted agent that needs no binary and no
	// credentials. It echoes each message back as an assistant reply.
	Mock ID = "mock"
)

// ErrUnknownAgent is returned by Parse for names outside the closed set.
var ErrUnknownAgent = errors.New("unknown agent")

var allAgents = []ID{Claude, Codex, Opencode, Amp, Pi, Mock}

// All returns every known agent in a stable order.
func All() []ID {
	return append([]ID(nil), allAgents...)
}

// Parse maps a case-insensitive name to its ID.
func Parse(name string) (ID, error) {
	candidate := ID(strings.ToLower(strings.TrimSpace(name)))
	for _, id := range allAgents {
		if id == candidate {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAgent, name)
}

func (id ID) String() string { return string(id) }

// Valid reports whether id is in the known set.
func (id ID) Valid() bool {
	_, err := Parse(string(id))
	return err == nil
}

// UnmarshalText lets IDs appear as map keys and fields in JSON and
// YAML, rejecting unknown names at decode time.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id), nil
}
