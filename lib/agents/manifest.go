// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"text/template"

	"github.com/tidwall/jsonc"
)

// OutputFormat says how a backend's stdout lines are turned into event
// payloads.
type OutputFormat string

const (
	// OutputClaudeStreamJSON is the Claude Code stream-json envelope
	// ({"type":"assistant",...}). Amp speaks the same format.
	OutputClaudeStreamJSON OutputFormat = "claude-stream-json"

	// OutputCanonical means every stdout line is already a raw event
	// payload and goes straight to the normalizer.
	OutputCanonical OutputFormat = "canonical"
)

// Manifest describes how to launch one agent for a single turn.
type Manifest struct {
	// Binary is the executable name or absolute path. Empty for
	// builtin agents.
	Binary string `json:"binary,omitempty"`

	// Args are text/template strings rendered against CommandValues.
	// Arguments that render to the empty string are dropped, so
	// optional flags can be written as {{if ...}}--flag{{end}}.
	Args []string `json:"args,omitempty"`

	// Output selects the stdout translator.
	Output OutputFormat `json:"output,omitempty"`

	// Builtin agents run in-process and need no install step beyond
	// recording that they were requested.
	Builtin bool `json:"builtin,omitempty"`
}

// CommandValues are the fields available to manifest argument templates.
type CommandValues struct {
	NativeSessionID string
	Message         string
	PermissionMode  string

	// Resume is false for the first turn of a session and true after.
	Resume bool
}

// Command renders the manifest's argument templates.
func (manifest Manifest) Command(values CommandValues) ([]string, error) {
	arguments := make([]string, 0, len(manifest.Args))
	for index, text := range manifest.Args {
		parsed, err := template.New(fmt.Sprintf("arg%d", index)).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing argument %d %q: %w", index, text, err)
		}
		var rendered bytes.Buffer
		if err := parsed.Execute(&rendered, values); err != nil {
			return nil, fmt.Errorf("rendering argument %d %q: %w", index, text, err)
		}
		if rendered.Len() == 0 {
			continue
		}
		arguments = append(arguments, rendered.String())
	}
	return arguments, nil
}

func (manifest Manifest) validate() error {
	if manifest.Builtin {
		return nil
	}
	if manifest.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	switch manifest.Output {
	case OutputClaudeStreamJSON, OutputCanonical:
	default:
		return fmt.Errorf("output %q must be %q or %q", manifest.Output, OutputClaudeStreamJSON, OutputCanonical)
	}
	for index, text := range manifest.Args {
		if _, err := template.New("arg").Parse(text); err != nil {
			return fmt.Errorf("argument %d: %w", index, err)
		}
	}
	return nil
}

// Manifests maps each agent to its launch description.
type Manifests map[ID]Manifest

const bypassFlag = `{{if eq .PermissionMode "bypass"}}`

// DefaultManifests returns the built-in launch descriptions.
func DefaultManifests() Manifests {
	return Manifests{
		Claude: {
			Binary: "claude",
			Args: []string{
				"--print",
				"--output-format", "stream-json",
				"--verbose",
				"{{if .Resume}}--resume{{else}}--session-id{{end}}", "{{.NativeSessionID}}",
				bypassFlag + "--dangerously-skip-permissions{{end}}",
				"{{.Message}}",
			},
			Output: OutputClaudeStreamJSON,
		},
		Codex: {
			Binary: "codex",
			Args: []string{
				"exec", "--json",
				bypassFlag + "--dangerously-bypass-approvals-and-sandbox{{end}}",
				"{{.Message}}",
			},
			Output: OutputCanonical,
		},
		Opencode: {
			Binary: "opencode",
			Args:   []string{"run", "--format", "json", "{{.Message}}"},
			Output: OutputCanonical,
		},
		Amp: {
			Binary: "amp",
			Args: []string{
				"--execute", "{{.Message}}",
				"--stream-json",
				bypassFlag + "--dangerously-allow-all{{end}}",
			},
			Output: OutputClaudeStreamJSON,
		},
		Pi: {
			Binary: "pi",
			Args:   []string{"--mode", "json", "-p", "{{.Message}}"},
			Output: OutputCanonical,
		},
		Mock: {Builtin: true},
	}
}

// LoadManifests reads a JSONC file of per-agent overrides and merges
// it over DefaultManifests. An override replaces the whole manifest for
// its agent. Comments and trailing commas are allowed.
//
//	{
//	  // pin claude to a vendored binary
//	  "claude": {"binary": "/opt/claude/bin/claude", "args": ["--print", "{{.Message}}"], "output": "claude-stream-json"},
//	}
func LoadManifests(path string) (Manifests, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent manifests: %w", err)
	}
	return ParseManifests(data)
}

// ParseManifests is LoadManifests over in-memory JSONC.
func ParseManifests(data []byte) (Manifests, error) {
	var overrides map[ID]Manifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &overrides); err != nil {
		return nil, fmt.Errorf("parsing agent manifests: %w", err)
	}

	manifests := DefaultManifests()
	var problems []string
	for id, manifest := range overrides {
		if err := manifest.validate(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		manifests[id] = manifest
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return nil, fmt.Errorf("invalid agent manifests: %s", strings.Join(problems, "; "))
	}
	return manifests, nil
}

// Clone returns a copy safe to modify.
func (manifests Manifests) Clone() Manifests {
	return maps.Clone(manifests)
}
