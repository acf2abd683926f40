// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/computesdk/sandbox-agent/lib/sealed"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sandbox-agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	config := Default()
	config.expandVariables()
	if err := config.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if config.InstallDirectory != "/home/tester/.local/share/sandbox-agent/agents" {
		t.Errorf("InstallDirectory = %q", config.InstallDirectory)
	}
	if config.Events.DefaultPageSize != 100 || config.Events.MaxPageSize != 1000 {
		t.Errorf("page sizes = %d/%d", config.Events.DefaultPageSize, config.Events.MaxPageSize)
	}
}

func TestLoadWithoutEnvironmentUsesDefaults(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	t.Setenv("HOME", "/home/tester")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if config.ListenAddress != Default().ListenAddress {
		t.Errorf("ListenAddress = %q", config.ListenAddress)
	}
	if strings.Contains(config.Root, "${") {
		t.Errorf("Root not expanded: %q", config.Root)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	path := writeConfig(t, `
environment: production
listen_address: 0.0.0.0:9000
root: /srv/agent
credentials_file: ${SANDBOX_AGENT_ROOT}/credentials.env
sessions:
  idle_timeout: 30m
events:
  default_page_size: 50
  keepalive_interval: 5s
transcripts:
  directory: ${SANDBOX_AGENT_ROOT}/transcripts
  compression: lz4
auth:
  token: ${TEST_SANDBOX_TOKEN}
log:
  level: debug
  format: json
`)
	t.Setenv(EnvironmentVariable, path)
	t.Setenv("TEST_SANDBOX_TOKEN", "s3cret")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if config.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("ListenAddress = %q", config.ListenAddress)
	}
	if config.InstallDirectory != "/srv/agent/agents" {
		t.Errorf("InstallDirectory = %q; default should follow root", config.InstallDirectory)
	}
	if config.CredentialsFile != "/srv/agent/credentials.env" {
		t.Errorf("CredentialsFile = %q", config.CredentialsFile)
	}
	if config.Transcripts.Directory != "/srv/agent/transcripts" || config.Transcripts.Compression != "lz4" {
		t.Errorf("Transcripts = %+v", config.Transcripts)
	}
	if config.Sessions.IdleTimeout != 30*time.Minute {
		t.Errorf("IdleTimeout = %v", config.Sessions.IdleTimeout)
	}
	if config.Sessions.EvictionInterval != time.Minute {
		t.Errorf("EvictionInterval = %v; unset fields keep defaults", config.Sessions.EvictionInterval)
	}
	if config.Events.DefaultPageSize != 50 || config.Events.MaxPageSize != 1000 {
		t.Errorf("Events = %+v", config.Events)
	}
	if config.Auth.Token != "s3cret" {
		t.Errorf("Auth.Token = %q, want the expanded variable", config.Auth.Token)
	}
	level, _ := config.Log.SlogLevel()
	if level != slog.LevelDebug || config.Log.Format != "json" {
		t.Errorf("Log = %+v", config.Log)
	}
}

func TestLoadFileErrors(t *testing.T) {
	t.Parallel()

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile(missing) succeeded")
	}
	if _, err := LoadFile(writeConfig(t, "events: [not, a, map]\n")); err == nil {
		t.Error("LoadFile(malformed) succeeded")
	}
	if _, err := LoadFile(writeConfig(t, "sessions:\n  idle_timeout: forever\n")); err == nil {
		t.Error("LoadFile(bad duration) succeeded")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("TEST_EXPAND_SET", "from-env")

	vars := map[string]string{"LOCAL": "from-vars"}
	tests := map[string]string{
		"${LOCAL}/x":                     "from-vars/x",
		"${TEST_EXPAND_SET}":             "from-env",
		"${TEST_EXPAND_UNSET:-fallback}": "fallback",
		"${TEST_EXPAND_UNSET}":           "",
		"plain":                          "plain",
	}
	for input, want := range tests {
		if got := expandVars(input, vars); got != want {
			t.Errorf("expandVars(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	config := Default()
	config.Environment = "staging"
	config.ListenAddress = ""
	config.Events.DefaultPageSize = 0
	config.Events.MaxPageSize = -1
	config.Events.KeepaliveInterval = 0
	config.Sessions.IdleTimeout = -time.Second
	config.Transcripts.Compression = "gzip"
	config.Transcripts.Recipients = []string{"not-a-key"}
	config.Log.Level = "loud"
	config.Log.Format = "xml"

	err := config.Validate()
	if err == nil {
		t.Fatal("Validate succeeded")
	}
	for _, fragment := range []string{
		"environment",
		"listen_address",
		"default_page_size",
		"max_page_size",
		"keepalive_interval",
		"idle_timeout",
		"transcripts.compression",
		"transcripts.recipients",
		"transcripts.directory",
		"log.level",
		"log.format",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error does not mention %s:\n%v", fragment, err)
		}
	}
}

func TestValidateProductionNeedsToken(t *testing.T) {
	t.Parallel()

	config := Default()
	config.Environment = Production
	if err := config.Validate(); err == nil || !strings.Contains(err.Error(), "auth.token") {
		t.Errorf("Validate = %v, want auth.token error", err)
	}
	config.Auth.Token = "x"
	if err := config.Validate(); err != nil {
		t.Errorf("Validate with token = %v", err)
	}
}

func TestValidateAcceptsRecipients(t *testing.T) {
	t.Parallel()

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	config := Default()
	config.Transcripts.Directory = t.TempDir()
	config.Transcripts.Recipients = []string{keypair.PublicKey}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate = %v", err)
	}
}

func TestEnsurePaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	config := Default()
	config.InstallDirectory = filepath.Join(root, "agents")
	config.Transcripts.Directory = filepath.Join(root, "archive", "transcripts")
	if err := config.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, path := range []string{config.InstallDirectory, config.Transcripts.Directory} {
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", path, err)
		}
	}
}
