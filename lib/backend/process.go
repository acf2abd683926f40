// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/credentials"
	"github.com/computesdk/sandbox-agent/lib/session"
)

// maxLineSize bounds one line of agent stdout. Tool results with large
// file contents can run long.
const maxLineSize = 1024 * 1024

// stderrTail is how much of an agent's stderr is kept for error
// messages.
const stderrTail = 4096

// Catalog is the part of agents.Manager a Process backend reads.
type Catalog interface {
	Manifest(id agents.ID) (agents.Manifest, bool)
	Path(id agents.ID) string
}

// ProcessConfig configures a Process backend.
type ProcessConfig struct {
	// Catalog supplies manifests and installed binary paths. Required.
	Catalog Catalog

	// Credentials supplies provider keys. Optional; without it agents
	// rely on whatever login their CLI already has.
	Credentials credentials.Provider

	// WorkingDirectory is where agent processes run. Empty means the
	// server's working directory.
	WorkingDirectory string

	// Environment is the base environment for agent processes.
	// Defaults to os.Environ().
	Environment []string

	// NewID generates native session IDs. Defaults to random UUIDs,
	// which Claude Code accepts for --session-id.
	NewID func() string

	Logger *slog.Logger
}

// Process runs an agent CLI once per turn. The native session ID is
// chosen here and passed to the CLI, so follow-up turns resume the same
// conversation.
type Process struct {
	catalog          Catalog
	credentials      credentials.Provider
	workingDirectory string
	environment      []string
	newID            func() string
	logger           *slog.Logger
}

func NewProcess(config ProcessConfig) *Process {
	if config.Catalog == nil {
		panic("backend.Process: Catalog is required")
	}
	if config.Environment == nil {
		config.Environment = os.Environ()
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Process{
		catalog:          config.Catalog,
		credentials:      config.Credentials,
		workingDirectory: config.WorkingDirectory,
		environment:      config.Environment,
		newID:            config.NewID,
		logger:           config.Logger,
	}
}

func (process *Process) manifest(agent agents.ID) (agents.Manifest, error) {
	manifest, ok := process.catalog.Manifest(agent)
	if !ok || manifest.Builtin {
		return agents.Manifest{}, &session.AdapterError{
			Kind: KindUnsupported,
			Err:  fmt.Errorf("agent %q has no command manifest", agent),
		}
	}
	return manifest, nil
}

func (process *Process) credentialsFor(agent agents.ID) ([]string, error) {
	if process.credentials == nil {
		return nil, nil
	}
	extracted, err := process.credentials.CredentialsFor(agent)
	if err != nil {
		return nil, &session.AdapterError{Kind: KindCredentials, Err: err}
	}
	return credentials.Environment(extracted), nil
}

// CreateSession checks that the agent can be launched and picks its
// native session ID. No process runs until the first turn.
func (process *Process) CreateSession(ctx context.Context, request session.CreateRequest) (string, error) {
	manifest, err := process.manifest(request.Agent)
	if err != nil {
		return "", err
	}
	if _, err := process.credentialsFor(request.Agent); err != nil {
		return "", err
	}
	if _, err := manifest.Command(agents.CommandValues{PermissionMode: request.PermissionMode}); err != nil {
		return "", &session.AdapterError{Kind: KindUnsupported, Err: err}
	}
	return process.newID(), nil
}

// Send runs the agent for one turn. Each stdout line is translated and
// appended as it arrives. A process that exits without producing a
// turn-ending payload is reported as an adapter error.
func (process *Process) Send(ctx context.Context, turn *session.Turn) error {
	manifest, err := process.manifest(turn.Agent)
	if err != nil {
		return err
	}
	translate, err := TranslatorFor(manifest.Output)
	if err != nil {
		return &session.AdapterError{Kind: KindUnsupported, Err: err}
	}
	credentialEnvironment, err := process.credentialsFor(turn.Agent)
	if err != nil {
		return err
	}
	arguments, err := manifest.Command(agents.CommandValues{
		NativeSessionID: turn.NativeSessionID,
		Message:         turn.Message,
		PermissionMode:  turn.PermissionMode,
		Resume:          turn.Resume(),
	})
	if err != nil {
		return &session.AdapterError{Kind: KindUnsupported, Err: err}
	}

	binaryPath := process.catalog.Path(turn.Agent)
	logger := process.logger.With("session_id", turn.SessionID, "agent", turn.Agent, "turn", turn.Number)

	command := exec.CommandContext(ctx, binaryPath, arguments...)
	command.Dir = process.workingDirectory
	command.Env = append(slices.Clone(process.environment), credentialEnvironment...)
	stderr := &tailWriter{limit: stderrTail}
	command.Stderr = stderr

	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := command.Start(); err != nil {
		return &session.AdapterError{Kind: KindSpawn, Err: fmt.Errorf("starting %s: %w", binaryPath, err)}
	}
	logger.Debug("agent process started", "pid", command.Process.Pid, "binary", binaryPath)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var terminal bool
	var emitErr error
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		payload, ok := translate(line)
		if !ok {
			continue
		}
		if _, emitErr = turn.EmitPayload(payload); emitErr != nil {
			break
		}
		terminal = terminal || payload.EndsTurn()
	}
	scanErr := scanner.Err()
	if emitErr != nil || scanErr != nil {
		// Stop reading; the process must not block on a full pipe.
		_ = command.Process.Kill()
	}
	waitErr := command.Wait()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case emitErr != nil:
		return emitErr
	case scanErr != nil:
		return &session.AdapterError{Kind: KindProcessExit, Err: fmt.Errorf("reading %s output: %w", turn.Agent, scanErr)}
	case waitErr != nil && !terminal:
		return &session.AdapterError{Kind: KindProcessExit, Err: exitError(binaryPath, waitErr, stderr.String())}
	case waitErr != nil:
		logger.Warn("agent exited with an error after responding", "error", waitErr, "stderr", stderr.String())
	case !terminal:
		return &session.AdapterError{Kind: KindNoResponse, Err: fmt.Errorf("%s exited without a response", binaryPath)}
	}
	logger.Debug("agent process finished")
	return nil
}

func exitError(binaryPath string, err error, stderr string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = fmt.Errorf("exit status %d", exitErr.ExitCode())
	}
	if stderr = strings.TrimSpace(stderr); stderr != "" {
		return fmt.Errorf("%s: %w: %s", binaryPath, err, stderr)
	}
	return fmt.Errorf("%s: %w", binaryPath, err)
}

// tailWriter keeps the last limit bytes written to it.
type tailWriter struct {
	limit int
	data  []byte
}

func (writer *tailWriter) Write(p []byte) (int, error) {
	writer.data = append(writer.data, p...)
	if excess := len(writer.data) - writer.limit; excess > 0 {
		writer.data = slices.Delete(writer.data, 0, excess)
	}
	return len(p), nil
}

func (writer *tailWriter) String() string {
	return string(writer.data)
}

var (
	_ session.Backend = (*Process)(nil)
	_ session.Backend = (*Scripted)(nil)
	_ session.Backend = (*Router)(nil)
)
