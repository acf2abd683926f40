// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/computesdk/sandbox-agent/lib/clock"
)

// InstallError wraps a failed install. The HTTP layer reports it with
// a fixed message and logs Err.
type InstallError struct {
	Agent ID
	Err   error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("installing agent %s: %v", e.Agent, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Record is the persisted result of an install.
type Record struct {
	Agent       ID        `json:"agent"`
	Path        string    `json:"path,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
}

// Installer makes one agent runnable on this host and reports the
// resolved binary path (empty for builtin agents).
type Installer interface {
	Install(ctx context.Context, id ID, manifest Manifest) (string, error)
}

// PathInstaller resolves an agent binary the way a shell would, after
// first checking a private bin directory. It never downloads anything:
// "installing" means confirming the binary is present and recording
// where it was found.
type PathInstaller struct {
	// BinDirectory is searched before PATH. Optional.
	BinDirectory string

	// LookPath defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

func (installer PathInstaller) Install(ctx context.Context, id ID, manifest Manifest) (string, error) {
	if manifest.Builtin {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if filepath.IsAbs(manifest.Binary) {
		if err := checkExecutable(manifest.Binary); err != nil {
			return "", err
		}
		return manifest.Binary, nil
	}

	if installer.BinDirectory != "" {
		candidate := filepath.Join(installer.BinDirectory, manifest.Binary)
		if checkExecutable(candidate) == nil {
			return candidate, nil
		}
	}

	lookPath := installer.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(manifest.Binary)
	if err != nil {
		if installer.BinDirectory != "" {
			return "", fmt.Errorf("%s not found in %s or PATH", manifest.Binary, installer.BinDirectory)
		}
		return "", fmt.Errorf("%s not found in PATH", manifest.Binary)
	}
	return path, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not an executable file", path)
	}
	return nil
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Directory holds one <agent>.json record per installed agent and
	// a bin/ subdirectory searched for binaries. Empty keeps records
	// in memory only.
	Directory string

	// Manifests defaults to DefaultManifests.
	Manifests Manifests

	// Installer defaults to a PathInstaller over Directory/bin.
	Installer Installer

	Clock  clock.Clock
	Logger *slog.Logger
}

// Manager tracks which agents are installed. Safe for concurrent use.
type Manager struct {
	directory string
	manifests Manifests
	installer Installer
	clock     clock.Clock
	logger    *slog.Logger

	mu      sync.RWMutex
	records map[ID]Record

	// installing serializes concurrent installs of the same agent.
	installing sync.Map // ID -> *sync.Mutex
}

// NewManager creates a Manager and loads any records already present
// in the install directory.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Manifests == nil {
		config.Manifests = DefaultManifests()
	}
	if config.Installer == nil {
		installer := PathInstaller{}
		if config.Directory != "" {
			installer.BinDirectory = filepath.Join(config.Directory, "bin")
		}
		config.Installer = installer
	}

	manager := &Manager{
		directory: config.Directory,
		manifests: config.Manifests,
		installer: config.Installer,
		clock:     config.Clock,
		logger:    config.Logger,
		records:   make(map[ID]Record),
	}

	if manager.directory != "" {
		if err := os.MkdirAll(manager.directory, 0o755); err != nil {
			return nil, fmt.Errorf("creating install directory: %w", err)
		}
		if err := manager.loadRecords(); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

func (manager *Manager) loadRecords() error {
	for _, id := range allAgents {
		data, err := os.ReadFile(manager.recordPath(id))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading install record for %s: %w", id, err)
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			manager.logger.Warn("ignoring corrupt install record", "agent", id, "error", err)
			continue
		}
		manager.records[id] = record
	}
	return nil
}

func (manager *Manager) recordPath(id ID) string {
	return filepath.Join(manager.directory, string(id)+".json")
}

// Install makes id available for new sessions. Installing an agent
// that is already installed succeeds without doing any work.
func (manager *Manager) Install(ctx context.Context, id ID) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	if manager.IsInstalled(id) {
		return nil
	}

	lock, _ := manager.installing.LoadOrStore(id, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	if manager.IsInstalled(id) {
		return nil
	}

	manifest, ok := manager.manifests[id]
	if !ok {
		return &InstallError{Agent: id, Err: errors.New("no manifest configured")}
	}

	path, err := manager.installer.Install(ctx, id, manifest)
	if err != nil {
		return &InstallError{Agent: id, Err: err}
	}

	record := Record{Agent: id, Path: path, InstalledAt: manager.clock.Now().UTC()}
	if err := manager.persist(record); err != nil {
		return &InstallError{Agent: id, Err: err}
	}

	manager.mu.Lock()
	manager.records[id] = record
	manager.mu.Unlock()

	manager.logger.Info("agent installed", "agent", id, "path", path)
	return nil
}

func (manager *Manager) persist(record Record) error {
	if manager.directory == "" {
		return nil
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding install record: %w", err)
	}
	temporary, err := os.CreateTemp(manager.directory, "."+string(record.Agent)+"-*.json")
	if err != nil {
		return fmt.Errorf("writing install record: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(temporary.Name())
		return fmt.Errorf("writing install record: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporary.Name())
		return fmt.Errorf("writing install record: %w", err)
	}
	if err := os.Rename(temporary.Name(), manager.recordPath(record.Agent)); err != nil {
		os.Remove(temporary.Name())
		return fmt.Errorf("writing install record: %w", err)
	}
	return nil
}

// IsInstalled reports whether Install has succeeded for id.
func (manager *Manager) IsInstalled(id ID) bool {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	_, ok := manager.records[id]
	return ok
}

// Status returns the install record for id.
func (manager *Manager) Status(id ID) (Record, bool) {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	record, ok := manager.records[id]
	return record, ok
}

// Manifest returns the launch description for id.
func (manager *Manager) Manifest(id ID) (Manifest, bool) {
	manifest, ok := manager.manifests[id]
	return manifest, ok
}

// Path returns the binary recorded at install time, falling back to
// the manifest's binary name.
func (manager *Manager) Path(id ID) string {
	if record, ok := manager.Status(id); ok && record.Path != "" {
		return record.Path
	}
	return manager.manifests[id].Binary
}
