// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/computesdk/sandbox-agent/lib/sealed"
	"github.com/computesdk/sandbox-agent/lib/transcript"
)

// EnvironmentVariable names the config file when no --config flag is
// given.
const EnvironmentVariable = "SANDBOX_AGENT_CONFIG"

// Environment represents the deployment type.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the server configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	// ListenAddress is the host:port the HTTP API binds.
	ListenAddress string `yaml:"listen_address"`

	// Root is the base directory for server state. Other paths default
	// to locations under it and may refer to it as ${SANDBOX_AGENT_ROOT}.
	Root string `yaml:"root"`

	// InstallDirectory holds one install record per agent.
	InstallDirectory string `yaml:"install_directory"`

	// BinDirectory is searched for agent binaries before PATH.
	BinDirectory string `yaml:"bin_directory"`

	// AgentsManifest is an optional JSONC file overriding how agents
	// are launched.
	AgentsManifest string `yaml:"agents_manifest"`

	// CredentialsFile is an optional KEY=value file of provider keys.
	// Keys missing from it are read from the server's environment.
	CredentialsFile string `yaml:"credentials_file"`

	Sessions    SessionsConfig    `yaml:"sessions"`
	Events      EventsConfig      `yaml:"events"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Auth        AuthConfig        `yaml:"auth"`
	Log         LogConfig         `yaml:"log"`
}

// SessionsConfig configures session lifetime.
type SessionsConfig struct {
	// IdleTimeout tears down sessions with no turns, no streams and no
	// requests for this long. Zero keeps sessions until deleted.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// EvictionInterval is how often idle sessions are looked for.
	EvictionInterval time.Duration `yaml:"eviction_interval"`
}

// EventsConfig configures event delivery.
type EventsConfig struct {
	// DefaultPageSize is the poll limit when a request gives none.
	DefaultPageSize int `yaml:"default_page_size"`

	// MaxPageSize caps the poll limit.
	MaxPageSize int `yaml:"max_page_size"`

	// KeepaliveInterval is how often an idle push stream gets a
	// comment line.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// TranscriptsConfig configures transcript archives.
type TranscriptsConfig struct {
	// Directory receives an archive of each session at teardown.
	// Empty disables archiving; transcripts can still be downloaded
	// while a session is live.
	Directory string `yaml:"directory"`

	// Compression is none, lz4 or zstd.
	Compression string `yaml:"compression"`

	// Recipients are age public keys archives are sealed to.
	Recipients []string `yaml:"recipients"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	// Token, when set, must be presented as a bearer token on every
	// request except the health check. Use ${VAR} to keep it out of
	// the file.
	Token string `yaml:"token"`
}

// LogConfig configures the server logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json. Empty picks text on a terminal and json
	// otherwise.
	Format string `yaml:"format"`
}

// SlogLevel parses Level.
func (log LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Default returns the configuration used when no file is given, and
// the base that a loaded file is merged over.
func Default() *Config {
	return &Config{
		Environment:      Development,
		ListenAddress:    "127.0.0.1:2468",
		Root:             "${HOME}/.local/share/sandbox-agent",
		InstallDirectory: "${SANDBOX_AGENT_ROOT}/agents",
		BinDirectory:     "${SANDBOX_AGENT_ROOT}/bin",
		Sessions: SessionsConfig{
			IdleTimeout:      time.Hour,
			EvictionInterval: time.Minute,
		},
		Events: EventsConfig{
			DefaultPageSize:   100,
			MaxPageSize:       1000,
			KeepaliveInterval: 15 * time.Second,
		},
		Transcripts: TranscriptsConfig{
			Compression: "zstd",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads the file named by SANDBOX_AGENT_CONFIG, or returns the
// expanded defaults when it is unset.
func Load() (*Config, error) {
	if path := os.Getenv(EnvironmentVariable); path != "" {
		return LoadFile(path)
	}
	config := Default()
	config.expandVariables()
	return config, nil
}

// LoadFile loads path over the defaults and expands ${VAR} and
// ${VAR:-default} in path and token fields. No other environment
// variables override file values.
func LoadFile(path string) (*Config, error) {
	config := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	config.expandVariables()
	return config, nil
}

func (config *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	config.Root = expandVars(config.Root, vars)
	vars["SANDBOX_AGENT_ROOT"] = config.Root

	config.InstallDirectory = expandVars(config.InstallDirectory, vars)
	config.BinDirectory = expandVars(config.BinDirectory, vars)
	config.AgentsManifest = expandVars(config.AgentsManifest, vars)
	config.CredentialsFile = expandVars(config.CredentialsFile, vars)
	config.Transcripts.Directory = expandVars(config.Transcripts.Directory, vars)
	config.Auth.Token = expandVars(config.Auth.Token, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every problem in the configuration at once.
func (config *Config) Validate() error {
	var errs []error

	switch config.Environment {
	case Development, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", config.Environment))
	}
	if config.Environment == Production && config.Auth.Token == "" {
		errs = append(errs, errors.New("auth.token is required in production"))
	}
	if config.ListenAddress == "" {
		errs = append(errs, errors.New("listen_address is required"))
	}
	if config.InstallDirectory == "" {
		errs = append(errs, errors.New("install_directory is required"))
	}

	if config.Sessions.IdleTimeout < 0 {
		errs = append(errs, errors.New("sessions.idle_timeout must not be negative"))
	}
	if config.Sessions.EvictionInterval < 0 {
		errs = append(errs, errors.New("sessions.eviction_interval must not be negative"))
	}

	if config.Events.DefaultPageSize <= 0 {
		errs = append(errs, errors.New("events.default_page_size must be positive"))
	}
	if config.Events.MaxPageSize < config.Events.DefaultPageSize {
		errs = append(errs, fmt.Errorf("events.max_page_size (%d) is below events.default_page_size (%d)",
			config.Events.MaxPageSize, config.Events.DefaultPageSize))
	}
	if config.Events.KeepaliveInterval <= 0 {
		errs = append(errs, errors.New("events.keepalive_interval must be positive"))
	}

	if _, err := transcript.ParseCompression(config.Transcripts.Compression); err != nil {
		errs = append(errs, fmt.Errorf("transcripts.compression: %w", err))
	}
	if _, err := sealed.ParseRecipients(config.Transcripts.Recipients); err != nil {
		errs = append(errs, fmt.Errorf("transcripts.recipients: %w", err))
	}
	if len(config.Transcripts.Recipients) > 0 && config.Transcripts.Directory == "" {
		errs = append(errs, errors.New("transcripts.recipients is set but transcripts.directory is empty"))
	}

	if _, err := config.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch config.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", config.Log.Format))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the directories the server writes to.
func (config *Config) EnsurePaths() error {
	for _, path := range []string{config.InstallDirectory, config.Transcripts.Directory} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
