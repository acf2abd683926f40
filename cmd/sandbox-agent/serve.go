// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/backend"
	"github.com/computesdk/sandbox-agent/lib/clock"
	"github.com/computesdk/sandbox-agent/lib/config"
	"github.com/computesdk/sandbox-agent/lib/credentials"
	"github.com/computesdk/sandbox-agent/lib/service"
	"github.com/computesdk/sandbox-agent/lib/session"
	"github.com/computesdk/sandbox-agent/lib/transcript"
	"github.com/computesdk/sandbox-agent/lib/version"
	"github.com/computesdk/sandbox-agent/server"
)

// serveFlags are command-line overrides applied over the config file.
type serveFlags struct {
	configPath  string
	listen      string
	logLevel    string
	logFormat   string
	showVersion bool
}

func parseServeFlags(args []string) (serveFlags, error) {
	var parsed serveFlags
	flags := pflag.NewFlagSet("sandbox-agent", pflag.ContinueOnError)
	flags.StringVar(&parsed.configPath, "config", "", "YAML config file (default $"+config.EnvironmentVariable+")")
	flags.StringVar(&parsed.listen, "listen", "", "listen address, overriding listen_address")
	flags.StringVar(&parsed.logLevel, "log-level", "", "debug, info, warn or error, overriding log.level")
	flags.StringVar(&parsed.logFormat, "log-format", "", "text or json, overriding log.format")
	flags.BoolVar(&parsed.showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		return serveFlags{}, err
	}
	if flags.NArg() > 0 {
		return serveFlags{}, fmt.Errorf("unexpected argument %q", flags.Arg(0))
	}
	return parsed, nil
}

// loadConfig reads the config file and applies flag overrides before
// validating.
func loadConfig(flags serveFlags) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flags.configPath != "" {
		cfg, err = config.LoadFile(flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if flags.listen != "" {
		cfg.ListenAddress = flags.listen
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}

func runServe(args []string) error {
	flags, err := parseServeFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if flags.showVersion {
		fmt.Printf("sandbox-agent %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	level, _ := cfg.Log.SlogLevel()
	logger := newLogger(os.Stderr, level, resolveLogFormat(cfg.Log.Format, os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	realClock := clock.Real()

	manifests := agents.DefaultManifests()
	if cfg.AgentsManifest != "" {
		if manifests, err = agents.LoadManifests(cfg.AgentsManifest); err != nil {
			return err
		}
	}
	manager, err := agents.NewManager(agents.ManagerConfig{
		Directory: cfg.InstallDirectory,
		Manifests: manifests,
		Installer: agents.PathInstaller{BinDirectory: cfg.BinDirectory},
		Clock:     realClock,
		Logger:    logger.With("component", "agents"),
	})
	if err != nil {
		return err
	}

	source, err := credentialSource(cfg.CredentialsFile)
	if err != nil {
		return err
	}
	defer source.Close()

	router := &backend.Router{
		Routes: map[agents.ID]session.Backend{
			agents.Mock: backend.NewScripted(backend.ScriptedConfig{Clock: realClock}),
		},
		Default: backend.NewProcess(backend.ProcessConfig{
			Catalog:     manager,
			Credentials: &credentials.SourceProvider{Source: source, Name: sourceName(cfg.CredentialsFile)},
			Logger:      logger.With("component", "backend"),
		}),
	}

	var onTeardown func(*session.Session)
	if cfg.Transcripts.Directory != "" {
		compression, _ := transcript.ParseCompression(cfg.Transcripts.Compression)
		archiver, err := transcript.NewArchiver(transcript.ArchiverConfig{
			Directory:   cfg.Transcripts.Directory,
			Compression: compression,
			Recipients:  cfg.Transcripts.Recipients,
			Clock:       realClock,
			Logger:      logger.With("component", "transcripts"),
		})
		if err != nil {
			return err
		}
		onTeardown = server.ArchiveOnTeardown(archiver, logger)
	}

	registry := session.NewRegistry(session.RegistryConfig{
		Backend:          router,
		Agents:           manager,
		Clock:            realClock,
		Logger:           logger.With("component", "sessions"),
		IdleTimeout:      cfg.Sessions.IdleTimeout,
		EvictionInterval: cfg.Sessions.EvictionInterval,
		OnTeardown:       onTeardown,
	})
	// Runs after the listener drains, so every remaining session is
	// archived on the way out.
	defer registry.Close()

	handler := server.NewHandler(server.Config{
		Registry:          registry,
		Agents:            manager,
		Clock:             realClock,
		Logger:            logger.With("component", "http"),
		DefaultPageSize:   cfg.Events.DefaultPageSize,
		MaxPageSize:       cfg.Events.MaxPageSize,
		KeepaliveInterval: cfg.Events.KeepaliveInterval,
		Token:             cfg.Auth.Token,
	})
	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.ListenAddress,
		Handler: handler,
		Logger:  logger,
	})

	evictionDone := make(chan error, 1)
	go func() { evictionDone <- registry.Run(ctx) }()

	logger.Info("sandbox-agent starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"listen_address", cfg.ListenAddress,
		"install_directory", cfg.InstallDirectory,
		"transcripts", cfg.Transcripts.Directory,
		"auth", cfg.Auth.Token != "",
	)

	serveErr := httpServer.Serve(ctx)
	stop()
	<-evictionDone
	return serveErr
}

// credentialSource reads provider keys from the credentials file when
// one is configured, falling back to the server's environment.
func credentialSource(path string) (credentials.Source, error) {
	environment := &credentials.LookupSource{Lookup: os.LookupEnv}
	if path == "" {
		return environment, nil
	}
	file, err := credentials.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &credentials.ChainSource{Sources: []credentials.Source{file, environment}}, nil
}

func sourceName(path string) string {
	if path == "" {
		return "environment"
	}
	return path
}
