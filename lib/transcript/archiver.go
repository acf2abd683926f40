// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/computesdk/sandbox-agent/lib/clock"
	"github.com/computesdk/sandbox-agent/lib/event"
	"github.com/computesdk/sandbox-agent/lib/sealed"
)

// File name suffixes for archives on disk.
const (
	Extension       = ".transcript"
	SealedExtension = ".transcript.age"
)

// ArchiverConfig configures an Archiver.
type ArchiverConfig struct {
	// Directory receives archives. Created if missing. Required.
	Directory string

	Compression Compression

	// Recipients are age public keys. When set, archives are sealed
	// and only the holders of the matching identities can read them.
	Recipients []string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Archiver writes transcripts of torn-down sessions to disk.
type Archiver struct {
	directory   string
	compression Compression
	recipients  []string
	clock       clock.Clock
	logger      *slog.Logger
}

func NewArchiver(config ArchiverConfig) (*Archiver, error) {
	if config.Directory == "" {
		return nil, fmt.Errorf("transcript directory is required")
	}
	if len(config.Recipients) > 0 {
		if _, err := sealed.ParseRecipients(config.Recipients); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(config.Directory, 0o700); err != nil {
		return nil, fmt.Errorf("creating transcript directory: %w", err)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{
		directory:   config.Directory,
		compression: config.Compression,
		recipients:  config.Recipients,
		clock:       config.Clock,
		logger:      config.Logger,
	}, nil
}

// Archive encodes, optionally seals and writes one transcript. The file
// appears atomically under its final name. ArchivedAt is stamped here.
func (archiver *Archiver) Archive(header Header, events []event.Event) (string, error) {
	header.ArchivedAt = archiver.clock.Now().UTC()
	transcript, err := New(header, events)
	if err != nil {
		return "", err
	}
	data, digest, err := Encode(transcript, archiver.compression)
	if err != nil {
		return "", err
	}

	extension := Extension
	if len(archiver.recipients) > 0 {
		if data, err = sealed.Seal(data, archiver.recipients); err != nil {
			return "", fmt.Errorf("sealing transcript: %w", err)
		}
		extension = SealedExtension
	}

	name := fmt.Sprintf("%s-%s%s",
		header.ArchivedAt.Format("20060102T150405.000000000Z"),
		url.PathEscape(header.SessionID),
		extension,
	)
	path := filepath.Join(archiver.directory, name)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}

	archiver.logger.Info("transcript archived",
		"session_id", header.SessionID,
		"path", path,
		"events", transcript.Header.EventCount,
		"bytes", len(data),
		"digest", digest.String(),
		"sealed", extension == SealedExtension,
	)
	return path, nil
}

func writeFileAtomic(path string, data []byte) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), ".transcript-*")
	if err != nil {
		return fmt.Errorf("creating temporary transcript: %w", err)
	}
	temporaryPath := temporary.Name()
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing transcript: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing transcript: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming transcript into place: %w", err)
	}
	return nil
}
