// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/computesdk/sandbox-agent/lib/event"
	"github.com/computesdk/sandbox-agent/lib/sealed"
	"github.com/computesdk/sandbox-agent/lib/transcript"
)

// inspection is what the transcript subcommand prints.
type inspection struct {
	Digest string            `json:"digest"`
	Sealed bool              `json:"sealed"`
	Header transcript.Header `json:"header"`
	Events []event.Event     `json:"events"`
}

func runTranscript(args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("sandbox-agent transcript", pflag.ContinueOnError)
	identityPath := flags.StringP("identity", "i", "", "age identity file for sealed archives")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: sandbox-agent transcript [--identity FILE] ARCHIVE")
	}

	data, err := os.ReadFile(flags.Arg(0))
	if err != nil {
		return fmt.Errorf("reading transcript: %w", err)
	}
	return inspectTranscript(data, *identityPath, stdout)
}

// inspectTranscript opens a sealed archive if needed, verifies it and
// prints it as indented JSON.
func inspectTranscript(data []byte, identityPath string, stdout io.Writer) error {
	wasSealed := sealed.IsSealed(data)
	if wasSealed {
		if identityPath == "" {
			return errors.New("transcript is sealed; pass --identity")
		}
		identity, err := sealed.LoadIdentity(identityPath)
		if err != nil {
			return err
		}
		defer identity.Close()
		if data, err = sealed.Open(data, identity); err != nil {
			return fmt.Errorf("opening sealed transcript: %w", err)
		}
	}

	decoded, digest, err := transcript.Decode(data)
	if err != nil {
		return err
	}
	events, err := decoded.DecodeEvents()
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(inspection{
		Digest: digest.String(),
		Sealed: wasSealed,
		Header: decoded.Header,
		Events: events,
	})
}

// runKeygen prints a new age identity in key-file form. The public key
// goes in transcripts.recipients; the file is what --identity reads.
func runKeygen(stdout io.Writer) error {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()
	_, err = fmt.Fprintf(stdout, "# public key: %s\n%s\n", keypair.PublicKey, keypair.PrivateKey.Bytes())
	return err
}
