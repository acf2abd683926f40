// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts archives to age X25519 recipients.
//
// Ciphertext is the binary age format, so sealed files can also be
// opened with the age command-line tool. Private keys live in
// secret.Buffer memory and are only borrowed by Open.
package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"

	"github.com/computesdk/sandbox-agent/lib/secret"
)

// ErrNoRecipients is returned by Seal with an empty recipient list.
var ErrNoRecipients = errors.New("at least one recipient is required")

// Keypair is an age X25519 keypair. Call Close when done with it.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... string.
	PrivateKey *secret.Buffer

	// PublicKey is the age1... recipient string.
	PublicKey string
}

func (keypair *Keypair) Close() error {
	if keypair.PrivateKey != nil {
		return keypair.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair creates a fresh keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	privateKey, err := secret.NewFromString(identity.String())
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// ParseRecipients parses age1... public keys.
func ParseRecipients(keys []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

// Seal encrypts plaintext so any one of recipients can open it.
func Seal(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, ErrNoRecipients
	}
	recipients, err := ParseRecipients(recipientKeys)
	if err != nil {
		return nil, err
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Open decrypts ciphertext with the identities in privateKey, which
// holds one or more AGE-SECRET-KEY-1 lines in age key-file format.
// privateKey is not closed.
func Open(ciphertext []byte, privateKey *secret.Buffer) ([]byte, error) {
	identities, err := age.ParseIdentities(bytes.NewReader(privateKey.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

// LoadIdentity reads an age key file into protected memory. The heap
// copy read from disk is zeroed.
func LoadIdentity(path string) (*secret.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("identity file %s is empty", path)
	}
	buffer, err := secret.NewFromBytes(data)
	if err != nil {
		clear(data)
		return nil, fmt.Errorf("protecting identity: %w", err)
	}
	return buffer, nil
}

// IsSealed reports whether data starts with the age file header.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte("age-encryption.org/v1\n"))
}
