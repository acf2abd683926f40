// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is the BLAKE3 keyed hash of an archive's uncompressed body.
// It is independent of compression, so the same transcript stored two
// ways has one digest.
type Digest [32]byte

// digestKey separates transcript digests from any other BLAKE3 use.
// It is the ASCII domain name zero-padded to 32 bytes.
var digestKey = [32]byte{
	's', 'a', 'n', 'd', 'b', 'o', 'x', '-', 'a', 'g', 'e', 'n', 't', '.',
	't', 'r', 'a', 'n', 's', 'c', 'r', 'i', 'p', 't',
}

func digestOf(body []byte) Digest {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("transcript: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(body)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

func (digest Digest) String() string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses the 64-character hex form.
func ParseDigest(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
