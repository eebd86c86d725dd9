// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest computes the content digests recorded for downloaded
// media. Digests are plain (unkeyed) BLAKE3-256, so they can be checked
// with any BLAKE3 tool such as b3sum.
package digest

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// Sum returns the BLAKE3 digest of data.
func Sum(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// SumReader returns the BLAKE3 digest of everything read from reader
// and the number of bytes read.
func SumReader(reader io.Reader) (Hash, int64, error) {
	hasher := blake3.New()
	size, err := io.Copy(hasher, reader)
	if err != nil {
		return Hash{}, size, fmt.Errorf("digest: reading input: %w", err)
	}
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash, size, nil
}

// String returns the hex encoding of the digest. This is the form
// written to the event index and shown in logs.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Parse parses a 64-character hex string into a Hash.
func Parse(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("digest: parsing hash: %w", err)
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("digest: hash is %d bytes, want %d", len(decoded), len(hash))
	}
	copy(hash[:], decoded)
	return hash, nil
}
