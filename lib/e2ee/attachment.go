// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package e2ee

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/irl/matrix-floppy/messaging"
)

// DecryptAttachment verifies and decrypts an encrypted attachment
// downloaded from the URL in file. The SHA-256 of the ciphertext must
// match the hash published in the event.
func DecryptAttachment(ciphertext []byte, file *messaging.EncryptedFile) ([]byte, error) {
	if file == nil {
		return nil, fmt.Errorf("e2ee: attachment has no encryption info")
	}
	if file.Key.Algorithm != "" && file.Key.Algorithm != "A256CTR" {
		return nil, fmt.Errorf("e2ee: attachment key algorithm %q is not supported", file.Key.Algorithm)
	}

	expectedHash, ok := file.Hashes["sha256"]
	if !ok {
		return nil, fmt.Errorf("e2ee: attachment has no sha256 hash")
	}
	expected, err := decodeBase64(expectedHash)
	if err != nil {
		return nil, fmt.Errorf("e2ee: attachment hash is not base64: %w", err)
	}
	actual := sha256.Sum256(ciphertext)
	if subtle.ConstantTimeCompare(actual[:], expected) != 1 {
		return nil, fmt.Errorf("e2ee: attachment hash mismatch")
	}

	key, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(file.Key.K, "="))
	if err != nil {
		return nil, fmt.Errorf("e2ee: attachment key is not base64url: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("e2ee: attachment key is %d bytes, want 32", len(key))
	}
	iv, err := decodeBase64(file.IV)
	if err != nil {
		return nil, fmt.Errorf("e2ee: attachment IV is not base64: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("e2ee: attachment IV is %d bytes, want %d", len(iv), aes.BlockSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("e2ee: creating AES cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}
