// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package e2ee decrypts end-to-end encrypted room history using keys
// exported from another Matrix client.
//
// Clients such as Element export their inbound megolm sessions as a
// passphrase-protected text file. [ParseKeyExport] decrypts that file,
// [KeyStore] indexes the sessions by room and session ID, and
// [Decrypter] turns m.room.encrypted events back into their cleartext
// form. Encrypted attachments are handled by [DecryptAttachment].
//
// Only decryption is implemented. The archiver never sends messages or
// shares keys, so there is no Olm account, device list, or outbound
// session state.
package e2ee

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/irl/matrix-floppy/lib/secret"
)

// Armor lines around the base64 body of a key export file.
const (
	exportHeader = "-----BEGIN MEGOLM SESSION DATA-----"
	exportFooter = "-----END MEGOLM SESSION DATA-----"
)

// exportVersion is the only key export format version.
const exportVersion byte = 0x01

// Field sizes of the decoded key export body:
//
//	[version 1] [salt 16] [iv 16] [rounds 4 BE] [ciphertext N] [hmac 32]
const (
	exportSaltSize   = 16
	exportIVSize     = 16
	exportRoundsSize = 4
	exportMACSize    = sha256.Size
	exportHeaderSize = 1 + exportSaltSize + exportIVSize + exportRoundsSize
)

// ErrBadPassphrase is returned when the key export MAC does not verify.
// A wrong passphrase and a corrupted file are indistinguishable.
var ErrBadPassphrase = errors.New("e2ee: key export MAC mismatch (wrong passphrase or corrupted file)")

// ExportedSession is one inbound megolm session from a key export.
type ExportedSession struct {
	Algorithm         string            `json:"algorithm"`
	RoomID            string            `json:"room_id"`
	SenderKey         string            `json:"sender_key"`
	SessionID         string            `json:"session_id"`
	SessionKey        string            `json:"session_key"`
	SenderClaimedKeys map[string]string `json:"sender_claimed_keys"`
	ForwardingChain   []string          `json:"forwarding_curve25519_key_chain"`
}

// ParseKeyExport decrypts a key export file and returns the sessions it
// contains. The passphrase is borrowed and not closed.
func ParseKeyExport(data []byte, passphrase *secret.Buffer) ([]ExportedSession, error) {
	if passphrase == nil {
		return nil, fmt.Errorf("e2ee: key export passphrase is required")
	}

	body, err := unarmor(data)
	if err != nil {
		return nil, err
	}
	if len(body) < exportHeaderSize+exportMACSize {
		return nil, fmt.Errorf("e2ee: key export is %d bytes, too short", len(body))
	}
	if body[0] != exportVersion {
		return nil, fmt.Errorf("e2ee: key export version %d is not supported", body[0])
	}

	salt := body[1 : 1+exportSaltSize]
	iv := body[1+exportSaltSize : 1+exportSaltSize+exportIVSize]
	rounds := binary.BigEndian.Uint32(body[1+exportSaltSize+exportIVSize : exportHeaderSize])
	if rounds == 0 {
		return nil, fmt.Errorf("e2ee: key export has zero PBKDF2 rounds")
	}
	ciphertext := body[exportHeaderSize : len(body)-exportMACSize]
	expectedMAC := body[len(body)-exportMACSize:]

	derived := pbkdf2.Key(passphrase.Bytes(), salt, int(rounds), 64, sha512.New)
	defer secret.Zero(derived)
	aesKey, macKey := derived[:32], derived[32:]

	mac := hmac.New(sha256.New, macKey)
	mac.Write(body[:len(body)-exportMACSize])
	if !hmac.Equal(mac.Sum(nil), expectedMAC) {
		return nil, ErrBadPassphrase
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("e2ee: creating AES cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	defer secret.Zero(plaintext)

	var sessions []ExportedSession
	if err := json.Unmarshal(plaintext, &sessions); err != nil {
		return nil, fmt.Errorf("e2ee: decoding key export payload: %w", err)
	}
	return sessions, nil
}

// unarmor extracts and decodes the base64 body between the armor lines.
func unarmor(data []byte) ([]byte, error) {
	text := string(data)
	start := strings.Index(text, exportHeader)
	if start < 0 {
		return nil, fmt.Errorf("e2ee: key export header %q not found", exportHeader)
	}
	text = text[start+len(exportHeader):]
	end := strings.Index(text, exportFooter)
	if end < 0 {
		return nil, fmt.Errorf("e2ee: key export footer %q not found", exportFooter)
	}

	var encoded bytes.Buffer
	for _, r := range text[:end] {
		switch r {
		case ' ', '\t', '\r', '\n':
		default:
			encoded.WriteRune(r)
		}
	}
	body, err := decodeBase64(encoded.String())
	if err != nil {
		return nil, fmt.Errorf("e2ee: key export body is not base64: %w", err)
	}
	return body, nil
}

// decodeBase64 accepts standard base64 with or without padding. Matrix
// uses unpadded base64 on the wire; some exporters pad.
func decodeBase64(encoded string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
}
