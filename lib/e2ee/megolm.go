// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package e2ee

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/irl/matrix-floppy/lib/secret"
)

// AlgorithmMegolm is the only room encryption algorithm in use.
const AlgorithmMegolm = "m.megolm.v1.aes-sha2"

const (
	ratchetParts      = 4
	ratchetPartLength = 32
	ratchetLength     = ratchetParts * ratchetPartLength
)

// Session key formats. An exported key omits the signature that a
// shared (m.room_key) key carries.
const (
	sessionKeyExported byte = 0x01
	sessionKeyShared   byte = 0x02

	exportedSessionKeyLength = 1 + 4 + ratchetLength + ed25519.PublicKeySize
	sharedSessionKeyLength   = exportedSessionKeyLength + ed25519.SignatureSize
)

// Megolm message layout:
//
//	[version 1] [0x08 index varint] [0x12 len varint ciphertext] [mac 8] [signature 64]
const (
	messageVersion   byte = 0x03
	messageMACLength      = 8
	indexTag         byte = 0x08
	ciphertextTag    byte = 0x12
)

var megolmKeysInfo = []byte("MEGOLM_KEYS")

// ErrUnknownIndex is returned for a message older than the earliest
// ratchet state the session holds.
var ErrUnknownIndex = errors.New("e2ee: message index precedes session's first known index")

// ratchet is the megolm hash ratchet: four 32-byte parts R(0)..R(3) and
// the counter they correspond to.
type ratchet struct {
	data    [ratchetParts][ratchetPartLength]byte
	counter uint32
}

// rehash sets R(to) = HMAC-SHA256(key=R(from), message={to}).
func (r *ratchet) rehash(from, to int) {
	mac := hmac.New(sha256.New, r.data[from][:])
	mac.Write([]byte{byte(to)})
	copy(r.data[to][:], mac.Sum(nil))
}

// advanceTo moves the ratchet forward to index. Each part R(j) changes
// once every 2^(8*(3-j)) steps, so advancing costs at most 4*255 hashes.
func (r *ratchet) advanceTo(index uint32) {
	for j := 0; j < ratchetParts; j++ {
		shift := uint((ratchetParts - j - 1) * 8)
		mask := ^uint32(0) << shift

		steps := ((index >> shift) - (r.counter >> shift)) & 0xff
		if steps == 0 {
			// R(0) wrapped around.
			if index < r.counter {
				steps = 0x100
			} else {
				continue
			}
		}

		for ; steps > 1; steps-- {
			r.rehash(j, j)
		}
		// The final step also reseeds every lower part from R(j).
		for k := ratchetParts - 1; k >= j; k-- {
			r.rehash(j, k)
		}
		r.counter = index & mask
	}
}

func (r *ratchet) bytes() []byte {
	out := make([]byte, 0, ratchetLength)
	for part := range r.data {
		out = append(out, r.data[part][:]...)
	}
	return out
}

// InboundSession is a megolm session able to decrypt messages from its
// first known index onward.
type InboundSession struct {
	id         string
	initial    ratchet
	signingKey ed25519.PublicKey
}

// NewInboundSession parses a base64 session key in either the exported
// or the shared format.
func NewInboundSession(sessionKey string) (*InboundSession, error) {
	raw, err := decodeBase64(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("e2ee: session key is not base64: %w", err)
	}
	defer secret.Zero(raw)

	if len(raw) == 0 {
		return nil, fmt.Errorf("e2ee: session key is empty")
	}
	switch raw[0] {
	case sessionKeyExported:
		if len(raw) != exportedSessionKeyLength {
			return nil, fmt.Errorf("e2ee: exported session key is %d bytes, want %d", len(raw), exportedSessionKeyLength)
		}
	case sessionKeyShared:
		if len(raw) != sharedSessionKeyLength {
			return nil, fmt.Errorf("e2ee: shared session key is %d bytes, want %d", len(raw), sharedSessionKeyLength)
		}
		signed := raw[:exportedSessionKeyLength]
		publicKey := ed25519.PublicKey(raw[1+4+ratchetLength : exportedSessionKeyLength])
		if !ed25519.Verify(publicKey, signed, raw[exportedSessionKeyLength:]) {
			return nil, fmt.Errorf("e2ee: shared session key signature does not verify")
		}
	default:
		return nil, fmt.Errorf("e2ee: session key version %d is not supported", raw[0])
	}

	session := &InboundSession{}
	session.initial.counter = binary.BigEndian.Uint32(raw[1:5])
	for part := 0; part < ratchetParts; part++ {
		offset := 5 + part*ratchetPartLength
		copy(session.initial.data[part][:], raw[offset:offset+ratchetPartLength])
	}
	session.signingKey = append(ed25519.PublicKey(nil), raw[1+4+ratchetLength:exportedSessionKeyLength]...)
	session.id = base64.RawStdEncoding.EncodeToString(session.signingKey)
	return session, nil
}

// ID returns the session ID: the unpadded base64 of the signing key.
func (s *InboundSession) ID() string { return s.id }

// FirstKnownIndex returns the earliest message index this session can
// decrypt.
func (s *InboundSession) FirstKnownIndex() uint32 { return s.initial.counter }

// Decrypt authenticates and decrypts a base64 megolm message, returning
// the plaintext and the message index.
func (s *InboundSession) Decrypt(ciphertext string) ([]byte, uint32, error) {
	message, err := decodeBase64(ciphertext)
	if err != nil {
		return nil, 0, fmt.Errorf("e2ee: ciphertext is not base64: %w", err)
	}
	if len(message) < 1+messageMACLength+ed25519.SignatureSize {
		return nil, 0, fmt.Errorf("e2ee: message is %d bytes, too short", len(message))
	}
	if message[0] != messageVersion {
		return nil, 0, fmt.Errorf("e2ee: message version %d is not supported", message[0])
	}

	signatureStart := len(message) - ed25519.SignatureSize
	if !ed25519.Verify(s.signingKey, message[:signatureStart], message[signatureStart:]) {
		return nil, 0, fmt.Errorf("e2ee: message signature does not verify")
	}

	macStart := signatureStart - messageMACLength
	index, payload, err := decodeMessageBody(message[1:macStart])
	if err != nil {
		return nil, 0, err
	}
	if index < s.initial.counter {
		return nil, index, ErrUnknownIndex
	}

	state := s.initial
	state.advanceTo(index)
	keys := state.bytes()
	defer secret.Zero(keys)

	derived := make([]byte, 80)
	if _, err := io.ReadFull(hkdf.New(sha256.New, keys, nil, megolmKeysInfo), derived); err != nil {
		return nil, index, fmt.Errorf("e2ee: deriving message keys: %w", err)
	}
	defer secret.Zero(derived)
	aesKey, macKey, iv := derived[:32], derived[32:64], derived[64:80]

	mac := hmac.New(sha256.New, macKey)
	mac.Write(message[:macStart])
	if !hmac.Equal(mac.Sum(nil)[:messageMACLength], message[macStart:signatureStart]) {
		return nil, index, fmt.Errorf("e2ee: message MAC does not verify")
	}

	plaintext, err := decryptCBC(aesKey, iv, payload)
	if err != nil {
		return nil, index, err
	}
	return plaintext, index, nil
}

// decodeMessageBody parses the protobuf-style fields between the version
// byte and the MAC. Unknown fields are skipped.
func decodeMessageBody(body []byte) (uint32, []byte, error) {
	var (
		index      uint64
		haveIndex  bool
		ciphertext []byte
		position   int
	)
	for position < len(body) {
		tag := body[position]
		position++
		switch tag & 0x07 {
		case 0: // varint
			value, n := binary.Uvarint(body[position:])
			if n <= 0 {
				return 0, nil, fmt.Errorf("e2ee: malformed varint in message")
			}
			position += n
			if tag == indexTag {
				index, haveIndex = value, true
			}
		case 2: // length-delimited
			length, n := binary.Uvarint(body[position:])
			if n <= 0 || length > uint64(len(body)-position-n) {
				return 0, nil, fmt.Errorf("e2ee: malformed length in message")
			}
			position += n
			if tag == ciphertextTag {
				ciphertext = body[position : position+int(length)]
			}
			position += int(length)
		default:
			return 0, nil, fmt.Errorf("e2ee: unsupported field tag 0x%02x in message", tag)
		}
	}
	if !haveIndex || index > uint64(^uint32(0)) {
		return 0, nil, fmt.Errorf("e2ee: message has no valid index")
	}
	if len(ciphertext) == 0 {
		return 0, nil, fmt.Errorf("e2ee: message has no ciphertext")
	}
	return uint32(index), ciphertext, nil
}

// decryptCBC decrypts AES-256-CBC with PKCS#7 padding.
func decryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("e2ee: ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("e2ee: creating AES cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(plaintext) {
		return nil, fmt.Errorf("e2ee: invalid padding")
	}
	for _, b := range plaintext[len(plaintext)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("e2ee: invalid padding")
		}
	}
	return plaintext[:len(plaintext)-padding], nil
}
