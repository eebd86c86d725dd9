// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

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
	"strings"
	"testing"

	"golang.org/x/crypto/pbkdf2"

	"github.com/irl/matrix-floppy/lib/testutil"
)

// buildKeyExport produces a key export file the way Element writes one.
func buildKeyExport(t *testing.T, sessions []ExportedSession, passphrase string) []byte {
	t.Helper()
	payload, err := json.Marshal(sessions)
	if err != nil {
		t.Fatalf("marshal sessions: %v", err)
	}

	salt := bytes.Repeat([]byte{0x5a}, exportSaltSize)
	iv := bytes.Repeat([]byte{0x11}, exportIVSize)
	const rounds = 1000

	derived := pbkdf2.Key([]byte(passphrase), salt, rounds, 64, sha512.New)
	block, err := aes.NewCipher(derived[:32])
	if err != nil {
		t.Fatalf("aes: %v", err)
	}
	ciphertext := make([]byte, len(payload))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, payload)

	body := []byte{exportVersion}
	body = append(body, salt...)
	body = append(body, iv...)
	body = binary.BigEndian.AppendUint32(body, rounds)
	body = append(body, ciphertext...)
	mac := hmac.New(sha256.New, derived[32:])
	mac.Write(body)
	body = mac.Sum(body)

	encoded := base64.StdEncoding.EncodeToString(body)
	var armored strings.Builder
	armored.WriteString(exportHeader + "\n")
	for len(encoded) > 96 {
		armored.WriteString(encoded[:96] + "\n")
		encoded = encoded[96:]
	}
	armored.WriteString(encoded + "\n")
	armored.WriteString(exportFooter + "\n")
	return []byte(armored.String())
}

func TestParseKeyExport(t *testing.T) {
	outbound := newTestOutbound(t, 3)
	sessions := []ExportedSession{{
		Algorithm:         AlgorithmMegolm,
		RoomID:            "!secret:matrix.org",
		SenderKey:         "curve-key",
		SessionID:         outbound.sessionID(),
		SessionKey:        outbound.sessionKey(0),
		SenderClaimedKeys: map[string]string{"ed25519": "device-key"},
		ForwardingChain:   []string{},
	}}
	export := buildKeyExport(t, sessions, "correct horse")

	t.Run("round trip", func(t *testing.T) {
		parsed, err := ParseKeyExport(export, testutil.Secret(t, "correct horse"))
		if err != nil {
			t.Fatalf("ParseKeyExport: %v", err)
		}
		if len(parsed) != 1 {
			t.Fatalf("got %d sessions, want 1", len(parsed))
		}
		got := parsed[0]
		if got.RoomID != "!secret:matrix.org" || got.SessionID != outbound.sessionID() || got.SessionKey != outbound.sessionKey(0) {
			t.Errorf("unexpected session: %+v", got)
		}
		if got.SenderClaimedKeys["ed25519"] != "device-key" {
			t.Errorf("sender_claimed_keys lost: %v", got.SenderClaimedKeys)
		}
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := ParseKeyExport(export, testutil.Secret(t, "battery staple"))
		if !errors.Is(err, ErrBadPassphrase) {
			t.Errorf("got %v, want ErrBadPassphrase", err)
		}
	})

	t.Run("leading text is ignored", func(t *testing.T) {
		prefixed := append([]byte("exported from Element\r\n"), export...)
		if _, err := ParseKeyExport(prefixed, testutil.Secret(t, "correct horse")); err != nil {
			t.Errorf("ParseKeyExport: %v", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		tests := []struct {
			name string
			data string
		}{
			{"no header", "hello"},
			{"no footer", exportHeader + "\nAAAA\n"},
			{"not base64", exportHeader + "\n$$$$\n" + exportFooter},
			{"too short", exportHeader + "\nAQID\n" + exportFooter},
		}
		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				if _, err := ParseKeyExport([]byte(test.data), testutil.Secret(t, "x")); err == nil {
					t.Error("expected error")
				}
			})
		}
	})

	t.Run("unsupported version", func(t *testing.T) {
		body := make([]byte, exportHeaderSize+exportMACSize+4)
		body[0] = 0x02
		data := exportHeader + "\n" + base64.StdEncoding.EncodeToString(body) + "\n" + exportFooter
		_, err := ParseKeyExport([]byte(data), testutil.Secret(t, "x"))
		if err == nil || !strings.Contains(err.Error(), "version") {
			t.Errorf("got %v, want version error", err)
		}
	})

	t.Run("nil passphrase", func(t *testing.T) {
		if _, err := ParseKeyExport(export, nil); err == nil {
			t.Error("expected error for nil passphrase")
		}
	})
}

func TestKeyStoreImport(t *testing.T) {
	first := newTestOutbound(t, 4)
	second := newTestOutbound(t, 5)

	store := NewKeyStore()
	imported, err := store.Import([]ExportedSession{
		{Algorithm: AlgorithmMegolm, RoomID: "!a:local", SessionID: first.sessionID(), SessionKey: first.sessionKey(10)},
		{Algorithm: AlgorithmMegolm, RoomID: "!a:local", SessionID: first.sessionID(), SessionKey: first.sessionKey(2)},
		{Algorithm: AlgorithmMegolm, RoomID: "!b:local", SessionID: second.sessionID(), SessionKey: second.sessionKey(0)},
		{Algorithm: "m.olm.v1.curve25519-aes-sha2", RoomID: "!b:local", SessionID: "x", SessionKey: "x"},
		{Algorithm: AlgorithmMegolm, RoomID: "!b:local", SessionID: "mismatch", SessionKey: second.sessionKey(0)},
	})
	if err == nil {
		t.Error("expected joined error for the skipped sessions")
	}
	if imported != 3 {
		t.Errorf("imported = %d, want 3", imported)
	}
	if store.Len() != 2 {
		t.Errorf("Len = %d, want 2", store.Len())
	}

	session := store.Lookup("!a:local", first.sessionID())
	if session == nil {
		t.Fatal("session for !a:local not found")
	}
	if session.FirstKnownIndex() != 2 {
		t.Errorf("kept session starts at %d, want the earlier copy at 2", session.FirstKnownIndex())
	}

	// Sessions are scoped to their room.
	if store.Lookup("!b:local", first.sessionID()) != nil {
		t.Error("session leaked across rooms")
	}

	rooms := store.Rooms()
	if rooms["!a:local"] != 1 || rooms["!b:local"] != 1 {
		t.Errorf("Rooms = %v", rooms)
	}
}
