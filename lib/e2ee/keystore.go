// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package e2ee

import (
	"errors"
	"fmt"
	"sync"
)

type sessionKey struct {
	roomID    string
	sessionID string
}

// KeyStore holds inbound megolm sessions indexed by room and session
// ID. Safe for concurrent use.
type KeyStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*InboundSession
}

// NewKeyStore returns an empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{sessions: make(map[sessionKey]*InboundSession)}
}

// Import adds exported sessions to the store and returns how many were
// added. Sessions with an unsupported algorithm or an unparseable key
// are skipped; their errors are joined into the returned error while
// the rest are still imported. When a session is imported twice, the
// copy reaching further back in history is kept.
func (s *KeyStore) Import(exported []ExportedSession) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		imported int
		errs     []error
	)
	for _, entry := range exported {
		if entry.Algorithm != AlgorithmMegolm {
			errs = append(errs, fmt.Errorf("session %s in %s: unsupported algorithm %q", entry.SessionID, entry.RoomID, entry.Algorithm))
			continue
		}
		session, err := NewInboundSession(entry.SessionKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s in %s: %w", entry.SessionID, entry.RoomID, err))
			continue
		}
		if entry.SessionID != "" && entry.SessionID != session.ID() {
			errs = append(errs, fmt.Errorf("session %s in %s: key belongs to session %s", entry.SessionID, entry.RoomID, session.ID()))
			continue
		}

		key := sessionKey{roomID: entry.RoomID, sessionID: session.ID()}
		if existing, ok := s.sessions[key]; ok && existing.FirstKnownIndex() <= session.FirstKnownIndex() {
			continue
		}
		s.sessions[key] = session
		imported++
	}
	return imported, errors.Join(errs...)
}

// Lookup returns the session for a room, or nil if none was imported.
func (s *KeyStore) Lookup(roomID, sessionID string) *InboundSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionKey{roomID: roomID, sessionID: sessionID}]
}

// Len returns the number of sessions held.
func (s *KeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Rooms returns the number of sessions per room ID.
func (s *KeyStore) Rooms() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for key := range s.sessions {
		counts[key.roomID]++
	}
	return counts
}
