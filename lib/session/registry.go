// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/driverfleet/lib/clock"
	"github.com/bureau-foundation/driverfleet/lib/protocol"
)

// Info is a point-in-time copy of a session's metadata, safe to hand
// to callers outside the registry lock.
type Info struct {
	ID           string              `cbor:"id" json:"id"`
	ClientName   string              `cbor:"client_name" json:"client_name"`
	Address      string              `cbor:"address" json:"address"`
	Host         string              `cbor:"host" json:"host"`
	Port         int                 `cbor:"port" json:"port"`
	ConnectedAt  time.Time           `cbor:"connected_at" json:"connected_at"`
	LastActivity time.Time           `cbor:"last_activity" json:"last_activity"`
	SystemInfo   protocol.SystemInfo `cbor:"system_info" json:"system_info"`
}

// Registry is the authoritative set of registered sessions.
type Registry struct {
	clock clock.Clock

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry. clk stamps activity times.
func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{
		clock:    clk,
		sessions: make(map[string]*Session),
	}
}

// Insert adds session under its ID. Identifiers are never reused, so a
// collision is a programming error and is reported.
func (r *Registry) Insert(session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.id]; exists {
		return fmt.Errorf("session %s already registered", session.id)
	}
	r.sessions[session.id] = session
	return nil
}

// Remove deletes session if it is still the one stored under its ID.
// It reports whether anything was removed.
func (r *Registry) Remove(session *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[session.id] != session {
		return false
	}
	delete(r.sessions, session.id)
	return true
}

// Get returns the live session with the given ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	return session, ok
}

// Touch records inbound activity on session.
func (r *Registry) Touch(session *Session) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	session.info.LastActivity = now
}

// SetSystemInfo replaces the descriptor reported at registration.
func (r *Registry) SetSystemInfo(session *Session, info protocol.SystemInfo, clientName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session.info.SystemInfo = info
	session.info.ClientName = clientName
}

// Info returns a copy of one session's metadata.
func (r *Registry) Info(session *Session) Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return session.info
}

// Snapshot returns every session's metadata in registration order.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	sessions := r.orderedLocked()
	infos := make([]Info, len(sessions))
	for i, session := range sessions {
		infos[i] = session.info
	}
	r.mu.Unlock()
	return infos
}

// IDs returns the identifiers of every session in registration order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := r.orderedLocked()
	ids := make([]string, len(sessions))
	for i, session := range sessions {
		ids[i] = session.id
	}
	return ids
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) orderedLocked() []*Session {
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	slices.SortFunc(sessions, func(a, b *Session) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return sessions
}
