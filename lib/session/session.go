// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/bureau-foundation/driverfleet/lib/wire"
)

// ErrSessionClosed is returned by Do when the session's connection has
// ended, either before the request was accepted or while it ran.
var ErrSessionClosed = errors.New("session: closed")

// Session is one registered agent connection. Its metadata fields are
// guarded by the owning Registry; the connection itself is owned by
// the Handler goroutine and reached only through Do.
type Session struct {
	id  string
	seq uint64

	conn     *wire.Conn
	requests chan request
	done     chan struct{}

	info Info
}

type request struct {
	fn     func(*wire.Conn) error
	result chan error
}

func newSession(id string, seq uint64, conn *wire.Conn, connectedAt time.Time) *Session {
	address := "unknown"
	if remote := conn.RemoteAddr(); remote != nil {
		address = remote.String()
	}
	host, port := splitAddress(address)
	return &Session{
		id:       id,
		seq:      seq,
		conn:     conn,
		requests: make(chan request),
		done:     make(chan struct{}),
		info: Info{
			ID:           id,
			Address:      address,
			Host:         host,
			Port:         port,
			ConnectedAt:  connectedAt,
			LastActivity: connectedAt,
		},
	}
}

// ID returns the server-assigned identifier.
func (s *Session) ID() string {
	return s.id
}

// Done is closed once the session has ended and left the registry.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Do runs fn on the session goroutine with exclusive use of the
// connection and returns fn's error. While fn runs the session does
// not read from the connection itself, so fn sees every inbound frame.
//
// ctx bounds only the wait for the session to pick the request up. Once
// fn is running it is bounded by its own timeouts; closing the
// connection is the only way to abort it.
func (s *Session) Do(ctx context.Context, fn func(*wire.Conn) error) error {
	req := request{fn: fn, result: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-s.done:
		// The session may have ended right after fn returned.
		select {
		case err := <-req.result:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

func splitAddress(address string) (string, int) {
	host, portText, err := net.SplitHostPort(address)
	if err != nil {
		return address, 0
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return host, 0
	}
	return host, port
}
