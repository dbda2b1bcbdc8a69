// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
)

// ConnHandler serves one accepted connection. It owns conn and must
// close it. ctx is cancelled when the listener shuts down.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Listener accepts inbound agent connections.
type Listener interface {
	// Serve accepts connections and runs handler for each on its own
	// goroutine. It blocks until ctx is cancelled or Close is called,
	// then waits for running handlers and returns nil.
	Serve(ctx context.Context, handler ConnHandler) error

	// Address returns the bound address in host:port form.
	Address() string

	// Close stops accepting connections.
	Close() error
}

// Dialer opens connections to the server.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}
