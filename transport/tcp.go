// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// keepAlivePeriod lets the kernel notice agents that vanished without
// closing their connection.
const keepAlivePeriod = 30 * time.Second

// TCPListener accepts agent connections on a TCP address.
type TCPListener struct {
	listener net.Listener
	logger   *slog.Logger

	mu     sync.Mutex
	active map[net.Conn]struct{}
	closed bool

	handlers sync.WaitGroup
}

// NewTCPListener listens on address (e.g. "0.0.0.0:8888" or
// "127.0.0.1:0" for a random port).
func NewTCPListener(address string, logger *slog.Logger) (*TCPListener, error) {
	listener, err := (&net.ListenConfig{KeepAlive: keepAlivePeriod}).Listen(context.Background(), "tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{
		listener: listener,
		logger:   logger,
		active:   make(map[net.Conn]struct{}),
	}, nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
// On shutdown every connection still open is closed, which unblocks
// its handler, and Serve waits for the handlers to return.
func (l *TCPListener) Serve(ctx context.Context, handler ConnHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			l.logger.Error("accept failed", "error", err)
			continue
		}
		if !l.track(conn) {
			conn.Close()
			break
		}

		l.handlers.Add(1)
		go func() {
			defer l.handlers.Done()
			defer l.untrack(conn)
			handler(ctx, conn)
		}()
	}

	l.closeActive()
	l.handlers.Wait()
	return nil
}

// Address returns the bound TCP address in host:port form.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close stops accepting connections. Connections already handed to a
// handler stay open until Serve shuts down.
func (l *TCPListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.listener.Close()
}

func (l *TCPListener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.active[conn] = struct{}{}
	return true
}

func (l *TCPListener) untrack(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, conn)
}

func (l *TCPListener) closeActive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for conn := range l.active {
		conn.Close()
	}
}

// TCPDialer opens TCP connections to the server.
type TCPDialer struct {
	// Timeout is the maximum time to wait for the connection to be
	// established. Zero means only the context deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout, KeepAlive: keepAlivePeriod}).DialContext(ctx, "tcp", address)
}
