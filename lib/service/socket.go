// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/driverfleet/lib/codec"
)

// ActionFunc processes a socket request for a specific action. The raw
// parameter is the full CBOR request (including the "action" field).
// The handler decodes action-specific fields from this raw message.
//
// Return a value to include in the success response, or an error for
// a failure response. If the returned value is nil, the response
// contains only {ok: true}.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the wire-format envelope for all socket responses.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer serves the request-response protocol on a Unix socket.
// Actions are registered with Handle before calling Serve. Unknown
// actions receive an error response.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	// ready is closed once the socket is listening.
	ready     chan struct{}
	readyOnce sync.Once

	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Handle registers a handler for the given action name. Panics if the
// action is already registered.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Ready is closed once Serve is accepting connections.
func (s *SocketServer) Ready() <-chan struct{} {
	return s.ready
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight handlers to complete. A stale socket file at the path is
// removed first; the socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()
	if err := os.Chmod(s.socketPath, 0660); err != nil {
		return fmt.Errorf("restricting %s: %w", s.socketPath, err)
	}

	// Unblock Accept when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("operator socket listening", "path", s.socketPath)
	s.readyOnce.Do(func() { close(s.ready) })

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout is how long we wait for the client to send its request.
const readTimeout = 30 * time.Second

const writeTimeout = 10 * time.Second

// maxRequestSize bounds a single CBOR request. Requests carry names
// and paths, never package bytes.
const maxRequestSize = 1024 * 1024

// handleConnection processes one request-response cycle.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// CBOR is self-delimiting so no framing protocol is needed.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	// Handlers may run for minutes; only the request read is bounded.
	conn.SetReadDeadline(time.Time{})

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	started := time.Now()
	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		s.writeError(conn, err.Error())
		return
	}
	s.logger.Debug("action completed", "action", header.Action, "duration", time.Since(started).String())

	s.writeSuccess(conn, result)
}

// writeError sends {ok: false, error: "..."}. Write failures are logged
// at debug level; the connection is closing regardless.
func (s *SocketServer) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends {ok: true} with result, if any, in the "data"
// field.
func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}

// DecodeRequest unmarshals the handler-specific fields of raw into v.
func DecodeRequest(raw []byte, v any) error {
	if err := codec.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
