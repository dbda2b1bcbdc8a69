// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/driverfleet/lib/clock"
	"github.com/bureau-foundation/driverfleet/lib/netutil"
	"github.com/bureau-foundation/driverfleet/lib/protocol"
	"github.com/bureau-foundation/driverfleet/lib/wire"
)

// ErrRegistrationTimeout is returned by Serve when the peer does not
// register in time.
var ErrRegistrationTimeout = errors.New("session: registration timed out")

// Defaults for unset Handler fields.
const (
	DefaultRegistrationTimeout = 10 * time.Second
	DefaultPollInterval        = 10 * time.Second
)

// Handler runs the per-connection service loop.
type Handler struct {
	Registry *Registry
	Clock    clock.Clock
	Logger   *slog.Logger

	// RegistrationTimeout bounds the wait for register_client after
	// the connection is accepted.
	RegistrationTimeout time.Duration

	// PollInterval is how often an idle session wakes to log its
	// liveness.
	PollInterval time.Duration
}

// Serve owns conn until it ends. The connection is registered as id
// once a valid register_client arrives; seq orders sessions in
// listings. Serve always closes conn and leaves the registry clean.
// The returned error says why the connection ended; an ordinary peer
// disconnect is reported as nil.
func (h *Handler) Serve(ctx context.Context, conn *wire.Conn, id string, seq uint64) error {
	defer conn.Close()
	logger := h.Logger.With("session_id", id, "address", conn.RemoteAddr().String())

	session, err := h.register(conn, id, seq, logger)
	if err != nil {
		if netutil.IsExpectedCloseError(err) {
			logger.Info("connection closed before registration")
			return nil
		}
		return err
	}
	defer func() {
		h.Registry.Remove(session)
		close(session.done)
		logger.Info("session ended")
	}()

	err = h.service(ctx, session, logger)
	if netutil.IsExpectedCloseError(err) {
		return nil
	}
	return err
}

// register waits for register_client. Before that, get_system_info is
// answered with the server descriptor and anything else is dropped.
func (h *Handler) register(conn *wire.Conn, id string, seq uint64, logger *slog.Logger) (*Session, error) {
	timeout := h.RegistrationTimeout
	if timeout <= 0 {
		timeout = DefaultRegistrationTimeout
	}
	deadline := h.Clock.Now().Add(timeout)
	for {
		remaining := deadline.Sub(h.Clock.Now())
		if remaining <= 0 {
			return nil, ErrRegistrationTimeout
		}
		frame, err := conn.Next(remaining)
		if errors.Is(err, wire.ErrTimeout) {
			return nil, ErrRegistrationTimeout
		}
		if err != nil {
			return nil, err
		}

		header, err := wire.PeekHeader(frame)
		if err != nil {
			logger.Debug("ignoring frame before registration", "frame_type", frame.Type.String())
			continue
		}
		switch header.Action {
		case protocol.ActionRegisterClient:
			var request protocol.RegisterRequest
			if err := wire.DecodeMessage(frame, &request); err != nil {
				logger.Warn("malformed registration", "error", err)
				continue
			}
			session := newSession(id, seq, conn, h.Clock.Now())
			session.info.SystemInfo = request.SystemInfo
			session.info.ClientName = request.ClientName
			// Insert before replying so the identifier the agent sees is
			// already resolvable.
			if err := h.Registry.Insert(session); err != nil {
				return nil, err
			}
			if err := conn.SendMessage(protocol.RegisterReply{
				Status:   protocol.StatusRegistered,
				ClientID: id,
			}); err != nil {
				h.Registry.Remove(session)
				close(session.done)
				return nil, fmt.Errorf("acknowledging registration: %w", err)
			}
			logger.Info("session registered",
				"client_name", request.ClientName,
				"os", request.SystemInfo.OS,
				"architecture", request.SystemInfo.Architecture,
			)
			return session, nil

		case protocol.ActionGetSystemInfo:
			if err := conn.SendMessage(protocol.SystemInfoReply{SystemInfo: protocol.ServerSystemInfo}); err != nil {
				return nil, err
			}

		default:
			logger.Debug("ignoring message before registration", "action", header.Action)
		}
	}
}

func (h *Handler) service(ctx context.Context, session *Session, logger *slog.Logger) error {
	conn := session.conn
	pollInterval := h.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	for {
		select {
		case frame, ok := <-conn.Incoming():
			if !ok {
				return conn.Err()
			}
			h.Registry.Touch(session)
			if err := h.handleFrame(session, frame, logger); err != nil {
				return err
			}

		case req := <-session.requests:
			// If the stream ended while fn ran, the next receive from
			// Incoming observes the closed channel.
			req.result <- req.fn(conn)

		case <-h.Clock.After(pollInterval):
			info := h.Registry.Info(session)
			logger.Debug("session idle", "idle", h.Clock.Now().Sub(info.LastActivity).String())

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Handler) handleFrame(session *Session, frame wire.Frame, logger *slog.Logger) error {
	header, err := wire.PeekHeader(frame)
	if err != nil {
		// Payload bytes that belong to no active transfer.
		logger.Debug("ignoring non-message frame", "frame_type", frame.Type.String(), "bytes", len(frame.Body))
		return nil
	}

	switch header.Action {
	case protocol.ActionRegisterClient:
		var request protocol.RegisterRequest
		if err := wire.DecodeMessage(frame, &request); err != nil {
			logger.Warn("malformed registration", "error", err)
			return nil
		}
		h.Registry.SetSystemInfo(session, request.SystemInfo, request.ClientName)
		return session.conn.SendMessage(protocol.RegisterReply{
			Status:   protocol.StatusRegistered,
			ClientID: session.id,
		})

	case protocol.ActionGetSystemInfo:
		return session.conn.SendMessage(protocol.SystemInfoReply{SystemInfo: protocol.ServerSystemInfo})

	default:
		logger.Debug("ignoring message", "action", header.Action, "status", header.Status)
		return nil
	}
}
