// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/driverfleet/lib/clock"
	"github.com/bureau-foundation/driverfleet/lib/netutil"
	"github.com/bureau-foundation/driverfleet/lib/protocol"
	"github.com/bureau-foundation/driverfleet/lib/transfer"
	"github.com/bureau-foundation/driverfleet/lib/wire"
	"github.com/bureau-foundation/driverfleet/transport"
)

// ErrRetriesExhausted is returned by Run when the retry policy's
// attempt limit is reached.
var ErrRetriesExhausted = errors.New("agent: connection attempts exhausted")

// ErrRegistrationRejected means the server answered register_client
// with a status other than registered.
var ErrRegistrationRejected = errors.New("agent: registration rejected")

// State is the agent's position in its connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistering
	StateServicing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateServicing:
		return "servicing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RetryPolicy governs reconnection.
type RetryPolicy struct {
	// Backoff is the constant delay between a failure and the next
	// dial.
	Backoff time.Duration

	// MaxAttempts is how many consecutive attempts may fail before Run
	// gives up. An attempt that reached Servicing resets the count.
	// Zero means retry forever.
	MaxAttempts int
}

// Config configures an Agent. Dialer, Clock, Logger, and Installer are
// required.
type Config struct {
	ServerAddress string
	ClientName    string
	SystemInfo    protocol.SystemInfo

	Dialer    transport.Dialer
	Clock     clock.Clock
	Logger    *slog.Logger
	Installer Installer

	// StagingDir receives packages while they install.
	StagingDir string

	ConnectTimeout  time.Duration
	RegisterTimeout time.Duration
	// PollInterval is how long a command wait lasts before it re-polls.
	PollInterval time.Duration

	Retry    RetryPolicy
	Transfer transfer.Options

	// OnStateChange, if set, is called on every state transition.
	OnStateChange func(State)
}

// Agent is one remote agent.
type Agent struct {
	config Config

	mu       sync.Mutex
	state    State
	clientID string
}

// New returns an Agent in the Disconnected state. Zero timeouts take
// the values from DefaultConfig.
func New(config Config) *Agent {
	defaults := DefaultConfig()
	if config.RegisterTimeout <= 0 {
		config.RegisterTimeout = defaults.RegisterTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Transfer.ChunkSize == 0 && config.Transfer.StallTimeout == 0 {
		config.Transfer = defaults.Transfer
	}
	if config.StagingDir == "" {
		config.StagingDir = defaults.StagingDir
	}
	return &Agent{config: config}
}

// DefaultConfig returns the standard timeouts and retry policy. The
// caller fills in identity, dialer, clock, logger, and installer.
func DefaultConfig() Config {
	return Config{
		ServerAddress:   "localhost:8888",
		StagingDir:      "drivers",
		ConnectTimeout:  5 * time.Second,
		RegisterTimeout: 5 * time.Second,
		PollInterval:    2 * time.Second,
		Retry:           RetryPolicy{Backoff: 5 * time.Second},
		Transfer:        transfer.DefaultOptions(),
	}
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ClientID returns the identifier from the most recent successful
// registration, or the empty string.
func (a *Agent) ClientID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clientID
}

func (a *Agent) setState(state State) {
	a.mu.Lock()
	changed := a.state != state
	a.state = state
	a.mu.Unlock()
	if changed && a.config.OnStateChange != nil {
		a.config.OnStateChange(state)
	}
}

// Run connects and services commands until ctx is cancelled, returning
// ctx.Err(), or until the retry policy gives up, returning an error
// wrapping ErrRetriesExhausted.
func (a *Agent) Run(ctx context.Context) error {
	logger := a.config.Logger.With("server", a.config.ServerAddress, "client_name", a.config.ClientName)
	logger.Info("agent starting",
		"os", a.config.SystemInfo.OS,
		"architecture", a.config.SystemInfo.Architecture,
	)

	failures := 0
	for {
		serviced, err := a.connectOnce(ctx, logger)
		a.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if serviced {
			failures = 0
		} else {
			failures++
		}
		switch {
		case serviced && (err == nil || netutil.IsExpectedCloseError(err)):
			logger.Info("server closed the connection")
		case netutil.IsTimeout(err) || errors.Is(err, wire.ErrTimeout):
			logger.Warn("timed out talking to server", "error", err)
		default:
			logger.Warn("connection failed", "error", err)
		}

		if limit := a.config.Retry.MaxAttempts; limit > 0 && failures >= limit {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, failures, err)
		}

		logger.Info("reconnecting", "backoff", a.config.Retry.Backoff.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.config.Clock.After(a.config.Retry.Backoff):
		}
	}
}

// connectOnce runs one connection from dial to disconnect. serviced
// reports whether registration succeeded.
func (a *Agent) connectOnce(ctx context.Context, logger *slog.Logger) (serviced bool, err error) {
	a.setState(StateConnecting)
	dialCtx := ctx
	if a.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, a.config.ConnectTimeout)
		defer cancel()
	}
	netConn, err := a.config.Dialer.DialContext(dialCtx, a.config.ServerAddress)
	if err != nil {
		return false, fmt.Errorf("connecting: %w", err)
	}
	conn := wire.NewConn(netConn, a.config.Clock)
	defer conn.Close()

	// Closing the connection is the only way to interrupt a blocked
	// read, so shutdown does exactly that.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	a.setState(StateRegistering)
	clientID, err := a.register(conn)
	if err != nil {
		return false, err
	}
	a.mu.Lock()
	if clientID != "" {
		a.clientID = clientID
	}
	a.mu.Unlock()
	logger.Info("registered", "client_id", clientID)

	a.setState(StateServicing)
	return true, a.service(ctx, conn, logger.With("client_id", clientID))
}

func (a *Agent) register(conn *wire.Conn) (string, error) {
	if err := conn.SendMessage(protocol.RegisterRequest{
		Action:     protocol.ActionRegisterClient,
		SystemInfo: a.config.SystemInfo,
		ClientName: a.config.ClientName,
	}); err != nil {
		return "", fmt.Errorf("sending registration: %w", err)
	}

	frame, err := conn.Next(a.config.RegisterTimeout)
	if err != nil {
		return "", fmt.Errorf("waiting for registration reply: %w", err)
	}
	var reply protocol.RegisterReply
	if err := wire.DecodeMessage(frame, &reply); err != nil {
		return "", fmt.Errorf("%w: unreadable reply: %w", ErrRegistrationRejected, err)
	}
	if reply.Status != protocol.StatusRegistered {
		return "", fmt.Errorf("%w: status %q", ErrRegistrationRejected, reply.Status)
	}
	return reply.ClientID, nil
}

func (a *Agent) service(ctx context.Context, conn *wire.Conn, logger *slog.Logger) error {
	for {
		frame, err := conn.Next(a.config.PollInterval)
		if errors.Is(err, wire.ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}

		var command protocol.Command
		if err := wire.DecodeMessage(frame, &command); err != nil {
			logger.Debug("ignoring frame", "frame_type", frame.Type.String())
			continue
		}

		switch command.Action {
		case protocol.ActionGetSystemInfo:
			logger.Debug("system info requested")
			if err := conn.SendMessage(protocol.SystemInfoReply{SystemInfo: a.config.SystemInfo}); err != nil {
				return err
			}

		case protocol.ActionInstallDriver:
			logger.Info("install requested", "package", command.DriverName)
			result := a.install(ctx, conn, command.DriverName, logger)
			logger.Info("install finished", "package", command.DriverName, "status", string(result.Status), "message", result.Message)
			if err := conn.SendMessage(result); err != nil {
				return fmt.Errorf("reporting install result: %w", err)
			}

		default:
			logger.Debug("ignoring command", "action", command.Action)
		}
	}
}

// install receives one package, runs the installer on it, and always
// removes the staged file.
func (a *Agent) install(ctx context.Context, conn *wire.Conn, driverName string, logger *slog.Logger) protocol.Result {
	envelope, data, err := transfer.Receive(conn, a.config.Transfer)
	if err != nil {
		return protocol.Errored("receiving package: %v", err)
	}
	if envelope.Name != driverName {
		logger.Warn("envelope name differs from install command", "command", driverName, "envelope", envelope.Name)
	}

	name := filepath.Base(envelope.Name)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return protocol.Errored("invalid package name %q", envelope.Name)
	}
	if err := os.MkdirAll(a.config.StagingDir, 0755); err != nil {
		return protocol.Errored("creating staging directory: %v", err)
	}
	path := filepath.Join(a.config.StagingDir, name)
	if err := os.WriteFile(path, data, 0755); err != nil {
		os.Remove(path)
		return protocol.Errored("staging package: %v", err)
	}
	// WriteFile does not change the mode of an existing file.
	if err := os.Chmod(path, 0755); err != nil {
		os.Remove(path)
		return protocol.Errored("staging package: %v", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("removing staged package failed", "path", path, "error", err)
		}
	}()
	logger.Debug("package staged", "path", path, "size", len(data), "hash", envelope.Hash)

	return a.config.Installer.Install(ctx, path)
}
