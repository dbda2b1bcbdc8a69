// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/driverfleet/lib/clock"
	"github.com/bureau-foundation/driverfleet/lib/deploy"
	"github.com/bureau-foundation/driverfleet/lib/metrics"
	"github.com/bureau-foundation/driverfleet/lib/protocol"
	"github.com/bureau-foundation/driverfleet/lib/service"
	"github.com/bureau-foundation/driverfleet/lib/session"
	"github.com/bureau-foundation/driverfleet/lib/store"
	"github.com/bureau-foundation/driverfleet/lib/wire"
	"github.com/bureau-foundation/driverfleet/transport"
)

// Config configures a Server.
type Config struct {
	// ListenAddress is the agent-facing TCP address.
	ListenAddress string

	// StoreDir is the package directory. It is created if missing.
	StoreDir string

	// SocketPath enables the operator socket when non-empty.
	SocketPath string

	RegistrationTimeout time.Duration
	PollInterval        time.Duration
	Deploy              deploy.Options

	Clock  clock.Clock
	Logger *slog.Logger

	// MetricsRegistry receives the server's collectors. Nil means a
	// private registry.
	MetricsRegistry *prometheus.Registry
}

// Server is a running deployment server.
type Server struct {
	config       Config
	logger       *slog.Logger
	listener     transport.Listener
	registry     *session.Registry
	store        *store.Store
	orchestrator *deploy.Orchestrator
	handler      *session.Handler
	metrics      *metrics.Metrics
	operator     *service.SocketServer

	// connections counts accepted connections; it is the N in client_N.
	connections atomic.Uint64
}

// New opens the store and binds the listener. The server accepts no
// connections until Run.
func New(config Config) (*Server, error) {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		return nil, errors.New("server: logger is required")
	}
	if config.Deploy == (deploy.Options{}) {
		config.Deploy = deploy.DefaultOptions()
	}
	if config.MetricsRegistry == nil {
		config.MetricsRegistry = prometheus.NewRegistry()
	}

	packages, err := store.Open(config.StoreDir)
	if err != nil {
		return nil, err
	}
	listener, err := transport.NewTCPListener(config.ListenAddress, config.Logger)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", config.ListenAddress, err)
	}

	registry := session.NewRegistry(config.Clock)
	m := metrics.New(config.MetricsRegistry, registry.Count)

	s := &Server{
		config:   config,
		logger:   config.Logger,
		listener: listener,
		registry: registry,
		store:    packages,
		metrics:  m,
		handler: &session.Handler{
			Registry:            registry,
			Clock:               config.Clock,
			Logger:              config.Logger,
			RegistrationTimeout: config.RegistrationTimeout,
			PollInterval:        config.PollInterval,
		},
	}
	s.orchestrator = deploy.New(registry, packages, config.Deploy, config.Clock, config.Logger, m)

	if config.SocketPath != "" {
		s.operator = service.NewSocketServer(config.SocketPath, config.Logger)
		s.registerActions(s.operator)
	}
	return s, nil
}

// Run serves agents, and the operator socket if configured, until ctx
// is cancelled. Every agent connection is closed before Run returns.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("server started",
		"address", s.Address(),
		"store", s.store.Dir(),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.listener.Serve(ctx, s.handleConnection)
	})
	if s.operator != nil {
		group.Go(func() error {
			return s.operator.Serve(ctx)
		})
	}
	err := group.Wait()
	s.logger.Info("server stopped")
	return err
}

// Close stops accepting agent connections without waiting for Run.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handleConnection(ctx context.Context, netConn net.Conn) {
	seq := s.connections.Add(1)
	id := "client_" + strconv.FormatUint(seq, 10)
	s.metrics.ConnectionAccepted()
	s.logger.Info("connection accepted", "session_id", id, "address", netConn.RemoteAddr().String())

	conn := wire.NewConn(netConn, s.config.Clock)
	if err := s.handler.Serve(ctx, conn, id, seq); err != nil && ctx.Err() == nil {
		s.logger.Warn("connection ended with error", "session_id", id, "error", err)
	}
}

// Address is the bound agent-facing address.
func (s *Server) Address() string {
	return s.listener.Address()
}

// OperatorReady is closed once the operator socket listens, or
// immediately when there is none.
func (s *Server) OperatorReady() <-chan struct{} {
	if s.operator == nil {
		ready := make(chan struct{})
		close(ready)
		return ready
	}
	return s.operator.Ready()
}

// Sessions lists registered sessions in registration order.
func (s *Server) Sessions() []session.Info {
	return s.registry.Snapshot()
}

// SessionCount is the number of registered sessions.
func (s *Server) SessionCount() int {
	return s.registry.Count()
}

// Packages lists the store.
func (s *Server) Packages() ([]store.Package, error) {
	return s.store.List()
}

// Upload copies a file into the store.
func (s *Server) Upload(sourcePath string) (store.Package, error) {
	pkg, err := s.store.Upload(sourcePath)
	if err != nil {
		return store.Package{}, err
	}
	s.metrics.AddTransferBytes(metrics.DirectionReceived, int(pkg.Size))
	s.logger.Info("package uploaded", "package", pkg.Name, "size", pkg.Size)
	return pkg, nil
}

// Deploy installs one package on one session.
func (s *Server) Deploy(ctx context.Context, sessionID, packageName string) protocol.Result {
	return s.orchestrator.Deploy(ctx, sessionID, packageName)
}

// MassDeploy installs a package on every compatible session.
func (s *Server) MassDeploy(ctx context.Context, packageName string) []deploy.Outcome {
	return s.orchestrator.MassDeploy(ctx, packageName)
}

// QuerySystemInfo asks a session's agent for its current descriptor.
func (s *Server) QuerySystemInfo(ctx context.Context, sessionID string) (protocol.SystemInfo, error) {
	target, ok := s.registry.Get(sessionID)
	if !ok {
		return protocol.SystemInfo{}, fmt.Errorf("session %s: %w", sessionID, session.ErrSessionClosed)
	}
	return s.orchestrator.QuerySystemInfo(ctx, target), nil
}

// Exec runs fn with exclusive use of a session's connection, for
// operator flows the orchestrator does not cover.
func (s *Server) Exec(ctx context.Context, sessionID string, fn func(*wire.Conn) error) error {
	target, ok := s.registry.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, session.ErrSessionClosed)
	}
	return target.Do(ctx, fn)
}

// MetricsHandler serves the Prometheus exposition.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}
