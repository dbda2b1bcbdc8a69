// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/driverfleet/lib/clock"
	"github.com/bureau-foundation/driverfleet/lib/metrics"
	"github.com/bureau-foundation/driverfleet/lib/netutil"
	"github.com/bureau-foundation/driverfleet/lib/protocol"
	"github.com/bureau-foundation/driverfleet/lib/session"
	"github.com/bureau-foundation/driverfleet/lib/store"
	"github.com/bureau-foundation/driverfleet/lib/transfer"
	"github.com/bureau-foundation/driverfleet/lib/wire"
)

// Sessions is the registry view the orchestrator needs.
type Sessions interface {
	Get(id string) (*session.Session, bool)
	IDs() []string
}

// Packages is the store view the orchestrator needs.
type Packages interface {
	Read(name string) (store.Package, []byte, error)
}

// Options tunes deployments.
type Options struct {
	// InstallTimeout bounds the wait for the agent's result after the
	// payload is sent. Remote installers are slow, so this is minutes.
	InstallTimeout time.Duration

	// SystemInfoTimeout bounds a get_system_info round trip.
	SystemInfoTimeout time.Duration

	// Concurrency is how many sessions a mass deploy works on at once.
	// Values below 1 mean sequential.
	Concurrency int

	Transfer transfer.Options
}

// DefaultOptions returns the standard deployment tunables.
func DefaultOptions() Options {
	return Options{
		InstallTimeout:    3 * time.Minute,
		SystemInfoTimeout: 5 * time.Second,
		Concurrency:       1,
		Transfer:          transfer.DefaultOptions(),
	}
}

// Outcome is one mass-deploy entry.
type Outcome struct {
	SessionID string          `cbor:"session_id" json:"session_id"`
	Result    protocol.Result `cbor:"result" json:"result"`
}

// Orchestrator runs deployments against a registry and a store.
type Orchestrator struct {
	sessions Sessions
	packages Packages
	options  Options
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New returns an Orchestrator. m may be nil.
func New(sessions Sessions, packages Packages, options Options, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		packages: packages,
		options:  options,
		clock:    clk,
		logger:   logger,
		metrics:  m,
	}
}

// Deploy deploys packageName to the session with the given ID.
func (o *Orchestrator) Deploy(ctx context.Context, sessionID, packageName string) protocol.Result {
	target, ok := o.sessions.Get(sessionID)
	if !ok {
		return protocol.Errored("session %s is not connected", sessionID)
	}
	return o.DeployToSession(ctx, target, packageName)
}

// DeployToSession installs packageName on target and returns the
// agent's result unmodified. It never returns skipped.
func (o *Orchestrator) DeployToSession(ctx context.Context, target *session.Session, packageName string) protocol.Result {
	logger := o.logger.With("session_id", target.ID(), "package", packageName)
	started := o.clock.Now()

	result := o.deploy(ctx, target, packageName, logger)

	o.metrics.RecordDeployment(result.Status, o.clock.Now().Sub(started))
	logger.Info("deployment finished", "status", string(result.Status), "message", result.Message)
	return result
}

func (o *Orchestrator) deploy(ctx context.Context, target *session.Session, packageName string, logger *slog.Logger) protocol.Result {
	pkg, data, err := o.packages.Read(packageName)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidName) {
		return protocol.Errored("package %q not found", packageName)
	}
	if err != nil {
		return protocol.Errored("reading package %q: %v", packageName, err)
	}

	var result protocol.Result
	err = target.Do(ctx, func(conn *wire.Conn) error {
		command := protocol.Command{Action: protocol.ActionInstallDriver, DriverName: pkg.Name}
		if err := conn.SendMessage(command); err != nil {
			return &stepError{"sending install command", err}
		}
		logger.Debug("install command sent", "size", pkg.Size)

		if err := transfer.Send(conn, pkg.Name, data, o.options.Transfer); err != nil {
			return &stepError{"package transfer failed", err}
		}
		o.metrics.AddTransferBytes(metrics.DirectionSent, len(data))
		logger.Debug("package sent, waiting for installation result")

		result, err = awaitResult(conn, o.clock, o.options.InstallTimeout, logger)
		if err != nil {
			return &stepError{"waiting for installation result", err}
		}
		return nil
	})
	if err != nil {
		return errorResult(err)
	}
	return result
}

// awaitResult reads until a message carrying a status arrives.
// Unrelated frames are dropped.
func awaitResult(conn *wire.Conn, clk clock.Clock, timeout time.Duration, logger *slog.Logger) (protocol.Result, error) {
	deadline := clk.Now().Add(timeout)
	for {
		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 {
			return protocol.Result{}, wire.ErrTimeout
		}
		frame, err := conn.Next(remaining)
		if err != nil {
			return protocol.Result{}, err
		}
		header, err := wire.PeekHeader(frame)
		if err != nil || header.Status == "" {
			logger.Debug("ignoring frame while waiting for result", "frame_type", frame.Type.String(), "action", header.Action)
			continue
		}
		var result protocol.Result
		if err := wire.DecodeMessage(frame, &result); err != nil {
			return protocol.Result{}, fmt.Errorf("malformed result: %w", err)
		}
		return result, nil
	}
}

// QuerySystemInfo asks target for its live system info. Any failure
// yields protocol.UnknownSystemInfo.
func (o *Orchestrator) QuerySystemInfo(ctx context.Context, target *session.Session) protocol.SystemInfo {
	info, err := o.querySystemInfo(ctx, target)
	if err != nil {
		o.logger.Warn("system info query failed", "session_id", target.ID(), "error", err)
		return protocol.UnknownSystemInfo
	}
	return info
}

func (o *Orchestrator) querySystemInfo(ctx context.Context, target *session.Session) (protocol.SystemInfo, error) {
	var info protocol.SystemInfo
	err := target.Do(ctx, func(conn *wire.Conn) error {
		if err := conn.SendMessage(protocol.Command{Action: protocol.ActionGetSystemInfo}); err != nil {
			return err
		}
		deadline := o.clock.Now().Add(o.options.SystemInfoTimeout)
		for {
			remaining := deadline.Sub(o.clock.Now())
			if remaining <= 0 {
				return wire.ErrTimeout
			}
			frame, err := conn.Next(remaining)
			if err != nil {
				return err
			}
			var reply struct {
				SystemInfo *protocol.SystemInfo `cbor:"system_info"`
			}
			if err := wire.DecodeMessage(frame, &reply); err != nil || reply.SystemInfo == nil {
				continue
			}
			info = *reply.SystemInfo
			return nil
		}
	})
	return info, err
}

// MassDeploy offers packageName to every registered session. The
// result has one entry per session in the registry snapshot, in
// registration order, whatever happens to each attempt.
func (o *Orchestrator) MassDeploy(ctx context.Context, packageName string) []Outcome {
	ids := o.sessions.IDs()
	outcomes := make([]Outcome, len(ids))
	o.logger.Info("mass deploy started", "package", packageName, "sessions", len(ids))

	var group errgroup.Group
	group.SetLimit(max(o.options.Concurrency, 1))
	for i, id := range ids {
		group.Go(func() error {
			outcomes[i] = Outcome{SessionID: id, Result: o.deployIfCompatible(ctx, id, packageName)}
			return nil
		})
	}
	group.Wait()

	counts := Summarize(outcomes)
	o.logger.Info("mass deploy finished",
		"package", packageName,
		"success", counts[protocol.StatusSuccess],
		"failed", counts[protocol.StatusFailed],
		"error", counts[protocol.StatusError],
		"skipped", counts[protocol.StatusSkipped],
	)
	return outcomes
}

func (o *Orchestrator) deployIfCompatible(ctx context.Context, id, packageName string) protocol.Result {
	target, ok := o.sessions.Get(id)
	if !ok {
		return protocol.Errored("disconnected")
	}

	info, err := o.querySystemInfo(ctx, target)
	if errors.Is(err, session.ErrSessionClosed) {
		return protocol.Errored("disconnected")
	}
	if err != nil {
		o.logger.Warn("system info query failed", "session_id", id, "error", err)
		info = protocol.UnknownSystemInfo
	}

	if !IsCompatible(packageName, info) {
		o.metrics.RecordDeployment(protocol.StatusSkipped, 0)
		return protocol.Skipped("incompatible package")
	}
	return o.DeployToSession(ctx, target, packageName)
}

// Summarize counts outcomes by status.
func Summarize(outcomes []Outcome) map[protocol.Status]int {
	counts := make(map[protocol.Status]int)
	for _, outcome := range outcomes {
		counts[outcome.Result.Status]++
	}
	return counts
}

type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// errorResult folds a deployment failure into an error result.
func errorResult(err error) protocol.Result {
	switch {
	case errors.Is(err, session.ErrSessionClosed):
		return protocol.Errored("disconnected")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return protocol.Errored("deployment cancelled: %v", err)
	}

	var step *stepError
	if !errors.As(err, &step) {
		return protocol.Errored("%v", err)
	}
	switch {
	case errors.Is(step.err, wire.ErrTimeout):
		return protocol.Errored("%s: timed out", step.step)
	case netutil.IsExpectedCloseError(step.err):
		return protocol.Errored("%s: connection lost", step.step)
	}
	return protocol.Errored("%v", err)
}
