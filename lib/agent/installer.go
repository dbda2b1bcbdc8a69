// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"time"

	"github.com/bureau-foundation/driverfleet/lib/protocol"
)

// Installer installs a staged package. Implementations fold every
// outcome into a result: success, failed when the installer itself
// rejected the package, error when it could not be run to a verdict.
type Installer interface {
	Install(ctx context.Context, path string) protocol.Result
}

// ExecInstaller runs the staged package as an executable.
type ExecInstaller struct {
	// Args are passed to the package, e.g. "/S" for a silent install.
	Args []string

	// Timeout bounds one installation. Zero means two minutes.
	Timeout time.Duration

	// SuccessCodes are the exit codes that count as success. Empty
	// means only 0.
	SuccessCodes []int

	Logger *slog.Logger
}

// DefaultExecInstaller returns the silent-install configuration.
// Exit code 2 is a normal completion for common driver installers.
func DefaultExecInstaller(logger *slog.Logger) *ExecInstaller {
	return &ExecInstaller{
		Args:         []string{"/S"},
		Timeout:      2 * time.Minute,
		SuccessCodes: []int{0, 2},
		Logger:       logger,
	}
}

// waitDelay bounds how long Install waits for output pipes after the
// installer exits or is killed.
const waitDelay = 5 * time.Second

// Install runs path with the configured arguments.
func (e *ExecInstaller) Install(ctx context.Context, path string) protocol.Result {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var output bytes.Buffer
	command := exec.CommandContext(ctx, path, e.Args...)
	command.Stdout = &output
	command.Stderr = &output
	command.WaitDelay = waitDelay

	err := command.Run()
	if output.Len() > 0 && e.Logger != nil {
		e.Logger.Debug("installer output", "path", path, "output", tail(output.Bytes(), 4096))
	}

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return protocol.Errored("installation timed out")
		}
		return protocol.Errored("installation cancelled")
	}

	code := 0
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		code = exitErr.ExitCode()
	default:
		return protocol.Errored("starting installer: %v", err)
	}

	successCodes := e.SuccessCodes
	if len(successCodes) == 0 {
		successCodes = []int{0}
	}
	if !slices.Contains(successCodes, code) {
		return protocol.Failed("installer exited with code %d", code)
	}
	if code != 0 {
		return protocol.Succeeded(fmt.Sprintf("driver installed (exit code %d)", code))
	}
	return protocol.Succeeded("driver installed")
}

func tail(data []byte, limit int) string {
	if len(data) <= limit {
		return string(data)
	}
	return "..." + string(data[len(data)-limit:])
}
