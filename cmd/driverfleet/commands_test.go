// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/driverfleet/lib/cli"
	"github.com/bureau-foundation/driverfleet/lib/server"
	"github.com/bureau-foundation/driverfleet/lib/store"
	"github.com/bureau-foundation/driverfleet/lib/testutil"
)

// startServer runs a server with no agents and returns its operator
// socket path.
func startServer(t *testing.T) (string, string) {
	t.Helper()
	storeDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(storeDir, "intel_network.inf"), []byte("inf"), 0644); err != nil {
		t.Fatal(err)
	}
	socketPath := filepath.Join(testutil.SocketDir(t), "operator.sock")

	srv, err := server.New(server.Config{
		ListenAddress: "127.0.0.1:0",
		StoreDir:      storeDir,
		SocketPath:    socketPath,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 10*time.Second, "server shutdown")
	})
	testutil.RequireClosed(t, srv.OperatorReady(), 5*time.Second, "operator socket ready")
	return socketPath, storeDir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	command := root(&stdout)
	command.SetHelpOutput(io.Discard)
	err := command.Execute(args)
	return stdout.String(), err
}

func TestStatusAndPackages(t *testing.T) {
	socketPath, storeDir := startServer(t)

	output, err := runCLI(t, "status", "--socket", socketPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(output, "sessions:   0") || !strings.Contains(output, "packages:   1 ("+storeDir+")") {
		t.Errorf("status output:\n%s", output)
	}

	output, err = runCLI(t, "packages", "--socket", socketPath)
	if err != nil {
		t.Fatalf("packages: %v", err)
	}
	if !strings.Contains(output, "intel_network.inf") || !strings.Contains(output, "3 bytes") {
		t.Errorf("packages output:\n%s", output)
	}

	output, err = runCLI(t, "packages", "--socket", socketPath, "--json")
	if err != nil {
		t.Fatalf("packages --json: %v", err)
	}
	var packages []store.Package
	if err := json.Unmarshal([]byte(output), &packages); err != nil {
		t.Fatalf("packages --json output is not JSON: %v\n%s", err, output)
	}
	if len(packages) != 1 || packages[0].Name != "intel_network.inf" {
		t.Errorf("packages = %+v", packages)
	}
}

func TestSessionsEmpty(t *testing.T) {
	socketPath, _ := startServer(t)

	output, err := runCLI(t, "sessions", "--socket", socketPath)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if strings.TrimSpace(output) != "no agents connected" {
		t.Errorf("sessions output = %q", output)
	}

	output, err = runCLI(t, "sessions", "--socket", socketPath, "--json")
	if err != nil {
		t.Fatalf("sessions --json: %v", err)
	}
	if strings.TrimSpace(output) != "[]" {
		t.Errorf("sessions --json = %q, want []", output)
	}
}

func TestUpload(t *testing.T) {
	socketPath, storeDir := startServer(t)
	source := filepath.Join(t.TempDir(), "amd_linux.deb")
	if err := os.WriteFile(source, []byte("debian"), 0644); err != nil {
		t.Fatal(err)
	}

	output, err := runCLI(t, "upload", "--socket", socketPath, source, filepath.Join(t.TempDir(), "absent.exe"))
	if err == nil || !strings.Contains(err.Error(), "absent.exe") {
		t.Errorf("upload error = %v, want a failure naming absent.exe", err)
	}
	if !strings.Contains(output, "uploaded amd_linux.deb (6 bytes)") {
		t.Errorf("upload output = %q", output)
	}
	if data, err := os.ReadFile(filepath.Join(storeDir, "amd_linux.deb")); err != nil || string(data) != "debian" {
		t.Errorf("stored copy = %q, %v", data, err)
	}
}

func TestDeployReportsResultAndExitCode(t *testing.T) {
	socketPath, _ := startServer(t)

	output, err := runCLI(t, "deploy", "--socket", socketPath, "client_9", "intel_network.inf")
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Errorf("deploy error = %v, want exit code 1", err)
	}
	if strings.TrimSpace(output) != "client_9: error: session client_9 is not connected" {
		t.Errorf("deploy output = %q", output)
	}

	if _, err := runCLI(t, "deploy", "--socket", socketPath, "client_9"); err == nil {
		t.Error("deploy with one argument succeeded")
	}
}

func TestDeployAllWithoutAgents(t *testing.T) {
	socketPath, _ := startServer(t)

	output, err := runCLI(t, "deploy-all", "--socket", socketPath, "intel_network.inf")
	if err != nil {
		t.Fatalf("deploy-all: %v", err)
	}
	if strings.TrimSpace(output) != "no agents connected" {
		t.Errorf("deploy-all output = %q", output)
	}
}

func TestUnreachableSocket(t *testing.T) {
	missing := filepath.Join(testutil.SocketDir(t), "absent.sock")
	if _, err := runCLI(t, "status", "--socket", missing); err == nil {
		t.Error("status against a missing socket succeeded")
	}
}
