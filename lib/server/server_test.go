// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/driverfleet/lib/agent"
	"github.com/bureau-foundation/driverfleet/lib/clock"
	"github.com/bureau-foundation/driverfleet/lib/deploy"
	"github.com/bureau-foundation/driverfleet/lib/protocol"
	"github.com/bureau-foundation/driverfleet/lib/service"
	"github.com/bureau-foundation/driverfleet/lib/session"
	"github.com/bureau-foundation/driverfleet/lib/store"
	"github.com/bureau-foundation/driverfleet/lib/testutil"
	"github.com/bureau-foundation/driverfleet/lib/transfer"
	"github.com/bureau-foundation/driverfleet/lib/wire"
	"github.com/bureau-foundation/driverfleet/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	windowsHost = protocol.SystemInfo{OS: "Windows", OSVersion: "10.0.22631", Architecture: "AMD64", Hostname: "ws-12"}
	linuxHost   = protocol.SystemInfo{OS: "Linux", OSVersion: "6.8.0", Architecture: "x86_64", Hostname: "build-3"}
)

// recordingInstaller remembers every payload it was handed.
type recordingInstaller struct {
	mu       sync.Mutex
	payloads map[string][]byte
}

func (r *recordingInstaller) Install(_ context.Context, path string) protocol.Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.Errored("reading staged file: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.payloads == nil {
		r.payloads = make(map[string][]byte)
	}
	r.payloads[filepath.Base(path)] = data
	return protocol.Succeeded("driver installed")
}

func (r *recordingInstaller) payload(name string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payloads[name]
}

type harness struct {
	server     *Server
	storeDir   string
	socketPath string
}

func startServer(t *testing.T, packages map[string]string) *harness {
	t.Helper()
	storeDir := t.TempDir()
	for name, content := range packages {
		if err := os.WriteFile(filepath.Join(storeDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	socketPath := filepath.Join(testutil.SocketDir(t), "operator.sock")

	options := deploy.DefaultOptions()
	options.InstallTimeout = 10 * time.Second
	options.Concurrency = 2
	options.Transfer.Compression = transfer.CompressionZstd

	srv, err := New(Config{
		ListenAddress:       "127.0.0.1:0",
		StoreDir:            storeDir,
		SocketPath:          socketPath,
		RegistrationTimeout: 5 * time.Second,
		PollInterval:        time.Second,
		Deploy:              options,
		Clock:               clock.Real(),
		Logger:              testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 10*time.Second, "server shutdown"); err != nil {
			t.Errorf("Run = %v", err)
		}
	})
	testutil.RequireClosed(t, srv.OperatorReady(), 5*time.Second, "operator socket ready")
	return &harness{server: srv, storeDir: storeDir, socketPath: socketPath}
}

// startAgent runs a real agent against the server until the test ends.
func startAgent(t *testing.T, address, name string, info protocol.SystemInfo, installer agent.Installer) context.CancelFunc {
	t.Helper()
	config := agent.DefaultConfig()
	config.ServerAddress = address
	config.ClientName = name
	config.SystemInfo = info
	config.Dialer = &transport.TCPDialer{Timeout: time.Second}
	config.Clock = clock.Real()
	config.Logger = testLogger()
	config.Installer = installer
	config.StagingDir = filepath.Join(t.TempDir(), "staging")
	config.PollInterval = 100 * time.Millisecond
	config.Retry = agent.RetryPolicy{Backoff: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.New(config).Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 10*time.Second, "agent %s shutdown", name)
	})
	return cancel
}

func waitForSessions(t *testing.T, srv *Server, count int) {
	t.Helper()
	testutil.WaitFor(t, 10*time.Second, func() bool { return srv.SessionCount() == count },
		"%d sessions registered", count)
}

func TestDeployEndToEnd(t *testing.T) {
	payload := strings.Repeat("intel network driver ", 2000)
	h := startServer(t, map[string]string{"intel_network.inf": payload})
	installer := &recordingInstaller{}
	startAgent(t, h.server.Address(), "ws-12", windowsHost, installer)
	waitForSessions(t, h.server, 1)

	sessions := h.server.Sessions()
	if sessions[0].ID != "client_1" || sessions[0].ClientName != "ws-12" || sessions[0].SystemInfo != windowsHost {
		t.Errorf("session = %+v", sessions[0])
	}
	if sessions[0].Host != "127.0.0.1" || sessions[0].Port == 0 {
		t.Errorf("session address = %s:%d", sessions[0].Host, sessions[0].Port)
	}

	result := h.server.Deploy(context.Background(), "client_1", "intel_network.inf")
	if result != protocol.Succeeded("driver installed") {
		t.Fatalf("Deploy = %+v", result)
	}
	if got := string(installer.payload("intel_network.inf")); got != payload {
		t.Errorf("installer received %d bytes, want %d", len(got), len(payload))
	}

	if result := h.server.Deploy(context.Background(), "client_9", "intel_network.inf"); result != protocol.Errored("session client_9 is not connected") {
		t.Errorf("Deploy to unknown session = %+v", result)
	}
	if result := h.server.Deploy(context.Background(), "client_1", "absent.exe"); result.Status != protocol.StatusError {
		t.Errorf("Deploy of a missing package = %+v", result)
	}
}

func TestMassDeploySkipsIncompatible(t *testing.T) {
	h := startServer(t, map[string]string{"amd_linux.deb": "deb payload"})
	windows := &recordingInstaller{}
	linux := &recordingInstaller{}
	startAgent(t, h.server.Address(), "ws-12", windowsHost, windows)
	waitForSessions(t, h.server, 1)
	startAgent(t, h.server.Address(), "build-3", linuxHost, linux)
	waitForSessions(t, h.server, 2)

	outcomes := h.server.MassDeploy(context.Background(), "amd_linux.deb")
	want := []deploy.Outcome{
		{SessionID: "client_1", Result: protocol.Skipped("incompatible package")},
		{SessionID: "client_2", Result: protocol.Succeeded("driver installed")},
	}
	if len(outcomes) != len(want) {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("outcome %d = %+v, want %+v", i, outcomes[i], want[i])
		}
	}
	if windows.payload("amd_linux.deb") != nil {
		t.Error("incompatible agent received the package")
	}
	if string(linux.payload("amd_linux.deb")) != "deb payload" {
		t.Error("compatible agent did not receive the package")
	}
}

func TestIdentifiersAreNeverReused(t *testing.T) {
	h := startServer(t, nil)
	stopFirst := startAgent(t, h.server.Address(), "a", windowsHost, &recordingInstaller{})
	waitForSessions(t, h.server, 1)
	startAgent(t, h.server.Address(), "b", linuxHost, &recordingInstaller{})
	waitForSessions(t, h.server, 2)

	stopFirst()
	testutil.WaitFor(t, 10*time.Second, func() bool {
		sessions := h.server.Sessions()
		return len(sessions) == 1 && sessions[0].ID == "client_2"
	}, "first agent's session removed")

	startAgent(t, h.server.Address(), "c", windowsHost, &recordingInstaller{})
	waitForSessions(t, h.server, 2)
	sessions := h.server.Sessions()
	if sessions[0].ID != "client_2" || sessions[1].ID != "client_3" {
		t.Errorf("sessions = %s, %s; want client_2, client_3", sessions[0].ID, sessions[1].ID)
	}
}

func TestExecRunsCustomFlow(t *testing.T) {
	h := startServer(t, nil)
	startAgent(t, h.server.Address(), "build-3", linuxHost, &recordingInstaller{})
	waitForSessions(t, h.server, 1)

	var reply protocol.SystemInfoReply
	err := h.server.Exec(context.Background(), "client_1", func(conn *wire.Conn) error {
		if err := conn.SendMessage(protocol.Command{Action: protocol.ActionGetSystemInfo}); err != nil {
			return err
		}
		frame, err := conn.Next(5 * time.Second)
		if err != nil {
			return err
		}
		return wire.DecodeMessage(frame, &reply)
	})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if reply.SystemInfo != linuxHost {
		t.Errorf("system info = %+v", reply.SystemInfo)
	}

	info, err := h.server.QuerySystemInfo(context.Background(), "client_1")
	if err != nil || info != linuxHost {
		t.Errorf("QuerySystemInfo = %+v, %v", info, err)
	}

	err = h.server.Exec(context.Background(), "client_7", func(*wire.Conn) error { return nil })
	if !errors.Is(err, session.ErrSessionClosed) {
		t.Errorf("Exec on unknown session = %v, want ErrSessionClosed", err)
	}
}

func TestOperatorSocket(t *testing.T) {
	h := startServer(t, map[string]string{"intel_network.inf": "inf"})
	installer := &recordingInstaller{}
	startAgent(t, h.server.Address(), "ws-12", windowsHost, installer)
	waitForSessions(t, h.server, 1)

	client := service.NewClient(h.socketPath)
	ctx := context.Background()

	var status Status
	if err := client.Call(ctx, ActionStatus, nil, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.SessionCount != 1 || status.PackageCount != 1 || status.ListenAddress != h.server.Address() {
		t.Errorf("status = %+v", status)
	}

	var sessions []session.Info
	if err := client.Call(ctx, ActionListSessions, nil, &sessions); err != nil {
		t.Fatalf("list-sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "client_1" || sessions[0].SystemInfo.OS != "Windows" {
		t.Errorf("sessions = %+v", sessions)
	}

	upload := filepath.Join(t.TempDir(), "realtek_win_audio.exe")
	if err := os.WriteFile(upload, []byte("MZ audio"), 0755); err != nil {
		t.Fatal(err)
	}
	var uploaded store.Package
	if err := client.Call(ctx, ActionUploadPackage, map[string]any{"path": upload}, &uploaded); err != nil {
		t.Fatalf("upload-package: %v", err)
	}
	if uploaded.Name != "realtek_win_audio.exe" || uploaded.Size != 8 {
		t.Errorf("uploaded = %+v", uploaded)
	}

	var packages []store.Package
	if err := client.Call(ctx, ActionListPackages, nil, &packages); err != nil {
		t.Fatalf("list-packages: %v", err)
	}
	if len(packages) != 2 || packages[0].Name != "intel_network.inf" || packages[1].Name != "realtek_win_audio.exe" {
		t.Errorf("packages = %+v", packages)
	}

	var result protocol.Result
	if err := client.Call(ctx, ActionDeploy, map[string]any{"session_id": "client_1", "package": "realtek_win_audio.exe"}, &result); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if result.Status != protocol.StatusSuccess {
		t.Errorf("deploy result = %+v", result)
	}

	var massReply MassDeployReply
	if err := client.Call(ctx, ActionMassDeploy, map[string]any{"package": "intel_network.inf"}, &massReply); err != nil {
		t.Fatalf("mass-deploy: %v", err)
	}
	if len(massReply.Outcomes) != 1 || massReply.Summary[protocol.StatusSuccess] != 1 {
		t.Errorf("mass deploy reply = %+v", massReply)
	}

	var serviceErr *service.ServiceError
	err := client.Call(ctx, ActionDeploy, map[string]any{"package": "x"}, nil)
	if !errors.As(err, &serviceErr) || serviceErr.Message != "missing required field: session_id" {
		t.Errorf("deploy without session_id = %v", err)
	}
	err = client.Call(ctx, ActionUploadPackage, map[string]any{"path": "relative/file.exe"}, nil)
	if !errors.As(err, &serviceErr) {
		t.Errorf("upload with a relative path = %v, want a service error", err)
	}
}

func TestMetricsExposition(t *testing.T) {
	h := startServer(t, map[string]string{"intel_network.inf": "inf"})
	startAgent(t, h.server.Address(), "ws-12", windowsHost, &recordingInstaller{})
	waitForSessions(t, h.server, 1)
	h.server.Deploy(context.Background(), "client_1", "intel_network.inf")

	recorder := httptest.NewRecorder()
	h.server.MetricsHandler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body := recorder.Body.String()
	for _, want := range []string{
		"driverfleet_sessions 1",
		`driverfleet_deployments_total{status="success"} 1`,
		"driverfleet_connections_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
