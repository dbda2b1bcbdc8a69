// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/driverfleet/lib/transfer"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Listen != "0.0.0.0:8888" {
		t.Errorf("expected listen=0.0.0.0:8888, got %s", cfg.Server.Listen)
	}
	if cfg.Agent.Server != "localhost:8888" {
		t.Errorf("expected agent server=localhost:8888, got %s", cfg.Agent.Server)
	}
	if !cfg.Transfer.VerifyHash {
		t.Error("expected verify_hash=true by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}

	options, err := cfg.DeployOptions()
	if err != nil {
		t.Fatalf("DeployOptions: %v", err)
	}
	if options.InstallTimeout != 3*time.Minute || options.SystemInfoTimeout != 5*time.Second || options.Concurrency != 1 {
		t.Errorf("deploy options = %+v", options)
	}
	if options.Transfer != transfer.DefaultOptions() {
		t.Errorf("transfer options = %+v, want the transfer defaults", options.Transfer)
	}

	installer := cfg.Installer(nil)
	if !slices.Equal(installer.Args, []string{"/S"}) || installer.Timeout != 2*time.Minute || !slices.Equal(installer.SuccessCodes, []int{0, 2}) {
		t.Errorf("installer = %+v", installer)
	}
	if policy := cfg.RetryPolicy(); policy.Backoff != 5*time.Second || policy.MaxAttempts != 0 {
		t.Errorf("retry policy = %+v", policy)
	}
}

func TestLoad_RequiresEnvVar(t *testing.T) {
	t.Setenv(EnvVar, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when DRIVERFLEET_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "DRIVERFLEET_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithEnvVar(t *testing.T) {
	path := writeConfig(t, "driverfleet.yaml", `
server:
  listen: 127.0.0.1:9999
`)
	t.Setenv(EnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9999" {
		t.Errorf("expected listen=127.0.0.1:9999, got %s", cfg.Server.Listen)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.InstallTimeout != "3m" {
		t.Errorf("expected install_timeout=3m, got %s", cfg.Server.InstallTimeout)
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv(EnvVar, "")
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Server.StoreDir != "drivers" {
		t.Errorf("expected the default store dir, got %s", cfg.Server.StoreDir)
	}

	path := writeConfig(t, "agent.yaml", "agent:\n  client_name: lab-3\n")
	cfg, err = LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault(%s): %v", path, err)
	}
	if got := cfg.ClientName("ignored"); got != "lab-3" {
		t.Errorf("ClientName = %s, want lab-3", got)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, "driverfleet.yaml", `
server:
  store_dir: /srv/drivers
  socket_path: /run/driverfleet/operator.sock
  install_timeout: 10m
  mass_deploy_concurrency: 4

agent:
  server: deploy.example.internal:8888
  max_attempts: 12
  installer:
    args: ["/quiet", "/norestart"]
    success_codes: [0, 3010]

transfer:
  compression: zstd
  verify_hash: false
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.StoreDir != "/srv/drivers" {
		t.Errorf("expected store_dir=/srv/drivers, got %s", cfg.Server.StoreDir)
	}
	deployOptions, err := cfg.DeployOptions()
	if err != nil {
		t.Fatalf("DeployOptions: %v", err)
	}
	if deployOptions.InstallTimeout != 10*time.Minute || deployOptions.Concurrency != 4 {
		t.Errorf("deploy options = %+v", deployOptions)
	}
	if deployOptions.Transfer.Compression != transfer.CompressionZstd || deployOptions.Transfer.VerifyHash {
		t.Errorf("transfer options = %+v", deployOptions.Transfer)
	}
	if cfg.RetryPolicy().MaxAttempts != 12 {
		t.Errorf("expected max_attempts=12, got %d", cfg.RetryPolicy().MaxAttempts)
	}
	installer := cfg.Installer(nil)
	if !slices.Equal(installer.Args, []string{"/quiet", "/norestart"}) {
		t.Errorf("installer args = %v", installer.Args)
	}
	if !slices.Equal(installer.SuccessCodes, []int{0, 3010}) {
		t.Errorf("success codes = %v", installer.SuccessCodes)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := writeConfig(t, "config.jsonc", `{
    // Agents on the lab network.
    "agent": {
        "server": "172.20.10.4:8888",
        "client_name": "bench-7", /* overrides the hostname */
    },
    "transfer": {"chunk_size": 65536,},
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Agent.Server != "172.20.10.4:8888" || cfg.Agent.ClientName != "bench-7" {
		t.Errorf("agent section = %+v", cfg.Agent)
	}
	if cfg.Transfer.ChunkSize != 65536 {
		t.Errorf("expected chunk_size=65536, got %d", cfg.Transfer.ChunkSize)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestValidate_ReportsEveryField(t *testing.T) {
	cfg := Default()
	cfg.Server.Listen = ""
	cfg.Server.MassDeployConcurrency = 0
	cfg.Agent.MaxAttempts = -1
	cfg.Transfer.Compression = "gzip"
	cfg.Transfer.StallTimeout = "soon"
	cfg.Server.InstallTimeout = "-3m"
	cfg.Transfer.ChunkSize = 32 << 20

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"server.listen",
		"server.mass_deploy_concurrency",
		"agent.max_attempts",
		"transfer.compression",
		"transfer.stall_timeout",
		"server.install_timeout",
		"transfer.chunk_size",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error does not mention %s:\n%v", want, err)
		}
	}
}

func TestValidate_ChunkSizeBound(t *testing.T) {
	cfg := Default()
	cfg.Transfer.ChunkSize = transfer.MaxChunkSize
	if err := cfg.Validate(); err != nil {
		t.Errorf("chunk size at the limit rejected: %v", err)
	}
	cfg.Transfer.ChunkSize = transfer.MaxChunkSize + 1
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "transfer.chunk_size") {
		t.Errorf("expected a chunk_size error above the limit, got %v", err)
	}
}

func TestLoadFile_InvalidIsRejected(t *testing.T) {
	path := writeConfig(t, "bad.yaml", "transfer:\n  ack_timeout: forever\n")
	if _, err := LoadFile(path); err == nil || !strings.Contains(err.Error(), "transfer.ack_timeout") {
		t.Errorf("expected an ack_timeout validation error, got %v", err)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("HOME", "/home/ops")
	t.Setenv("DRIVERFLEET_TEST_ROOT", "")

	tests := []struct {
		input string
		want  string
	}{
		{"${HOME}/drivers", "/home/ops/drivers"},
		{"${DRIVERFLEET_TEST_ROOT:-/srv}/drivers", "/srv/drivers"},
		{"/plain/path", "/plain/path"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, map[string]string{"HOME": os.Getenv("HOME")}); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}

	path := writeConfig(t, "paths.yaml", "server:\n  store_dir: ${HOME}/drivers\n")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.StoreDir != "/home/ops/drivers" {
		t.Errorf("store_dir = %s, want /home/ops/drivers", cfg.Server.StoreDir)
	}
}

func TestClientNameFallsBackToHostname(t *testing.T) {
	if got := Default().ClientName("ws-12"); got != "client_ws-12" {
		t.Errorf("ClientName = %s, want client_ws-12", got)
	}
}
