// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/driverfleet/lib/agent"
	"github.com/bureau-foundation/driverfleet/lib/deploy"
	"github.com/bureau-foundation/driverfleet/lib/transfer"
)

// EnvVar names the environment variable [Load] reads.
const EnvVar = "DRIVERFLEET_CONFIG"

// Config is the master configuration.
type Config struct {
	// Server configures driverfleet-server.
	Server ServerConfig `yaml:"server"`

	// Agent configures driverfleet-agent.
	Agent AgentConfig `yaml:"agent"`

	// Transfer tunes payload transfer on both sides.
	Transfer TransferConfig `yaml:"transfer"`
}

// ServerConfig configures the deployment server.
type ServerConfig struct {
	// Listen is the TCP address agents connect to.
	// Default: 0.0.0.0:8888
	Listen string `yaml:"listen"`

	// StoreDir is the package directory.
	// Default: drivers
	StoreDir string `yaml:"store_dir"`

	// SocketPath is the operator socket. Empty disables it.
	SocketPath string `yaml:"socket_path"`

	// MetricsAddress serves /metrics over HTTP when set.
	MetricsAddress string `yaml:"metrics_address"`

	// RegistrationTimeout bounds the wait for register_client.
	// Default: 10s
	RegistrationTimeout string `yaml:"registration_timeout"`

	// PollInterval is how often an idle session wakes.
	// Default: 10s
	PollInterval string `yaml:"poll_interval"`

	// SystemInfoTimeout bounds one get_system_info round trip.
	// Default: 5s
	SystemInfoTimeout string `yaml:"system_info_timeout"`

	// InstallTimeout bounds the wait for an install result.
	// Default: 3m
	InstallTimeout string `yaml:"install_timeout"`

	// MassDeployConcurrency bounds how many sessions a mass deploy
	// works on at once.
	// Default: 1
	MassDeployConcurrency int `yaml:"mass_deploy_concurrency"`
}

// AgentConfig configures a remote agent.
type AgentConfig struct {
	// Server is the address of the deployment server.
	// Default: localhost:8888
	Server string `yaml:"server"`

	// ClientName is the name reported at registration. Empty means
	// "client_" followed by the hostname.
	ClientName string `yaml:"client_name"`

	// StagingDir receives packages while they install.
	// Default: drivers
	StagingDir string `yaml:"staging_dir"`

	ConnectTimeout   string `yaml:"connect_timeout"`
	RegisterTimeout  string `yaml:"register_timeout"`
	PollInterval     string `yaml:"poll_interval"`
	ReconnectBackoff string `yaml:"reconnect_backoff"`

	// MaxAttempts is how many consecutive connection failures the
	// agent tolerates. Zero means forever.
	MaxAttempts int `yaml:"max_attempts"`

	Installer InstallerConfig `yaml:"installer"`
}

// InstallerConfig configures how staged packages are run.
type InstallerConfig struct {
	// Args are passed to the package.
	// Default: ["/S"]
	Args []string `yaml:"args"`

	// Timeout bounds one installation.
	// Default: 2m
	Timeout string `yaml:"timeout"`

	// SuccessCodes are the exit codes that count as success.
	// Default: [0, 2]
	SuccessCodes []int `yaml:"success_codes"`
}

// TransferConfig tunes payload transfer.
type TransferConfig struct {
	ChunkSize int `yaml:"chunk_size"`

	// Compression is none, lz4, or zstd.
	Compression string `yaml:"compression"`

	AckTimeout      string `yaml:"ack_timeout"`
	EnvelopeTimeout string `yaml:"envelope_timeout"`
	StallTimeout    string `yaml:"stall_timeout"`

	// MaxSize caps the payload size an agent accepts, in bytes.
	MaxSize int64 `yaml:"max_size"`

	// VerifyHash makes receivers reject payloads whose digest does not
	// match the envelope.
	VerifyHash bool `yaml:"verify_hash"`
}

// Default returns the standard configuration. Loaded files are decoded
// on top of it, so a file only names what it changes.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:                "0.0.0.0:8888",
			StoreDir:              "drivers",
			RegistrationTimeout:   "10s",
			PollInterval:          "10s",
			SystemInfoTimeout:     "5s",
			InstallTimeout:        "3m",
			MassDeployConcurrency: 1,
		},
		Agent: AgentConfig{
			Server:           "localhost:8888",
			StagingDir:       "drivers",
			ConnectTimeout:   "5s",
			RegisterTimeout:  "5s",
			PollInterval:     "2s",
			ReconnectBackoff: "5s",
			Installer: InstallerConfig{
				Args:         []string{"/S"},
				Timeout:      "2m",
				SuccessCodes: []int{0, 2},
			},
		},
		Transfer: TransferConfig{
			ChunkSize:       8192,
			Compression:     "none",
			AckTimeout:      "5s",
			EnvelopeTimeout: "10s",
			StallTimeout:    "30s",
			MaxSize:         1 << 30,
			VerifyHash:      true,
		},
	}
}

// Load loads configuration from the DRIVERFLEET_CONFIG environment
// variable. It fails if the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config flag", EnvVar)
	}
	return LoadFile(configPath)
}

// LoadOrDefault loads path when it is non-empty, otherwise the file
// named by DRIVERFLEET_CONFIG when that is set, otherwise returns
// [Default].
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	if os.Getenv(EnvVar) != "" {
		return Load()
	}
	cfg := Default()
	cfg.expandVariables()
	return cfg, nil
}

// LoadFile loads configuration from a specific file path and validates
// it.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// loadFile decodes one file on top of the current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return yaml.Unmarshal(data, c)
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Server.StoreDir = expandVars(c.Server.StoreDir, vars)
	c.Server.SocketPath = expandVars(c.Server.SocketPath, vars)
	c.Agent.StagingDir = expandVars(c.Agent.StagingDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.StoreDir == "" {
		errs = append(errs, errors.New("server.store_dir is required"))
	}
	if c.Server.MassDeployConcurrency < 1 {
		errs = append(errs, fmt.Errorf("server.mass_deploy_concurrency must be at least 1, got %d", c.Server.MassDeployConcurrency))
	}
	if c.Agent.Server == "" {
		errs = append(errs, errors.New("agent.server is required"))
	}
	if c.Agent.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("agent.max_attempts must not be negative, got %d", c.Agent.MaxAttempts))
	}
	if c.Transfer.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("transfer.chunk_size must be positive, got %d", c.Transfer.ChunkSize))
	}
	if c.Transfer.ChunkSize > transfer.MaxChunkSize {
		errs = append(errs, fmt.Errorf("transfer.chunk_size must be at most %d, got %d", transfer.MaxChunkSize, c.Transfer.ChunkSize))
	}
	if c.Transfer.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("transfer.max_size must not be negative, got %d", c.Transfer.MaxSize))
	}
	if _, err := transfer.ParseCompression(c.Transfer.Compression); err != nil {
		errs = append(errs, fmt.Errorf("transfer.compression: %w", err))
	}

	for _, field := range c.durationFields() {
		if _, err := parseDuration(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

type durationField struct {
	name  string
	value string
}

func (c *Config) durationFields() []durationField {
	return []durationField{
		{"server.registration_timeout", c.Server.RegistrationTimeout},
		{"server.poll_interval", c.Server.PollInterval},
		{"server.system_info_timeout", c.Server.SystemInfoTimeout},
		{"server.install_timeout", c.Server.InstallTimeout},
		{"agent.connect_timeout", c.Agent.ConnectTimeout},
		{"agent.register_timeout", c.Agent.RegisterTimeout},
		{"agent.poll_interval", c.Agent.PollInterval},
		{"agent.reconnect_backoff", c.Agent.ReconnectBackoff},
		{"agent.installer.timeout", c.Agent.Installer.Timeout},
		{"transfer.ack_timeout", c.Transfer.AckTimeout},
		{"transfer.envelope_timeout", c.Transfer.EnvelopeTimeout},
		{"transfer.stall_timeout", c.Transfer.StallTimeout},
	}
}

// parseDuration accepts a Go duration string. Empty means zero, which
// the consuming packages replace with their own defaults.
func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if duration < 0 {
		return 0, fmt.Errorf("negative duration %s", value)
	}
	return duration, nil
}

// Duration parses a duration field, returning zero for values that
// [Config.Validate] would reject.
func Duration(value string) time.Duration {
	duration, _ := parseDuration(value)
	return duration
}

// TransferOptions converts the transfer section.
func (c *Config) TransferOptions() (transfer.Options, error) {
	compression, err := transfer.ParseCompression(c.Transfer.Compression)
	if err != nil {
		return transfer.Options{}, err
	}
	return transfer.Options{
		ChunkSize:       c.Transfer.ChunkSize,
		Compression:     compression,
		AckTimeout:      Duration(c.Transfer.AckTimeout),
		EnvelopeTimeout: Duration(c.Transfer.EnvelopeTimeout),
		StallTimeout:    Duration(c.Transfer.StallTimeout),
		MaxSize:         c.Transfer.MaxSize,
		VerifyHash:      c.Transfer.VerifyHash,
	}, nil
}

// DeployOptions converts the server's deployment tunables.
func (c *Config) DeployOptions() (deploy.Options, error) {
	transferOptions, err := c.TransferOptions()
	if err != nil {
		return deploy.Options{}, err
	}
	return deploy.Options{
		InstallTimeout:    Duration(c.Server.InstallTimeout),
		SystemInfoTimeout: Duration(c.Server.SystemInfoTimeout),
		Concurrency:       c.Server.MassDeployConcurrency,
		Transfer:          transferOptions,
	}, nil
}

// RetryPolicy converts the agent's reconnect settings.
func (c *Config) RetryPolicy() agent.RetryPolicy {
	return agent.RetryPolicy{
		Backoff:     Duration(c.Agent.ReconnectBackoff),
		MaxAttempts: c.Agent.MaxAttempts,
	}
}

// Installer builds the agent's installer.
func (c *Config) Installer(logger *slog.Logger) *agent.ExecInstaller {
	return &agent.ExecInstaller{
		Args:         append([]string(nil), c.Agent.Installer.Args...),
		Timeout:      Duration(c.Agent.Installer.Timeout),
		SuccessCodes: append([]int(nil), c.Agent.Installer.SuccessCodes...),
		Logger:       logger,
	}
}

// ClientName returns the configured agent name, or "client_" followed
// by hostname when none is configured.
func (c *Config) ClientName(hostname string) string {
	if c.Agent.ClientName != "" {
		return c.Agent.ClientName
	}
	return "client_" + hostname
}
