// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// driverfleet-agent runs on a managed host. It connects to the
// deployment server, registers with the host's system descriptor, and
// installs the packages the server pushes, reconnecting whenever the
// connection drops.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/driverfleet/lib/agent"
	"github.com/bureau-foundation/driverfleet/lib/cli"
	"github.com/bureau-foundation/driverfleet/lib/clock"
	"github.com/bureau-foundation/driverfleet/lib/config"
	"github.com/bureau-foundation/driverfleet/lib/process"
	"github.com/bureau-foundation/driverfleet/lib/sysinfo"
	"github.com/bureau-foundation/driverfleet/lib/version"
	"github.com/bureau-foundation/driverfleet/transport"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configPath  string
		serverAddr  string
		clientName  string
		stagingDir  string
		maxAttempts int
		logLevel    string
		showVersion bool
	)

	flags := pflag.NewFlagSet("driverfleet-agent", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "config file (default: $DRIVERFLEET_CONFIG, else built-in defaults)")
	flags.StringVar(&serverAddr, "server", "", "server address host:port (overrides agent.server)")
	flags.StringVar(&clientName, "name", "", "name reported at registration (overrides agent.client_name)")
	flags.StringVar(&stagingDir, "staging-dir", "", "directory for packages being installed (overrides agent.staging_dir)")
	flags.IntVar(&maxAttempts, "max-attempts", 0, "give up after this many consecutive failures, 0 = never (overrides agent.max_attempts)")
	flags.StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("driverfleet-agent %s\n", version.Full())
		return nil
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if flags.Changed("server") {
		cfg.Agent.Server = serverAddr
	}
	if flags.Changed("name") {
		cfg.Agent.ClientName = clientName
	}
	if flags.Changed("staging-dir") {
		cfg.Agent.StagingDir = stagingDir
	}
	if flags.Changed("max-attempts") {
		cfg.Agent.MaxAttempts = maxAttempts
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := cli.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := cli.NewLogger(level)

	transferOptions, err := cfg.TransferOptions()
	if err != nil {
		return err
	}

	info := sysinfo.Probe()
	name := cfg.ClientName(info.Hostname)
	connectTimeout := config.Duration(cfg.Agent.ConnectTimeout)

	a := agent.New(agent.Config{
		ServerAddress:   cfg.Agent.Server,
		ClientName:      name,
		SystemInfo:      info,
		Dialer:          &transport.TCPDialer{Timeout: connectTimeout},
		Clock:           clock.Real(),
		Logger:          logger,
		Installer:       cfg.Installer(logger.With("client_name", name)),
		StagingDir:      cfg.Agent.StagingDir,
		ConnectTimeout:  connectTimeout,
		RegisterTimeout: config.Duration(cfg.Agent.RegisterTimeout),
		PollInterval:    config.Duration(cfg.Agent.PollInterval),
		Retry:           cfg.RetryPolicy(),
		Transfer:        transferOptions,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("agent stopped")
		return nil
	}
	return err
}
