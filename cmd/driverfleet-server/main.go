// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// driverfleet-server accepts agent connections, keeps the session
// registry, and deploys packages from its store on operator request.
// The operator drives it through the driverfleet CLI over the operator
// socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/driverfleet/lib/cli"
	"github.com/bureau-foundation/driverfleet/lib/clock"
	"github.com/bureau-foundation/driverfleet/lib/config"
	"github.com/bureau-foundation/driverfleet/lib/process"
	"github.com/bureau-foundation/driverfleet/lib/server"
	"github.com/bureau-foundation/driverfleet/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configPath     string
		listen         string
		storeDir       string
		socketPath     string
		metricsAddress string
		logLevel       string
		showVersion    bool
	)

	flags := pflag.NewFlagSet("driverfleet-server", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "config file (default: $DRIVERFLEET_CONFIG, else built-in defaults)")
	flags.StringVar(&listen, "listen", "", "agent listen address (overrides server.listen)")
	flags.StringVar(&storeDir, "store", "", "package directory (overrides server.store_dir)")
	flags.StringVar(&socketPath, "socket", "", "operator socket path (overrides server.socket_path)")
	flags.StringVar(&metricsAddress, "metrics-address", "", "serve /metrics on this address (overrides server.metrics_address)")
	flags.StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("driverfleet-server %s\n", version.Full())
		return nil
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if flags.Changed("listen") {
		cfg.Server.Listen = listen
	}
	if flags.Changed("store") {
		cfg.Server.StoreDir = storeDir
	}
	if flags.Changed("socket") {
		cfg.Server.SocketPath = socketPath
	}
	if flags.Changed("metrics-address") {
		cfg.Server.MetricsAddress = metricsAddress
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := cli.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := cli.NewLogger(level)

	deployOptions, err := cfg.DeployOptions()
	if err != nil {
		return err
	}

	if cfg.Server.SocketPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Server.SocketPath), 0755); err != nil {
			return fmt.Errorf("creating socket directory: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := server.New(server.Config{
		ListenAddress:       cfg.Server.Listen,
		StoreDir:            cfg.Server.StoreDir,
		SocketPath:          cfg.Server.SocketPath,
		RegistrationTimeout: config.Duration(cfg.Server.RegistrationTimeout),
		PollInterval:        config.Duration(cfg.Server.PollInterval),
		Deploy:              deployOptions,
		Clock:               clock.Real(),
		Logger:              logger,
		MetricsRegistry:     registry,
	})
	if err != nil {
		return err
	}

	if digest, err := version.SelfDigest(); err == nil {
		logger.Info("driverfleet-server starting", "version", version.Info(), "binary_digest", digest.String())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", srv.MetricsHandler())
		metricsServer := &http.Server{
			Addr:              cfg.Server.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "address", cfg.Server.MetricsAddress)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
	}

	return srv.Run(ctx)
}
