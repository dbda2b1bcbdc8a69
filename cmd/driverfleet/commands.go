// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/driverfleet/lib/cli"
	"github.com/bureau-foundation/driverfleet/lib/deploy"
	"github.com/bureau-foundation/driverfleet/lib/protocol"
	"github.com/bureau-foundation/driverfleet/lib/server"
	"github.com/bureau-foundation/driverfleet/lib/service"
	"github.com/bureau-foundation/driverfleet/lib/session"
	"github.com/bureau-foundation/driverfleet/lib/store"
	"github.com/bureau-foundation/driverfleet/lib/version"
)

// defaultSocketPath is used when neither --socket nor
// DRIVERFLEET_SOCKET is given.
const defaultSocketPath = "/run/driverfleet/operator.sock"

// connection holds the flags every subcommand shares.
type connection struct {
	socketPath string
	outputJSON bool
}

func (c *connection) flags(name string) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		socketPath := os.Getenv("DRIVERFLEET_SOCKET")
		if socketPath == "" {
			socketPath = defaultSocketPath
		}
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		flagSet.StringVar(&c.socketPath, "socket", socketPath, "operator socket path (env DRIVERFLEET_SOCKET)")
		flagSet.BoolVar(&c.outputJSON, "json", false, "output as JSON")
		return flagSet
	}
}

func (c *connection) call(action string, fields map[string]any, result any) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return service.NewClient(c.socketPath).Call(ctx, action, fields, result)
}

func root(stdout io.Writer) *cli.Command {
	conn := &connection{}
	return &cli.Command{
		Name:        "driverfleet",
		Summary:     "Operate a driverfleet deployment server",
		Description: "Inspect connected agents and deploy packages through a running driverfleet-server.",
		Subcommands: []*cli.Command{
			statusCommand(conn, stdout),
			sessionsCommand(conn, stdout),
			packagesCommand(conn, stdout),
			deployCommand(conn, stdout),
			deployAllCommand(conn, stdout),
			uploadCommand(conn, stdout),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Fprintf(stdout, "driverfleet %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

func statusCommand(conn *connection, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "status",
		Summary: "Show server status",
		Flags:   conn.flags("status"),
		Run: func(args []string) error {
			var status server.Status
			if err := conn.call(server.ActionStatus, nil, &status); err != nil {
				return err
			}
			if conn.outputJSON {
				return cli.WriteJSON(stdout, status)
			}
			fmt.Fprintf(stdout, "listening:  %s\n", status.ListenAddress)
			fmt.Fprintf(stdout, "sessions:   %d\n", status.SessionCount)
			fmt.Fprintf(stdout, "packages:   %d (%s)\n", status.PackageCount, status.StoreDir)
			fmt.Fprintf(stdout, "version:    %s\n", status.Version)
			return nil
		},
	}
}

func sessionsCommand(conn *connection, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "sessions",
		Summary: "List connected agents",
		Flags:   conn.flags("sessions"),
		Run: func(args []string) error {
			var sessions []session.Info
			if err := conn.call(server.ActionListSessions, nil, &sessions); err != nil {
				return err
			}
			if conn.outputJSON {
				return cli.WriteJSON(stdout, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(stdout, "no agents connected")
				return nil
			}
			tw := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tOS\tARCH\tCONNECTED\tLAST ACTIVITY")
			for _, info := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					info.ID, info.ClientName, info.Address,
					info.SystemInfo.OS, info.SystemInfo.Architecture,
					info.ConnectedAt.Local().Format(time.DateTime),
					info.LastActivity.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func packagesCommand(conn *connection, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "packages",
		Summary: "List packages in the server's store",
		Flags:   conn.flags("packages"),
		Run: func(args []string) error {
			var packages []store.Package
			if err := conn.call(server.ActionListPackages, nil, &packages); err != nil {
				return err
			}
			if conn.outputJSON {
				return cli.WriteJSON(stdout, packages)
			}
			if len(packages) == 0 {
				fmt.Fprintln(stdout, "store is empty")
				return nil
			}
			tw := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
			for _, pkg := range packages {
				fmt.Fprintf(tw, "%s\t%d bytes\t%s\n", pkg.Name, pkg.Size, pkg.ModTime.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func deployCommand(conn *connection, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "deploy",
		Summary: "Install a package on one agent",
		Usage:   "driverfleet deploy <session-id> <package> [flags]",
		Examples: []cli.Example{
			{Description: "Install the network driver on client_5", Command: "driverfleet deploy client_5 intel_network.inf"},
		},
		Flags: conn.flags("deploy"),
		Run: func(args []string) error {
			if len(args) != 2 {
				return errors.New("usage: driverfleet deploy <session-id> <package>")
			}
			var result protocol.Result
			if err := conn.call(server.ActionDeploy, map[string]any{
				"session_id": args[0],
				"package":    args[1],
			}, &result); err != nil {
				return err
			}
			if conn.outputJSON {
				if err := cli.WriteJSON(stdout, result); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(stdout, "%s: %s\n", args[0], result)
			}
			if result.Status != protocol.StatusSuccess {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func deployAllCommand(conn *connection, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "deploy-all",
		Summary: "Install a package on every compatible agent",
		Usage:   "driverfleet deploy-all <package> [flags]",
		Flags:   conn.flags("deploy-all"),
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("usage: driverfleet deploy-all <package>")
			}
			var reply server.MassDeployReply
			if err := conn.call(server.ActionMassDeploy, map[string]any{"package": args[0]}, &reply); err != nil {
				return err
			}
			if conn.outputJSON {
				if err := cli.WriteJSON(stdout, reply); err != nil {
					return err
				}
			} else {
				printOutcomes(stdout, reply.Outcomes)
			}
			if reply.Summary[protocol.StatusFailed]+reply.Summary[protocol.StatusError] > 0 {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func printOutcomes(w io.Writer, outcomes []deploy.Outcome) {
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "no agents connected")
		return
	}
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	for _, outcome := range outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", outcome.SessionID, outcome.Result.Status, outcome.Result.Message)
	}
	tw.Flush()

	counts := deploy.Summarize(outcomes)
	fmt.Fprintf(w, "\n%d/%d succeeded, %d failed, %d errors, %d skipped\n",
		counts[protocol.StatusSuccess], len(outcomes),
		counts[protocol.StatusFailed], counts[protocol.StatusError], counts[protocol.StatusSkipped])
}

func uploadCommand(conn *connection, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:        "upload",
		Summary:     "Copy package files into the server's store",
		Description: "Copy package files into the server's store. Paths are resolved locally and read by the server, so the server must be able to reach them.",
		Usage:       "driverfleet upload <file>... [flags]",
		Flags:       conn.flags("upload"),
		Run: func(args []string) error {
			if len(args) == 0 {
				return errors.New("usage: driverfleet upload <file>...")
			}
			var uploaded []store.Package
			var errs []error
			for _, path := range args {
				absolute, err := filepath.Abs(path)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				var pkg store.Package
				if err := conn.call(server.ActionUploadPackage, map[string]any{"path": absolute}, &pkg); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				uploaded = append(uploaded, pkg)
				if !conn.outputJSON {
					fmt.Fprintf(stdout, "uploaded %s (%d bytes)\n", pkg.Name, pkg.Size)
				}
			}
			if conn.outputJSON {
				if err := cli.WriteJSON(stdout, uploaded); err != nil {
					return err
				}
			}
			return errors.Join(errs...)
		},
	}
}
