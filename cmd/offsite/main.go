// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package main is the offsite command.
//
// "offsite run" starts the daemon: it supervises the server process, runs
// scheduled backups and serves the control API. Every other subcommand is a
// client of that API:
//
//	offsite run --config offsite.yaml
//	offsite make --wait
//	offsite inquire
//	offsite abort
//	offsite reload
//	offsite history --limit 5
//
// Client commands find the daemon through --addr, or control.listen from
// --config when --addr is not given. The bearer token comes from --token or
// OFFSITE_TOKEN.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomtom215/offsite/internal/client"
)

// Set by the linker.
var (
	version = "dev"
	commit  = "none"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	// exitRejected means the daemon refused the command, for example
	// because a backup is already running.
	exitRejected = 2
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
		return exitRejected
	}
	if err != nil {
		return exitFailure
	}
	return exitOK
}

type rootOptions struct {
	configPath string
	addr       string
	token      string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "offsite",
		Short:         "Live server snapshots shipped to a remote FTP or SFTP host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", os.Getenv("OFFSITE_CONFIG"), "config file (YAML)")
	pf.StringVar(&opts.addr, "addr", "", "daemon control address (default: control.listen from config)")
	pf.StringVar(&opts.token, "token", os.Getenv("OFFSITE_TOKEN"), "control API bearer token")
	pf.BoolVar(&opts.jsonOut, "json", false, "print raw JSON")

	root.AddCommand(
		newRunCmd(opts),
		newTestCmd(opts),
		newMakeCmd(opts),
		newInquireCmd(opts),
		newAbortCmd(opts),
		newReloadCmd(opts),
		newStatusCmd(opts),
		newHistoryCmd(opts),
		newAuditCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "offsite %s (%s)\n", version, commit)
		},
	}
}
