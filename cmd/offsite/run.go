// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/offsite/internal/agent"
	"github.com/tomtom215/offsite/internal/api"
	"github.com/tomtom215/offsite/internal/audit"
	"github.com/tomtom215/offsite/internal/authz"
	"github.com/tomtom215/offsite/internal/config"
	"github.com/tomtom215/offsite/internal/logging"
	"github.com/tomtom215/offsite/internal/supervisor"
	"github.com/tomtom215/offsite/internal/supervisor/services"
)

// auditRetention is how many control API audit events are kept in memory.
const auditRetention = 1000

func newRunCmd(opts *rootOptions) *cobra.Command {
	var watch, skipTest bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the backup daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, opts.configPath, agent.Options{
				WatchConfig:     watch,
				SkipStartupTest: skipTest,
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "reload automatically when the config file changes")
	cmd.Flags().BoolVar(&skipTest, "skip-connection-test", false, "do not test the remote connection at startup")
	return cmd
}

func runDaemon(ctx context.Context, path string, opts agent.Options) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	lc := logging.DefaultConfig()
	lc.Level = cfg.Logging.Level
	lc.Format = cfg.Logging.Format
	lc.Caller = cfg.Logging.Caller
	logging.Init(lc)

	logging.Info().
		Str("version", version).
		Str("config", path).
		Str("protocol", cfg.Transfer.Protocol).
		Str("endpoint", cfg.Transfer.Endpoint()).
		Str("strategy", cfg.Quiesce.Strategy).
		Msg("Starting offsite")

	a, err := agent.New(path, cfg, opts)
	if err != nil {
		return err
	}

	enforcer, err := authz.NewEnforcer(cfg.Control.PolicyPath)
	if err != nil {
		return err
	}
	if len(cfg.Control.Tokens) == 0 {
		logging.Warn().Str("listen", cfg.Control.Listen).Msg("No control tokens configured; the control API only accepts loopback callers")
	}

	auditLog := audit.NewLogger(audit.NewMemoryStore(auditRetention), nil)
	defer auditLog.Close() //nolint:errcheck // Flushes queued events

	router := api.NewServer(a, enforcer, api.Options{
		RateLimit:      cfg.Control.RateLimit,
		Audit:          auditLog,
		AllowedOrigins: cfg.Control.AllowedOrigins,
	}).Handler()
	srv := &http.Server{
		Addr:              cfg.Control.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		// No WriteTimeout: make?wait=true holds the response for a whole backup.
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.KillTimeout + 30*time.Second,
	})
	if err != nil {
		return err
	}
	tree.AddCoreService(services.NewAgentService(a))
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))

	logging.Info().Str("listen", cfg.Control.Listen).Msg("Control API listening")

	err = tree.Serve(ctx)

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}

	if err == nil || errors.Is(err, context.Canceled) {
		logging.Info().Msg("Offsite stopped")
		return nil
	}
	return err
}
