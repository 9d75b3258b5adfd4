// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/offsite/internal/backup"
	"github.com/tomtom215/offsite/internal/client"
	"github.com/tomtom215/offsite/internal/config"
)

const defaultControlAddr = "127.0.0.1:8787"

// newClient resolves the daemon address: --addr, then control.listen from
// --config, then the built-in default.
func (o *rootOptions) newClient() (*client.Client, error) {
	addr := o.addr
	if addr == "" && o.configPath != "" {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		addr = cfg.Control.Listen
	}
	if addr == "" {
		addr = defaultControlAddr
	}
	return client.New(addr, o.token), nil
}

func (o *rootOptions) print(w io.Writer, v interface{}, human func(io.Writer)) error {
	if !o.jsonOut {
		human(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the connection to the remote endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			msg, err := c.Test(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]string{"message": msg}, func(w io.Writer) {
				fmt.Fprintln(w, msg)
			})
		},
	}
}

func newMakeCmd(opts *rootOptions) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "make",
		Short: "Start a backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			if !wait {
				p, err := c.Make(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), p, func(w io.Writer) {
					fmt.Fprintf(w, "Backup %s started\n", p.ID)
				})
			}

			rec, err := c.SetTimeout(0).MakeAndWait(cmd.Context())
			if err != nil {
				return err
			}
			if err := opts.print(cmd.OutOrStdout(), rec, func(w io.Writer) {
				fmt.Fprintln(w, rec.Message)
			}); err != nil {
				return err
			}
			if rec.Outcome != backup.OutcomeSucceeded {
				return fmt.Errorf("backup %s %s", rec.ID, rec.Outcome)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "block until the backup finishes")
	return cmd
}

func newInquireCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "inquire",
		Aliases: []string{"progress"},
		Short:   "Show the progress of the running backup",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			d, err := c.Progress(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), d.Progress, func(w io.Writer) {
				fmt.Fprintln(w, d.Message)
			})
		},
	}
}

func newAbortCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort the running backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			d, err := c.Abort(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), d, func(w io.Writer) {
				fmt.Fprintln(w, d.Message)
			})
		},
	}
}

func newReloadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Make the daemon re-read its configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			msg, err := c.Reload(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]string{"message": msg}, func(w io.Writer) {
				fmt.Fprintln(w, msg)
			})
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the daemon state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}

			var (
				st     statusView
				recent []backup.Record
			)
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				s, err := c.Status(ctx)
				st.Status = s
				return err
			})
			g.Go(func() error {
				r, err := c.History(ctx, 5)
				recent = r
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}
			st.Recent = recent

			return opts.print(cmd.OutOrStdout(), st, func(w io.Writer) {
				writeStatus(w, st)
			})
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			records, err := c.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), records, func(w io.Writer) {
				writeHistory(w, records)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")
	return cmd
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var (
		limit int
		actor string
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List control API audit events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			events, err := c.Audit(cmd.Context(), limit, actor)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), events, func(w io.Writer) {
				writeAudit(w, events)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&actor, "actor", "", "only events by this token name")
	return cmd
}
