// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tomtom215/offsite/internal/agent"
	"github.com/tomtom215/offsite/internal/audit"
	"github.com/tomtom215/offsite/internal/backup"
)

// statusView is what "offsite status" prints.
type statusView struct {
	agent.Status
	Recent []backup.Record `json:"recent"`
}

func writeStatus(w io.Writer, st statusView) {
	fmt.Fprintf(w, "Remote:    %s://%s\n", st.Protocol, st.Endpoint)
	fmt.Fprintf(w, "Strategy:  %s\n", st.Strategy)

	switch {
	case !st.ServerSupervised:
		fmt.Fprintln(w, "Server:    not supervised")
	case st.ServerRunning:
		fmt.Fprintln(w, "Server:    running")
	default:
		fmt.Fprintln(w, "Server:    stopped")
	}

	if st.ScheduleEnabled {
		next := "unknown"
		if st.NextRun != nil {
			next = fmt.Sprintf("%s (%s)", st.NextRun.Format(time.RFC3339), humanize.Time(*st.NextRun))
		}
		fmt.Fprintf(w, "Schedule:  %s, next %s\n", st.ScheduleCron, next)
	} else {
		fmt.Fprintln(w, "Schedule:  disabled")
	}

	fmt.Fprintf(w, "Progress:  %s\n", st.Progress.String())

	if st.Last != nil {
		fmt.Fprintf(w, "Last:      %s %s\n", st.Last.Outcome, humanize.Time(st.Last.FinishedAt))
	}

	if len(st.Recent) > 0 {
		fmt.Fprintln(w)
		writeHistory(w, st.Recent)
	}
}

func writeHistory(w io.Writer, records []backup.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No backups recorded")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tTRIGGER\tOUTCOME\tFILES\tSIZE\tDURATION\tUPLOADED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%t\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			r.Trigger,
			r.Outcome,
			r.Files,
			humanize.Bytes(uint64(max(r.Size, 0))),
			(time.Duration(r.DurationMS) * time.Millisecond).Round(time.Second),
			r.Uploaded,
		)
	}
	tw.Flush() //nolint:errcheck // Writes to the command output
}

func writeAudit(w io.Writer, events []audit.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No audit events")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tOUTCOME\tACTOR\tCOMMAND\tSTATUS\tSOURCE")
	for _, e := range events {
		actor := e.Actor.Name
		if actor == "" {
			actor = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Type,
			e.Outcome,
			actor,
			e.Action,
			e.Status,
			e.Source.IPAddress,
		)
	}
	tw.Flush() //nolint:errcheck // Writes to the command output
}
