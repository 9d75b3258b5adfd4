// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tomtom215/offsite/internal/client"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "offsite dev") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"conflict", &client.APIError{StatusCode: http.StatusConflict}, exitRejected},
		{"wrapped forbidden", fmt.Errorf("make: %w", &client.APIError{StatusCode: http.StatusForbidden}), exitRejected},
		{"bad gateway", &client.APIError{StatusCode: http.StatusBadGateway}, exitFailure},
		{"plain", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHistoryCommand(t *testing.T) {
	var gotAuth, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"success","data":[{"id":"b1","trigger":"scheduled","outcome":"succeeded","state_reached":"retaining","size":2048,"files":12,"uploaded":true,"started_at":"2026-01-02T04:00:00Z","finished_at":"2026-01-02T04:00:09Z","duration_ms":9000,"message":"ok"}],"metadata":{"timestamp":"2026-01-02T04:00:10Z","duration_ms":0}}`)
	}))
	defer srv.Close()

	out, err := runCLI(t, "history", "--addr", srv.URL, "--token", "secret-token-0123456789", "-n", "3")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if gotAuth != "Bearer secret-token-0123456789" || gotLimit != "3" {
		t.Errorf("unexpected request auth=%q limit=%q", gotAuth, gotLimit)
	}
	for _, want := range []string{"FINISHED", "scheduled", "succeeded", "2.0 kB", "9s"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestCommandRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"status":"error","error":{"code":"ALREADY_IN_PROGRESS","message":"backup already in progress"},"metadata":{"timestamp":"2026-01-02T04:00:10Z","duration_ms":0}}`)
	}))
	defer srv.Close()

	_, err := runCLI(t, "make", "--addr", srv.URL)
	if !client.IsCode(err, "ALREADY_IN_PROGRESS") {
		t.Fatalf("expected ALREADY_IN_PROGRESS, got %v", err)
	}
	if exitCode(err) != exitRejected {
		t.Errorf("expected exit code %d", exitRejected)
	}
}
