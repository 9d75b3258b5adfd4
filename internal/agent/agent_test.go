// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/offsite/internal/backup"
	"github.com/tomtom215/offsite/internal/config"
	"github.com/tomtom215/offsite/internal/schedule"
	"github.com/tomtom215/offsite/internal/transfer"
)

// MockTransfer accepts every connect and upload.
type MockTransfer struct{}

func (MockTransfer) Connect(context.Context) error        { return nil }
func (MockTransfer) Upload(context.Context, string) error { return nil }
func (MockTransfer) Disconnect()                          {}
func (MockTransfer) Protocol() string                     { return "mock" }

func mockClient(config.TransferConfig) (transfer.Client, error) {
	return MockTransfer{}, nil
}

// fixture is a temp layout with a server tree and a config file.
type fixture struct {
	dir       string
	serverDir string
	backupDir string
	cfgPath   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:       dir,
		serverDir: filepath.Join(dir, "server"),
		backupDir: filepath.Join(dir, "backups"),
		cfgPath:   filepath.Join(dir, "offsite.yaml"),
	}
	if err := os.MkdirAll(filepath.Join(f.serverDir, "world"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.serverDir, "world", "level.dat"), []byte("level"), 0o600); err != nil {
		t.Fatal(err)
	}
	return f
}

// write renders the config file. extra is appended verbatim.
func (f *fixture) write(t *testing.T, extra string) {
	t.Helper()
	body := fmt.Sprintf(`transfer:
  protocol: ftp
  host: ftp.example.com
  connect_attempts: 1
backup:
  server_dir: %q
  backup_dir: %q
  keep_local_backups: 3
%s`, f.serverDir, f.backupDir, extra)
	if err := os.WriteFile(f.cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) agent(t *testing.T) *Agent {
	t.Helper()
	cfg, err := config.Load(f.cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, err := New(f.cfgPath, cfg, Options{NewClient: mockClient, SkipStartupTest: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// run starts the agent and returns a stop function that waits for Run.
func run(t *testing.T, a *Agent) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(30 * time.Second):
			t.Error("agent did not stop")
		}
	}
	t.Cleanup(stop)
	return stop
}

func TestReloadAppliesNewConfig(t *testing.T) {
	f := newFixture(t)
	f.write(t, "")
	a := f.agent(t)
	run(t, a)

	if a.Status().ScheduleEnabled {
		t.Fatal("schedule should start disabled")
	}

	f.write(t, "schedule:\n  enabled: true\n  cron: \"@daily\"\nlogging:\n  level: debug\n")
	if err := a.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	st := a.Status()
	if !st.ScheduleEnabled || st.ScheduleCron != "@daily" || st.NextRun == nil {
		t.Errorf("expected daily schedule after reload, got %+v", st)
	}
	if a.Config().Logging.Level != "debug" {
		t.Errorf("expected reloaded logging level, got %s", a.Config().Logging.Level)
	}
}

func TestReloadFailureKeepsPrevious(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		wantErr error
	}{
		{"bad cron", "schedule:\n  enabled: true\n  cron: \"every tuesday\"\n", schedule.ErrInvalidSchedule},
		{"bad protocol", "", config.ErrInvalid},
		{"bad yaml", "backup: [unclosed\n", config.ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.write(t, "")
			a := f.agent(t)
			before := a.Config()

			if tt.name == "bad protocol" {
				// Override the whole transfer section.
				body := strings.Replace(mustRead(t, f.cfgPath), "protocol: ftp", "protocol: scp", 1)
				if err := os.WriteFile(f.cfgPath, []byte(body), 0o600); err != nil {
					t.Fatal(err)
				}
			} else {
				f.write(t, tt.extra)
			}

			err := a.Reload()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if a.Config() != before {
				t.Error("configuration must be unchanged after a failed reload")
			}
			if a.Status().ScheduleEnabled {
				t.Error("schedule must be unchanged after a failed reload")
			}
		})
	}
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test fixture
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRunTwice(t *testing.T) {
	f := newFixture(t)
	f.write(t, "")
	a := f.agent(t)
	stop := run(t, a)
	stop()

	if err := a.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.Transfer.Port = 21
	cfg.Schedule.Enabled = true
	cfg.Schedule.Cron = "61 * * * *"

	if _, err := New("", cfg, Options{}); !errors.Is(err, schedule.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestBackupStopsAndRestartsSupervisedServer(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	f := newFixture(t)
	script := `while read line; do if [ "$line" = stop ]; then exit 0; fi; done`
	f.write(t, fmt.Sprintf("server:\n  command: sh\n  args: [\"-c\", %q]\n  kill_timeout: 2s\nquiesce:\n  stop_timeout: 10s\n", script))
	a := f.agent(t)
	run(t, a)

	waitFor(t, "server start", func() bool { return a.Status().ServerRunning })

	done := make(chan backup.Status, 1)
	if err := a.MakeBackup(backup.TriggerManual, backup.ReporterFunc(func(s backup.Status) { done <- s })); err != nil {
		t.Fatalf("MakeBackup: %v", err)
	}

	var status backup.Status
	select {
	case status = <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("backup did not finish")
	}
	if status.Outcome != backup.OutcomeSucceeded {
		t.Fatalf("expected success, got %s: %v", status.Outcome, status.Err)
	}
	if status.Files != 1 {
		t.Errorf("expected 1 archived file, got %d", status.Files)
	}
	waitFor(t, "server restart", func() bool { return a.Status().ServerRunning })

	if got := a.History(5); len(got) != 1 || got[0].ID != status.ID {
		t.Errorf("unexpected history %+v", got)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackupWithoutSupervisedServer(t *testing.T) {
	f := newFixture(t)
	f.write(t, "")
	a := f.agent(t)
	run(t, a)

	if a.Status().ServerSupervised {
		t.Fatal("server should not be supervised without server.command")
	}

	done := make(chan backup.Status, 1)
	if err := a.MakeBackup(backup.TriggerManual, backup.ReporterFunc(func(s backup.Status) { done <- s })); err != nil {
		t.Fatalf("MakeBackup: %v", err)
	}

	select {
	case st := <-done:
		if st.Outcome != backup.OutcomeSucceeded {
			t.Fatalf("expected success, got %s: %v", st.Outcome, st.Err)
		}
		if st.Files != 1 {
			t.Errorf("expected 1 archived file, got %d", st.Files)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("backup did not finish")
	}
}
