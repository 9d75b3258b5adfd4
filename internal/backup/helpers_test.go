// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/offsite/internal/config"
	"github.com/tomtom215/offsite/internal/tasks"
	"github.com/tomtom215/offsite/internal/transfer"
)

// MockController simulates process.Controller. When gate is non-nil the
// server only reports stopped once gate is closed.
type MockController struct {
	mu       sync.Mutex
	gate     chan struct{}
	stops    int
	restarts int
}

func (m *MockController) SafeShutdown(ctx context.Context, continuation func()) {
	m.mu.Lock()
	m.stops++
	gate := m.gate
	m.mu.Unlock()

	go func() {
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return
			}
		}
		continuation()
	}()
}

func (m *MockController) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
	return nil
}

func (m *MockController) counts() (stops, restarts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops, m.restarts
}

// MockConsole records commands and replies to some of them on the feed.
type MockConsole struct {
	mu       sync.Mutex
	commands []string
	subs     []chan string
	respond  map[string]string
}

func (c *MockConsole) Subscribe(context.Context) (<-chan string, error) {
	ch := make(chan string, 16)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch, nil
}

func (c *MockConsole) Execute(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, line)
	if out, ok := c.respond[line]; ok {
		for _, ch := range c.subs {
			select {
			case ch <- "[Server thread/INFO]: " + out:
			default:
			}
		}
	}
	return nil
}

func (c *MockConsole) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

// MockTransfer is a transfer.Client that records uploads.
type MockTransfer struct {
	mu         sync.Mutex
	connectErr error
	uploadErr  error
	uploaded   []string
}

func (m *MockTransfer) Connect(context.Context) error { return m.connectErr }

func (m *MockTransfer) Upload(_ context.Context, localPath string) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaded = append(m.uploaded, localPath)
	return nil
}

func (m *MockTransfer) Disconnect()      {}
func (m *MockTransfer) Protocol() string { return "mock" }

func (m *MockTransfer) uploads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.uploaded...)
}

// testConfig returns a valid configuration over a fresh server tree.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	root := t.TempDir()
	serverDir := filepath.Join(root, "server")
	files := map[string]string{
		"server.properties":      "motd=hello",
		"world/level.dat":        "level",
		"world/region/r.0.0.mca": "region",
		"logs/latest.log":        "log line",
	}
	for rel, content := range files {
		p := filepath.Join(serverDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	cfg := config.Default()
	cfg.Transfer.Port = 21
	cfg.Transfer.ConnectAttempts = 1
	cfg.Transfer.ConnectRetryDelay = time.Millisecond
	cfg.Transfer.RemotePath = "/backups"
	cfg.Backup.ServerDir = serverDir
	cfg.Backup.BackupDir = filepath.Join(root, "backups")
	cfg.Quiesce.StopTimeout = 2 * time.Second
	cfg.Quiesce.SaveTimeout = 2 * time.Second
	return cfg
}

type testEnv struct {
	mgr     *Manager
	ctrl    *MockController
	console *MockConsole
	client  *MockTransfer
	runner  *tasks.Runner
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	env := &testEnv{
		ctrl:    &MockController{},
		console: &MockConsole{respond: map[string]string{"save-all": "Saved the game"}},
		client:  &MockTransfer{},
		runner:  tasks.NewRunner(),
	}
	mgr, err := NewManager(cfg, Deps{
		Tasks:      env.runner,
		Controller: env.ctrl,
		Console:    env.console,
		NewClient: func(config.TransferConfig) (transfer.Client, error) {
			return env.client, nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	env.mgr = mgr
	t.Cleanup(func() {
		mgr.Close()
		env.runner.Shutdown(5 * time.Second)
	})
	return env
}

// start begins a backup and returns a channel that receives its status.
func (e *testEnv) start(t *testing.T) <-chan Status {
	t.Helper()
	ch := make(chan Status, 1)
	if err := e.mgr.MakeBackup(TriggerManual, ReporterFunc(func(s Status) { ch <- s })); err != nil {
		t.Fatalf("MakeBackup: %v", err)
	}
	return ch
}

func waitStatus(t *testing.T, ch <-chan Status) Status {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for backup status")
		return Status{}
	}
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.Inquire().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("backup never reached state %s", want)
}

func artifactsIn(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ArtifactPattern))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

var errRefused = errors.New("connection refused")
