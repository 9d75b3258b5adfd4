// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package transfer

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/tomtom215/offsite/internal/config"
)

// closedPort returns a localhost port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func testTransferConfig(protocol string, port int) config.TransferConfig {
	return config.TransferConfig{
		Protocol:          protocol,
		Host:              "127.0.0.1",
		Port:              port,
		Timeout:           2 * time.Second,
		Username:          "offsite",
		Password:          "secret",
		RemotePath:        "/backups/daily",
		ConnectAttempts:   1,
		ConnectRetryDelay: time.Millisecond,
	}
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "backup_20260101-040000.zip")
	if err := os.WriteFile(p, []byte("PK artifact bytes"), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return p
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		protocol string
		want     string
		wantErr  error
	}{
		{config.ProtocolFTP, "ftp", nil},
		{config.ProtocolSFTP, "sftp", nil},
		{"scp", "", ErrUnsupportedProtocol},
	}

	for _, tt := range tests {
		c, err := New(testTransferConfig(tt.protocol, 21))
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New(%s) error = %v, want %v", tt.protocol, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("New(%s) failed: %v", tt.protocol, err)
		}
		if c.Protocol() != tt.want {
			t.Errorf("Protocol() = %s, want %s", c.Protocol(), tt.want)
		}
	}
}

func TestUploadRequiresConnect(t *testing.T) {
	t.Parallel()

	artifact := writeArtifact(t)
	for _, protocol := range []string{config.ProtocolFTP, config.ProtocolSFTP} {
		c, err := New(testTransferConfig(protocol, 21))
		if err != nil {
			t.Fatalf("New(%s): %v", protocol, err)
		}

		if err := c.Upload(context.Background(), artifact); !errors.Is(err, ErrNotConnected) {
			t.Errorf("%s: expected ErrNotConnected, got %v", protocol, err)
		}

		// Disconnect on a never-connected client is a no-op, twice.
		c.Disconnect()
		c.Disconnect()

		if err := c.Upload(context.Background(), artifact); !errors.Is(err, ErrNotConnected) {
			t.Errorf("%s: expected ErrNotConnected after Disconnect, got %v", protocol, err)
		}
	}
}

func TestConnectRefused(t *testing.T) {
	t.Parallel()

	port := closedPort(t)
	for _, protocol := range []string{config.ProtocolFTP, config.ProtocolSFTP} {
		c, err := New(testTransferConfig(protocol, port))
		if err != nil {
			t.Fatalf("New(%s): %v", protocol, err)
		}
		if err := c.Connect(context.Background()); !errors.Is(err, ErrConnection) {
			t.Errorf("%s: expected ErrConnection, got %v", protocol, err)
		}
		c.Disconnect()
	}
}

func TestDetectBannerCharset(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("220 Welcome to the backup FTP service, please log in.\r\n")) //nolint:errcheck // Test server
		conn.Close()
	}()

	charset := DetectBannerCharset(context.Background(), ln.Addr().String(), 2*time.Second)
	if charset == "" {
		t.Error("expected a charset for a readable banner")
	}

	failed := DetectBannerCharset(context.Background(), net.JoinHostPort("127.0.0.1", strconv.Itoa(closedPort(t))), time.Second)
	if failed != "UTF-8" {
		t.Errorf("probe failure should fall back to UTF-8, got %s", failed)
	}
}

func TestLookupEncoding(t *testing.T) {
	t.Parallel()

	if lookupEncoding("UTF-8") != nil {
		t.Error("UTF-8 should need no encoder")
	}
	if lookupEncoding("not-a-charset") != nil {
		t.Error("unknown charset should need no encoder")
	}
	if lookupEncoding("ISO-8859-1") == nil {
		t.Error("ISO-8859-1 should resolve to an encoder")
	}
}
