// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package transfer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// startSFTPServer runs an in-memory SFTP server that accepts password
// "secret" and, when authorized is set, that public key.
func startSFTPServer(t *testing.T, authorized ssh.PublicKey) int {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("bad password")
		},
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if authorized != nil && string(key.Marshal()) == string(authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	handler := sftp.InMemHandler()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSFTP(conn, cfg, handler)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func serveSFTP(conn net.Conn, cfg *ssh.ServerConfig, handler sftp.Handlers) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type") //nolint:errcheck // Test server
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}
		go func(in <-chan *ssh.Request) {
			for req := range in {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 &&
					string(req.Payload[4:4+binary.BigEndian.Uint32(req.Payload[:4])]) == "sftp"
				req.Reply(ok, nil) //nolint:errcheck // Test server
			}
		}(requests)

		server := sftp.NewRequestServer(channel, handler)
		go func() {
			server.Serve()  //nolint:errcheck // Ends when the client disconnects
			server.Close() //nolint:errcheck // Test server
		}()
	}
}

func readRemote(t *testing.T, c *SFTPClient, p string) string {
	t.Helper()
	f, err := c.sftp.Open(p)
	if err != nil {
		t.Fatalf("open remote %s: %v", p, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read remote %s: %v", p, err)
	}
	return string(data)
}

func TestSFTPPasswordUpload(t *testing.T) {
	t.Parallel()

	port := startSFTPServer(t, nil)
	c := NewSFTP(testTransferConfig("sftp", port))
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	artifact := writeArtifact(t)
	if err := c.Upload(context.Background(), artifact); err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}

	got := readRemote(t, c, "/backups/daily/"+filepath.Base(artifact))
	if got != "PK artifact bytes" {
		t.Errorf("remote content = %q", got)
	}

	c.Disconnect()
	if err := c.Upload(context.Background(), artifact); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after Disconnect, got %v", err)
	}
}

func TestSFTPKeyAuthWithPasswordFallback(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	// Key accepted.
	cfg := testTransferConfig("sftp", startSFTPServer(t, sshPub))
	cfg.PrivateKeyPath = keyPath
	cfg.Password = ""
	keyOnly := NewSFTP(cfg)
	if err := keyOnly.Connect(context.Background()); err != nil {
		t.Fatalf("key auth failed: %v", err)
	}
	keyOnly.Disconnect()

	// Key rejected, password accepted.
	cfg = testTransferConfig("sftp", startSFTPServer(t, nil))
	cfg.PrivateKeyPath = keyPath
	fallback := NewSFTP(cfg)
	if err := fallback.Connect(context.Background()); err != nil {
		t.Fatalf("password fallback failed: %v", err)
	}
	fallback.Disconnect()

	// Key rejected, no password.
	cfg.Password = ""
	if err := NewSFTP(cfg).Connect(context.Background()); !errors.Is(err, ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
}

func TestSFTPWrongPassword(t *testing.T) {
	t.Parallel()

	cfg := testTransferConfig("sftp", startSFTPServer(t, nil))
	cfg.Password = "wrong"
	if err := NewSFTP(cfg).Connect(context.Background()); !errors.Is(err, ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
}

func TestParsePrivateKeyFormats(t *testing.T) {
	t.Parallel()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	plain, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	encrypted, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("hunter2"))
	if err != nil {
		t.Fatalf("marshal encrypted: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}

	tests := []struct {
		name       string
		data       []byte
		passphrase string
		wantErr    bool
	}{
		{"openssh pem", pem.EncodeToMemory(plain), "", false},
		{"encrypted with passphrase", pem.EncodeToMemory(encrypted), "hunter2", false},
		{"encrypted without passphrase", pem.EncodeToMemory(encrypted), "", true},
		{"raw pkcs8 der", der, "", false},
		{"garbage", []byte("not a key"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := ParsePrivateKey(tt.data, tt.passphrase)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePrivateKey() failed: %v", err)
			}
			if signer == nil {
				t.Fatal("expected signer")
			}
			if fmt.Sprint(signer.PublicKey().Type()) != ssh.KeyAlgoED25519 {
				t.Errorf("unexpected key type %s", signer.PublicKey().Type())
			}
		})
	}
}
