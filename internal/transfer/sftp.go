// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package transfer

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tomtom215/offsite/internal/config"
	"github.com/tomtom215/offsite/internal/logging"
)

// SFTPClient uploads over SSH/SFTP.
type SFTPClient struct {
	cfg config.TransferConfig
	log zerolog.Logger

	mu   sync.Mutex
	ssh  *ssh.Client
	sftp *sftp.Client
}

// NewSFTP creates an unconnected SFTP client.
func NewSFTP(cfg config.TransferConfig) *SFTPClient {
	return &SFTPClient{
		cfg: cfg,
		log: logging.Component("transfer").With().Str("protocol", config.ProtocolSFTP).Logger(),
	}
}

// Protocol implements Client.
func (c *SFTPClient) Protocol() string { return config.ProtocolSFTP }

// Connect implements Client. A configured, readable private key is tried
// first; password authentication is the fallback when the key is missing,
// unparseable or rejected.
func (c *SFTPClient) Connect(ctx context.Context) error {
	c.Disconnect()

	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	var client *ssh.Client
	if signer := c.loadKey(); signer != nil {
		client, err = c.dial(ctx, hostKeys, ssh.PublicKeys(signer))
		if err != nil {
			c.log.Warn().Err(err).Msg("Key authentication failed")
		}
	}
	if client == nil {
		if c.cfg.Password == "" {
			if err == nil {
				err = errors.New("no usable private key and no password configured")
			}
			return fmt.Errorf("%w: %w", ErrConnection, err)
		}
		client, err = c.dial(ctx, hostKeys, ssh.Password(c.cfg.Password))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnection, err)
		}
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error
		return fmt.Errorf("%w: sftp subsystem: %w", ErrConnection, err)
	}

	c.mu.Lock()
	c.ssh = client
	c.sftp = sc
	c.mu.Unlock()

	c.log.Info().Str("endpoint", c.cfg.Endpoint()).Msg("SFTP connected")
	return nil
}

// dial opens the TCP connection with ctx and runs the SSH handshake under
// the configured timeout.
func (c *SFTPClient) dial(ctx context.Context, hostKeys ssh.HostKeyCallback, auth ssh.AuthMethod) (*ssh.Client, error) {
	addr := c.cfg.Endpoint()
	dialer := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	conn.SetDeadline(time.Now().Add(c.cfg.Timeout)) //nolint:errcheck // Handshake fails on its own if this does
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeys,
		Timeout:         c.cfg.Timeout,
	})
	if err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	conn.SetDeadline(time.Time{}) //nolint:errcheck // Clearing the handshake deadline

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (c *SFTPClient) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.cfg.KnownHostsPath == "" {
		c.log.Warn().Msg("No known_hosts_path configured, accepting any host key")
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // G106: explicit operator choice
	}
	cb, err := knownhosts.New(c.cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return cb, nil
}

// loadKey returns a signer for the configured key, or nil when there is
// none or it cannot be parsed.
func (c *SFTPClient) loadKey() ssh.Signer {
	if c.cfg.PrivateKeyPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.cfg.PrivateKeyPath)
	if err != nil {
		c.log.Warn().Err(err).Str("path", c.cfg.PrivateKeyPath).Msg("Private key not readable, using password")
		return nil
	}
	signer, err := ParsePrivateKey(data, c.cfg.Password)
	if err != nil {
		c.log.Warn().Err(err).Str("path", c.cfg.PrivateKeyPath).Msg("Private key not usable, using password")
		return nil
	}
	return signer
}

// ParsePrivateKey tries, in order: an unencrypted PEM or OpenSSH key, the
// same key decrypted with passphrase, and a raw PKCS#8 DER key.
func ParsePrivateKey(data []byte, passphrase string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}

	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && passphrase != "" {
		signer, perr := ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
		if perr == nil {
			return signer, nil
		}
		err = perr
	}

	if key, derr := x509.ParsePKCS8PrivateKey(data); derr == nil {
		return ssh.NewSignerFromKey(key)
	}
	return nil, fmt.Errorf("unsupported private key format: %w", err)
}

// Upload implements Client.
func (c *SFTPClient) Upload(ctx context.Context, localPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}

	//nolint:gosec // G304: localPath is an artifact produced by this process
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}
	defer src.Close() //nolint:errcheck // Read-only file

	dir := remoteDir(c.cfg.RemotePath)
	if err := c.sftp.MkdirAll(dir); err != nil {
		return fmt.Errorf("%w: remote directory %s: %w", ErrUpload, dir, err)
	}

	target := path.Join(dir, filepath.Base(localPath))
	dst, err := c.sftp.Create(target)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrUpload, target, err)
	}
	if _, err := dst.ReadFrom(throttle(ctx, src, c.cfg.MaxUploadRate)); err != nil {
		dst.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("%w: write %s: %w", ErrUpload, target, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrUpload, target, err)
	}

	c.log.Info().Str("remote", target).Msg("Uploaded")
	return nil
}

// Disconnect implements Client.
func (c *SFTPClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			c.log.Debug().Err(err).Msg("SFTP close failed")
		}
		c.sftp = nil
	}
	if c.ssh != nil {
		if err := c.ssh.Close(); err != nil {
			c.log.Debug().Err(err).Msg("SSH close failed")
		}
		c.ssh = nil
	}
}
