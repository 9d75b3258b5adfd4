// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package transfer

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/tomtom215/offsite/internal/config"
	"github.com/tomtom215/offsite/internal/logging"
)

// Banner probe fallbacks.
const (
	fallbackLowConfidence = "ISO-8859-1"
	fallbackProbeFailed   = "UTF-8"
	minConfidence         = 50
	bannerProbeBytes      = 1024
)

// FTPClient uploads over plain FTP.
type FTPClient struct {
	cfg config.TransferConfig
	log zerolog.Logger

	mu       sync.Mutex
	conn     *ftp.ServerConn
	charset  string
	encoding encoding.Encoding
}

// NewFTP creates an unconnected FTP client.
func NewFTP(cfg config.TransferConfig) *FTPClient {
	return &FTPClient{
		cfg: cfg,
		log: logging.Component("transfer").With().Str("protocol", config.ProtocolFTP).Logger(),
	}
}

// Protocol implements Client.
func (c *FTPClient) Protocol() string { return config.ProtocolFTP }

// Charset returns the encoding chosen by the last banner probe.
func (c *FTPClient) Charset() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.charset
}

// Connect implements Client.
func (c *FTPClient) Connect(ctx context.Context) error {
	c.Disconnect()

	addr := c.cfg.Endpoint()
	charset := DetectBannerCharset(ctx, addr, c.cfg.Timeout)
	enc := lookupEncoding(charset)

	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.cfg.Timeout),
	)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnection, addr, err)
	}
	if err := conn.Login(c.cfg.Username, c.cfg.Password); err != nil {
		conn.Quit() //nolint:errcheck // Best effort cleanup on error
		return fmt.Errorf("%w: login as %s: %w", ErrConnection, c.cfg.Username, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.charset = charset
	c.encoding = enc
	c.mu.Unlock()

	c.log.Info().Str("endpoint", addr).Str("charset", charset).Msg("FTP connected")
	return nil
}

// Upload implements Client.
func (c *FTPClient) Upload(ctx context.Context, localPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}

	//nolint:gosec // G304: localPath is an artifact produced by this process
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}
	defer f.Close() //nolint:errcheck // Read-only file

	dir := c.encode(remoteDir(c.cfg.RemotePath))
	if err := c.ensureDir(dir); err != nil {
		return fmt.Errorf("%w: remote directory %s: %w", ErrUpload, c.cfg.RemotePath, err)
	}

	name := c.encode(filepath.Base(localPath))
	if err := c.conn.Stor(name, throttle(ctx, f, c.cfg.MaxUploadRate)); err != nil {
		return fmt.Errorf("%w: store %s: %w", ErrUpload, name, err)
	}

	c.log.Info().Str("remote", path.Join(c.cfg.RemotePath, filepath.Base(localPath))).Msg("Uploaded")
	return nil
}

// ensureDir changes into dir, creating missing segments first.
func (c *FTPClient) ensureDir(dir string) error {
	if err := c.conn.ChangeDir(dir); err == nil {
		return nil
	}

	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if seg == "" {
			continue
		}
		current = path.Join(current, seg)
		// Already existing segments fail here; the final ChangeDir decides.
		c.conn.MakeDir(current) //nolint:errcheck // Segment may already exist
	}
	return c.conn.ChangeDir(dir)
}

func (c *FTPClient) encode(s string) string {
	if c.encoding == nil {
		return s
	}
	out, err := c.encoding.NewEncoder().String(s)
	if err != nil {
		c.log.Warn().Err(err).Str("value", s).Msg("Path not representable in server charset, sending as UTF-8")
		return s
	}
	return out
}

// Disconnect implements Client.
func (c *FTPClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}
	if err := c.conn.Quit(); err != nil {
		c.log.Debug().Err(err).Msg("FTP quit failed")
	}
	c.conn = nil
}

// DetectBannerCharset reads the server greeting on a throwaway connection
// and guesses its charset. It never fails: low-confidence guesses fall back
// to ISO-8859-1 and probe errors to UTF-8.
func DetectBannerCharset(ctx context.Context, addr string, timeout time.Duration) string {
	log := logging.Component("transfer")

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		log.Debug().Err(err).Msg("Banner probe dial failed")
		return fallbackProbeFailed
	}
	defer conn.Close() //nolint:errcheck // Probe connection

	conn.SetReadDeadline(time.Now().Add(timeout)) //nolint:errcheck // Read fails on its own if this does
	buf := make([]byte, bannerProbeBytes)
	n, err := conn.Read(buf)
	if n == 0 {
		log.Debug().Err(err).Msg("Banner probe read failed")
		return fallbackProbeFailed
	}

	return guessCharset(buf[:n])
}

func guessCharset(banner []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(banner)
	if err != nil || result == nil {
		return fallbackProbeFailed
	}
	if result.Confidence <= minConfidence {
		return fallbackLowConfidence
	}
	return result.Charset
}

// lookupEncoding maps a charset name to an encoder. Unknown names and UTF-8
// return nil, meaning strings are sent unchanged.
func lookupEncoding(charset string) encoding.Encoding {
	enc, err := htmlindex.Get(charset)
	if err != nil || enc == unicode.UTF8 {
		return nil
	}
	return enc
}

func remoteDir(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean(p)
}
