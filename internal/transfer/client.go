// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package transfer uploads artifacts to the remote store over FTP or SFTP.
//
// Both protocols implement Client. A Client is used by exactly one backup
// operation: Connect, one or more Upload calls, then Disconnect. Disconnect
// is idempotent and safe on a client that never connected; any Upload after
// it fails with ErrNotConnected.
//
// Uploads are not transactional. A failed upload can leave a partial file
// at the remote path, and nothing here attempts to remove it.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/offsite/internal/config"
)

var (
	// ErrConnection wraps dial, handshake and authentication failures.
	ErrConnection = errors.New("connection failed")

	// ErrUpload wraps failures while creating the remote directory or writing the file.
	ErrUpload = errors.New("upload failed")

	// ErrNotConnected is returned by Upload without a live session.
	ErrNotConnected = errors.New("not connected")

	// ErrUnsupportedProtocol is returned by New for unknown protocols.
	ErrUnsupportedProtocol = errors.New("unsupported transfer protocol")
)

// Client is one protocol session against the remote store.
type Client interface {
	// Connect opens and authenticates a session. Failures wrap ErrConnection.
	Connect(ctx context.Context) error

	// Upload writes the local file to <remote_path>/<base name>, creating the
	// remote directory when it is missing.
	Upload(ctx context.Context, localPath string) error

	// Disconnect closes the session. It never fails and never panics.
	Disconnect()

	// Protocol returns "ftp" or "sftp".
	Protocol() string
}

// New returns the Client for cfg.Protocol.
func New(cfg config.TransferConfig) (Client, error) {
	switch cfg.Protocol {
	case config.ProtocolFTP:
		return NewFTP(cfg), nil
	case config.ProtocolSFTP:
		return NewSFTP(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, cfg.Protocol)
	}
}
