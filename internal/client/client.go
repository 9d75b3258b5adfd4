// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package client talks to a running daemon's control API. The CLI
// subcommands (test, make, inquire, abort, reload, status, history) are thin
// wrappers around it.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/tomtom215/offsite/internal/agent"
	"github.com/tomtom215/offsite/internal/api"
	"github.com/tomtom215/offsite/internal/audit"
	"github.com/tomtom215/offsite/internal/backup"
)

// ErrUnreachable is returned when the daemon cannot be contacted.
var ErrUnreachable = errors.New("daemon unreachable")

// APIError is a failed command as reported by the daemon.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type envelope[T any] struct {
	Status string     `json:"status"`
	Data   T          `json:"data"`
	Error  *api.Error `json:"error"`
}

// Client is a control API client.
type Client struct {
	http *resty.Client
}

// New creates a Client for the daemon at addr (host:port or URL). An empty
// token sends no Authorization header.
func New(addr, token string) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	c := resty.New().
		SetBaseURL(strings.TrimSuffix(addr, "/")+"/api/v1").
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

// SetTimeout overrides the per-request timeout. Zero disables it, which
// make --wait needs.
func (c *Client) SetTimeout(d time.Duration) *Client {
	c.http.SetTimeout(d)
	return c
}

func do[T any](ctx context.Context, c *Client, method, path string, query map[string]string) (T, error) {
	var out envelope[T]
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(&out).
		SetError(&out).
		Execute(method, path)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if resp.IsError() || out.Status != api.StatusSuccess {
		var zero T
		apiErr := &APIError{StatusCode: resp.StatusCode(), Code: api.ErrCodeInternal, Message: strings.TrimSpace(resp.String())}
		if out.Error != nil {
			apiErr.Code = out.Error.Code
			apiErr.Message = out.Error.Message
		}
		return zero, apiErr
	}
	return out.Data, nil
}

// Test asks the daemon to test its connection to the remote endpoint.
func (c *Client) Test(ctx context.Context) (string, error) {
	d, err := do[api.MessageData](ctx, c, http.MethodPost, "/test", nil)
	return d.Message, err
}

// Make starts a backup and returns the progress right after it started.
func (c *Client) Make(ctx context.Context) (backup.Progress, error) {
	d, err := do[api.ProgressData](ctx, c, http.MethodPost, "/backup", nil)
	return d.Progress, err
}

// MakeAndWait starts a backup and blocks until it finishes.
func (c *Client) MakeAndWait(ctx context.Context) (backup.Record, error) {
	d, err := do[api.RecordData](ctx, c, http.MethodPost, "/backup", map[string]string{"wait": "true"})
	return d.Record, err
}

// Progress returns the state of the running backup.
func (c *Client) Progress(ctx context.Context) (api.ProgressData, error) {
	return do[api.ProgressData](ctx, c, http.MethodGet, "/backup/progress", nil)
}

// Abort requests cancellation of the running backup.
func (c *Client) Abort(ctx context.Context) (api.AbortData, error) {
	return do[api.AbortData](ctx, c, http.MethodPost, "/backup/abort", nil)
}

// Reload makes the daemon re-read its configuration file.
func (c *Client) Reload(ctx context.Context) (string, error) {
	d, err := do[api.MessageData](ctx, c, http.MethodPost, "/reload", nil)
	return d.Message, err
}

// History returns up to limit records, newest first. limit <= 0 uses the
// daemon default.
func (c *Client) History(ctx context.Context, limit int) ([]backup.Record, error) {
	var query map[string]string
	if limit > 0 {
		query = map[string]string{"limit": strconv.Itoa(limit)}
	}
	return do[[]backup.Record](ctx, c, http.MethodGet, "/backup/history", query)
}

// Status returns the daemon summary.
func (c *Client) Status(ctx context.Context) (agent.Status, error) {
	return do[agent.Status](ctx, c, http.MethodGet, "/status", nil)
}

// Audit returns up to limit control API audit events, newest first,
// optionally restricted to one actor.
func (c *Client) Audit(ctx context.Context, limit int, actor string) ([]audit.Event, error) {
	query := map[string]string{}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	if actor != "" {
		query["actor"] = actor
	}
	return do[[]audit.Event](ctx, c, http.MethodGet, "/audit", query)
}
