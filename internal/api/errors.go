// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/offsite/internal/backup"
	"github.com/tomtom215/offsite/internal/config"
	"github.com/tomtom215/offsite/internal/schedule"
	"github.com/tomtom215/offsite/internal/transfer"
)

// classify maps a backend error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, backup.ErrAlreadyInProgress):
		return http.StatusConflict, ErrCodeAlreadyInProgress
	case errors.Is(err, config.ErrInvalid):
		return http.StatusUnprocessableEntity, ErrCodeConfigInvalid
	case errors.Is(err, schedule.ErrInvalidSchedule):
		return http.StatusUnprocessableEntity, ErrCodeScheduleInvalid
	case errors.Is(err, transfer.ErrConnection):
		return http.StatusBadGateway, ErrCodeConnection
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, backup.ErrClosed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
