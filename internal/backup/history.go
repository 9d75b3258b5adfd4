// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

// HistoryFile is the history file name inside the backup directory.
const HistoryFile = "history.json"

// maxHistory bounds the number of records kept.
const maxHistory = 100

type historyFile struct {
	Records []Record `json:"records"`
}

// historyStore keeps finished backup records, oldest first, and mirrors
// them to a JSON file.
type historyStore struct {
	mu      sync.RWMutex
	path    string
	records []Record
}

// loadHistory reads path if it exists. A missing file is an empty history.
func loadHistory(path string) (*historyStore, error) {
	h := &historyStore{path: path}

	//nolint:gosec // G304: path is the configured backup directory
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h, nil
		}
		return h, fmt.Errorf("failed to read backup history: %w", err)
	}

	var f historyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return h, fmt.Errorf("failed to parse backup history: %w", err)
	}
	h.records = f.Records
	h.trimLocked()
	return h, nil
}

// setPath moves future writes to a new file, e.g. after backup_dir changes.
func (h *historyStore) setPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
}

// add appends r and persists the history.
func (h *historyStore) add(r Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, r)
	h.trimLocked()
	return h.saveLocked()
}

// list returns up to limit records, newest first. limit <= 0 returns all.
func (h *historyStore) list(limit int) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, h.records[i])
	}
	return out
}

func (h *historyStore) trimLocked() {
	if len(h.records) > maxHistory {
		h.records = append([]Record(nil), h.records[len(h.records)-maxHistory:]...)
	}
}

// saveLocked writes through a temp file so a crash never truncates history.
func (h *historyStore) saveLocked() error {
	data, err := json.MarshalIndent(historyFile{Records: h.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o750); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write backup history: %w", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		os.Remove(tmp) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("failed to replace backup history: %w", err)
	}
	return nil
}
