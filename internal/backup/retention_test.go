// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// writeArtifacts creates n artifacts with increasing mtimes and returns
// their names oldest first.
func writeArtifacts(t *testing.T, dir string, n int) []string {
	t.Helper()
	base := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		// Names sort opposite to age so ordering must come from mtime.
		name := fmt.Sprintf("backup_2026030%d-040000.zip", 9-i)
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("zip"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		mtime := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(p, mtime, mtime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
		names = append(names, name)
	}
	return names
}

func remaining(t *testing.T, dir string) []string {
	t.Helper()
	artifacts, err := listArtifacts(dir)
	if err != nil {
		t.Fatalf("listArtifacts: %v", err)
	}
	names := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		names = append(names, a.name)
	}
	return names
}

func TestRetainKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	names := writeArtifacts(t, dir, 5)
	if err := os.WriteFile(filepath.Join(dir, HistoryFile), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	removed, err := Retain(dir, 2, "")
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}

	if !reflect.DeepEqual(removed, names[:3]) {
		t.Errorf("expected oldest three removed %v, got %v", names[:3], removed)
	}
	if got := remaining(t, dir); !reflect.DeepEqual(got, names[3:]) {
		t.Errorf("expected newest two kept %v, got %v", names[3:], got)
	}
	if _, err := os.Stat(filepath.Join(dir, HistoryFile)); err != nil {
		t.Error("retention must only touch artifacts")
	}
}

func TestRetainEdgeCases(t *testing.T) {
	tests := []struct {
		name        string
		count       int
		keep        int
		protectIdx  int
		wantRemoved int
	}{
		{"under limit", 2, 3, -1, 0},
		{"exact limit", 3, 3, -1, 0},
		{"keep zero removes all", 3, 0, -1, 3},
		{"protected oldest survives", 4, 1, 0, 3},
		{"negative keep treated as zero", 2, -1, -1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			names := writeArtifacts(t, dir, tt.count)
			protect := ""
			if tt.protectIdx >= 0 {
				protect = filepath.Join(dir, names[tt.protectIdx])
			}

			removed, err := Retain(dir, tt.keep, protect)
			if err != nil {
				t.Fatalf("Retain: %v", err)
			}
			if len(removed) != tt.wantRemoved {
				t.Errorf("expected %d removed, got %v", tt.wantRemoved, removed)
			}
			if protect != "" {
				if _, err := os.Stat(protect); err != nil {
					t.Errorf("protected artifact was removed")
				}
			}
		})
	}
}

func TestRetainMissingDir(t *testing.T) {
	removed, err := Retain(filepath.Join(t.TempDir(), "missing"), 1, "")
	if err != nil || len(removed) != 0 {
		t.Errorf("expected no-op for missing dir, got %v, %v", removed, err)
	}
}
