// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tomtom215/offsite/internal/logging"
)

// ArtifactPattern matches artifact file names in the backup directory.
const ArtifactPattern = "backup_*.zip"

// localArtifact is an artifact found on disk.
type localArtifact struct {
	name    string
	path    string
	created time.Time
}

// listArtifacts returns the artifacts in dir sorted oldest first. Artifacts
// are never modified after they are written, so mtime is their creation time.
func listArtifacts(dir string) ([]localArtifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	artifacts := make([]localArtifact, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ok, _ := doublestar.Match(ArtifactPattern, e.Name()); !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed concurrently
		}
		artifacts = append(artifacts, localArtifact{
			name:    e.Name(),
			path:    filepath.Join(dir, e.Name()),
			created: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].created.Equal(artifacts[j].created) {
			return artifacts[i].name < artifacts[j].name
		}
		return artifacts[i].created.Before(artifacts[j].created)
	})
	return artifacts, nil
}

// Retain deletes the oldest artifacts in dir until at most keep remain.
// The artifact at protect, if any, is never deleted. It returns the names
// of the deleted files. Deletion failures are logged and skipped.
func Retain(dir string, keep int, protect string) ([]string, error) {
	artifacts, err := listArtifacts(dir)
	if err != nil {
		return nil, err
	}
	keep = max(keep, 0)

	var removed []string
	excess := len(artifacts) - keep
	for _, a := range artifacts {
		if excess <= 0 {
			break
		}
		if protect != "" && sameFile(a.path, protect) {
			continue
		}
		if err := os.Remove(a.path); err != nil {
			logging.Warn().Err(err).Str("artifact", a.name).Msg("Failed to delete old backup")
			continue
		}
		logging.Info().Str("artifact", a.name).Msg("Deleted old backup")
		removed = append(removed, a.name)
		excess--
	}
	return removed, nil
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
