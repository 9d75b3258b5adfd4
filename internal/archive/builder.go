// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/tomtom215/offsite/internal/logging"
)

// Artifact is a finished snapshot. It is never modified after Build returns it.
type Artifact struct {
	Path      string        `json:"path"`
	Size      int64         `json:"size"`
	Files     int           `json:"files"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Name returns the artifact's file name.
func (a *Artifact) Name() string {
	return filepath.Base(a.Path)
}

// ArtifactName returns the file name for a snapshot taken at t.
func ArtifactName(t time.Time) string {
	return "backup_" + t.Format("20060102-150405") + ".zip"
}

// Builder counts and archives source trees.
type Builder struct {
	// Level is the deflate level, 0 (store) through 9.
	Level int

	// OnFile, if set, is called after each file is written.
	OnFile func(rel string, size int64)

	log zerolog.Logger
}

// NewBuilder returns a Builder for the given compression level.
func NewBuilder(level int) *Builder {
	return &Builder{
		Level: level,
		log:   logging.Component("archive"),
	}
}

// Count returns the number of files under root that pass the exclusions.
func (b *Builder) Count(root string, excludes []string) (int, error) {
	matcher, err := NewMatcher(excludes)
	if err != nil {
		return 0, err
	}

	count := 0
	err = walk(root, matcher, func(_ string, _ string, _ fs.DirEntry) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// walk visits every regular file under root not excluded by matcher.
// Excluded directories are pruned.
func walk(root string, matcher *Matcher, visit func(path, rel string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matcher.Match(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return visit(path, rel, d)
	})
}

// Build writes every accepted file under root into a zip at outPath and
// increments progress after each one. On any failure, including
// cancellation, the output file is removed.
func (b *Builder) Build(ctx context.Context, root string, excludes []string, outPath string, progress *Progress) (art *Artifact, err error) {
	matcher, err := NewMatcher(excludes)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		progress = &Progress{}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	absOut, err := filepath.Abs(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := os.MkdirAll(filepath.Dir(absOut), 0o750); err != nil {
		return nil, fmt.Errorf("%w: failed to create backup directory: %w", ErrIO, err)
	}

	started := time.Now()

	//nolint:gosec // G304: outPath is derived from configured backup directory
	out, err := os.Create(absOut)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create archive: %w", ErrIO, err)
	}

	zw := zip.NewWriter(out)
	if b.Level > 0 {
		level := min(b.Level, flate.BestCompression)
		zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, level)
		})
	}

	defer func() {
		if err == nil {
			return
		}
		zw.Close()  //nolint:errcheck // Archive is being discarded
		out.Close() //nolint:errcheck // Archive is being discarded
		if rmErr := os.Remove(absOut); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			b.log.Warn().Err(rmErr).Str("path", absOut).Msg("Failed to remove partial archive")
		}
	}()

	files := 0
	err = walk(absRoot, matcher, func(path, rel string, d fs.DirEntry) error {
		if ctx.Err() != nil {
			return abortErr(ctx)
		}
		if path == absOut {
			return nil
		}

		size, err := b.addFile(zw, path, rel, d)
		if err != nil {
			return err
		}
		files++
		progress.Inc()
		if b.OnFile != nil {
			b.OnFile(rel, size)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, abortErr(ctx)
	}

	if err = zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: failed to finalize archive: %w", ErrIO, err)
	}
	if err = out.Close(); err != nil {
		return nil, fmt.Errorf("%w: failed to close archive: %w", ErrIO, err)
	}

	info, err := os.Stat(absOut)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	art = &Artifact{
		Path:      absOut,
		Size:      info.Size(),
		Files:     files,
		Duration:  time.Since(started),
		CreatedAt: started,
	}
	b.log.Info().
		Str("artifact", art.Name()).
		Int("files", files).
		Int64("bytes", art.Size).
		Dur("duration", art.Duration).
		Msg("Archive built")
	return art, nil
}

// addFile copies one file into the archive and returns its size.
func (b *Builder) addFile(zw *zip.Writer, path, rel string, d fs.DirEntry) (int64, error) {
	info, err := d.Info()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to stat %s: %w", ErrIO, rel, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create header for %s: %w", ErrIO, rel, err)
	}
	header.Name = rel
	header.Method = zip.Store
	if b.Level > 0 {
		header.Method = zip.Deflate
	}

	w, err := zw.CreateHeader(header)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to write header for %s: %w", ErrIO, rel, err)
	}

	//nolint:gosec // G304: path comes from walking the configured server directory
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to open %s: %w", ErrIO, rel, err)
	}
	defer f.Close() //nolint:errcheck // Read-only file

	n, err := io.Copy(w, f)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to copy %s: %w", ErrIO, rel, err)
	}
	return n, nil
}

func abortErr(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrAborted) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrAborted, cause)
}
