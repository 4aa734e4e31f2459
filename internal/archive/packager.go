// Package archive packages a dropped folder into a single uploadable zip.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/healthfolio/folio/internal/model"
)

// chunkSize bounds how much of a file is written between cancellation and
// progress checks.
const chunkSize = 64 * 1024

// Entry is one file of the folder being packaged, addressed by its path
// relative to the folder root.
type Entry struct {
	RelPath string
	Content []byte
}

// ProgressFunc receives a monotonically increasing percentage from 0 to 100.
type ProgressFunc func(percent int)

// Packager converts a folder's file tree into one structured archive. The
// ingestion endpoint only accepts discrete files, never folder handles.
type Packager struct {
	logger   *slog.Logger
	progress ProgressFunc
}

// NewPackager creates a packager. A nil progress callback is allowed.
func NewPackager(progress ProgressFunc) *Packager {
	return &Packager{
		logger:   slog.Default().With("component", "archive"),
		progress: progress,
	}
}

// Package zips entries into a single structured payload named after the
// folder. It checks ctx between chunks so a long-running packaging cannot
// wedge the caller, and reports progress as bytes are written. On error the
// caller's selection state is untouched; nothing partial is returned.
func (p *Packager) Package(ctx context.Context, folderName string, entries []Entry) (model.FilePayload, error) {
	if len(entries) == 0 {
		return model.FilePayload{}, fmt.Errorf("folder %q contains no files", folderName)
	}

	var total int64
	for _, e := range entries {
		total += int64(len(e.Content))
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	var written int64
	lastPercent := -1

	for _, entry := range entries {
		rel := path.Clean(strings.ReplaceAll(entry.RelPath, "\\", "/"))
		if rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
			return model.FilePayload{}, fmt.Errorf("invalid path %q in folder %q", entry.RelPath, folderName)
		}

		w, err := zw.Create(rel)
		if err != nil {
			return model.FilePayload{}, fmt.Errorf("failed to add %q to archive: %w", rel, err)
		}

		content := entry.Content
		for len(content) > 0 {
			select {
			case <-ctx.Done():
				return model.FilePayload{}, ctx.Err()
			default:
			}

			n := chunkSize
			if n > len(content) {
				n = len(content)
			}
			if _, err := w.Write(content[:n]); err != nil {
				return model.FilePayload{}, fmt.Errorf("failed to write %q: %w", rel, err)
			}
			content = content[n:]
			written += int64(n)

			lastPercent = p.report(written, total, lastPercent)
		}

		// Zero-byte files still count as progress
		if len(entry.Content) == 0 {
			lastPercent = p.report(written, total, lastPercent)
		}
	}

	if err := zw.Close(); err != nil {
		return model.FilePayload{}, fmt.Errorf("failed to finalize archive: %w", err)
	}

	if p.progress != nil && lastPercent < 100 {
		p.progress(100)
	}

	p.logger.Info("Packaged folder",
		"folder", folderName,
		"files", len(entries),
		"bytes", buf.Len())

	return model.FilePayload{
		Name:    sanitizeName(folderName) + ".zip",
		Content: buf.Bytes(),
	}, nil
}

// report emits the current percentage if it advanced, keeping the sequence
// monotonic even when chunk boundaries round to the same value.
func (p *Packager) report(written, total int64, last int) int {
	if p.progress == nil {
		return last
	}

	percent := 100
	if total > 0 {
		percent = int(written * 100 / total)
	}
	if percent > last {
		p.progress(percent)
		return percent
	}
	return last
}

func sanitizeName(folderName string) string {
	name := strings.TrimSpace(folderName)
	name = strings.Trim(name, "/\\")
	if name == "" {
		return "folder"
	}
	// Keep only the leaf of any path-like display name
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}
