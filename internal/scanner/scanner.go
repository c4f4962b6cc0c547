// Package scanner discovers candidate managed binaries on disk.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxFileSize is the largest binary considered for scanning (256 MB).
// Bigger files are skipped with a debug log; a managed assembly that large
// is almost certainly a data container, not interop code.
const DefaultMaxFileSize = 256 * 1024 * 1024

// candidateExtensions are the file extensions that may contain managed
// interop declarations.
var candidateExtensions = map[string]bool{
	".dll": true,
	".exe": true,
}

// ScanOptions configures a scan.
type ScanOptions struct {
	// Paths are files or directories to scan. A file given explicitly is
	// always a candidate, whatever its extension.
	Paths []string

	// Exclude holds glob patterns matched against the file base name.
	Exclude []string

	// MaxFileSize caps candidate file size; zero means DefaultMaxFileSize.
	MaxFileSize int64
}

// ScanResult is one discovered candidate, streamed as scanning progresses.
type ScanResult struct {
	// Path is the candidate file path.
	Path string

	// Err reports a traversal problem instead of a candidate.
	Err error
}

// Scanner discovers candidate binaries under a set of paths.
type Scanner struct{}

// New creates a new Scanner instance.
func New() *Scanner {
	return &Scanner{}
}

// Scan walks the configured paths and returns a channel of ScanResult that
// streams candidates as they are discovered. The channel is closed when
// scanning is complete or the context is cancelled.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil || len(opts.Paths) == 0 {
		return nil, fmt.Errorf("no paths to scan")
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	results := make(chan ScanResult, 64)

	go func() {
		defer close(results)
		for _, path := range opts.Paths {
			s.scanPath(ctx, path, opts, maxFileSize, results)
		}
	}()

	return results, nil
}

func (s *Scanner) scanPath(ctx context.Context, path string, opts *ScanOptions, maxFileSize int64, results chan<- ScanResult) {
	info, err := os.Stat(path)
	if err != nil {
		s.emit(ctx, results, ScanResult{Err: fmt.Errorf("cannot stat %s: %w", path, err)})
		return
	}

	if !info.IsDir() {
		// Explicit file arguments are always candidates.
		if !s.excluded(filepath.Base(path), opts) {
			s.emit(ctx, results, ScanResult{Path: path})
		}
		return
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil // skip entries we cannot access
		}
		if d.IsDir() {
			return nil
		}
		if !candidateExtensions[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		if s.excluded(filepath.Base(p), opts) {
			slog.Debug("excluded candidate", slog.String("path", p))
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > maxFileSize {
			slog.Debug("skipping oversized file",
				slog.String("path", p),
				slog.Int64("size", fi.Size()))
			return nil
		}

		s.emit(ctx, results, ScanResult{Path: p})
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.emit(ctx, results, ScanResult{Err: err})
	}
}

// emit sends a result unless the context is done.
func (s *Scanner) emit(ctx context.Context, results chan<- ScanResult, r ScanResult) {
	select {
	case results <- r:
	case <-ctx.Done():
	}
}

// excluded reports whether name matches any exclude pattern.
func (s *Scanner) excluded(name string, opts *ScanOptions) bool {
	for _, pattern := range opts.Exclude {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
