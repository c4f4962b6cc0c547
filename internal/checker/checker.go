// Package checker orchestrates a check run: scanning for candidate
// binaries, extracting their interop declarations and resolving every
// declaration against the exports of its target native library.
package checker

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cklutz/CheckLibraryImport/internal/errors"
	"github.com/cklutz/CheckLibraryImport/internal/metadata"
	"github.com/cklutz/CheckLibraryImport/internal/native"
	"github.com/cklutz/CheckLibraryImport/internal/report"
	"github.com/cklutz/CheckLibraryImport/internal/scanner"
)

// Resolver resolves one declaration against its target library. A non-nil
// error means the resolver hit a fatal condition and the run must stop.
// *native.Resolver is the production implementation.
type Resolver interface {
	Resolve(identifier, entryPoint, baseDir string) (native.Verdict, error)
}

// Checker runs checks over a set of managed binaries.
type Checker struct {
	scanner  *scanner.Scanner
	resolver Resolver
	reporter *report.Reporter
	workers  int

	readDeclarations func(path string) ([]metadata.Declaration, error)
}

// New creates a Checker. A non-positive workers count defaults to the
// number of CPUs.
func New(resolver Resolver, reporter *report.Reporter, workers int) *Checker {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Checker{
		scanner:          scanner.New(),
		resolver:         resolver,
		reporter:         reporter,
		workers:          workers,
		readDeclarations: metadata.ReadDeclarations,
	}
}

// Run scans the given paths and checks every candidate binary. Individual
// file failures are reported and never abort the run; Run itself fails only
// on bad arguments, context cancellation, or a fatal resolver error.
func (c *Checker) Run(ctx context.Context, opts *scanner.ScanOptions) error {
	start := time.Now()

	results, err := c.scanner.Scan(ctx, opts)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for res := range results {
		if res.Err != nil {
			c.reporter.FileError("", res.Err)
			continue
		}
		path := res.Path
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return c.checkFile(path)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Debug("check_complete",
		slog.Duration("duration", time.Since(start)),
		slog.Int("workers", c.workers))
	return nil
}

// checkFile extracts and resolves the declarations of one binary. The
// returned error is non-nil only for fatal resolver failures; anything
// wrong with the binary itself means it is not an audit subject.
func (c *Checker) checkFile(path string) error {
	decls, err := c.readDeclarations(path)
	if err != nil {
		if errors.Is(err, metadata.ErrNotManaged) {
			// Native binaries and non-images are expected in scanned
			// directories; they are simply not audit subjects.
			slog.Debug("skipping unmanaged file", slog.String("path", path))
			return nil
		}
		// A binary with damaged metadata cannot declare anything worth
		// auditing either; treat it like an unmanaged file.
		slog.Warn("skipping file with unreadable metadata",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}

	c.reporter.File(path, len(decls))
	if len(decls) == 0 {
		return nil
	}

	// Library identifiers without a path resolve relative to the
	// declaring assembly first, mirroring loader search order.
	baseDir := filepath.Dir(path)

	for _, decl := range decls {
		verdict, err := c.resolver.Resolve(decl.Library, decl.EntryPoint, baseDir)
		if err != nil {
			return err
		}
		c.reporter.Finding(path, decl, verdict)
	}
	return nil
}
