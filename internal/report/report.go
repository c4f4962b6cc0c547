// Package report renders check findings as terminal diagnostics.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/cklutz/CheckLibraryImport/internal/metadata"
	"github.com/cklutz/CheckLibraryImport/internal/native"
)

// Options configures a Reporter.
type Options struct {
	// Output receives rendered diagnostics; defaults to os.Stdout.
	Output io.Writer

	// NoWarn suppresses warnings and excludes them from the summary counts.
	NoWarn bool

	// NoColor forces plain output even on a terminal.
	NoColor bool

	// Verbose additionally reports successful lookups.
	Verbose bool
}

// Reporter accumulates findings from concurrent checks and renders them as
// per-file diagnostics plus a final summary. All methods are safe for
// concurrent use.
type Reporter struct {
	mu      sync.Mutex
	out     io.Writer
	styles  Styles
	noWarn  bool
	verbose bool

	lastFile     string
	files        int
	declarations int
	errors       int
	warnings     int
	suppressed   int
}

// New creates a Reporter. Color is enabled only when the output is a
// terminal and NO_COLOR is unset.
func New(opts Options) *Reporter {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	noColor := opts.NoColor || DetectNoColor() || !IsTTY(out)
	return &Reporter{
		out:     out,
		styles:  GetStyles(noColor),
		noWarn:  opts.NoWarn,
		verbose: opts.Verbose,
	}
}

// File records that a binary was checked. Called once per scanned file.
func (r *Reporter) File(path string, declarations int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files++
	r.declarations += declarations
}

// Finding reports the verdict for one declaration.
func (r *Reporter) Finding(file string, decl metadata.Declaration, v native.Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch v.Kind {
	case native.Found:
		if r.verbose {
			r.heading(file)
			fmt.Fprintf(r.out, "  %s %s: '%s'%s resolves in '%s'\n",
				r.styles.Success.Render("ok:"),
				r.styles.Dim.Render(decl.Context), decl.EntryPoint, charsetNote(decl), decl.Library)
		}
		return

	case native.NotFound:
		r.errors++
		r.heading(file)
		msg := fmt.Sprintf("entry point '%s'%s not found in '%s'", decl.EntryPoint, charsetNote(decl), decl.Library)
		if hint := suggestion(v.Candidates, decl.NoMangle()); hint != "" {
			msg += " " + r.styles.Hint.Render(hint)
		}
		fmt.Fprintf(r.out, "  %s %s: %s\n",
			r.styles.Error.Render("error:"),
			r.styles.Dim.Render(decl.Context), msg)

	case native.LibraryUnavailable:
		r.errors++
		r.heading(file)
		fmt.Fprintf(r.out, "  %s %s: library '%s' unavailable: %s\n",
			r.styles.Error.Render("error:"),
			r.styles.Dim.Render(decl.Context), decl.Library, v.Reason)

	case native.Skipped:
		if r.noWarn {
			r.suppressed++
			return
		}
		r.warnings++
		r.heading(file)
		fmt.Fprintf(r.out, "  %s %s: '%s' in '%s' skipped: %s\n",
			r.styles.Warning.Render("warning:"),
			r.styles.Dim.Render(decl.Context), decl.EntryPoint, decl.Library, v.Reason)
	}
}

// FileError reports a failure to reach a file at all, such as a traversal
// error. Counted as an error. An empty file renders the error without a
// heading when the failure is not tied to one binary.
func (r *Reporter) FileError(file string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
	if file == "" {
		fmt.Fprintf(r.out, "%s %v\n", r.styles.Error.Render("error:"), err)
		return
	}
	r.heading(file)
	fmt.Fprintf(r.out, "  %s %v\n", r.styles.Error.Render("error:"), err)
}

// heading prints the file name once per run of findings for the same file.
// Callers must hold r.mu.
func (r *Reporter) heading(file string) {
	if file == r.lastFile {
		return
	}
	r.lastFile = file
	fmt.Fprintf(r.out, "%s\n", r.styles.File.Render(file+":"))
}

// charsetNote renders the declared character set next to the entry point,
// when the declaration carries one.
func charsetNote(decl metadata.Declaration) string {
	if cs := decl.CharSet(); cs != "none" {
		return fmt.Sprintf(" (charset %s)", cs)
	}
	return ""
}

// suggestion renders alternate-name candidates as a hint. A declaration
// with name mangling disabled never resolves to a suffixed variant at run
// time, so the hint points out the exact-name requirement instead.
func suggestion(candidates []string, exact bool) string {
	if len(candidates) == 0 {
		return ""
	}
	quoted := fmt.Sprintf("'%s'", strings.Join(candidates, "' or '"))
	if exact {
		return fmt.Sprintf("(%s exists, but the declaration requires the exact name)", quoted)
	}
	return fmt.Sprintf("(did you mean %s?)", quoted)
}

// Summary renders the final counts line.
func (r *Reporter) Summary() {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := fmt.Sprintf("checked %d declarations in %d files: %d errors, %d warnings",
		r.declarations, r.files, r.errors, r.warnings)
	if r.errors == 0 && r.warnings == 0 {
		fmt.Fprintf(r.out, "%s\n", r.styles.Success.Render(line))
		return
	}
	fmt.Fprintf(r.out, "%s\n", line)
}

// HasErrors reports whether any error-level finding was recorded.
func (r *Reporter) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors > 0
}

// Counts returns the accumulated error and warning counts.
func (r *Reporter) Counts() (errors, warnings int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors, r.warnings
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}
