package native

import (
	"log/slog"
	"math/bits"
	"strings"

	"github.com/cklutz/CheckLibraryImport/internal/errors"
)

// VerdictKind enumerates resolution outcomes.
type VerdictKind int

const (
	// Found means the entry point is exported verbatim.
	Found VerdictKind = iota
	// NotFound means the library opened but lacks the entry point; the
	// verdict may carry alternate spellings that do exist.
	NotFound
	// LibraryUnavailable means the library could not be located or mapped.
	LibraryUnavailable
	// Skipped means the lookup hit a known-unsupported situation and was
	// not attempted.
	Skipped
)

// String returns the display name of the verdict kind.
func (k VerdictKind) String() string {
	switch k {
	case Found:
		return "found"
	case NotFound:
		return "not-found"
	case LibraryUnavailable:
		return "library-unavailable"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of resolving one (library, entryPoint) pair. Never
// mutated after creation.
type Verdict struct {
	Kind VerdictKind

	// Candidates holds alternate entry point spellings that do exist, in
	// fixed [W-suffixed, A-suffixed] order. Only set for NotFound.
	Candidates []string

	// Reason holds detail for LibraryUnavailable and Skipped.
	Reason string
}

// SkipReasonCrossBitness marks lookups for WoW64 transition entry points
// that live in a library variant a 64-bit process cannot map.
const SkipReasonCrossBitness = "cross-bitness-unsupported"

// wow64Prefixes are entry point prefixes of the 64-bit/32-bit transition
// layer, present only in the 32-bit system library variant.
var wow64Prefixes = []string{"NtWow64", "ZwWow64"}

// hostIs64Bit reports whether this checker runs as a 64-bit process.
const hostIs64Bit = bits.UintSize == 64

// Resolver decides, per (library, entryPoint) pair, whether the entry point
// exists in the library's export table. Stateless across calls apart from
// the shared export cache.
type Resolver struct {
	loader  Loader
	locator *Locator
	exports *ExportReader
}

// NewResolver creates a Resolver from its collaborators.
func NewResolver(loader Loader, locator *Locator, exports *ExportReader) *Resolver {
	return &Resolver{loader: loader, locator: locator, exports: exports}
}

// Resolve determines whether entryPoint exists in the library denoted by
// identifier. baseDir is the directory of the binary under audit, taking
// the role of the application directory in the search order; it may be
// empty.
//
// An owned library obtained during resolution is released before Resolve
// returns, on every exit path.
//
// The returned error is nil for every per-declaration outcome, including an
// unavailable library; it is non-nil only for fatal conditions such as a
// missing always-resident module, where the host process itself is broken
// and further resolutions cannot be trusted.
func (r *Resolver) Resolve(identifier, entryPoint, baseDir string) (Verdict, error) {
	if crossBitnessSkip(identifier, entryPoint, hostIs64Bit) {
		return Verdict{Kind: Skipped, Reason: SkipReasonCrossBitness}, nil
	}

	lib, err := r.locator.Locate(identifier, baseDir)
	if err != nil {
		if errors.IsFatal(err) {
			return Verdict{}, err
		}
		return Verdict{Kind: LibraryUnavailable, Reason: err.Error()}, nil
	}
	defer func() {
		if rerr := lib.Release(); rerr != nil {
			slog.Warn("failed to release library",
				slog.String("identifier", identifier),
				slog.String("error", rerr.Error()))
		}
	}()

	// Resident modules carry no file path; probe through the loader.
	if lib.Path == "" {
		return verdictFor(entryPoint, func(name string) bool {
			return r.loader.Probe(lib.Handle, name)
		}), nil
	}

	set, err := r.exports.ExportsOf(lib.Path)
	if err != nil {
		return Verdict{Kind: LibraryUnavailable, Reason: err.Error()}, nil
	}
	return verdictFor(entryPoint, set.Has), nil
}

// verdictFor matches the entry point against an export membership test,
// probing the conventional wide/narrow suffix pair when the exact name is
// absent.
func verdictFor(entryPoint string, has func(string) bool) Verdict {
	if has(entryPoint) {
		return Verdict{Kind: Found}
	}
	var candidates []string
	for _, suffix := range []string{"W", "A"} {
		if name := entryPoint + suffix; has(name) {
			candidates = append(candidates, name)
		}
	}
	return Verdict{Kind: NotFound, Candidates: candidates}
}

// crossBitnessSkip reports whether the lookup targets a WoW64 transition
// entry point in the ntdll system library from a 64-bit process. Those
// symbols live in the 32-bit ntdll variant, which a 64-bit process cannot
// map; the lookup is skipped as a known limitation rather than reported as
// a missing symbol.
func crossBitnessSkip(identifier, entryPoint string, is64 bool) bool {
	if !is64 || NormalizeStem(identifier) != "ntdll" {
		return false
	}
	for _, prefix := range wow64Prefixes {
		if strings.HasPrefix(entryPoint, prefix) {
			return true
		}
	}
	return false
}
