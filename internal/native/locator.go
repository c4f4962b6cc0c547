package native

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cklutz/CheckLibraryImport/internal/errors"
)

// Locator maps a library identifier to a concrete, mappable library file
// following the platform search-order rules, with a configurable exception
// table for always-resident modules that never need a file lookup.
type Locator struct {
	loader Loader

	// resident maps normalized identifier stems to the load name used to
	// obtain the non-owned handle (e.g. "kernel32" -> "kernel32.dll").
	resident map[string]string

	// searchDirs are configured extra directories, probed before the
	// standard search order.
	searchDirs []string
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithSearchDirs prepends extra directories to the library search order.
func WithSearchDirs(dirs []string) LocatorOption {
	return func(l *Locator) {
		l.searchDirs = append(l.searchDirs, dirs...)
	}
}

// WithResidentModules replaces the always-resident module table. Entries are
// load names; matching against identifiers is by normalized stem.
func WithResidentModules(names []string) LocatorOption {
	return func(l *Locator) {
		l.resident = make(map[string]string, len(names))
		for _, name := range names {
			l.resident[NormalizeStem(name)] = name
		}
	}
}

// NewLocator creates a Locator using the given platform loader. The default
// resident table matches the host platform's always-resident libraries.
func NewLocator(loader Loader, opts ...LocatorOption) *Locator {
	l := &Locator{loader: loader}
	WithResidentModules(DefaultResidentModules())(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate resolves identifier to a Library. baseDir is the directory of the
// binary under audit and participates in the search order the way the
// application directory would at run time; it may be empty.
//
// Resident modules yield a non-owned handle with no file path. Everything
// else is searched on disk and validated by loading it through the platform
// loader; the returned Library is owned and must be released by the caller.
func (l *Locator) Locate(identifier, baseDir string) (*Library, error) {
	stem := NormalizeStem(identifier)

	if loadName, ok := l.resident[stem]; ok {
		handle, err := l.loader.Resident(loadName)
		if err != nil {
			// The module table says this is always mapped into every
			// process, including ours. If it is not, the host process
			// itself is broken.
			return nil, errors.Wrap(errors.ErrCodeResidentMissing, err)
		}
		return &Library{Name: identifier, Handle: handle, loader: l.loader}, nil
	}

	path, ok := l.findFile(identifier, baseDir)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeLibraryNotFound,
			"library %q not found in search path", identifier)
	}

	handle, err := l.loader.Load(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLoadFailed, err).WithDetail("path", path)
	}

	slog.Debug("loaded library",
		slog.String("identifier", identifier),
		slog.String("path", path))

	return &Library{
		Name:   identifier,
		Path:   path,
		Handle: handle,
		owned:  true,
		loader: l.loader,
	}, nil
}

// findFile probes the search order for the first existing candidate file and
// returns its canonical absolute path.
func (l *Locator) findFile(identifier, baseDir string) (string, bool) {
	names := candidateNames(identifier)

	var dirs []string
	dirs = append(dirs, l.searchDirs...)
	if baseDir != "" {
		dirs = append(dirs, baseDir)
	}
	dirs = append(dirs, loaderPathDirs()...)
	dirs = append(dirs, systemDirs()...)
	dirs = append(dirs, filepath.SplitList(os.Getenv("PATH"))...)

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			return canonicalPath(candidate), true
		}
	}
	return "", false
}

// canonicalPath resolves a found candidate to the absolute path that keys
// the export cache. Symlinks are followed so two spellings of the same
// installed library share one cache entry.
func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// knownExtensions are library file extensions recognized when normalizing
// identifiers.
var knownExtensions = []string{".dll", ".so", ".dylib", ".exe"}

// NormalizeStem reduces a library identifier to its comparison form: base
// name, one known extension stripped, lower-cased. Library namespaces are
// case-insensitive on the platforms this tool audits for.
func NormalizeStem(identifier string) string {
	stem := filepath.Base(identifier)
	lower := strings.ToLower(stem)
	// Versioned sonames (libc.so.6) compare by their unversioned stem.
	if i := strings.Index(lower, ".so."); i >= 0 {
		return lower[:i]
	}
	for _, ext := range knownExtensions {
		if strings.HasSuffix(lower, ext) {
			return lower[:len(lower)-len(ext)]
		}
	}
	return lower
}

// candidateNames returns the file names to probe for an identifier, in
// order.
func candidateNames(identifier string) []string {
	return candidateNamesFor(identifier, runtime.GOOS)
}

func candidateNamesFor(identifier, goos string) []string {
	// An identifier with an extension (or any dot, e.g. libc.so.6) is taken
	// literally.
	if strings.Contains(filepath.Base(identifier), ".") {
		return []string{identifier}
	}

	switch goos {
	case "windows":
		return []string{identifier + ".dll"}
	case "darwin":
		return []string{
			identifier + ".dylib",
			"lib" + identifier + ".dylib",
			identifier + ".so",
		}
	default:
		return []string{
			identifier + ".so",
			"lib" + identifier + ".so",
		}
	}
}

// DefaultResidentModules returns the host platform's always-resident
// libraries: modules mapped into every process, resolvable without a file
// search or a load/release cycle.
func DefaultResidentModules() []string {
	return residentModulesFor(runtime.GOOS)
}

func residentModulesFor(goos string) []string {
	switch goos {
	case "windows":
		return []string{"kernel32.dll", "ntdll.dll"}
	case "darwin":
		return []string{"/usr/lib/libSystem.B.dylib"}
	default:
		return []string{"libc.so.6"}
	}
}

// systemDirs returns the platform's standard library directories.
func systemDirs() []string {
	switch runtime.GOOS {
	case "windows":
		root := os.Getenv("SystemRoot")
		if root == "" {
			root = `C:\Windows`
		}
		return []string{
			filepath.Join(root, "System32"),
			root,
		}
	case "darwin":
		return []string{"/usr/lib", "/usr/local/lib"}
	default:
		return []string{"/lib", "/usr/lib", "/lib64", "/usr/lib64", "/usr/local/lib"}
	}
}

// loaderPathDirs returns directories from the platform's loader search path
// environment variable, probed before the system directories the way the
// dynamic loader would.
func loaderPathDirs() []string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.SplitList(os.Getenv("DYLD_LIBRARY_PATH"))
	case "windows":
		return nil // PATH covers it; appended by the caller
	default:
		return filepath.SplitList(os.Getenv("LD_LIBRARY_PATH"))
	}
}
