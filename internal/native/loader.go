// Package native implements the symbol export resolution engine: mapping a
// library identifier to a concrete file under platform search-order rules,
// reading the export table of the resolved image, and deciding whether a
// requested entry point exists there (with alternate-spelling suggestions
// when it does not).
package native

// Loader abstracts the platform dynamic loader. The production
// implementations live in loader_windows.go (LoadLibrary/GetProcAddress) and
// loader_unix.go (dlopen/dlsym via purego); tests substitute a fake to count
// load/release pairs.
type Loader interface {
	// Load maps the library file at path and returns an opaque handle.
	// The caller owns the handle and must pass it to Release exactly once.
	Load(path string) (uintptr, error)

	// Release unmaps a handle previously obtained from Load.
	Release(handle uintptr) error

	// Resident returns a handle to a module that is already resident in the
	// current process. The handle is not owned by the caller and must never
	// be released.
	Resident(name string) (uintptr, error)

	// Probe reports whether the module behind handle exports the named
	// symbol.
	Probe(handle uintptr, symbol string) bool
}
