package native

// Library is a resolved native library: either a freshly loaded image the
// caller must release exactly once, or a non-owned handle to a module that
// is already resident in the process.
type Library struct {
	// Name is the identifier the library was requested under.
	Name string

	// Path is the canonical absolute path of the image file. Empty for
	// resident modules resolved without a file lookup.
	Path string

	// Handle is the platform loader handle.
	Handle uintptr

	owned    bool
	released bool
	loader   Loader
}

// Owned reports whether the caller is responsible for releasing the library.
func (l *Library) Owned() bool {
	return l != nil && l.owned
}

// Release frees an owned handle. The first call releases; subsequent calls
// are no-ops, so a deferred Release on every exit path cannot double-free.
// Resident (non-owned) handles are never freed.
func (l *Library) Release() error {
	if l == nil || !l.owned || l.released {
		return nil
	}
	l.released = true
	return l.loader.Release(l.Handle)
}
