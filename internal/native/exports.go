package native

import (
	"log/slog"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// exportCacheSize bounds the export cache. The working set is the number of
// distinct native libraries referenced by the audited binaries, typically a
// few tens; the bound exists so a pathological input cannot grow the cache
// without limit, not because eviction is expected.
const exportCacheSize = 512

// ExportSet is the set of named exports of one library image. Immutable
// once built.
type ExportSet struct {
	names map[string]struct{}
}

// NewExportSet builds an ExportSet from a list of symbol names.
func NewExportSet(names []string) *ExportSet {
	set := &ExportSet{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		set.names[name] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the exact symbol name.
func (s *ExportSet) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len returns the number of named exports.
func (s *ExportSet) Len() int {
	return len(s.names)
}

// Names returns the exported names, sorted.
func (s *ExportSet) Names() []string {
	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// exportEntry is a cached parse outcome. Failures are cached too: a
// malformed image fails every pending and future lookup against it without
// being re-read.
type exportEntry struct {
	set *ExportSet
	err error
}

// ExportReader reads export tables of native library images, cached by
// canonical absolute path. Population is per-path single-flight so
// concurrent workers resolving the same library parse the image at most
// once; losers of the race block until the winner's entry is ready.
type ExportReader struct {
	cache *lru.Cache[string, exportEntry]
	group singleflight.Group

	// parse is the file parsing step, indirected for tests.
	parse func(path string) (*ExportSet, error)
}

// NewExportReader creates an ExportReader with the standard image parsers.
func NewExportReader() (*ExportReader, error) {
	return newExportReader(parseImageExports)
}

func newExportReader(parse func(path string) (*ExportSet, error)) (*ExportReader, error) {
	cache, err := lru.New[string, exportEntry](exportCacheSize)
	if err != nil {
		return nil, err
	}
	return &ExportReader{cache: cache, parse: parse}, nil
}

// ExportsOf returns the export set of the image at the given canonical path.
// Repeated calls for the same path return the cached set without re-reading
// the file; parse failures are equally sticky.
func (r *ExportReader) ExportsOf(path string) (*ExportSet, error) {
	if entry, ok := r.cache.Get(path); ok {
		return entry.set, entry.err
	}

	v, _, _ := r.group.Do(path, func() (any, error) {
		if entry, ok := r.cache.Get(path); ok {
			return entry, nil
		}
		set, err := r.parse(path)
		entry := exportEntry{set: set, err: err}
		r.cache.Add(path, entry)
		if err != nil {
			slog.Debug("export table parse failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		} else {
			slog.Debug("export table parsed",
				slog.String("path", path),
				slog.Int("exports", set.Len()))
		}
		return entry, nil
	})

	entry := v.(exportEntry)
	return entry.set, entry.err
}
