package native

import (
	"fmt"
	"sync"
)

// fakeLoader is a Loader that tracks load/release accounting and serves a
// canned resident-module table, so tests run without touching the OS
// loader.
type fakeLoader struct {
	mu       sync.Mutex
	loads    int
	releases int
	next     uintptr

	loadErr  error
	resident map[string]uintptr
	symbols  map[uintptr]map[string]bool
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		next:     0x1000,
		resident: make(map[string]uintptr),
		symbols:  make(map[uintptr]map[string]bool),
	}
}

func (f *fakeLoader) Load(path string) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return 0, f.loadErr
	}
	f.loads++
	f.next++
	return f.next, nil
}

func (f *fakeLoader) Release(handle uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if handle == 0 {
		return fmt.Errorf("invalid handle")
	}
	f.releases++
	return nil
}

func (f *fakeLoader) Resident(name string) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.resident[name]; ok {
		return h, nil
	}
	return 0, fmt.Errorf("module %s not resident", name)
}

func (f *fakeLoader) Probe(handle uintptr, symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.symbols[handle][symbol]
}

func (f *fakeLoader) counts() (loads, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.releases
}

// addResident registers a resident module exporting the given symbols.
func (f *fakeLoader) addResident(name string, handle uintptr, symbols ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resident[name] = handle
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	f.symbols[handle] = set
}
