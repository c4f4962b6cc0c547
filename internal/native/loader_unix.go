//go:build !windows

package native

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// dlLoader implements Loader on top of dlopen/dlsym via purego.
type dlLoader struct{}

// NewLoader returns the platform dynamic loader.
func NewLoader() Loader { return dlLoader{} }

func (dlLoader) Load(path string) (uintptr, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return 0, fmt.Errorf("failed to load shared library: %w", err)
	}
	if handle == 0 {
		return 0, fmt.Errorf("shared library handle is nil after loading: %s", path)
	}
	return handle, nil
}

func (dlLoader) Release(handle uintptr) error {
	if handle == 0 {
		return fmt.Errorf("invalid library handle")
	}
	if err := purego.Dlclose(handle); err != nil {
		return fmt.Errorf("failed to close library: %w", err)
	}
	return nil
}

// Resident resolves an always-resident module. dlopen on a library the
// process already maps bumps a reference count we never drop; the handle
// lives for the process lifetime, which is the contract for resident
// modules.
func (dlLoader) Resident(name string) (uintptr, error) {
	handle, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return 0, fmt.Errorf("resident module %s not available: %w", name, err)
	}
	return handle, nil
}

func (dlLoader) Probe(handle uintptr, symbol string) bool {
	addr, err := purego.Dlsym(handle, symbol)
	return err == nil && addr != 0
}
