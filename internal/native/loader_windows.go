//go:build windows

package native

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// winLoader implements Loader on top of the Windows module loader.
type winLoader struct{}

// NewLoader returns the platform dynamic loader.
func NewLoader() Loader { return winLoader{} }

func (winLoader) Load(path string) (uintptr, error) {
	// LOAD_WITH_ALTERED_SEARCH_PATH so dependent DLLs resolve relative to
	// the library's own directory, matching what the audited application
	// would see at run time.
	handle, err := windows.LoadLibraryEx(path, 0, windows.LOAD_WITH_ALTERED_SEARCH_PATH)
	if err != nil || handle == 0 {
		return 0, fmt.Errorf("failed to load library %s: %w", path, err)
	}
	return uintptr(handle), nil
}

func (winLoader) Release(handle uintptr) error {
	if handle == 0 {
		return fmt.Errorf("invalid library handle")
	}
	if err := windows.FreeLibrary(windows.Handle(handle)); err != nil {
		return fmt.Errorf("failed to close library: %w", err)
	}
	return nil
}

// Resident resolves an always-resident module via GetModuleHandle, which
// does not affect the module reference count. The handle must never be
// released.
func (winLoader) Resident(name string) (uintptr, error) {
	namep, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, err
	}
	handle, err := windows.GetModuleHandle(namep)
	if err != nil || handle == 0 {
		return 0, fmt.Errorf("resident module %s not available: %w", name, err)
	}
	return uintptr(handle), nil
}

func (winLoader) Probe(handle uintptr, symbol string) bool {
	proc, err := windows.GetProcAddress(windows.Handle(handle), symbol)
	return err == nil && proc != 0
}
