package native

import (
	"debug/elf"
	"errors"
	"io"
)

// elfExports returns the defined dynamic symbols of an ELF shared object.
// Undefined entries (imports) and local symbols are excluded; weak symbols
// count, since dlsym resolves them.
func elfExports(ra io.ReaderAt) ([]string, error) {
	f, err := elf.NewFile(ra)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	syms, err := f.DynamicSymbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, sym := range syms {
		if sym.Name == "" || sym.Section == elf.SHN_UNDEF {
			continue
		}
		switch elf.ST_BIND(sym.Info) {
		case elf.STB_GLOBAL, elf.STB_WEAK:
			names = append(names, sym.Name)
		}
	}
	return names, nil
}
