package native

import (
	"debug/macho"
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Mach-O nlist type bits; debug/macho does not export these.
const (
	machoNStab uint8 = 0xe0 // debugger symbol
	machoNExt  uint8 = 0x01 // external
	machoNType uint8 = 0x0e // type mask
	machoNSect uint8 = 0x0e // defined in a section
)

// machoExports returns the external defined symbols of a Mach-O image. The
// leading underscore of the C symbol namespace is stripped so names compare
// the way dlsym sees them. Fat images use the slice matching the host
// architecture, falling back to the first slice.
func machoExports(ra io.ReaderAt) ([]string, error) {
	f, err := machoFile(ra)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if f.Symtab == nil {
		return nil, nil
	}

	var names []string
	for _, sym := range f.Symtab.Syms {
		if sym.Type&machoNStab != 0 || sym.Type&machoNExt == 0 {
			continue
		}
		if sym.Type&machoNType != machoNSect || sym.Sect == 0 {
			continue
		}
		name := strings.TrimPrefix(sym.Name, "_")
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func machoFile(ra io.ReaderAt) (*macho.File, error) {
	if f, err := macho.NewFile(ra); err == nil {
		return f, nil
	}
	fat, err := macho.NewFatFile(ra)
	if err != nil {
		return nil, err
	}
	if len(fat.Arches) == 0 {
		return nil, fmt.Errorf("fat image has no architectures")
	}
	want := map[string]macho.Cpu{
		"amd64": macho.CpuAmd64,
		"arm64": macho.CpuArm64,
	}[runtime.GOARCH]
	for _, arch := range fat.Arches {
		if arch.Cpu == want {
			return arch.File, nil
		}
	}
	return fat.Arches[0].File, nil
}
