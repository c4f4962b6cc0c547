package native

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
)

// maxExportNames caps the export name count read from an image. Real
// libraries top out in the low tens of thousands; anything past this is a
// corrupt header, not a big library.
const maxExportNames = 1 << 20

// exportDirectory mirrors IMAGE_EXPORT_DIRECTORY.
type exportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// peExports reads the PE export directory and returns the named exports.
// Ordinal-only exports carry no name and are excluded; entry-point matching
// is always by name.
func peExports(ra io.ReaderAt) ([]string, error) {
	f, err := pe.NewFile(ra)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var dir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes <= pe.IMAGE_DIRECTORY_ENTRY_EXPORT {
			return nil, nil
		}
		dir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT]
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes <= pe.IMAGE_DIRECTORY_ENTRY_EXPORT {
			return nil, nil
		}
		dir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT]
	default:
		return nil, fmt.Errorf("image has no optional header")
	}

	// No export directory: a valid image that exports nothing.
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil, nil
	}

	rv := &rvaResolver{file: f}
	raw, err := rv.bytes(dir.VirtualAddress, uint32(binary.Size(exportDirectory{})))
	if err != nil {
		return nil, fmt.Errorf("export directory: %w", err)
	}

	var ed exportDirectory
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &ed); err != nil {
		return nil, err
	}
	if ed.NumberOfNames == 0 {
		return nil, nil
	}
	if ed.NumberOfNames > maxExportNames {
		return nil, fmt.Errorf("implausible export name count %d", ed.NumberOfNames)
	}

	nameRVAs, err := rv.bytes(ed.AddressOfNames, ed.NumberOfNames*4)
	if err != nil {
		return nil, fmt.Errorf("export name table: %w", err)
	}

	names := make([]string, 0, ed.NumberOfNames)
	for i := uint32(0); i < ed.NumberOfNames; i++ {
		rva := binary.LittleEndian.Uint32(nameRVAs[i*4:])
		name, err := rv.cstring(rva)
		if err != nil {
			return nil, fmt.Errorf("export name %d: %w", i, err)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// rvaResolver maps RVAs to section bytes, caching section data.
type rvaResolver struct {
	file *pe.File
	data map[*pe.Section][]byte
}

func (r *rvaResolver) section(rva uint32) (*pe.Section, []byte, error) {
	for _, s := range r.file.Sections {
		size := s.VirtualSize
		if size == 0 {
			size = s.Size
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+size {
			if r.data == nil {
				r.data = make(map[*pe.Section][]byte)
			}
			d, ok := r.data[s]
			if !ok {
				var err error
				d, err = s.Data()
				if err != nil {
					return nil, nil, err
				}
				r.data[s] = d
			}
			return s, d, nil
		}
	}
	return nil, nil, fmt.Errorf("rva 0x%x outside all sections", rva)
}

func (r *rvaResolver) bytes(rva, size uint32) ([]byte, error) {
	s, d, err := r.section(rva)
	if err != nil {
		return nil, err
	}
	off := rva - s.VirtualAddress
	if uint64(off)+uint64(size) > uint64(len(d)) {
		return nil, fmt.Errorf("rva 0x%x+%d past end of section %s", rva, size, s.Name)
	}
	return d[off : off+size], nil
}

func (r *rvaResolver) cstring(rva uint32) (string, error) {
	s, d, err := r.section(rva)
	if err != nil {
		return "", err
	}
	off := rva - s.VirtualAddress
	end := bytes.IndexByte(d[off:], 0)
	if end < 0 {
		return "", fmt.Errorf("unterminated string at rva 0x%x", rva)
	}
	return string(d[off : off+uint32(end)]), nil
}
