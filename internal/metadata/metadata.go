// Package metadata extracts native-interop declarations from managed
// binaries. It reads just enough ECMA-335 metadata to walk the ImplMap
// (P/Invoke) table: the CLI header, the #~ tables stream and the #Strings
// heap, plus the TypeDef/MethodDef names needed to render a useful
// declaration context.
package metadata

import (
	"bytes"
	"debug/pe"
	"fmt"

	"github.com/cklutz/CheckLibraryImport/internal/errors"
)

// ErrNotManaged matches errors for files that are not managed images. Such
// files yield zero declarations and are not an audit finding.
var ErrNotManaged = errors.New(errors.ErrCodeNotManaged, "not a managed image", nil)

// MappingFlags bits of an ImplMap row (ECMA-335 II.23.1.8).
const (
	pinvokeNoMangle    = 0x0001
	pinvokeCharSetMask = 0x0006
	pinvokeCharSetAnsi = 0x0002
	pinvokeCharSetWide = 0x0004
	pinvokeCharSetAuto = 0x0006
)

// Declaration is one native-interop declaration found in a managed binary.
type Declaration struct {
	// Context identifies the declaring member for display, as
	// "Namespace.Type.Method". Never interpreted by the resolution engine.
	Context string

	// Library is the target library identifier as written in source.
	Library string

	// EntryPoint is the expected export name.
	EntryPoint string

	// MappingFlags carries the raw ImplMap flags.
	MappingFlags uint16
}

// CharSet renders the declaration's character-set marshalling mode.
func (d Declaration) CharSet() string {
	switch d.MappingFlags & pinvokeCharSetMask {
	case pinvokeCharSetAnsi:
		return "ansi"
	case pinvokeCharSetWide:
		return "unicode"
	case pinvokeCharSetAuto:
		return "auto"
	default:
		return "none"
	}
}

// NoMangle reports whether the entry point name is exempt from the
// character-set suffix convention.
func (d Declaration) NoMangle() bool {
	return d.MappingFlags&pinvokeNoMangle != 0
}

// ReadDeclarations extracts every interop declaration from the managed
// binary at path. Files that are not managed images fail with ErrNotManaged;
// managed images with damaged metadata fail with a corrupt-metadata error.
func ReadDeclarations(path string) ([]Declaration, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, ErrNotManaged
	}
	defer f.Close()

	blob, err := metadataBlob(f)
	if err != nil {
		return nil, err
	}

	md, err := parseMetadata(blob)
	if err != nil {
		return nil, err
	}

	return md.declarations()
}

// metadataBlob follows the CLR data directory to the raw metadata root.
func metadataBlob(f *pe.File) ([]byte, error) {
	var dir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes <= pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR {
			return nil, ErrNotManaged
		}
		dir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR]
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes <= pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR {
			return nil, ErrNotManaged
		}
		dir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR]
	default:
		return nil, ErrNotManaged
	}
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil, ErrNotManaged
	}

	rv := &rvaData{file: f}

	// IMAGE_COR20_HEADER: cb, runtime versions, then the MetaData
	// directory at offset 8.
	cor20, err := rv.bytes(dir.VirtualAddress, 16)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCorruptMetadata, err)
	}
	metaRVA := leUint32(cor20[8:])
	metaSize := leUint32(cor20[12:])
	if metaRVA == 0 || metaSize == 0 {
		return nil, errors.Newf(errors.ErrCodeCorruptMetadata, "empty metadata directory")
	}

	blob, err := rv.bytes(metaRVA, metaSize)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCorruptMetadata, err)
	}
	return blob, nil
}

// rvaData maps RVAs into section contents.
type rvaData struct {
	file *pe.File
	data map[*pe.Section][]byte
}

func (r *rvaData) bytes(rva, size uint32) ([]byte, error) {
	for _, s := range r.file.Sections {
		vsize := s.VirtualSize
		if vsize == 0 {
			vsize = s.Size
		}
		if rva < s.VirtualAddress || rva >= s.VirtualAddress+vsize {
			continue
		}
		if r.data == nil {
			r.data = make(map[*pe.Section][]byte)
		}
		d, ok := r.data[s]
		if !ok {
			var err error
			d, err = s.Data()
			if err != nil {
				return nil, err
			}
			r.data[s] = d
		}
		off := rva - s.VirtualAddress
		if uint64(off)+uint64(size) > uint64(len(d)) {
			return nil, fmt.Errorf("rva 0x%x+%d past end of section %s", rva, size, s.Name)
		}
		return d[off : off+size], nil
	}
	return nil, fmt.Errorf("rva 0x%x outside all sections", rva)
}

// declarations walks the ImplMap table, joining ModuleRef for the library
// name and MethodDef/TypeDef for the declaration context.
func (m *metadataReader) declarations() ([]Declaration, error) {
	n := m.rowCount(tblImplMap)
	if n == 0 {
		return nil, nil
	}

	owners := m.methodOwners()

	decls := make([]Declaration, 0, n)
	for row := uint32(0); row < n; row++ {
		flags := m.cell(tblImplMap, row, 0)
		forwarded := m.cell(tblImplMap, row, 1)
		importName := m.str(m.cell(tblImplMap, row, 2))
		scope := m.cell(tblImplMap, row, 3)

		if scope == 0 || scope > m.rowCount(tblModuleRef) {
			return nil, errors.Newf(errors.ErrCodeCorruptMetadata,
				"implmap row %d: import scope %d out of range", row+1, scope)
		}
		library := m.str(m.cell(tblModuleRef, scope-1, 0))

		// MemberForwarded coded index: tag bit selects Field or MethodDef.
		// Field exports are a CLI compat relic; only methods are audited.
		if forwarded&1 == 0 {
			continue
		}
		methodRow := (forwarded >> 1) - 1
		if methodRow >= m.rowCount(tblMethodDef) {
			return nil, errors.Newf(errors.ErrCodeCorruptMetadata,
				"implmap row %d: method %d out of range", row+1, methodRow+1)
		}
		methodName := m.str(m.cell(tblMethodDef, methodRow, 3))

		entryPoint := importName
		if entryPoint == "" {
			entryPoint = methodName
		}

		context := methodName
		if owner, ok := owners[methodRow]; ok && owner != "" {
			context = owner + "." + methodName
		}

		decls = append(decls, Declaration{
			Context:      context,
			Library:      library,
			EntryPoint:   entryPoint,
			MappingFlags: uint16(flags),
		})
	}
	return decls, nil
}

// methodOwners maps MethodDef rows (0-based) to their declaring type's
// display name via the TypeDef MethodList ranges.
func (m *metadataReader) methodOwners() map[uint32]string {
	types := m.rowCount(tblTypeDef)
	methods := m.rowCount(tblMethodDef)
	owners := make(map[uint32]string, methods)

	for t := uint32(0); t < types; t++ {
		start := m.cell(tblTypeDef, t, 5) // MethodList, 1-based
		end := methods + 1
		if t+1 < types {
			end = m.cell(tblTypeDef, t+1, 5)
		}
		if start == 0 {
			continue
		}

		name := m.str(m.cell(tblTypeDef, t, 1))
		namespace := m.str(m.cell(tblTypeDef, t, 2))
		display := name
		if namespace != "" {
			display = namespace + "." + name
		}

		for row := start; row < end && row <= methods; row++ {
			owners[row-1] = display
		}
	}
	return owners
}

// str resolves an index into the #Strings heap.
func (m *metadataReader) str(idx uint32) string {
	if idx >= uint32(len(m.strings)) {
		return ""
	}
	rest := m.strings[idx:]
	if end := bytes.IndexByte(rest, 0); end >= 0 {
		return string(rest[:end])
	}
	return string(rest)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
