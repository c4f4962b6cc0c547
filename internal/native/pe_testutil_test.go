package native

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildPE synthesizes a minimal but valid 64-bit PE image whose export
// directory names exactly the given symbols. Used so the export parser and
// the resolver can be exercised on any host without fixture binaries.
func buildPE(t *testing.T, exports ...string) []byte {
	t.Helper()

	const (
		sectionRVA  = 0x1000
		rawOffset   = 0x200
		exportBase  = 1
		dllName     = "synthetic.dll"
		optHdrMagic = 0x20b
	)

	le := binary.LittleEndian
	n := uint32(len(exports))

	// Section content layout, all RVAs relative to sectionRVA.
	dirSize := uint32(binary.Size(exportDirectory{}))
	funcsOff := dirSize
	namesOff := funcsOff + 4*n
	ordsOff := namesOff + 4*n
	strsOff := ordsOff + 2*n

	var strs bytes.Buffer
	dllNameRVA := sectionRVA + strsOff
	strs.WriteString(dllName)
	strs.WriteByte(0)

	nameRVAs := make([]uint32, n)
	for i, name := range exports {
		nameRVAs[i] = sectionRVA + strsOff + uint32(strs.Len())
		strs.WriteString(name)
		strs.WriteByte(0)
	}

	var sect bytes.Buffer
	require.NoError(t, binary.Write(&sect, le, exportDirectory{
		Name:                  dllNameRVA,
		Base:                  exportBase,
		NumberOfFunctions:     n,
		NumberOfNames:         n,
		AddressOfFunctions:    sectionRVA + funcsOff,
		AddressOfNames:        sectionRVA + namesOff,
		AddressOfNameOrdinals: sectionRVA + ordsOff,
	}))
	for i := uint32(0); i < n; i++ {
		require.NoError(t, binary.Write(&sect, le, uint32(0x2000+i))) // function RVAs, unread
	}
	for i := uint32(0); i < n; i++ {
		require.NoError(t, binary.Write(&sect, le, nameRVAs[i]))
	}
	for i := uint32(0); i < n; i++ {
		require.NoError(t, binary.Write(&sect, le, uint16(i)))
	}
	sect.Write(strs.Bytes())

	sectSize := uint32(sect.Len())
	rawSize := (sectSize + 0x1ff) &^ uint32(0x1ff)

	var buf bytes.Buffer

	// DOS stub: "MZ", then e_lfanew at 0x3c pointing at the PE signature.
	dos := make([]byte, 0x40)
	dos[0], dos[1] = 'M', 'Z'
	le.PutUint32(dos[0x3c:], 0x40)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	require.NoError(t, binary.Write(&buf, le, pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(pe.OptionalHeader64{})),
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_DLL,
	}))

	var opt pe.OptionalHeader64
	opt.Magic = optHdrMagic
	opt.ImageBase = 0x180000000
	opt.SectionAlignment = 0x1000
	opt.FileAlignment = 0x200
	opt.SizeOfImage = sectionRVA + ((sectSize + 0xfff) &^ uint32(0xfff))
	opt.SizeOfHeaders = rawOffset
	opt.NumberOfRvaAndSizes = 16
	opt.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT] = pe.DataDirectory{
		VirtualAddress: sectionRVA,
		Size:           sectSize,
	}
	require.NoError(t, binary.Write(&buf, le, opt))

	var name [8]byte
	copy(name[:], ".edata")
	require.NoError(t, binary.Write(&buf, le, pe.SectionHeader32{
		Name:             name,
		VirtualSize:      sectSize,
		VirtualAddress:   sectionRVA,
		SizeOfRawData:    rawSize,
		PointerToRawData: rawOffset,
		Characteristics:  0x40000040, // initialized data, readable
	}))

	// Pad headers to the raw section offset, then append section data.
	buf.Write(make([]byte, int(rawOffset)-buf.Len()))
	buf.Write(sect.Bytes())
	buf.Write(make([]byte, int(rawSize-sectSize)))

	return buf.Bytes()
}

// writePE writes a synthetic PE exporting the given symbols into dir under
// fileName and returns its path.
func writePE(t *testing.T, dir, fileName string, exports ...string) string {
	t.Helper()
	path := filepath.Join(dir, fileName)
	require.NoError(t, os.WriteFile(path, buildPE(t, exports...), 0o644))
	return path
}
