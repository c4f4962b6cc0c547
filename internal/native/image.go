package native

import (
	"io"
	"os"

	"github.com/cklutz/CheckLibraryImport/internal/errors"
)

// Magic numbers distinguishing the supported image formats.
var (
	magicMZ    = []byte{'M', 'Z'}
	magicELF   = []byte{0x7f, 'E', 'L', 'F'}
	machoMagic = map[uint32]bool{
		0xfeedface: true, // 32-bit
		0xfeedfacf: true, // 64-bit
		0xcefaedfe: true, // 32-bit, byte-swapped
		0xcffaedfe: true, // 64-bit, byte-swapped
		0xcafebabe: true, // fat
		0xbebafeca: true, // fat, byte-swapped
	}
)

// parseImageExports opens the library image at path and extracts its named
// exports. The image format is selected by magic: PE export directory, ELF
// dynamic symbols, or Mach-O external defined symbols.
func parseImageExports(path string) (*ExportSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileNotFound, err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, errors.Newf(errors.ErrCodeMalformedImage,
			"%s: file too short to be a library image", path)
	}

	var names []string
	switch {
	case magic[0] == magicMZ[0] && magic[1] == magicMZ[1]:
		names, err = peExports(f)
	case string(magic[:]) == string(magicELF):
		names, err = elfExports(f)
	case machoMagic[beUint32(magic[:])]:
		names, err = machoExports(f)
	default:
		return nil, errors.Newf(errors.ErrCodeUnsupportedImage,
			"%s: not a recognized library image format", path)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedImage, err).WithDetail("path", path)
	}
	return NewExportSet(names), nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
