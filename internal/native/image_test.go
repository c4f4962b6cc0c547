package native

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklutz/CheckLibraryImport/internal/errors"
)

func TestParseImageExports_PE(t *testing.T) {
	dir := t.TempDir()
	path := writePE(t, dir, "sample.dll", "LogonUserW", "RegCloseKey")

	set, err := parseImageExports(path)
	require.NoError(t, err)
	assert.True(t, set.Has("LogonUserW"))
	assert.True(t, set.Has("RegCloseKey"))
	assert.Equal(t, 2, set.Len())
}

func TestParseImageExports_PEWithoutExports(t *testing.T) {
	dir := t.TempDir()
	path := writePE(t, dir, "mute.dll")

	set, err := parseImageExports(path)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestParseImageExports_MissingFile(t *testing.T) {
	_, err := parseImageExports(filepath.Join(t.TempDir(), "absent.dll"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetCode(err))
}

func TestParseImageExports_TooShort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stub.dll")
	require.NoError(t, os.WriteFile(path, []byte{'M'}, 0o644))

	_, err := parseImageExports(path)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeMalformedImage, errors.GetCode(err))
}

func TestParseImageExports_UnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notalib.dll")
	require.NoError(t, os.WriteFile(path, []byte("this is not an image at all"), 0o644))

	_, err := parseImageExports(path)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnsupportedImage, errors.GetCode(err))
}

func TestParseImageExports_TruncatedPE(t *testing.T) {
	full := buildPE(t, "SomeExport")
	path := filepath.Join(t.TempDir(), "cut.dll")
	require.NoError(t, os.WriteFile(path, full[:0x80], 0o644))

	_, err := parseImageExports(path)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeMalformedImage, errors.GetCode(err))
}

func TestParseImageExports_ExportDirectoryOutsideSections(t *testing.T) {
	img := buildPE(t, "SomeExport")
	// Corrupt the export data directory RVA. The optional header starts at
	// 0x58 (DOS stub 0x40 + signature 4 + file header 20) and PE32+ places
	// the data directories 112 bytes in, so entry 0 sits at 0xc8.
	const exportDirOffset = 0x58 + 112
	binary.LittleEndian.PutUint32(img[exportDirOffset:], 0x7fff0000)

	path := filepath.Join(t.TempDir(), "wild.dll")
	require.NoError(t, os.WriteFile(path, img, 0o644))

	_, err := parseImageExports(path)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeMalformedImage, errors.GetCode(err))
}

// TestParseImageExports_SystemELF exercises the ELF path against the host
// libc when one is present at a conventional location.
func TestParseImageExports_SystemELF(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ELF system library test requires linux")
	}
	candidates := []string{
		"/lib/x86_64-linux-gnu/libc.so.6",
		"/usr/lib/x86_64-linux-gnu/libc.so.6",
		"/lib64/libc.so.6",
		"/usr/lib64/libc.so.6",
		"/lib/aarch64-linux-gnu/libc.so.6",
	}
	var path string
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			path = c
			break
		}
	}
	if path == "" {
		t.Skip("no libc.so.6 found at conventional locations")
	}

	set, err := parseImageExports(path)
	require.NoError(t, err)
	assert.True(t, set.Has("getpid"))
	assert.Greater(t, set.Len(), 100)
}
