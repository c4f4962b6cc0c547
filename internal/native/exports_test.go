package native

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklutz/CheckLibraryImport/internal/errors"
)

func TestExportSet(t *testing.T) {
	set := NewExportSet([]string{"LogonUserW", "LogonUserA", "RegOpenKeyExW"})

	assert.Equal(t, 3, set.Len())
	assert.True(t, set.Has("LogonUserW"))
	assert.False(t, set.Has("LogonUser"))
	assert.False(t, set.Has("logonuserw")) // matching is case-sensitive
	assert.Equal(t, []string{"LogonUserA", "LogonUserW", "RegOpenKeyExW"}, set.Names())
}

func TestExportsOf_CachedAfterFirstRead(t *testing.T) {
	var parses atomic.Int32
	reader, err := newExportReader(func(path string) (*ExportSet, error) {
		parses.Add(1)
		return NewExportSet([]string{"CreateFileW"}), nil
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		set, err := reader.ExportsOf("/fake/kernel32.dll")
		require.NoError(t, err)
		assert.True(t, set.Has("CreateFileW"))
	}

	assert.Equal(t, int32(1), parses.Load())
}

func TestExportsOf_DistinctPathsParsedSeparately(t *testing.T) {
	var parses atomic.Int32
	reader, err := newExportReader(func(path string) (*ExportSet, error) {
		parses.Add(1)
		return NewExportSet([]string{path}), nil
	})
	require.NoError(t, err)

	a, err := reader.ExportsOf("/fake/a.dll")
	require.NoError(t, err)
	b, err := reader.ExportsOf("/fake/b.dll")
	require.NoError(t, err)

	assert.True(t, a.Has("/fake/a.dll"))
	assert.True(t, b.Has("/fake/b.dll"))
	assert.Equal(t, int32(2), parses.Load())
}

func TestExportsOf_ConcurrentReadersParseOnce(t *testing.T) {
	var parses atomic.Int32
	gate := make(chan struct{})
	reader, err := newExportReader(func(path string) (*ExportSet, error) {
		<-gate // hold the winner so losers pile up on the same flight
		parses.Add(1)
		return NewExportSet([]string{"DispatchMessageW"}), nil
	})
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*ExportSet, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := reader.ExportsOf("/fake/user32.dll")
			assert.NoError(t, err)
			results[i] = set
		}(i)
	}
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), parses.Load())
	for _, set := range results {
		require.NotNil(t, set)
		assert.True(t, set.Has("DispatchMessageW"))
	}
}

func TestExportsOf_ParseFailureIsSticky(t *testing.T) {
	var parses atomic.Int32
	reader, err := newExportReader(func(path string) (*ExportSet, error) {
		parses.Add(1)
		return nil, errors.Newf(errors.ErrCodeMalformedImage, "%s: truncated image", path)
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := reader.ExportsOf("/fake/corrupt.dll")
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeMalformedImage, errors.GetCode(err))
	}

	// Malformed images are not retried.
	assert.Equal(t, int32(1), parses.Load())
}

func TestExportsOf_RealPEImage(t *testing.T) {
	dir := t.TempDir()
	path := writePE(t, dir, "sample.dll", "LogonUserW", "LogonUserA")

	reader, err := NewExportReader()
	require.NoError(t, err)

	set, err := reader.ExportsOf(path)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Has("LogonUserW"))
	assert.True(t, set.Has("LogonUserA"))
	assert.False(t, set.Has("LogonUser"))
}
