package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	root := NewRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	return buf, root.Execute()
}

func TestRootCmd_NoArgsShowsHelp(t *testing.T) {
	buf, err := newTestRoot(t)

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "checklibimport")
	assert.Contains(t, buf.String(), "Usage:")
}

func TestRootCmd_UnknownFlagIsUsageError(t *testing.T) {
	_, err := newTestRoot(t, "--frobnicate")

	require.Error(t, err)
	assert.True(t, errors.Is(err, errUsage), "unknown flags map to usage errors")
}

func TestRootCmd_SubcommandsRegistered(t *testing.T) {
	root := NewRootCmd()

	for _, name := range []string{"check", "config", "exports", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestExitCodeMapping(t *testing.T) {
	assert.Equal(t, 0, exitOK)
	assert.Equal(t, 1, exitFindings)
	assert.Equal(t, 2, exitUsage)
}
