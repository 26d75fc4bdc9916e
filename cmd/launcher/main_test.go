package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersInstanceFlag(t *testing.T) {
	cmd := newRootCommand()

	flag := cmd.Flags().Lookup("instance")
	require.NotNil(t, flag)
	assert.Equal(t, "i", flag.Shorthand)
	assert.Equal(t, "", flag.DefValue)
}

func TestRootCommandRunsWithoutAnInstanceFlag(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{})
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	err := cmd.Execute()
	assert.NoError(t, err)
}
