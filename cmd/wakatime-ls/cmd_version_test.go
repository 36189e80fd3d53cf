package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "wakatime-ls dev")
}

func TestRootFlags(t *testing.T) {
	for _, name := range []string{"wakatime-cli", "log-file", "log-level", "options", "metrics-addr"} {
		assert.NotNil(t, rootCmd.Flags().Lookup(name), name)
	}
}
