package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/tickerscope/internal/cli"
)

func TestRun(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TICKERSCOPE_CONFIG", "")
	t.Setenv("TICKERSCOPE_LOG_LEVEL", "error")

	t.Run("cache info", func(t *testing.T) {
		err := run(context.Background(), []string{"--cache-dir", t.TempDir(), "cache", "info"})
		require.NoError(t, err)
	})

	t.Run("unknown command", func(t *testing.T) {
		err := run(context.Background(), []string{"portfolio"})
		require.Error(t, err)
	})

	t.Run("missing config", func(t *testing.T) {
		err := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "x.yaml"), "cache", "stats"})
		require.Error(t, err)
	})
}

func TestMainComponents(t *testing.T) {
	root := cli.NewRootCmd(version)
	assert.Equal(t, "tickerscope", root.Use)
	assert.Equal(t, version, root.Version)

	cacheCmd, _, err := root.Find([]string{"c", "stats"})
	require.NoError(t, err)
	assert.Equal(t, "stats", cacheCmd.Name())
}
