package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redgraph/engine/internal/config"
)

func TestFmtMilli(t *testing.T) {
	ref := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	got, err := time.Parse(time.RFC3339, fmtMilli(ref.UnixMilli()))
	require.NoError(t, err)
	assert.True(t, got.Equal(ref), "millisecond timestamps must round-trip, got %s", got)
}

func TestDiscoverDB_EnvWins(t *testing.T) {
	t.Setenv("REDGRAPH_DB", "/tmp/env.db")
	path, err := DiscoverDB(&config.Config{DatabasePath: "configured.db"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", path)
}

func TestDiscoverDB_FlagBeatsConfig(t *testing.T) {
	t.Setenv("REDGRAPH_DB", "")
	dbPath = "/tmp/flag.db"
	t.Cleanup(func() { dbPath = "" })

	path, err := DiscoverDB(&config.Config{DatabasePath: "configured.db"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flag.db", path)
}

func TestDiscoverDB_WalkUpBeatsConfigDefault(t *testing.T) {
	t.Setenv("REDGRAPH_DB", "")
	// Getwd resolves symlinks, so the expectation must too.
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	existing := filepath.Join(root, ".redgraph.db")
	require.NoError(t, os.WriteFile(existing, nil, 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	// The config default must not shadow a database found by walking up.
	path, discoverErr := DiscoverDB(&config.Config{DatabasePath: "redgraph.db"})
	require.NoError(t, discoverErr)
	assert.Equal(t, existing, path)
}

func TestDiscoverDB_ConfigIsLastResort(t *testing.T) {
	t.Setenv("REDGRAPH_DB", "")
	t.Chdir(t.TempDir())

	path, err := DiscoverDB(&config.Config{DatabasePath: "redgraph.db"})
	require.NoError(t, err)
	assert.Equal(t, "redgraph.db", path)
}
