package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "redgraph.db", cfg.DatabasePath)
	assert.Equal(t, 300, cfg.Precalc.IntervalSeconds)
	assert.Equal(t, 4, cfg.Precalc.Workers)
	assert.Equal(t, 120, cfg.Precalc.LayoutIterations)
	assert.Equal(t, 3, cfg.Precalc.HierarchyLevels)
	assert.Equal(t, 10, cfg.Precalc.RetainVersions)
	assert.Equal(t, 2000, cfg.Query.DefaultNodeCap)
	assert.Equal(t, 500, cfg.Query.MaxPageSize)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
enabled = false
database_path = "/tmp/custom.db"

[precalc]
interval_seconds = 60
workers = 8

[query]
max_page_size = 100
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "/tmp/custom.db", cfg.DatabasePath)
	assert.Equal(t, 60, cfg.Precalc.IntervalSeconds)
	assert.Equal(t, 8, cfg.Precalc.Workers)
	assert.Equal(t, 100, cfg.Query.MaxPageSize)
	// Untouched keys keep their defaults.
	assert.Equal(t, 600, cfg.Precalc.LeaseTTLSeconds)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("REDGRAPH_PRECALC_WORKERS", "16")
	path := writeConfig(t, "[precalc]\nworkers = 8\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Precalc.Workers)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"zero workers":    "[precalc]\nworkers = 0\n",
		"zero interval":   "[precalc]\ninterval_seconds = 0\n",
		"zero retain":     "[precalc]\nretain_versions = 0\n",
		"zero hierarchy":  "[precalc]\nhierarchy_levels = 0\n",
		"negative worker": "[precalc]\nworkers = -2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestDurations(t *testing.T) {
	p := PrecalcConfig{IntervalSeconds: 90, LeaseTTLSeconds: 600}
	assert.Equal(t, 90*time.Second, p.Interval())
	assert.Equal(t, 10*time.Minute, p.LeaseTTL())
}
