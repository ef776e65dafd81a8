// Package config loads engine settings with Viper.
//
// Precedence: defaults < config file (engine.toml, discovered by walking up
// from the working directory) < REDGRAPH_* environment variables. The loop
// re-reads configuration before each run, never mid-run.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"redgraph/engine/internal/errors"
)

// Config holds every engine setting.
type Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	DatabasePath string `mapstructure:"database_path"`

	// Precalc settings, read once per run.
	Precalc PrecalcConfig `mapstructure:"precalc"`

	// Query-side caps.
	Query QueryConfig `mapstructure:"query"`
}

// PrecalcConfig controls one precalculation run.
type PrecalcConfig struct {
	IntervalSeconds  int  `mapstructure:"interval_seconds"`
	ForceFullRebuild bool `mapstructure:"force_full_rebuild"`
	Workers          int  `mapstructure:"workers"`
	LeaseTTLSeconds  int  `mapstructure:"lease_ttl_seconds"`

	LayoutIterations int `mapstructure:"layout_iterations"`
	HierarchyLevels  int `mapstructure:"hierarchy_levels"`
	MaxMergeSweeps   int `mapstructure:"max_merge_sweeps"`

	RetainVersions int `mapstructure:"retain_versions"`
}

// QueryConfig bounds the read path.
type QueryConfig struct {
	DefaultNodeCap int `mapstructure:"default_node_cap"`
	DefaultLinkCap int `mapstructure:"default_link_cap"`
	MaxPageSize    int `mapstructure:"max_page_size"`
}

// Interval returns the run cadence as a duration.
func (c PrecalcConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LeaseTTL returns the lease time-to-live as a duration.
func (c PrecalcConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

// SetDefaults configures default values for all settings.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("enabled", true)
	v.SetDefault("database_path", "redgraph.db")

	v.SetDefault("precalc.interval_seconds", 300)
	v.SetDefault("precalc.force_full_rebuild", false)
	v.SetDefault("precalc.workers", 4)
	v.SetDefault("precalc.lease_ttl_seconds", 600)
	v.SetDefault("precalc.layout_iterations", 120)
	v.SetDefault("precalc.hierarchy_levels", 3)
	v.SetDefault("precalc.max_merge_sweeps", 64)
	v.SetDefault("precalc.retain_versions", 10)

	v.SetDefault("query.default_node_cap", 2000)
	v.SetDefault("query.default_link_cap", 5000)
	v.SetDefault("query.max_page_size", 500)
}

// Load reads configuration from defaults, an optional engine.toml, and
// REDGRAPH_* environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("REDGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configPath == "" {
		configPath = findProjectConfig()
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", configPath)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Precalc.Workers < 1 {
		return errors.Newf("precalc.workers must be >= 1, got %d", c.Precalc.Workers)
	}
	if c.Precalc.IntervalSeconds < 1 {
		return errors.Newf("precalc.interval_seconds must be >= 1, got %d", c.Precalc.IntervalSeconds)
	}
	if c.Precalc.RetainVersions < 1 {
		return errors.Newf("precalc.retain_versions must be >= 1, got %d", c.Precalc.RetainVersions)
	}
	if c.Precalc.HierarchyLevels < 1 {
		return errors.Newf("precalc.hierarchy_levels must be >= 1, got %d", c.Precalc.HierarchyLevels)
	}
	return nil
}

// findProjectConfig walks up from the working directory looking for
// engine.toml. Returns "" when none exists.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, "engine.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
