package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"redgraph/engine/internal/config"
	"redgraph/engine/internal/logging"
	"redgraph/engine/internal/store"
)

var (
	dbPath     string
	configPath string
	verbose    bool
	jsonLog    bool
)

var rootCmd = &cobra.Command{
	Use:   "redgraph",
	Short: "Incremental graph precalculation and query serving",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the engine database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to engine.toml")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Debug-level logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "JSON log output")
}

// DiscoverDB finds the database path using priority: env > flag > walk-up
// > config. The walk-up runs before the configured path because the
// config always carries a default; checking it first would make an
// existing project database invisible.
func DiscoverDB(cfg *config.Config) (string, error) {
	// 1. Environment variable
	if envPath := os.Getenv("REDGRAPH_DB"); envPath != "" {
		return envPath, nil
	}

	// 2. CLI flag
	if dbPath != "" {
		return dbPath, nil
	}

	// 3. Walk up from CWD for an existing database
	dir, err := os.Getwd()
	if err == nil {
		for {
			candidate := filepath.Join(dir, ".redgraph.db")
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	// 4. Configured path (has a default, so this normally terminates)
	if cfg != nil && cfg.DatabasePath != "" {
		return cfg.DatabasePath, nil
	}

	return "", fmt.Errorf("no database found (set REDGRAPH_DB, use --db, or configure database_path)")
}

// fmtMilli renders a Unix-millisecond timestamp for CLI output.
func fmtMilli(ms int64) string {
	return time.UnixMilli(ms).Format(time.RFC3339)
}

// setup loads config, builds the logger, and opens the store.
func setup() (*config.Config, *store.Store, *zap.SugaredLogger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := logging.New(verbose, jsonLog)
	if err != nil {
		return nil, nil, nil, err
	}
	path, err := DiscoverDB(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.Open(path, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, st, log, nil
}
