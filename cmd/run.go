package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"redgraph/engine/internal/errors"
	"redgraph/engine/internal/precalc"
)

var runFull bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one precalculation run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, log, err := setup()
		if err != nil {
			return err
		}
		defer st.Close()

		if !cfg.Enabled {
			return errors.Wrap(errors.ErrDisabled, "engine is disabled in configuration")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := precalc.NewRunner(st, cfg.Precalc, log).Run(ctx, runFull)
		if err != nil {
			return err
		}
		if res.Skipped {
			fmt.Println("run skipped (no changes or lease held)")
			return nil
		}
		fmt.Printf("version %d: %d nodes, %d links, %d diffs, full=%v, converged=%v, took %s\n",
			res.VersionID, res.NodeCount, res.LinkCount, res.DiffCount,
			res.Full, res.Converged, res.Duration.Round(1e6))
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runFull, "full", false, "Force a full rebuild instead of an incremental run")
	rootCmd.AddCommand(runCmd)
}
