package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"redgraph/engine/internal/config"
	"redgraph/engine/internal/errors"
	"redgraph/engine/internal/precalc"
)

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Run the engine continuously on the configured interval",
	Long: `Starts the background precalculation loop: an immediate run, then one
per interval until interrupted. Configuration is re-read before every run,
so toggling enabled, the cadence, or force_full_rebuild takes effect on
the next cycle without a restart.`,
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

		reload := func() (*config.Config, error) { return config.Load(configPath) }
		ticker := precalc.NewTicker(st, cfg.Precalc, reload, log)
		ticker.Start(ctx)
		fmt.Printf("engine loop started, interval %s (ctrl-c to stop)\n", cfg.Precalc.Interval())

		<-ctx.Done()
		ticker.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loopCmd)
}
