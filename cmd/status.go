package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Engine state: watermark, current version, last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, _, err := setup()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		fmt.Printf("  enabled:   %v\n", cfg.Enabled)
		fmt.Printf("  database:  %s\n", st.Path)
		fmt.Printf("  interval:  %s\n", cfg.Precalc.Interval())

		seq, err := st.CurrentChangeSeq(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("  change seq: %d\n", seq)

		state, err := st.GetPrecalcState(ctx)
		if err != nil {
			return err
		}
		if state == nil {
			fmt.Println("  no completed run yet (next run is a full rebuild)")
			return nil
		}

		fmt.Printf("  watermark:  %d (%d changes pending)\n", state.LastRunSeq, seq-state.LastRunSeq)
		if state.CurrentVersionID != nil {
			v, err := st.GetVersion(ctx, *state.CurrentVersionID)
			if err != nil {
				return err
			}
			fmt.Printf("  version:    %d (%s, nodes=%d links=%d diffs=%d)\n",
				v.ID, v.Status, v.NodeCount, v.LinkCount, v.DiffCount)
		}
		if state.LastRunAt != nil {
			fmt.Printf("  last run:   %s\n", fmtMilli(*state.LastRunAt))
		}
		if state.LastFullRebuildAt != nil {
			fmt.Printf("  last full:  %s\n", fmtMilli(*state.LastFullRebuildAt))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
