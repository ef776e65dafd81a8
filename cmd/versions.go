package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	versionsJSON  bool
	versionsLimit int
	versionsKeep  int
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Inspect and prune recorded graph versions",
}

var versionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Recent versions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := queryService()
		if err != nil {
			return err
		}
		defer st.Close()

		versions, err := svc.Versions(context.Background(), versionsLimit)
		if err != nil {
			return err
		}
		if versionsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(versions)
		}
		for _, v := range versions {
			mode := "incremental"
			if v.FullRebuild {
				mode = "full"
			}
			dur := "-"
			if v.DurationMS != nil {
				dur = (time.Duration(*v.DurationMS) * time.Millisecond).String()
			}
			fmt.Printf("  %4d  %-10s %-12s nodes=%-6d links=%-6d diffs=%-5d %s\n",
				v.ID, v.Status, mode, v.NodeCount, v.LinkCount, v.DiffCount, dur)
		}
		return nil
	},
}

var versionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete versions beyond the retained count (never the current one)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, _, err := setup()
		if err != nil {
			return err
		}
		defer st.Close()

		keep := versionsKeep
		if keep <= 0 {
			keep = cfg.Precalc.RetainVersions
		}
		pruned, err := st.PruneVersions(context.Background(), keep)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d versions, keeping %d\n", pruned, keep)
		return nil
	},
}

func init() {
	versionsCmd.PersistentFlags().BoolVar(&versionsJSON, "json", false, "Output as JSON")
	versionsListCmd.Flags().IntVar(&versionsLimit, "limit", 20, "Number of versions to show")
	versionsPruneCmd.Flags().IntVar(&versionsKeep, "keep", 0, "Versions to retain (0 = configured default)")

	versionsCmd.AddCommand(versionsListCmd, versionsPruneCmd)
	rootCmd.AddCommand(versionsCmd)
}
