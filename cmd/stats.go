package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Graph structure: totals, components, degree distribution, hubs",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := queryService()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := svc.Stats(context.Background())
		if err != nil {
			return err
		}

		if statsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		t := stats.Topology
		if stats.VersionID != nil {
			fmt.Printf("\n  Version: %d", *stats.VersionID)
			if stats.LastRunAt != nil {
				fmt.Printf("  (last run %s)", fmtMilli(*stats.LastRunAt))
			}
			fmt.Println()
		}

		fmt.Println("\n  TOPOLOGY")
		fmt.Println("  ----------------------------------------")
		fmt.Printf("  Nodes: %d  Links: %d  Components: %d\n", t.TotalNodes, t.TotalLinks, t.NumComponents)
		fmt.Printf("  Largest component: %d  Smallest: %d\n", t.LargestComponent, t.SmallestComponent)
		if t.IsolatedCount > 0 {
			fmt.Printf("  Isolated nodes: %d\n", t.IsolatedCount)
		}

		fmt.Println("\n  NODES BY TYPE")
		for _, nodeType := range []string{"subreddit", "user", "post", "comment"} {
			if n := t.NodesByType[nodeType]; n > 0 {
				fmt.Printf("  %-10s %d\n", nodeType, n)
			}
		}

		if len(t.LinksByKind) > 0 {
			fmt.Println("\n  LINKS BY KIND")
			for kind, n := range t.LinksByKind {
				fmt.Printf("  %-12s %d\n", kind, n)
			}
		}

		fmt.Println("\n  DEGREE DISTRIBUTION")
		for _, b := range t.DegreeHistogram {
			fmt.Printf("  %-8s %d\n", b.Label, b.Count)
		}

		if len(t.Hubs) > 0 {
			fmt.Println("\n  HUBS")
			for _, h := range t.Hubs {
				fmt.Printf("  %-30s degree=%d\n", h.ID, h.Degree)
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(statsCmd)
}
