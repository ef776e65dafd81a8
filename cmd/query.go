package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"redgraph/engine/internal/query"
	"redgraph/engine/internal/store"
)

var (
	queryJSON      bool
	queryTypes     []string
	queryNodeCap   int
	queryLinkCap   int
	queryPositions bool
	queryCursor    string
	queryLimit     int
	queryBounds    []float64
	queryLevel     int
	querySince     int64
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Read the materialized graph",
}

// queryService builds the read-side service from the shared setup.
func queryService() (*query.Service, *store.Store, error) {
	cfg, st, log, err := setup()
	if err != nil {
		return nil, nil, err
	}
	return query.NewService(st, cfg.Query, log), st, nil
}

func emitJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var querySnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capped full-graph snapshot: top nodes by weight plus links among them",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := queryService()
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := svc.Snapshot(context.Background(), query.SnapshotRequest{
			NodeCap:       queryNodeCap,
			LinkCap:       queryLinkCap,
			Types:         queryTypes,
			WithPositions: queryPositions,
		})
		if err != nil {
			return err
		}
		if queryJSON {
			return emitJSON(res)
		}
		if res.VersionID != nil {
			fmt.Printf("version %d\n", *res.VersionID)
		}
		fmt.Printf("%d nodes, %d links\n", len(res.Nodes), len(res.Links))
		for _, n := range res.Nodes {
			fmt.Printf("  %-30s %-10s val=%.2f\n", n.ID, n.NodeType, n.Val)
		}
		return nil
	},
}

var queryPageCmd = &cobra.Command{
	Use:   "page",
	Short: "One cursor page of nodes, heaviest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := queryService()
		if err != nil {
			return err
		}
		defer st.Close()

		page, err := svc.NodesPage(context.Background(), queryCursor, queryLimit, queryTypes)
		if err != nil {
			return err
		}
		if queryJSON {
			return emitJSON(page)
		}
		for _, n := range page.Nodes {
			fmt.Printf("  %-30s %-10s val=%.2f\n", n.ID, n.NodeType, n.Val)
		}
		if page.NextCursor != "" {
			fmt.Printf("next: --cursor %s\n", page.NextCursor)
		}
		return nil
	},
}

var queryBoxCmd = &cobra.Command{
	Use:   "box",
	Short: "Nodes inside a viewport bounding box (minX maxX minY maxY [minZ maxZ])",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(queryBounds) != 4 && len(queryBounds) != 6 {
			return fmt.Errorf("--bounds needs 4 (2D) or 6 (3D) values, got %d", len(queryBounds))
		}
		svc, st, err := queryService()
		if err != nil {
			return err
		}
		defer st.Close()

		req := query.BoxRequest{
			MinX: queryBounds[0], MaxX: queryBounds[1],
			MinY: queryBounds[2], MaxY: queryBounds[3],
			Types: queryTypes,
			Limit: queryLimit,
		}
		if len(queryBounds) == 6 {
			req.MinZ, req.MaxZ = &queryBounds[4], &queryBounds[5]
		}
		nodes, err := svc.Box(context.Background(), req)
		if err != nil {
			return err
		}
		if queryJSON {
			return emitJSON(nodes)
		}
		for _, n := range nodes {
			fmt.Printf("  %-30s (%.1f, %.1f, %.1f) val=%.2f\n",
				n.ID, deref(n.PosX), deref(n.PosY), deref(n.PosZ), n.Val)
		}
		return nil
	},
}

var querySearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Fuzzy name/id search, exact matches first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := queryService()
		if err != nil {
			return err
		}
		defer st.Close()

		nodes, err := svc.Search(context.Background(), args[0], queryLimit)
		if err != nil {
			return err
		}
		if queryJSON {
			return emitJSON(nodes)
		}
		for _, n := range nodes {
			fmt.Printf("  %-30s %-10s %s\n", n.ID, n.NodeType, n.Name)
		}
		return nil
	},
}

var queryNeighborsCmd = &cobra.Command{
	Use:   "neighbors <node-id>",
	Short: "Adjacent nodes ranked by shared-link count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := queryService()
		if err != nil {
			return err
		}
		defer st.Close()

		neighbors, err := svc.Neighbors(context.Background(), args[0], queryLimit)
		if err != nil {
			return err
		}
		if queryJSON {
			return emitJSON(neighbors)
		}
		for _, n := range neighbors {
			fmt.Printf("  %s\n", n)
		}
		return nil
	},
}

var queryCommunitiesCmd = &cobra.Command{
	Use:   "communities",
	Short: "List detected communities",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := queryService()
		if err != nil {
			return err
		}
		defer st.Close()

		communities, err := svc.Communities(context.Background())
		if err != nil {
			return err
		}
		if queryJSON {
			return emitJSON(communities)
		}
		for _, c := range communities {
			fmt.Printf("  %4d  size=%-5d q=%.4f  %s\n", c.ID, c.Size, c.Modularity, c.Label)
		}
		return nil
	},
}

var queryMembersCmd = &cobra.Command{
	Use:   "members <community-id>",
	Short: "List a community's member nodes, heaviest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("community id must be an integer: %s", args[0])
		}
		svc, st, err := queryService()
		if err != nil {
			return err
		}
		defer st.Close()

		nodes, err := svc.CommunityMembers(context.Background(), id)
		if err != nil {
			return err
		}
		if queryJSON {
			return emitJSON(nodes)
		}
		for _, n := range nodes {
			fmt.Printf("  %-30s %-10s val=%.2f\n", n.ID, n.NodeType, n.Val)
		}
		return nil
	},
}

var queryHierarchyCmd = &cobra.Command{
	Use:   "hierarchy",
	Short: "Node-to-community assignments at one hierarchy level",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := queryService()
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := svc.HierarchyLevel(context.Background(), queryLevel)
		if err != nil {
			return err
		}
		if queryJSON {
			return emitJSON(entries)
		}
		for _, e := range entries {
			parent := "-"
			if e.ParentCommunityID != nil {
				parent = strconv.FormatInt(*e.ParentCommunityID, 10)
			}
			fmt.Printf("  %-30s community=%d parent=%s\n", e.NodeID, e.CommunityID, parent)
		}
		return nil
	},
}

var queryBundlesCmd = &cobra.Command{
	Use:   "bundles",
	Short: "Cross-community edge bundles with control points",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := queryService()
		if err != nil {
			return err
		}
		defer st.Close()

		bundles, err := svc.Bundles(context.Background())
		if err != nil {
			return err
		}
		if queryJSON {
			return emitJSON(bundles)
		}
		for _, b := range bundles {
			fmt.Printf("  %d <-> %d  weight=%.2f avg=%.2f ctrl=(%.1f, %.1f, %.1f)\n",
				b.CommunityA, b.CommunityB, b.Weight, b.AvgStrength, b.CtrlX, b.CtrlY, b.CtrlZ)
		}
		return nil
	},
}

var queryDiffsCmd = &cobra.Command{
	Use:   "diffs",
	Short: "Diffs of completed versions newer than --since, in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, st, err := queryService()
		if err != nil {
			return err
		}
		defer st.Close()

		diffs, err := svc.DiffsSince(context.Background(), querySince)
		if err != nil {
			return err
		}
		if queryJSON {
			return emitJSON(diffs)
		}
		for _, d := range diffs {
			fmt.Printf("  v%-5d %-6s %-4s %s\n", d.VersionID, d.Action, d.EntityType, d.EntityID)
		}
		return nil
	},
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func init() {
	queryCmd.PersistentFlags().BoolVar(&queryJSON, "json", false, "Output as JSON")
	queryCmd.PersistentFlags().StringSliceVar(&queryTypes, "types", nil, "Restrict to node types (subreddit, user, post, comment)")
	queryCmd.PersistentFlags().IntVar(&queryLimit, "limit", 0, "Result limit (0 = configured default)")

	querySnapshotCmd.Flags().IntVar(&queryNodeCap, "nodes", 0, "Node cap (0 = configured default, negative = none)")
	querySnapshotCmd.Flags().IntVar(&queryLinkCap, "links", 0, "Link cap (0 = configured default, negative = none)")
	querySnapshotCmd.Flags().BoolVar(&queryPositions, "with-positions", false, "Include precomputed layout positions")

	queryPageCmd.Flags().StringVar(&queryCursor, "cursor", "", "Resume cursor from a previous page")
	queryBoxCmd.Flags().Float64SliceVar(&queryBounds, "bounds", nil, "minX,maxX,minY,maxY[,minZ,maxZ]")
	queryHierarchyCmd.Flags().IntVar(&queryLevel, "level", 0, "Hierarchy level (0 = finest)")
	queryDiffsCmd.Flags().Int64Var(&querySince, "since", 0, "Client's current version id")

	queryCmd.AddCommand(querySnapshotCmd, queryPageCmd, queryBoxCmd, querySearchCmd,
		queryNeighborsCmd, queryCommunitiesCmd, queryMembersCmd, queryHierarchyCmd,
		queryBundlesCmd, queryDiffsCmd)
	rootCmd.AddCommand(queryCmd)
}
