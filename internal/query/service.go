// Package query is the read-only serving layer over the materialized
// graph tables. It never touches the write path: every call reads the
// last completed version's data, even while a run is in flight.
package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"

	"redgraph/engine/internal/config"
	"redgraph/engine/internal/errors"
	"redgraph/engine/internal/graph"
	"redgraph/engine/internal/store"
)

// Service answers graph queries with zero side effects.
type Service struct {
	store *store.Store
	cfg   config.QueryConfig
	log   *zap.SugaredLogger
}

// NewService creates a Service.
func NewService(st *store.Store, cfg config.QueryConfig, log *zap.SugaredLogger) *Service {
	return &Service{store: st, cfg: cfg, log: log}
}

// SnapshotRequest selects a capped view of the graph. Zero caps fall back
// to configured defaults; negative caps mean "return nothing".
type SnapshotRequest struct {
	NodeCap       int
	LinkCap       int
	Types         []string
	WithPositions bool
}

// SnapshotResult is a consistent node/link view: every link's endpoints
// are present in Nodes.
type SnapshotResult struct {
	Nodes     []store.GraphNode
	Links     []store.GraphLink
	VersionID *int64
}

// Snapshot returns the top nodes by weight plus the links among them.
// Nodes are capped first; links are then restricted to surviving
// endpoints. The reverse order would hand clients links into nodes they
// never received.
func (s *Service) Snapshot(ctx context.Context, req SnapshotRequest) (*SnapshotResult, error) {
	nodeCap := req.NodeCap
	if nodeCap == 0 {
		nodeCap = s.cfg.DefaultNodeCap
	}
	linkCap := req.LinkCap
	if linkCap == 0 {
		linkCap = s.cfg.DefaultLinkCap
	}

	res := &SnapshotResult{}
	if state, err := s.store.GetPrecalcState(ctx); err == nil && state != nil {
		res.VersionID = state.CurrentVersionID
	}

	if nodeCap < 0 {
		return res, nil
	}
	nodes, err := s.store.TopGraphNodes(ctx, req.Types, nodeCap)
	if err != nil {
		return nil, err
	}
	res.Nodes = nodes
	if len(nodes) == 0 || linkCap < 0 {
		return res, nil
	}

	ids := make([]string, len(nodes))
	for i := range nodes {
		ids[i] = nodes[i].ID
	}
	links, err := s.store.LinksAmong(ctx, ids, linkCap)
	if err != nil {
		return nil, err
	}
	res.Links = links

	if !req.WithPositions {
		stripPositions(res.Nodes)
	}
	return res, nil
}

// Page is one cursor page of nodes in descending-weight-then-id order.
type Page struct {
	Nodes []store.GraphNode
	// NextCursor is empty when the iteration is exhausted.
	NextCursor string
}

// NodesPage returns one page. An empty cursor starts from the top; the
// returned cursor resumes after the last node of this page.
func (s *Service) NodesPage(ctx context.Context, cursor string, limit int, types []string) (*Page, error) {
	if limit <= 0 || limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	var nodes []store.GraphNode
	var err error
	if cursor == "" {
		nodes, err = s.store.TopGraphNodes(ctx, types, limit)
	} else {
		var afterVal float64
		var afterID string
		afterVal, afterID, err = parseCursor(cursor)
		if err != nil {
			return nil, err
		}
		nodes, err = s.store.GraphNodesAfter(ctx, types, afterVal, afterID, limit)
	}
	if err != nil {
		return nil, err
	}

	page := &Page{Nodes: nodes}
	if len(nodes) == limit {
		last := nodes[len(nodes)-1]
		page.NextCursor = formatCursor(last.Val, last.ID)
	}
	return page, nil
}

// formatCursor encodes a pagination position as "weight:nodeId". Node ids
// never contain a colon.
func formatCursor(val float64, id string) string {
	return strconv.FormatFloat(val, 'g', -1, 64) + ":" + id
}

func parseCursor(cursor string) (float64, string, error) {
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return 0, "", errors.Wrapf(errors.ErrBadCursor, "cursor %q", cursor)
	}
	val, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, "", errors.Wrapf(errors.ErrBadCursor, "cursor %q", cursor)
	}
	return val, parts[1], nil
}

// BoxRequest is a viewport bounding box. MinZ/MaxZ both nil makes it 2D.
type BoxRequest struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ *float64
	Types      []string
	Limit      int
}

// Box returns positioned nodes inside the box, heaviest first.
func (s *Service) Box(ctx context.Context, req BoxRequest) ([]store.GraphNode, error) {
	if req.MinX > req.MaxX || req.MinY > req.MaxY {
		return nil, errors.Wrapf(errors.ErrBadBounds,
			"inverted range x=[%g,%g] y=[%g,%g]", req.MinX, req.MaxX, req.MinY, req.MaxY)
	}
	if (req.MinZ == nil) != (req.MaxZ == nil) {
		return nil, errors.Wrap(errors.ErrBadBounds, "z range needs both bounds")
	}
	if req.MinZ != nil && *req.MinZ > *req.MaxZ {
		return nil, errors.Wrapf(errors.ErrBadBounds, "inverted range z=[%g,%g]", *req.MinZ, *req.MaxZ)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultNodeCap
	}
	return s.store.GraphNodesInBox(ctx, req.MinX, req.MaxX, req.MinY, req.MaxY, req.MinZ, req.MaxZ, req.Types, limit)
}

// Search finds nodes by name or id: exact matches first, then fuzzy
// matches by rank, ties broken by weight then id.
func (s *Service) Search(ctx context.Context, q string, limit int) ([]store.GraphNode, error) {
	if limit <= 0 {
		limit = s.cfg.MaxPageSize
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}

	nodes, err := s.store.AllGraphNodes(ctx)
	if err != nil {
		return nil, err
	}

	type hit struct {
		node store.GraphNode
		// exact matches sort before any fuzzy rank
		exact bool
		rank  int
	}
	var hits []hit
	for i := range nodes {
		n := nodes[i]
		if n.ID == q || strings.EqualFold(n.Name, q) {
			hits = append(hits, hit{node: n, exact: true})
			continue
		}
		if r := fuzzy.RankMatchNormalizedFold(q, n.Name); r >= 0 {
			hits = append(hits, hit{node: n, rank: r})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.exact != b.exact {
			return a.exact
		}
		if !a.exact && a.rank != b.rank {
			return a.rank < b.rank
		}
		if a.node.Val != b.node.Val {
			return a.node.Val > b.node.Val
		}
		return a.node.ID < b.node.ID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]store.GraphNode, len(hits))
	for i, h := range hits {
		out[i] = h.node
	}
	return out, nil
}

// Neighbor is one adjacent node with its shared-link count.
type Neighbor struct {
	Node       store.GraphNode
	SharedLink int
}

// Neighbors returns the nodes adjacent to nodeID ranked by shared-link
// count, then weight, then id. ErrNotFound if the node does not exist.
func (s *Service) Neighbors(ctx context.Context, nodeID string, limit int) ([]Neighbor, error) {
	if limit <= 0 {
		limit = s.cfg.MaxPageSize
	}
	if _, err := s.store.GraphNodeByID(ctx, nodeID); err != nil {
		return nil, err
	}
	links, err := s.store.LinksForNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, l := range links {
		other := l.Target
		if other == nodeID {
			other = l.Source
		}
		if other == nodeID {
			continue
		}
		counts[other]++
	}
	if len(counts) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	nodes, err := s.store.GraphNodesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Neighbor, len(nodes))
	for i := range nodes {
		out[i] = Neighbor{Node: nodes[i], SharedLink: counts[nodes[i].ID]}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SharedLink != out[j].SharedLink {
			return out[i].SharedLink > out[j].SharedLink
		}
		if out[i].Node.Val != out[j].Node.Val {
			return out[i].Node.Val > out[j].Node.Val
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Communities lists the level-0 communities.
func (s *Service) Communities(ctx context.Context) ([]store.Community, error) {
	return s.store.ListCommunities(ctx)
}

// CommunityMembers returns the member nodes of one community, heaviest
// first.
func (s *Service) CommunityMembers(ctx context.Context, communityID int64) ([]store.GraphNode, error) {
	ids, err := s.store.CommunityMemberIDs(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "community %d", communityID)
	}
	return s.store.GraphNodesByIDs(ctx, ids)
}

// HierarchyLevel returns every node's community assignment at one level.
func (s *Service) HierarchyLevel(ctx context.Context, level int) ([]store.HierarchyEntry, error) {
	if level < 0 {
		return nil, errors.Wrapf(errors.ErrBadBounds, "level %d", level)
	}
	return s.store.HierarchyLevel(ctx, level)
}

// Bundles returns the cross-community edge bundles.
func (s *Service) Bundles(ctx context.Context) ([]store.EdgeBundle, error) {
	return s.store.ListEdgeBundles(ctx)
}

// DiffsSince returns every diff of completed versions newer than
// sinceVersion, in replay order. A client at version N applies these to
// reach the current version without refetching the graph.
func (s *Service) DiffsSince(ctx context.Context, sinceVersion int64) ([]store.GraphDiff, error) {
	return s.store.DiffsSince(ctx, sinceVersion)
}

// Versions lists recent versions, newest first.
func (s *Service) Versions(ctx context.Context, limit int) ([]store.GraphVersion, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListVersions(ctx, limit)
}

// Stats describes the current graph.
type Stats struct {
	VersionID *int64
	Topology  *graph.TopologyReport
	LastRunAt *int64
}

// Stats loads the full graph and computes its topology report.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	snap, err := graph.FromStore(ctx, s.store)
	if err != nil {
		return nil, err
	}
	st := &Stats{Topology: graph.ComputeTopology(snap, 10, 10)}
	if state, err := s.store.GetPrecalcState(ctx); err == nil && state != nil {
		st.VersionID = state.CurrentVersionID
		st.LastRunAt = state.LastRunAt
	}
	return st, nil
}

// String renders one neighbor for CLI output.
func (n Neighbor) String() string {
	return fmt.Sprintf("%s (%s, val=%.2f, shared=%d)", n.Node.Name, n.Node.ID, n.Node.Val, n.SharedLink)
}

func stripPositions(nodes []store.GraphNode) {
	for i := range nodes {
		nodes[i].PosX, nodes[i].PosY, nodes[i].PosZ = nil, nil, nil
	}
}
