package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redgraph/engine/internal/config"
	"redgraph/engine/internal/errors"
	"redgraph/engine/internal/logging"
	"redgraph/engine/internal/store"
)

func testService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	cfg := config.QueryConfig{DefaultNodeCap: 100, DefaultLinkCap: 500, MaxPageSize: 50}
	return NewService(s, cfg, logging.Nop()), s
}

func pos(v float64) *float64 { return &v }

func addNode(t *testing.T, s *store.Store, id, name, nodeType string, val float64, x, y, z *float64) {
	t.Helper()
	require.NoError(t, s.UpsertGraphNodes(context.Background(), []store.GraphNode{
		{ID: id, Name: name, NodeType: nodeType, Val: val},
	}))
	// The upsert always inserts NULL positions; coordinates go through the
	// layout write path.
	if x != nil {
		require.NoError(t, s.UpdateNodePositions(context.Background(), []store.GraphNode{
			{ID: id, PosX: x, PosY: y, PosZ: z},
		}))
	}
}

func addLink(t *testing.T, s *store.Store, kind, source, target string, weight float64) {
	t.Helper()
	_, err := s.UpsertGraphLinks(context.Background(), []store.GraphLink{
		{ID: store.LinkID(kind, source, target), Source: source, Target: target, Kind: kind, Weight: weight},
	})
	require.NoError(t, err)
}

// seedFive builds five nodes with descending weights and links whose
// endpoints straddle the weight order, so node capping changes the link
// set a snapshot may return.
func seedFive(t *testing.T, s *store.Store) {
	addNode(t, s, "user_1", "u/alice", store.TypeUser, 50, pos(1), pos(2), pos(3))
	addNode(t, s, "user_2", "u/bob", store.TypeUser, 40, pos(4), pos(5), pos(6))
	addNode(t, s, "post_1", "hello world", store.TypePost, 30, pos(-1), pos(-2), pos(-3))
	addNode(t, s, "post_2", "another post", store.TypePost, 20, nil, nil, nil)
	addNode(t, s, "comment_1", "comment 1", store.TypeComment, 10, pos(9), pos(9), pos(9))
	addLink(t, s, store.LinkAuthored, "user_1", "post_1", 1)
	addLink(t, s, store.LinkAuthored, "user_2", "post_2", 1)
	addLink(t, s, store.LinkCommentOn, "comment_1", "post_1", 1)
}

func TestSnapshot_CapsNodesBeforeFilteringLinks(t *testing.T) {
	svc, s := testService(t)
	seedFive(t, s)

	// The top 3 by weight are user_1, user_2, post_1. The user_2->post_2
	// and comment_1->post_1 links each lose an endpoint and must go.
	res, err := svc.Snapshot(context.Background(), SnapshotRequest{NodeCap: 3})
	require.NoError(t, err)
	require.Len(t, res.Nodes, 3)
	assert.Equal(t, "user_1", res.Nodes[0].ID)
	assert.Equal(t, "user_2", res.Nodes[1].ID)
	assert.Equal(t, "post_1", res.Nodes[2].ID)

	require.Len(t, res.Links, 1)
	assert.Equal(t, store.LinkID(store.LinkAuthored, "user_1", "post_1"), res.Links[0].ID)

	kept := make(map[string]bool, len(res.Nodes))
	for _, n := range res.Nodes {
		kept[n.ID] = true
	}
	for _, l := range res.Links {
		assert.True(t, kept[l.Source] && kept[l.Target],
			"link %s references a node outside the snapshot", l.ID)
	}
}

func TestSnapshot_NegativeCapsReturnNothing(t *testing.T) {
	svc, s := testService(t)
	seedFive(t, s)
	ctx := context.Background()

	res, err := svc.Snapshot(ctx, SnapshotRequest{NodeCap: -1})
	require.NoError(t, err)
	assert.Empty(t, res.Nodes)
	assert.Empty(t, res.Links)

	res, err = svc.Snapshot(ctx, SnapshotRequest{NodeCap: 5, LinkCap: -1})
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 5)
	assert.Empty(t, res.Links)
}

func TestSnapshot_PositionsStrippedUnlessRequested(t *testing.T) {
	svc, s := testService(t)
	seedFive(t, s)
	ctx := context.Background()

	res, err := svc.Snapshot(ctx, SnapshotRequest{NodeCap: 5})
	require.NoError(t, err)
	for _, n := range res.Nodes {
		assert.Nil(t, n.PosX, "position leaked for %s", n.ID)
	}

	res, err = svc.Snapshot(ctx, SnapshotRequest{NodeCap: 5, WithPositions: true})
	require.NoError(t, err)
	var positioned int
	for _, n := range res.Nodes {
		if n.Positioned() {
			positioned++
		}
	}
	assert.Equal(t, 4, positioned, "post_2 has no position, the rest do")
}

func TestSnapshot_TypeFilter(t *testing.T) {
	svc, s := testService(t)
	seedFive(t, s)

	res, err := svc.Snapshot(context.Background(),
		SnapshotRequest{NodeCap: 10, Types: []string{store.TypePost}})
	require.NoError(t, err)
	require.Len(t, res.Nodes, 2)
	for _, n := range res.Nodes {
		assert.Equal(t, store.TypePost, n.NodeType)
	}
	// No links exist between the two posts.
	assert.Empty(t, res.Links)
}

func TestNodesPage_IterationCoversEveryNodeOnce(t *testing.T) {
	svc, s := testService(t)
	seedFive(t, s)
	ctx := context.Background()

	seen := make(map[string]int)
	var order []string
	cursor := ""
	for {
		page, err := svc.NodesPage(ctx, cursor, 2, nil)
		require.NoError(t, err)
		for _, n := range page.Nodes {
			seen[n.ID]++
			order = append(order, n.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, []string{"user_1", "user_2", "post_1", "post_2", "comment_1"}, order)
	for id, count := range seen {
		assert.Equal(t, 1, count, "node %s returned %d times", id, count)
	}
}

func TestNodesPage_TieBreakOnEqualWeights(t *testing.T) {
	svc, s := testService(t)
	addNode(t, s, "user_1", "a", store.TypeUser, 5, nil, nil, nil)
	addNode(t, s, "user_2", "b", store.TypeUser, 5, nil, nil, nil)
	addNode(t, s, "user_3", "c", store.TypeUser, 5, nil, nil, nil)
	ctx := context.Background()

	first, err := svc.NodesPage(ctx, "", 2, nil)
	require.NoError(t, err)
	require.Len(t, first.Nodes, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.NodesPage(ctx, first.NextCursor, 2, nil)
	require.NoError(t, err)
	require.Len(t, second.Nodes, 1)
	assert.Equal(t, "user_3", second.Nodes[0].ID,
		"equal weights must paginate by id without skips")
}

func TestNodesPage_BadCursor(t *testing.T) {
	svc, s := testService(t)
	seedFive(t, s)
	ctx := context.Background()

	for _, cursor := range []string{"garbage", "not-a-float:user_1", "42:"} {
		_, err := svc.NodesPage(ctx, cursor, 2, nil)
		assert.ErrorIs(t, err, errors.ErrBadCursor, "cursor %q", cursor)
	}
}

func TestBox_BoundsValidation(t *testing.T) {
	svc, s := testService(t)
	seedFive(t, s)
	ctx := context.Background()

	_, err := svc.Box(ctx, BoxRequest{MinX: 10, MaxX: -10, MinY: 0, MaxY: 1})
	assert.ErrorIs(t, err, errors.ErrBadBounds)

	_, err = svc.Box(ctx, BoxRequest{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1, MinZ: pos(5)})
	assert.ErrorIs(t, err, errors.ErrBadBounds, "one-sided z range")

	_, err = svc.Box(ctx, BoxRequest{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1, MinZ: pos(5), MaxZ: pos(-5)})
	assert.ErrorIs(t, err, errors.ErrBadBounds, "inverted z range")
}

func TestBox_SelectsPositionedNodesInside(t *testing.T) {
	svc, s := testService(t)
	seedFive(t, s)

	// user_1 at (1,2,3) and user_2 at (4,5,6) fit; post_1 is negative,
	// comment_1 is at 9, post_2 has no position at all.
	nodes, err := svc.Box(context.Background(),
		BoxRequest{MinX: 0, MaxX: 8, MinY: 0, MaxY: 8})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "user_1", nodes[0].ID)
	assert.Equal(t, "user_2", nodes[1].ID)

	// Tightening z to [0,4] drops user_2.
	nodes, err = svc.Box(context.Background(),
		BoxRequest{MinX: 0, MaxX: 8, MinY: 0, MaxY: 8, MinZ: pos(0), MaxZ: pos(4)})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "user_1", nodes[0].ID)
}

func TestSearch_ExactMatchBeforeFuzzy(t *testing.T) {
	svc, s := testService(t)
	addNode(t, s, "subreddit_1", "r/golang", store.TypeSubreddit, 10, nil, nil, nil)
	addNode(t, s, "subreddit_2", "r/golang_jobs", store.TypeSubreddit, 99, nil, nil, nil)
	addNode(t, s, "subreddit_3", "r/rust", store.TypeSubreddit, 50, nil, nil, nil)
	ctx := context.Background()

	// The heavier fuzzy match must not displace the exact one.
	hits, err := svc.Search(ctx, "r/golang", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "subreddit_1", hits[0].ID)

	// Id lookup is exact too.
	hits, err = svc.Search(ctx, "subreddit_3", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "subreddit_3", hits[0].ID)

	hits, err = svc.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestNeighbors_RankedBySharedLinks(t *testing.T) {
	svc, s := testService(t)
	addNode(t, s, "user_1", "u/alice", store.TypeUser, 10, nil, nil, nil)
	addNode(t, s, "post_1", "p1", store.TypePost, 5, nil, nil, nil)
	addNode(t, s, "subreddit_1", "r/golang", store.TypeSubreddit, 50, nil, nil, nil)
	addLink(t, s, store.LinkAuthored, "user_1", "post_1", 1)
	addLink(t, s, store.LinkActiveIn, "user_1", "subreddit_1", 3)
	addLink(t, s, store.LinkPostedIn, "post_1", "subreddit_1", 1)
	ctx := context.Background()

	// post_1 touches user_1 and subreddit_1 with one link each, so the
	// heavier subreddit wins the tie.
	neighbors, err := svc.Neighbors(ctx, "post_1", 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "subreddit_1", neighbors[0].Node.ID)
	assert.Equal(t, "user_1", neighbors[1].Node.ID)

	_, err = svc.Neighbors(ctx, "post_999", 10)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestCommunityMembers_UnknownCommunity(t *testing.T) {
	svc, _ := testService(t)
	_, err := svc.CommunityMembers(context.Background(), 12345)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestHierarchyLevel_NegativeLevel(t *testing.T) {
	svc, _ := testService(t)
	_, err := svc.HierarchyLevel(context.Background(), -1)
	assert.ErrorIs(t, err, errors.ErrBadBounds)
}
