package precalc

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redgraph/engine/internal/config"
	"redgraph/engine/internal/logging"
	"redgraph/engine/internal/store"
)

func testRunnerConfig() config.PrecalcConfig {
	return config.PrecalcConfig{
		IntervalSeconds:  300,
		Workers:          4,
		LeaseTTLSeconds:  600,
		LayoutIterations: 30,
		HierarchyLevels:  3,
		MaxMergeSweeps:   64,
		RetainVersions:   10,
	}
}

// seedScenario loads 3 subreddits, 5 users, 20 posts, 50 comments.
func seedScenario(t *testing.T, s *store.Store) {
	t.Helper()
	for i := int64(1); i <= 3; i++ {
		seedSubreddit(t, s, i, fmt.Sprintf("sub%d", i), 1000*i)
	}
	for i := int64(1); i <= 5; i++ {
		seedUser(t, s, i, fmt.Sprintf("user%d", i), 100*i)
	}
	for i := int64(1); i <= 20; i++ {
		seedPost(t, s, i, (i%3)+1, (i%5)+1)
	}
	for i := int64(1); i <= 50; i++ {
		seedComment(t, s, i, (i%20)+1, (i%5)+1, nil)
	}
}

func TestRunner_FullBuildScenario(t *testing.T) {
	s := testStore(t)
	seedScenario(t, s)

	res, err := NewRunner(s, testRunnerConfig(), logging.Nop()).Run(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, res.Full, "first run is a full rebuild")
	assert.False(t, res.Skipped)
	assert.Equal(t, 3+5+20+50, res.NodeCount)
	assert.True(t, res.Converged)

	// Every comment has its comment_on link.
	links, err := s.AllGraphLinks(context.Background())
	require.NoError(t, err)
	commentOn := 0
	for _, l := range links {
		if l.Kind == store.LinkCommentOn {
			commentOn++
		}
	}
	assert.Equal(t, 50, commentOn)

	// Every node got a position.
	nodes, err := s.AllGraphNodes(context.Background())
	require.NoError(t, err)
	for _, n := range nodes {
		assert.True(t, n.Positioned(), "node %s unpositioned after full run", n.ID)
	}

	// The full build diff is one add per node and link.
	diffs, err := s.DiffsSince(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, res.NodeCount+res.LinkCount, len(diffs))
	for _, d := range diffs {
		assert.Equal(t, store.DiffAdd, d.Action)
	}
}

func TestRunner_IdempotentWhenNothingChanged(t *testing.T) {
	s := testStore(t)
	seedScenario(t, s)
	runner := NewRunner(s, testRunnerConfig(), logging.Nop())
	ctx := context.Background()

	first, err := runner.Run(ctx, false)
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := runner.Run(ctx, false)
	require.NoError(t, err)
	assert.True(t, second.Skipped, "unchanged source data short-circuits")

	versions, err := s.ListVersions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, versions, 1, "a skipped run records no version")
}

func TestRunner_ForcedFullRebuildOfUnchangedDataNoDiffs(t *testing.T) {
	s := testStore(t)
	seedScenario(t, s)
	runner := NewRunner(s, testRunnerConfig(), logging.Nop())
	ctx := context.Background()

	first, err := runner.Run(ctx, false)
	require.NoError(t, err)

	// Rebuild from scratch: same ids, same weights, deterministic layout
	// over the same graph, so nothing differs.
	second, err := runner.Run(ctx, true)
	require.NoError(t, err)
	assert.False(t, second.Skipped)
	assert.Equal(t, first.NodeCount, second.NodeCount)
	assert.Equal(t, 0, second.DiffCount)
}

func TestRunner_IncrementalSingleComment(t *testing.T) {
	s := testStore(t)
	seedScenario(t, s)
	runner := NewRunner(s, testRunnerConfig(), logging.Nop())
	ctx := context.Background()

	first, err := runner.Run(ctx, false)
	require.NoError(t, err)

	// Existing user 2 comments on existing post 7 (in subreddit (7%3)+1=2).
	seedComment(t, s, 51, 7, 2, nil)

	res, err := runner.Run(ctx, false)
	require.NoError(t, err)
	assert.False(t, res.Full)
	assert.False(t, res.Skipped)
	assert.Equal(t, first.NodeCount+1, res.NodeCount)

	diffs, err := s.DiffsSince(ctx, first.VersionID)
	require.NoError(t, err)

	var linkAdds, nodeUpdates, nodeAdds int
	touched := map[string]bool{
		store.NodeID(store.TypeComment, 51):  true, // the new comment
		store.NodeID(store.TypeUser, 2):      true, // author weight
		store.NodeID(store.TypeSubreddit, 2): true, // containing subreddit weight
	}
	for _, d := range diffs {
		switch {
		case d.EntityType == store.EntityLink && d.Action == store.DiffAdd:
			linkAdds++
			assert.Equal(t,
				store.LinkID(store.LinkCommentOn, "comment_51", "post_7"), d.EntityID)
		case d.EntityType == store.EntityNode && d.Action == store.DiffUpdate:
			nodeUpdates++
			assert.True(t, touched[d.EntityID],
				"update diff for untouched node %s", d.EntityID)
		case d.EntityType == store.EntityNode && d.Action == store.DiffAdd:
			nodeAdds++
			assert.Equal(t, store.NodeID(store.TypeComment, 51), d.EntityID)
		case d.EntityType == store.EntityLink && d.Action == store.DiffUpdate:
			// the author's active_in weight may tick up
			assert.True(t, strings.HasPrefix(d.EntityID, store.LinkActiveIn),
				"unexpected link update %s", d.EntityID)
		default:
			t.Errorf("unexpected diff %s %s %s", d.Action, d.EntityType, d.EntityID)
		}
	}
	assert.Equal(t, 1, linkAdds, "exactly one new link: the comment_on edge")
	assert.Equal(t, 1, nodeAdds)
	assert.LessOrEqual(t, nodeUpdates, 2, "at most author and subreddit update")
}

func TestRunner_DiffRoundTrip(t *testing.T) {
	s := testStore(t)
	seedScenario(t, s)
	runner := NewRunner(s, testRunnerConfig(), logging.Nop())
	ctx := context.Background()

	first, err := runner.Run(ctx, false)
	require.NoError(t, err)

	// Snapshot at version N.
	nodesN, err := s.AllGraphNodes(ctx)
	require.NoError(t, err)
	linksN, err := s.AllGraphLinks(ctx)
	require.NoError(t, err)
	replayed := CaptureState(nodesN, linksN)

	// Two more versions of changes.
	seedComment(t, s, 51, 7, 2, nil)
	_, err = runner.Run(ctx, false)
	require.NoError(t, err)
	seedUser(t, s, 3, "user3", 999999)
	seedPost(t, s, 21, 1, 3)
	_, err = runner.Run(ctx, false)
	require.NoError(t, err)

	// Replay all diffs since N onto the old snapshot.
	diffs, err := s.DiffsSince(ctx, first.VersionID)
	require.NoError(t, err)
	for _, d := range diffs {
		applyDiff(replayed, d)
	}

	// It must match the live state exactly.
	nodesK, err := s.AllGraphNodes(ctx)
	require.NoError(t, err)
	linksK, err := s.AllGraphLinks(ctx)
	require.NoError(t, err)
	current := CaptureState(nodesK, linksK)

	roundTrip := Diff(replayed, current)
	assert.Empty(t, roundTrip, "replaying diffs must reproduce the current snapshot")
}

// applyDiff mutates a captured state the way a client replays diffs.
func applyDiff(st *GraphState, d store.GraphDiff) {
	switch d.EntityType {
	case store.EntityNode:
		switch d.Action {
		case store.DiffAdd, store.DiffUpdate:
			n := st.Nodes[d.EntityID]
			if n == nil {
				n = &store.GraphNode{ID: d.EntityID}
				st.Nodes[d.EntityID] = n
			}
			if d.NewVal != nil {
				n.Val = *d.NewVal
			}
			n.PosX, n.PosY, n.PosZ = d.NewX, d.NewY, d.NewZ
		case store.DiffDelete:
			delete(st.Nodes, d.EntityID)
		}
	case store.EntityLink:
		switch d.Action {
		case store.DiffAdd, store.DiffUpdate:
			l := st.Links[d.EntityID]
			if l == nil {
				l = &store.GraphLink{ID: d.EntityID}
				st.Links[d.EntityID] = l
			}
			if d.NewVal != nil {
				l.Weight = *d.NewVal
			}
		case store.DiffDelete:
			delete(st.Links, d.EntityID)
		}
	}
}

func TestRunner_SourceDeleteSweepsNodeAndLinks(t *testing.T) {
	s := testStore(t)
	seedScenario(t, s)
	runner := NewRunner(s, testRunnerConfig(), logging.Nop())
	ctx := context.Background()

	first, err := runner.Run(ctx, false)
	require.NoError(t, err)

	// Count the links touching post 7 before the delete.
	before, err := s.LinksForNode(ctx, store.NodeID(store.TypePost, 7))
	require.NoError(t, err)
	require.NotEmpty(t, before)

	require.NoError(t, s.DeleteSourceEntity(ctx, store.TypePost, 7))

	res, err := runner.Run(ctx, false)
	require.NoError(t, err)
	assert.False(t, res.Skipped, "a bare delete must not short-circuit the run")
	assert.Equal(t, first.NodeCount-1, res.NodeCount)

	_, err = s.GraphNodeByID(ctx, store.NodeID(store.TypePost, 7))
	require.Error(t, err, "deleted post's node must be gone")

	after, err := s.LinksForNode(ctx, store.NodeID(store.TypePost, 7))
	require.NoError(t, err)
	assert.Empty(t, after, "every link touching the deleted node must be gone")

	// Exactly the node and its links were removed.
	diffs, err := s.DiffsSince(ctx, first.VersionID)
	require.NoError(t, err)
	deletes := 0
	for _, d := range diffs {
		if d.Action == store.DiffDelete {
			deletes++
		}
	}
	assert.Equal(t, 1+len(before), deletes)
}

func TestRunner_LeaseHeldSkips(t *testing.T) {
	s := testStore(t)
	seedScenario(t, s)
	ctx := context.Background()

	require.NoError(t, s.AcquireLease(ctx, "someone-else", testRunnerConfig().LeaseTTL()))

	res, err := NewRunner(s, testRunnerConfig(), logging.Nop()).Run(ctx, false)
	require.NoError(t, err, "a held lease is a no-op, not an error")
	assert.True(t, res.Skipped)
}

func TestRunner_CommunitiesAndBundlesPersisted(t *testing.T) {
	s := testStore(t)
	seedScenario(t, s)
	ctx := context.Background()

	_, err := NewRunner(s, testRunnerConfig(), logging.Nop()).Run(ctx, false)
	require.NoError(t, err)

	communities, err := s.ListCommunities(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, communities)

	total := 0
	for _, c := range communities {
		members, err := s.CommunityMemberIDs(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, members, c.Size)
		total += c.Size
	}
	assert.Equal(t, 78, total, "every node belongs to exactly one community")

	level0, err := s.HierarchyLevel(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, level0, 78)
}
