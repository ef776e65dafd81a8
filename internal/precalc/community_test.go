package precalc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redgraph/engine/internal/graph"
	"redgraph/engine/internal/logging"
)

func quickSnapshot(nodeIDs []string, edges [][2]string) *graph.Snapshot {
	var nodes []*graph.Node
	for _, id := range nodeIDs {
		nodes = append(nodes, &graph.Node{ID: id, Name: "Node " + id, Type: "user", Val: 1})
	}
	var links []graph.Link
	for i, e := range edges {
		links = append(links, graph.Link{
			ID: fmt.Sprintf("e%d", i), Source: e[0], Target: e[1],
			Kind: "authored", Weight: 1,
		})
	}
	return graph.NewSnapshot(nodes, links)
}

// twoCliques builds two internally dense clusters joined by one bridge.
func twoCliques() *graph.Snapshot {
	ids := []string{"a1", "a2", "a3", "a4", "b1", "b2", "b3", "b4"}
	var edges [][2]string
	clique := func(members []string) {
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				edges = append(edges, [2]string{members[i], members[j]})
			}
		}
	}
	clique(ids[:4])
	clique(ids[4:])
	edges = append(edges, [2]string{"a1", "b1"})
	return quickSnapshot(ids, edges)
}

func TestDetect_EmptyGraph(t *testing.T) {
	p := NewDetector(64, 3, logging.Nop()).Detect(graph.NewSnapshot(nil, nil), 1)
	assert.Empty(t, p.Communities)
	assert.True(t, p.Converged)
}

func TestDetect_ZeroEdgeGraphIsSingletons(t *testing.T) {
	snap := quickSnapshot([]string{"a", "b", "c"}, nil)
	p := NewDetector(64, 3, logging.Nop()).Detect(snap, 1)

	require.Len(t, p.Communities, 3, "isolated nodes form singleton communities")
	assert.True(t, p.Converged, "zero-edge graph must still terminate")
	seen := make(map[int64]bool)
	for _, id := range []string{"a", "b", "c"} {
		comm, ok := p.NodeCommunity[id]
		require.True(t, ok)
		assert.False(t, seen[comm], "each singleton gets its own community")
		seen[comm] = true
	}
}

func TestDetect_TwoCliques(t *testing.T) {
	p := NewDetector(64, 3, logging.Nop()).Detect(twoCliques(), 1)

	// The two cliques must end up in different level-0 communities, each
	// internally uniform.
	aComm := p.NodeCommunity["a1"]
	bComm := p.NodeCommunity["b1"]
	assert.NotEqual(t, aComm, bComm)
	for _, id := range []string{"a2", "a3", "a4"} {
		assert.Equal(t, aComm, p.NodeCommunity[id], "clique A stays together")
	}
	for _, id := range []string{"b2", "b3", "b4"} {
		assert.Equal(t, bComm, p.NodeCommunity[id], "clique B stays together")
	}

	assert.Greater(t, p.Modularity, 0.0)
	assert.True(t, p.Converged)

	// The bridge shows up as exactly one cross-community link.
	require.Len(t, p.Links, 1)
	assert.Equal(t, 1.0, p.Links[0].Weight)
	assert.Equal(t, 1, p.LinkCounts[[2]int64{p.Links[0].CommunityA, p.Links[0].CommunityB}])
}

func TestDetect_Deterministic(t *testing.T) {
	// Same graph, two runs, identical node-to-community mapping.
	p1 := NewDetector(64, 3, logging.Nop()).Detect(twoCliques(), 1)
	p2 := NewDetector(64, 3, logging.Nop()).Detect(twoCliques(), 1)

	require.Equal(t, len(p1.NodeCommunity), len(p2.NodeCommunity))
	for id, comm := range p1.NodeCommunity {
		assert.Equal(t, comm, p2.NodeCommunity[id], "node %s moved between runs", id)
	}
	assert.Equal(t, p1.Modularity, p2.Modularity)
	assert.Equal(t, p1.Levels, p2.Levels)
}

func TestDetect_EveryNodeHasMembershipAndHierarchy(t *testing.T) {
	snap := twoCliques()
	p := NewDetector(64, 3, logging.Nop()).Detect(snap, 1)

	assert.Len(t, p.Members, len(snap.Nodes))

	perLevel := make(map[int]int)
	for _, h := range p.Hierarchy {
		perLevel[h.Level]++
	}
	for lvl := 0; lvl < p.Levels; lvl++ {
		assert.Equal(t, len(snap.Nodes), perLevel[lvl], "level %d must cover every node", lvl)
	}

	// Top-level entries have no parent; lower levels always do.
	for _, h := range p.Hierarchy {
		if h.Level == p.Levels-1 {
			assert.Nil(t, h.ParentCommunityID)
		} else {
			assert.NotNil(t, h.ParentCommunityID)
		}
	}
}

// fourCliques builds four cliques where A-B and C-D are bridged normally
// and B-C only weakly, so the natural coarsening pairs A with B and C
// with D before everything fuses.
func fourCliques() *graph.Snapshot {
	groups := [][]string{
		{"a1", "a2", "a3", "a4"},
		{"b1", "b2", "b3", "b4"},
		{"c1", "c2", "c3", "c4"},
		{"d1", "d2", "d3", "d4"},
	}
	var nodes []*graph.Node
	var links []graph.Link
	addLink := func(src, dst string, w float64) {
		links = append(links, graph.Link{
			ID: fmt.Sprintf("e%d", len(links)), Source: src, Target: dst,
			Kind: "authored", Weight: w,
		})
	}
	for _, g := range groups {
		for _, id := range g {
			nodes = append(nodes, &graph.Node{ID: id, Name: "Node " + id, Type: "user", Val: 1})
		}
		for i := 0; i < len(g); i++ {
			for j := i + 1; j < len(g); j++ {
				addLink(g[i], g[j], 1)
			}
		}
	}
	addLink("a1", "b1", 1)
	addLink("c1", "d1", 1)
	addLink("b2", "c2", 0.25)
	return graph.NewSnapshot(nodes, links)
}

func TestDetect_CoarserLevelsActuallyForm(t *testing.T) {
	p := NewDetector(64, 5, logging.Nop()).Detect(fourCliques(), 1)
	require.GreaterOrEqual(t, p.Levels, 2, "tiered structure must yield more than one level")

	// community per node per level, from the hierarchy rows.
	at := make(map[int]map[string]int64)
	for _, h := range p.Hierarchy {
		if at[h.Level] == nil {
			at[h.Level] = make(map[string]int64)
		}
		at[h.Level][h.NodeID] = h.CommunityID
	}
	require.Len(t, at[1], 16, "level 1 must cover every node")

	// Level 0 keeps the cliques apart, level 1 pairs them along the
	// stronger bridges.
	lv0, lv1 := at[0], at[1]
	assert.NotEqual(t, lv0["a1"], lv0["b1"])
	assert.Equal(t, lv1["a1"], lv1["b1"], "a and b cliques coarsen together")
	assert.Equal(t, lv1["c1"], lv1["d1"], "c and d cliques coarsen together")
	assert.NotEqual(t, lv1["a1"], lv1["c1"], "the two pairings stay apart at level 1")

	// Nesting: a shared level-0 community implies a shared parent, and
	// ids never collide across levels.
	parent := make(map[int64]int64)
	seen := make(map[int64]int)
	for _, h := range p.Hierarchy {
		if h.ParentCommunityID != nil {
			if prev, ok := parent[h.CommunityID]; ok {
				assert.Equal(t, prev, *h.ParentCommunityID, "community %d has two parents", h.CommunityID)
			}
			parent[h.CommunityID] = *h.ParentCommunityID
		}
		if lvl, ok := seen[h.CommunityID]; ok {
			assert.Equal(t, lvl, h.Level, "community id %d reused on another level", h.CommunityID)
		}
		seen[h.CommunityID] = h.Level
	}
}

func TestDetect_MinimalBoundsStillPartition(t *testing.T) {
	// One sweep and one level are enough for any single-level greedy pass
	// (at most n-1 merges happen), so the result is complete and converged.
	p := NewDetector(1, 1, logging.Nop()).Detect(twoCliques(), 1)
	assert.True(t, p.Converged)
	assert.Equal(t, 1, p.Levels)
	require.Len(t, p.NodeCommunity, 8)
}
