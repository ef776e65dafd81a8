package precalc

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"redgraph/engine/internal/graph"
	"redgraph/engine/internal/store"
)

// Detector partitions the graph into communities by greedy modularity
// maximization: repeatedly merge the community pair with the largest
// positive gain until no merge improves the partition. Coarser hierarchy
// levels continue the agglomeration past the modularity optimum: each
// level merges the best remaining pair, positive gain or not, until the
// cluster count halves, so the dendrogram above the optimum is cut at
// successively coarser granularities instead of stalling where level 0
// stopped.
//
// Determinism: nodes enter the partition in ascending id order, candidate
// pairs are scanned in ascending (a, b) community-id order, and the first
// pair attaining the maximum gain wins, so the lowest-id pair breaks ties.
// Two runs over the same graph always produce the same partition.
type Detector struct {
	log       *zap.SugaredLogger
	maxSweeps int
	maxLevels int
}

// NewDetector creates a Detector. maxSweeps bounds the merge passes per
// level; when the bound is hit the best partition found so far is emitted
// and the result is flagged non-converged.
func NewDetector(maxSweeps, maxLevels int, log *zap.SugaredLogger) *Detector {
	if maxSweeps < 1 {
		maxSweeps = 1
	}
	if maxLevels < 1 {
		maxLevels = 1
	}
	return &Detector{log: log, maxSweeps: maxSweeps, maxLevels: maxLevels}
}

// Partition is the detector output for the whole hierarchy.
type Partition struct {
	// NodeCommunity maps node id to its level-0 community id.
	NodeCommunity map[string]int64

	Communities []store.Community
	Members     []store.CommunityMember
	Links       []store.CommunityLink
	Hierarchy   []store.HierarchyEntry

	// LinkCounts tracks the number of underlying graph links per level-0
	// community pair, used for edge bundle average strength.
	LinkCounts map[[2]int64]int

	Levels     int
	Modularity float64
	Converged  bool
}

// level holds one granularity of the clustering: a partition of the
// previous level's clusters (level 0 partitions nodes).
type level struct {
	// membership: previous-level cluster index -> this level's cluster
	// index. For level 0 the "previous clusters" are nodes in sorted id
	// order.
	membership []int
	clusters   int
	// intra[c] is the internal weight of cluster c; degree[c] its total
	// degree sum. m is the graph total weight, shared by all levels.
	intra  []float64
	degree []float64
}

// Detect runs the full hierarchical detection over the snapshot.
func (d *Detector) Detect(snap *graph.Snapshot, versionID int64) *Partition {
	ids := snap.NodeIDs()
	n := len(ids)
	p := &Partition{
		NodeCommunity: make(map[string]int64, n),
		LinkCounts:    make(map[[2]int64]int),
		Converged:     true,
	}
	if n == 0 {
		return p
	}

	index := make(map[string]int, n)
	for i, id := range ids {
		index[id] = i
	}

	// Condensed adjacency at the current granularity. Starts as the node
	// graph; after each level it is re-aggregated over clusters.
	adj := make([]map[int]float64, n)
	for i, id := range ids {
		m := make(map[int]float64, len(snap.Adj[id]))
		for other, w := range snap.Adj[id] {
			m[index[other]] = w
		}
		adj[i] = m
	}
	degree := make([]float64, n)
	intra := make([]float64, n) // no self loops at level 0
	for i := range adj {
		for _, w := range adj[i] {
			degree[i] += w
		}
	}

	totalWeight := snap.TotalWeight()

	// nodeCluster[i] is node i's cluster index at the current level.
	nodeCluster := make([]int, n)
	for i := range nodeCluster {
		nodeCluster[i] = i
	}

	var levels []level
	clusters := n
	for lvl := 0; lvl < d.maxLevels; lvl++ {
		// Level 0 stops at the modularity optimum. Higher levels merge on
		// toward half the cluster count so coarser tiers actually form.
		target := 0
		if lvl > 0 {
			target = (clusters + 1) / 2
		}
		lv, converged := d.mergeLevel(adj, intra, degree, totalWeight, target)
		if !converged {
			p.Converged = false
		}
		if lv.clusters == clusters && lvl > 0 {
			break // nothing merged: the condensed graph is edgeless
		}
		levels = append(levels, lv)

		for i := range nodeCluster {
			nodeCluster[i] = lv.membership[nodeCluster[i]]
		}
		clusters = lv.clusters

		if clusters <= 1 {
			break
		}

		// Condense for the next level.
		adj = condense(adj, lv.membership, lv.clusters)
		intra = lv.intra
		degree = lv.degree
	}
	p.Levels = len(levels)

	d.emit(p, snap, ids, levels, totalWeight, versionID)
	return p
}

// mergeLevel runs greedy merging over one granularity. prevAdj maps
// cluster index -> neighbor cluster -> weight, symmetric, self entries
// excluded (self weight tracked in intra). target 0 means merge only
// while the modularity gain is positive; target > 0 keeps merging the
// best adjacent pair regardless of gain until that many clusters remain.
func (d *Detector) mergeLevel(prevAdj []map[int]float64, prevIntra, prevDegree []float64, m float64, target int) (level, bool) {
	n := len(prevAdj)
	converged := true

	// Working state. Each cluster's member set is implicit in membership.
	membership := make([]int, n)
	for i := range membership {
		membership[i] = i
	}
	intra := append([]float64(nil), prevIntra...)
	degree := append([]float64(nil), prevDegree...)
	adj := make([]map[int]float64, n)
	for i, mm := range prevAdj {
		c := make(map[int]float64, len(mm))
		for k, v := range mm {
			c[k] = v
		}
		adj[i] = c
	}
	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}

	if m <= 0 {
		// Zero-edge graph: all singletons, nothing to merge.
		return finalizeLevel(membership, alive, intra, degree), true
	}

	maxMerges := (n - 1) * d.maxSweeps
	merges := 0
	aliveCount := n
	for {
		if target > 0 && aliveCount <= target {
			break
		}
		if merges >= maxMerges {
			converged = false
			break
		}

		// Scan live pairs in ascending order; first best wins. Past the
		// optimum (target mode) any adjacent pair is a candidate and the
		// least-bad gain wins.
		bestGain := 0.0
		if target > 0 {
			bestGain = math.Inf(-1)
		}
		bestA, bestB := -1, -1
		for a := 0; a < n; a++ {
			if !alive[a] {
				continue
			}
			// Neighbors in ascending id order for the deterministic
			// tie-break.
			nbrs := make([]int, 0, len(adj[a]))
			for b := range adj[a] {
				if b > a && alive[b] {
					nbrs = append(nbrs, b)
				}
			}
			sort.Ints(nbrs)
			for _, b := range nbrs {
				gain := adj[a][b]/m - degree[a]*degree[b]/(2*m*m)
				if gain > bestGain {
					bestGain = gain
					bestA, bestB = a, b
				}
			}
		}
		if bestA < 0 {
			break // no positive-gain merge remains
		}

		// Merge b into a (a < b always).
		a, b := bestA, bestB
		intra[a] += intra[b] + adj[a][b]
		degree[a] += degree[b]
		alive[b] = false
		delete(adj[a], b)
		delete(adj[b], a)
		for c, w := range adj[b] {
			adj[a][c] += w
			delete(adj[c], b)
			adj[c][a] = adj[a][c]
		}
		adj[b] = nil
		for i := range membership {
			if membership[i] == b {
				membership[i] = a
			}
		}
		merges++
		aliveCount--
	}

	return finalizeLevel(membership, alive, intra, degree), converged
}

// finalizeLevel renumbers surviving clusters densely in ascending order of
// their lowest original index.
func finalizeLevel(membership []int, alive []bool, intra, degree []float64) level {
	remap := make(map[int]int)
	var denseIntra, denseDegree []float64
	for i, ok := range alive {
		if ok {
			remap[i] = len(remap)
			denseIntra = append(denseIntra, intra[i])
			denseDegree = append(denseDegree, degree[i])
		}
	}
	out := make([]int, len(membership))
	for i, c := range membership {
		out[i] = remap[c]
	}
	return level{membership: out, clusters: len(remap), intra: denseIntra, degree: denseDegree}
}

// condense aggregates the adjacency to the new cluster granularity.
func condense(adj []map[int]float64, membership []int, clusters int) []map[int]float64 {
	out := make([]map[int]float64, clusters)
	for i := range out {
		out[i] = make(map[int]float64)
	}
	for a, nbrs := range adj {
		ca := membership[a]
		for b, w := range nbrs {
			cb := membership[b]
			if ca == cb {
				continue
			}
			out[ca][cb] += w
		}
	}
	return out
}

// emit converts the per-level memberships into persistent rows. Community
// ids are globally unique across levels: level 0 takes 0..k0-1, level 1
// continues from there, and so on.
func (d *Detector) emit(p *Partition, snap *graph.Snapshot, ids []string, levels []level, m float64, versionID int64) {
	if len(levels) == 0 {
		return
	}

	// nodeAt[lvl][i] = cluster of node i at that level.
	n := len(ids)
	nodeAt := make([][]int, len(levels))
	cur := make([]int, n)
	for i := range cur {
		cur[i] = i
	}
	for lvl, lv := range levels {
		next := make([]int, n)
		for i := range cur {
			next[i] = lv.membership[cur[i]]
		}
		nodeAt[lvl] = next
		cur = next
	}

	// Global id base per level.
	base := make([]int64, len(levels)+1)
	for lvl, lv := range levels {
		base[lvl+1] = base[lvl] + int64(lv.clusters)
	}

	// Level-0 rows.
	lv0 := levels[0]
	sizes := make([]int, lv0.clusters)
	topMember := make([]string, lv0.clusters)
	topVal := make([]float64, lv0.clusters)
	for i, id := range ids {
		c := nodeAt[0][i]
		sizes[c]++
		if v := snap.Nodes[id].Val; topMember[c] == "" || v > topVal[c] {
			topMember[c], topVal[c] = snap.Nodes[id].Name, v
		}
		gid := base[0] + int64(c)
		p.NodeCommunity[id] = gid
		p.Members = append(p.Members, store.CommunityMember{CommunityID: gid, NodeID: id})
	}
	var totalQ float64
	for c := 0; c < lv0.clusters; c++ {
		var contribution float64
		if m > 0 {
			lc, dc := lv0.intra[c], lv0.degree[c]
			contribution = lc/m - (dc/(2*m))*(dc/(2*m))
		}
		totalQ += contribution
		p.Communities = append(p.Communities, store.Community{
			ID: base[0] + int64(c), VersionID: versionID,
			Label: topMember[c], Size: sizes[c], Modularity: contribution,
		})
	}
	p.Modularity = totalQ

	// Cross-community link weight at level 0, one entry per unordered
	// pair, with underlying link counts for bundling.
	pairWeight := make(map[[2]int64]float64)
	for _, l := range snap.Links {
		ca, cb := p.NodeCommunity[l.Source], p.NodeCommunity[l.Target]
		if ca == cb {
			continue
		}
		if ca > cb {
			ca, cb = cb, ca
		}
		key := [2]int64{ca, cb}
		pairWeight[key] += l.Weight
		p.LinkCounts[key]++
	}
	pairs := make([][2]int64, 0, len(pairWeight))
	for k := range pairWeight {
		pairs = append(pairs, k)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	for _, k := range pairs {
		p.Links = append(p.Links, store.CommunityLink{
			CommunityA: k[0], CommunityB: k[1], Weight: pairWeight[k],
		})
	}

	// Hierarchy rows: one per node per level, each pointing at its parent
	// community one level up (none at the top).
	for lvl := range levels {
		for i, id := range ids {
			gid := base[lvl] + int64(nodeAt[lvl][i])
			entry := store.HierarchyEntry{NodeID: id, Level: lvl, CommunityID: gid}
			if lvl+1 < len(levels) {
				parent := base[lvl+1] + int64(nodeAt[lvl+1][i])
				entry.ParentCommunityID = &parent
			}
			p.Hierarchy = append(p.Hierarchy, entry)
		}
	}
}
