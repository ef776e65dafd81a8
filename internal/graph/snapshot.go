// Package graph holds the in-memory working set for one precalc run: a
// node map plus weighted adjacency, loaded from the store once per run and
// flushed once, so the clustering and layout passes never round-trip to
// the database.
package graph

import (
	"context"
	"sort"

	"redgraph/engine/internal/store"
)

// Node is the in-memory form of a materialized graph node.
type Node struct {
	ID   string
	Name string
	Type string
	Val  float64

	// Layout state. Positioned is false until coordinates are assigned,
	// either loaded from a previous run or seeded fresh.
	X, Y, Z    float64
	Positioned bool
}

// Link is the in-memory form of a materialized graph link.
type Link struct {
	ID     string
	Source string
	Target string
	Kind   string
	Weight float64
}

// Snapshot is an immutable view of the graph with precomputed adjacency.
type Snapshot struct {
	Nodes map[string]*Node
	Links []Link

	// Adj accumulates undirected link weight per neighbor pair. Self
	// loops are dropped at construction.
	Adj map[string]map[string]float64

	ids         []string
	totalWeight float64
}

// NewSnapshot builds a Snapshot. Links with a missing endpoint are skipped,
// matching the materializer's tolerance of not-yet-materialized nodes.
func NewSnapshot(nodes []*Node, links []Link) *Snapshot {
	nodeMap := make(map[string]*Node, len(nodes))
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		nodeMap[n.ID] = n
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	adj := make(map[string]map[string]float64, len(nodes))
	kept := make([]Link, 0, len(links))
	var total float64
	for _, l := range links {
		if _, ok := nodeMap[l.Source]; !ok {
			continue
		}
		if _, ok := nodeMap[l.Target]; !ok {
			continue
		}
		if l.Source == l.Target {
			continue
		}
		kept = append(kept, l)
		total += l.Weight
		addWeight(adj, l.Source, l.Target, l.Weight)
		addWeight(adj, l.Target, l.Source, l.Weight)
	}

	return &Snapshot{
		Nodes:       nodeMap,
		Links:       kept,
		Adj:         adj,
		ids:         ids,
		totalWeight: total,
	}
}

func addWeight(adj map[string]map[string]float64, from, to string, w float64) {
	m := adj[from]
	if m == nil {
		m = make(map[string]float64)
		adj[from] = m
	}
	m[to] += w
}

// NodeIDs returns all node ids in ascending order. The fixed ordering is
// what makes clustering deterministic across runs.
func (s *Snapshot) NodeIDs() []string {
	return s.ids
}

// Degree returns the weighted degree of a node.
func (s *Snapshot) Degree(id string) float64 {
	var d float64
	for _, w := range s.Adj[id] {
		d += w
	}
	return d
}

// TotalWeight returns the sum of all link weights (m in the modularity
// formula).
func (s *Snapshot) TotalWeight() float64 {
	return s.totalWeight
}

// Isolated reports whether a node has no links.
func (s *Snapshot) Isolated(id string) bool {
	return len(s.Adj[id]) == 0
}

// FromStore loads the current materialized graph into a Snapshot.
func FromStore(ctx context.Context, st *store.Store) (*Snapshot, error) {
	dbNodes, err := st.AllGraphNodes(ctx)
	if err != nil {
		return nil, err
	}
	dbLinks, err := st.AllGraphLinks(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make([]*Node, 0, len(dbNodes))
	for i := range dbNodes {
		n := &dbNodes[i]
		gn := &Node{ID: n.ID, Name: n.Name, Type: n.NodeType, Val: n.Val}
		if n.Positioned() {
			gn.X, gn.Y, gn.Z = *n.PosX, *n.PosY, *n.PosZ
			gn.Positioned = true
		}
		nodes = append(nodes, gn)
	}

	links := make([]Link, 0, len(dbLinks))
	for _, l := range dbLinks {
		links = append(links, Link{
			ID: l.ID, Source: l.Source, Target: l.Target,
			Kind: l.Kind, Weight: l.Weight,
		})
	}

	return NewSnapshot(nodes, links), nil
}
