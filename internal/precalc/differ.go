package precalc

import (
	"math"
	"sort"

	"redgraph/engine/internal/store"
)

// GraphState is a point-in-time copy of the materialized graph, keyed for
// diffing. Capture it before a run, compare after.
type GraphState struct {
	Nodes map[string]*store.GraphNode
	Links map[string]*store.GraphLink
}

// CaptureState indexes the given rows by id.
func CaptureState(nodes []store.GraphNode, links []store.GraphLink) *GraphState {
	st := &GraphState{
		Nodes: make(map[string]*store.GraphNode, len(nodes)),
		Links: make(map[string]*store.GraphLink, len(links)),
	}
	for i := range nodes {
		st.Nodes[nodes[i].ID] = &nodes[i]
	}
	for i := range links {
		st.Links[links[i].ID] = &links[i]
	}
	return st
}

// floats that differ by less than this are treated as equal, so layout
// arithmetic noise never manufactures update diffs.
const diffEpsilon = 1e-9

// Diff compares two graph states and returns the add, update, and delete
// records that turn before into after. Output order is deterministic:
// nodes before links, each sorted by action then entity id.
func Diff(before, after *GraphState) []store.GraphDiff {
	var diffs []store.GraphDiff

	nodeIDs := unionKeys(keysOfNodes(before.Nodes), keysOfNodes(after.Nodes))
	for _, id := range nodeIDs {
		old, hadOld := before.Nodes[id]
		cur, hasNew := after.Nodes[id]
		switch {
		case !hadOld:
			diffs = append(diffs, store.GraphDiff{
				Action:     store.DiffAdd,
				EntityType: store.EntityNode,
				EntityID:   id,
				NewVal:     f64(cur.Val),
				NewX:       cur.PosX,
				NewY:       cur.PosY,
				NewZ:       cur.PosZ,
			})
		case !hasNew:
			diffs = append(diffs, store.GraphDiff{
				Action:     store.DiffDelete,
				EntityType: store.EntityNode,
				EntityID:   id,
				OldVal:     f64(old.Val),
				OldX:       old.PosX,
				OldY:       old.PosY,
				OldZ:       old.PosZ,
			})
		case nodeChanged(old, cur):
			diffs = append(diffs, store.GraphDiff{
				Action:     store.DiffUpdate,
				EntityType: store.EntityNode,
				EntityID:   id,
				OldVal:     f64(old.Val),
				NewVal:     f64(cur.Val),
				OldX:       old.PosX,
				OldY:       old.PosY,
				OldZ:       old.PosZ,
				NewX:       cur.PosX,
				NewY:       cur.PosY,
				NewZ:       cur.PosZ,
			})
		}
	}

	linkIDs := unionKeys(keysOfLinks(before.Links), keysOfLinks(after.Links))
	for _, id := range linkIDs {
		old, hadOld := before.Links[id]
		cur, hasNew := after.Links[id]
		switch {
		case !hadOld:
			diffs = append(diffs, store.GraphDiff{
				Action:     store.DiffAdd,
				EntityType: store.EntityLink,
				EntityID:   id,
				NewVal:     f64(cur.Weight),
			})
		case !hasNew:
			diffs = append(diffs, store.GraphDiff{
				Action:     store.DiffDelete,
				EntityType: store.EntityLink,
				EntityID:   id,
				OldVal:     f64(old.Weight),
			})
		case !floatEq(old.Weight, cur.Weight):
			diffs = append(diffs, store.GraphDiff{
				Action:     store.DiffUpdate,
				EntityType: store.EntityLink,
				EntityID:   id,
				OldVal:     f64(old.Weight),
				NewVal:     f64(cur.Weight),
			})
		}
	}

	return diffs
}

func nodeChanged(old, cur *store.GraphNode) bool {
	if !floatEq(old.Val, cur.Val) {
		return true
	}
	return !ptrEq(old.PosX, cur.PosX) || !ptrEq(old.PosY, cur.PosY) || !ptrEq(old.PosZ, cur.PosZ)
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < diffEpsilon
}

func ptrEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return floatEq(*a, *b)
}

func f64(v float64) *float64 { return &v }

func keysOfNodes(m map[string]*store.GraphNode) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func keysOfLinks(m map[string]*store.GraphLink) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func unionKeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, k := range a {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	for _, k := range b {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
