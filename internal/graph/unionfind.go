package graph

import "sort"

// UnionFind tracks connected components over node ids, with path
// compression and union by size.
type UnionFind struct {
	parent map[string]string
	size   map[string]int
}

// NewUnionFind creates a UnionFind where each id is its own component.
func NewUnionFind(ids []string) *UnionFind {
	uf := &UnionFind{
		parent: make(map[string]string, len(ids)),
		size:   make(map[string]int, len(ids)),
	}
	for _, id := range ids {
		uf.parent[id] = id
		uf.size[id] = 1
	}
	return uf
}

// Find returns the root of the component containing id.
func (uf *UnionFind) Find(id string) string {
	root, ok := uf.parent[id]
	if !ok {
		return id
	}
	for root != uf.parent[root] {
		root = uf.parent[root]
	}
	for id != root {
		next := uf.parent[id]
		uf.parent[id] = root
		id = next
	}
	return root
}

// Union merges the components containing a and b. Returns true if they
// were separate.
func (uf *UnionFind) Union(a, b string) bool {
	rootA, rootB := uf.Find(a), uf.Find(b)
	if rootA == rootB {
		return false
	}
	if uf.size[rootA] < uf.size[rootB] {
		rootA, rootB = rootB, rootA
	}
	uf.parent[rootB] = rootA
	uf.size[rootA] += uf.size[rootB]
	return true
}

// Components returns all connected components, each sorted by id, ordered
// by their smallest member.
func (uf *UnionFind) Components() [][]string {
	groups := make(map[string][]string)
	for id := range uf.parent {
		root := uf.Find(id)
		groups[root] = append(groups[root], id)
	}
	result := make([][]string, 0, len(groups))
	for _, members := range groups {
		sort.Strings(members)
		result = append(result, members)
	}
	sort.Slice(result, func(i, j int) bool { return result[i][0] < result[j][0] })
	return result
}
