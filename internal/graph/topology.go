package graph

import "sort"

// HubNode is a node with high connectivity.
type HubNode struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Degree int     `json:"degree"`
	Val    float64 `json:"val"`
}

// DegreeBucket is one bucket in the degree histogram.
type DegreeBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// TopologyReport summarizes the materialized graph for the admin surface.
type TopologyReport struct {
	TotalNodes        int            `json:"total_nodes"`
	TotalLinks        int            `json:"total_links"`
	NodesByType       map[string]int `json:"nodes_by_type"`
	LinksByKind       map[string]int `json:"links_by_kind"`
	NumComponents     int            `json:"num_components"`
	LargestComponent  int            `json:"largest_component"`
	SmallestComponent int            `json:"smallest_component"`
	IsolatedCount     int            `json:"isolated_count"`
	DegreeHistogram   []DegreeBucket `json:"degree_histogram"`
	Hubs              []HubNode      `json:"hubs"`
}

// ComputeTopology analyzes components, isolated nodes, degree distribution,
// and hubs.
func ComputeTopology(snap *Snapshot, hubThreshold, topN int) *TopologyReport {
	report := &TopologyReport{
		TotalNodes:      len(snap.Nodes),
		TotalLinks:      len(snap.Links),
		NodesByType:     make(map[string]int),
		LinksByKind:     make(map[string]int),
		DegreeHistogram: defaultHistogram(),
	}
	if report.TotalNodes == 0 {
		return report
	}

	for _, n := range snap.Nodes {
		report.NodesByType[n.Type]++
	}
	for _, l := range snap.Links {
		report.LinksByKind[l.Kind]++
	}

	nodeIDs := snap.NodeIDs()
	uf := NewUnionFind(nodeIDs)
	for _, l := range snap.Links {
		uf.Union(l.Source, l.Target)
	}
	components := uf.Components()
	report.NumComponents = len(components)
	report.SmallestComponent = report.TotalNodes
	for _, c := range components {
		if len(c) > report.LargestComponent {
			report.LargestComponent = len(c)
		}
		if len(c) < report.SmallestComponent {
			report.SmallestComponent = len(c)
		}
	}

	var hubs []HubNode
	for _, id := range nodeIDs {
		degree := len(snap.Adj[id])
		if degree == 0 {
			report.IsolatedCount++
		}
		report.DegreeHistogram[degreeBucket(degree)].Count++
		if degree > hubThreshold {
			n := snap.Nodes[id]
			hubs = append(hubs, HubNode{
				ID: id, Name: n.Name, Type: n.Type,
				Degree: degree, Val: n.Val,
			})
		}
	}
	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].Degree != hubs[j].Degree {
			return hubs[i].Degree > hubs[j].Degree
		}
		return hubs[i].ID < hubs[j].ID
	})
	if len(hubs) > topN {
		hubs = hubs[:topN]
	}
	report.Hubs = hubs

	return report
}

func defaultHistogram() []DegreeBucket {
	return []DegreeBucket{
		{Label: "0"}, {Label: "1"}, {Label: "2-3"},
		{Label: "4-7"}, {Label: "8-15"}, {Label: "16-31"}, {Label: "32+"},
	}
}

func degreeBucket(degree int) int {
	switch {
	case degree == 0:
		return 0
	case degree == 1:
		return 1
	case degree <= 3:
		return 2
	case degree <= 7:
		return 3
	case degree <= 15:
		return 4
	case degree <= 31:
		return 5
	default:
		return 6
	}
}
