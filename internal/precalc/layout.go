package precalc

import (
	"hash/fnv"
	"math"
	"sort"

	"go.uber.org/zap"

	"redgraph/engine/internal/graph"
	"redgraph/engine/internal/store"
)

// Layout assigns 3D coordinates by force-directed relaxation: repulsion
// between connected-component nodes, attraction along links, and a step
// size that decays each iteration. Incremental runs move only the nodes
// in scope; everything else is an anchor, so unaffected nodes never jump
// between versions.
type Layout struct {
	log        *zap.SugaredLogger
	iterations int
}

// NewLayout creates a Layout with the given iteration count.
func NewLayout(iterations int, log *zap.SugaredLogger) *Layout {
	if iterations < 1 {
		iterations = 1
	}
	return &Layout{log: log, iterations: iterations}
}

// LayoutResult reports which nodes moved and whether the relaxation stayed
// numerically sane.
type LayoutResult struct {
	Moved     []string
	Converged bool
}

const (
	layoutRadius  = 100.0
	layoutMaxStep = 10.0
)

// Run positions the snapshot's nodes in place. movable limits which nodes
// may move; nil means all. Unpositioned nodes are seeded first from a hash
// of their id, so seeding needs no RNG state and is stable across runs.
func (l *Layout) Run(snap *graph.Snapshot, movable map[string]struct{}) *LayoutResult {
	res := &LayoutResult{Converged: true}
	ids := snap.NodeIDs()
	if len(ids) == 0 {
		return res
	}

	moved := make(map[string]struct{})
	canMove := func(id string) bool {
		if movable == nil {
			return true
		}
		_, ok := movable[id]
		return ok
	}

	// Seed. Isolated nodes go on a small ring near the origin and take no
	// part in the force loop; pairwise repulsion over a large disconnected
	// set would be O(n^2) for nothing.
	var active []string
	for _, id := range ids {
		n := snap.Nodes[id]
		if snap.Isolated(id) {
			if !n.Positioned && canMove(id) {
				x, y, z := hashPosition(id, layoutRadius*0.15)
				n.X, n.Y, n.Z = x, y, z
				n.Positioned = true
				moved[id] = struct{}{}
			}
			continue
		}
		if !n.Positioned {
			if canMove(id) {
				n.X, n.Y, n.Z = hashPosition(id, layoutRadius)
				n.Positioned = true
				moved[id] = struct{}{}
			} else {
				// An anchor with no position yet still needs one for
				// neighbors to pull against.
				n.X, n.Y, n.Z = hashPosition(id, layoutRadius)
				n.Positioned = true
			}
		}
		active = append(active, id)
	}

	if len(active) > 1 {
		if !l.relax(snap, active, canMove, moved) {
			res.Converged = false
		}
	}

	res.Moved = make([]string, 0, len(moved))
	for id := range moved {
		res.Moved = append(res.Moved, id)
	}
	sort.Strings(res.Moved)
	return res
}

// relax runs the iteration loop over the active (non-isolated) nodes.
// Returns false if any step produced a non-finite coordinate.
func (l *Layout) relax(snap *graph.Snapshot, active []string, canMove func(string) bool, moved map[string]struct{}) bool {
	k := layoutRadius / math.Cbrt(float64(len(active)))
	finite := true

	disp := make(map[string]*[3]float64, len(active))
	for _, id := range active {
		disp[id] = &[3]float64{}
	}

	for iter := 0; iter < l.iterations; iter++ {
		step := layoutMaxStep * (1 - float64(iter)/float64(l.iterations))

		for _, d := range disp {
			d[0], d[1], d[2] = 0, 0, 0
		}

		// Repulsion between all active pairs.
		for i, a := range active {
			na := snap.Nodes[a]
			for _, b := range active[i+1:] {
				nb := snap.Nodes[b]
				dx, dy, dz := na.X-nb.X, na.Y-nb.Y, na.Z-nb.Z
				distSq := dx*dx + dy*dy + dz*dz
				if distSq < 1e-6 {
					// Coincident nodes: push apart along a hash direction.
					dx, dy, dz = hashPosition(a+b, 1)
					distSq = dx*dx + dy*dy + dz*dz
				}
				f := k * k / distSq
				disp[a][0] += dx * f
				disp[a][1] += dy * f
				disp[a][2] += dz * f
				disp[b][0] -= dx * f
				disp[b][1] -= dy * f
				disp[b][2] -= dz * f
			}
		}

		// Attraction along links, scaled by link weight.
		for _, link := range snap.Links {
			ns, nt := snap.Nodes[link.Source], snap.Nodes[link.Target]
			dx, dy, dz := ns.X-nt.X, ns.Y-nt.Y, ns.Z-nt.Z
			dist := math.Sqrt(dx*dx+dy*dy+dz*dz) + 1e-9
			f := dist / k * math.Min(link.Weight, 10)
			fx, fy, fz := dx/dist*f, dy/dist*f, dz/dist*f
			if d := disp[link.Source]; d != nil {
				d[0] -= fx
				d[1] -= fy
				d[2] -= fz
			}
			if d := disp[link.Target]; d != nil {
				d[0] += fx
				d[1] += fy
				d[2] += fz
			}
		}

		// Apply, capped by the cooling step.
		for _, id := range active {
			if !canMove(id) {
				continue
			}
			d := disp[id]
			mag := math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
			if mag < 1e-9 {
				continue
			}
			scale := math.Min(mag, step) / mag
			n := snap.Nodes[id]
			nx, ny, nz := n.X+d[0]*scale, n.Y+d[1]*scale, n.Z+d[2]*scale
			if !finiteAll(nx, ny, nz) {
				finite = false
				continue // keep the pre-step position
			}
			n.X, n.Y, n.Z = nx, ny, nz
			moved[id] = struct{}{}
		}
	}

	return finite
}

func finiteAll(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// hashPosition derives a stable pseudo-random position inside a cube of
// the given half-extent from the node id alone.
func hashPosition(id string, extent float64) (x, y, z float64) {
	h := fnv.New64a()
	h.Write([]byte(id))
	v := h.Sum64()
	unit := func(bits uint64) float64 {
		return (float64(bits&0xFFFFF)/float64(0xFFFFF))*2 - 1
	}
	return unit(v) * extent, unit(v>>20) * extent, unit(v>>40) * extent
}

// Centroids returns the mean member position per community at every
// hierarchy level. Community ids are globally unique across levels, so a
// single map serves level-0 bundling and the coarser drill-down tiers.
func Centroids(snap *graph.Snapshot, hierarchy []store.HierarchyEntry) map[int64][3]float64 {
	sums := make(map[int64]*[4]float64)
	for _, h := range hierarchy {
		n := snap.Nodes[h.NodeID]
		if n == nil || !n.Positioned {
			continue
		}
		s := sums[h.CommunityID]
		if s == nil {
			s = &[4]float64{}
			sums[h.CommunityID] = s
		}
		s[0] += n.X
		s[1] += n.Y
		s[2] += n.Z
		s[3]++
	}
	out := make(map[int64][3]float64, len(sums))
	for comm, s := range sums {
		out[comm] = [3]float64{s[0] / s[3], s[1] / s[3], s[2] / s[3]}
	}
	return out
}

// Bundles derives one curved-edge aggregate per community pair: the
// control point is the centroid midpoint displaced perpendicular to the
// connecting line, scaled with aggregate weight, so clients draw a single
// curve instead of every raw cross-community edge.
func Bundles(p *Partition, centroids map[int64][3]float64) []store.EdgeBundle {
	bundles := make([]store.EdgeBundle, 0, len(p.Links))
	for _, cl := range p.Links {
		ca, okA := centroids[cl.CommunityA]
		cb, okB := centroids[cl.CommunityB]
		if !okA || !okB {
			continue
		}

		mid := [3]float64{(ca[0] + cb[0]) / 2, (ca[1] + cb[1]) / 2, (ca[2] + cb[2]) / 2}
		dir := [3]float64{cb[0] - ca[0], cb[1] - ca[1], cb[2] - ca[2]}
		perp := perpendicular(dir)
		offset := math.Log1p(cl.Weight) * 2

		count := p.LinkCounts[[2]int64{cl.CommunityA, cl.CommunityB}]
		avg := cl.Weight
		if count > 0 {
			avg = cl.Weight / float64(count)
		}

		bundles = append(bundles, store.EdgeBundle{
			CommunityA:  cl.CommunityA,
			CommunityB:  cl.CommunityB,
			Weight:      cl.Weight,
			AvgStrength: avg,
			CtrlX:       mid[0] + perp[0]*offset,
			CtrlY:       mid[1] + perp[1]*offset,
			CtrlZ:       mid[2] + perp[2]*offset,
		})
	}
	return bundles
}

// perpendicular returns a unit vector orthogonal to dir. Degenerate
// directions fall back to the x axis.
func perpendicular(dir [3]float64) [3]float64 {
	up := [3]float64{0, 1, 0}
	if math.Abs(dir[0]) < 1e-9 && math.Abs(dir[2]) < 1e-9 {
		up = [3]float64{1, 0, 0}
	}
	cross := [3]float64{
		dir[1]*up[2] - dir[2]*up[1],
		dir[2]*up[0] - dir[0]*up[2],
		dir[0]*up[1] - dir[1]*up[0],
	}
	mag := math.Sqrt(cross[0]*cross[0] + cross[1]*cross[1] + cross[2]*cross[2])
	if mag < 1e-9 {
		return [3]float64{1, 0, 0}
	}
	return [3]float64{cross[0] / mag, cross[1] / mag, cross[2] / mag}
}
