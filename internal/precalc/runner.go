package precalc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"redgraph/engine/internal/config"
	"redgraph/engine/internal/errors"
	"redgraph/engine/internal/graph"
	"redgraph/engine/internal/store"
)

// Runner executes one precalculation run end to end: lease, track,
// materialize, detect, layout, diff, record. Every run is either fully
// recorded as a completed version or marked failed; partial state never
// becomes the current version.
type Runner struct {
	store  *store.Store
	cfg    config.PrecalcConfig
	log    *zap.SugaredLogger
	holder string
}

// NewRunner creates a Runner with a unique lease holder id.
func NewRunner(st *store.Store, cfg config.PrecalcConfig, log *zap.SugaredLogger) *Runner {
	return &Runner{
		store:  st,
		cfg:    cfg,
		log:    log,
		holder: uuid.NewString(),
	}
}

// RunResult summarizes one run.
type RunResult struct {
	VersionID int64
	Full      bool
	NodeCount int
	LinkCount int
	DiffCount int
	Converged bool
	// Skipped means no version was produced: the lease was held elsewhere
	// or nothing changed since the watermark.
	Skipped  bool
	Duration time.Duration
}

// Run executes one run. forceFull bypasses incremental tracking. A held
// lease or an empty change set is a no-op, not an error.
func (r *Runner) Run(ctx context.Context, forceFull bool) (*RunResult, error) {
	start := time.Now()

	if err := r.store.AcquireLease(ctx, r.holder, r.cfg.LeaseTTL()); err != nil {
		if errors.Is(err, errors.ErrLeaseHeld) {
			r.log.Infow("run lease held elsewhere, skipping")
			return &RunResult{Skipped: true, Duration: time.Since(start)}, nil
		}
		return nil, err
	}
	defer func() {
		if err := r.store.ReleaseLease(context.Background(), r.holder); err != nil {
			r.log.Warnw("lease release failed", "error", err)
		}
	}()

	// The watermark is captured before tracking. Source writes that land
	// during the run carry a higher seq and surface next run.
	watermark, err := r.store.CurrentChangeSeq(ctx)
	if err != nil {
		return nil, err
	}

	state, err := r.store.GetPrecalcState(ctx)
	if err != nil {
		return nil, err
	}

	cs, err := NewTracker(r.store, r.log).Track(ctx, state, forceFull || r.cfg.ForceFullRebuild)
	if err != nil {
		return nil, err
	}
	if cs.Empty() {
		r.log.Infow("no changes since last run, skipping")
		return &RunResult{Skipped: true, Duration: time.Since(start)}, nil
	}

	beforeNodes, err := r.store.AllGraphNodes(ctx)
	if err != nil {
		return nil, err
	}
	beforeLinks, err := r.store.AllGraphLinks(ctx)
	if err != nil {
		return nil, err
	}
	before := CaptureState(beforeNodes, beforeLinks)

	versionID, err := r.store.CreateRunningVersion(ctx, cs.Full)
	if err != nil {
		return nil, err
	}
	r.log.Infow("run started",
		"version_id", versionID, "full", cs.Full, "changed", cs.Size())

	res, err := r.execute(ctx, versionID, cs, before, watermark, start)
	if err != nil {
		if ferr := r.store.FailVersion(context.Background(), versionID); ferr != nil {
			r.log.Errorw("marking version failed also failed",
				"version_id", versionID, "error", ferr)
		}
		return nil, errors.Wrapf(err, "run version %d", versionID)
	}
	return res, nil
}

// execute runs the phases after the version row exists. Any error aborts
// and the caller marks the version failed.
func (r *Runner) execute(ctx context.Context, versionID int64, cs *ChangeSet, before *GraphState, watermark int64, start time.Time) (*RunResult, error) {
	mat, err := NewMaterializer(r.store, r.cfg.Workers, r.log).Run(ctx, cs)
	if err != nil {
		return nil, errors.Wrap(err, "materialize")
	}
	r.log.Debugw("materialized",
		"nodes_written", mat.NodesWritten, "links_written", mat.LinksWritten,
		"nodes_swept", mat.NodesSwept, "links_swept", mat.LinksSwept)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap, err := graph.FromStore(ctx, r.store)
	if err != nil {
		return nil, errors.Wrap(err, "load snapshot")
	}

	part := NewDetector(r.cfg.MaxMergeSweeps, r.cfg.HierarchyLevels, r.log).Detect(snap, versionID)
	if err := r.store.ReplaceCommunities(ctx, part.Communities, part.Members, part.Links, part.Hierarchy); err != nil {
		return nil, errors.Wrap(err, "store communities")
	}
	r.log.Debugw("communities detected",
		"communities", len(part.Communities), "levels", part.Levels,
		"modularity", part.Modularity, "converged", part.Converged)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A full rebuild recomputes the layout from scratch. Dropping the
	// stored positions makes the result a pure function of the graph, so
	// rebuilding unchanged data reproduces identical coordinates.
	if cs.Full {
		for _, n := range snap.Nodes {
			n.Positioned = false
		}
	}
	layoutRes := NewLayout(r.cfg.LayoutIterations, r.log).Run(snap, r.movableSet(cs))
	if err := r.storePositions(ctx, snap, layoutRes.Moved); err != nil {
		return nil, errors.Wrap(err, "store positions")
	}
	centroids := Centroids(snap, part.Hierarchy)
	if err := r.store.ReplaceEdgeBundles(ctx, Bundles(part, centroids), centroids); err != nil {
		return nil, errors.Wrap(err, "store bundles")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	afterNodes, err := r.store.AllGraphNodes(ctx)
	if err != nil {
		return nil, err
	}
	afterLinks, err := r.store.AllGraphLinks(ctx)
	if err != nil {
		return nil, err
	}
	after := CaptureState(afterNodes, afterLinks)
	diffs := Diff(before, after)

	converged := part.Converged && layoutRes.Converged
	if err := r.store.CompleteVersion(ctx, versionID, diffs,
		len(afterNodes), len(afterLinks), converged, watermark, cs.Full); err != nil {
		return nil, errors.Wrap(err, "complete version")
	}

	if r.cfg.RetainVersions > 0 {
		pruned, err := r.store.PruneVersions(ctx, r.cfg.RetainVersions)
		if err != nil {
			r.log.Warnw("version prune failed", "error", err)
		} else if pruned > 0 {
			r.log.Debugw("versions pruned", "count", pruned)
		}
	}

	out := &RunResult{
		VersionID: versionID,
		Full:      cs.Full,
		NodeCount: len(afterNodes),
		LinkCount: len(afterLinks),
		DiffCount: len(diffs),
		Converged: converged,
		Duration:  time.Since(start),
	}
	r.log.Infow("run completed",
		"version_id", out.VersionID, "full", out.Full,
		"nodes", out.NodeCount, "links", out.LinkCount,
		"diffs", out.DiffCount, "converged", out.Converged,
		"duration", out.Duration)
	return out, nil
}

// movableSet returns the node ids the layout may move, or nil on a full
// rebuild (everything moves).
func (r *Runner) movableSet(cs *ChangeSet) map[string]struct{} {
	if cs.Full {
		return nil
	}
	movable := make(map[string]struct{})
	add := func(entityType string, ids map[int64]struct{}) {
		for id := range ids {
			movable[store.NodeID(entityType, id)] = struct{}{}
		}
	}
	add(store.TypeSubreddit, cs.Subreddits)
	add(store.TypeSubreddit, cs.DerivedSubreddits)
	add(store.TypeUser, cs.Users)
	add(store.TypeUser, cs.DerivedUsers)
	add(store.TypePost, cs.Posts)
	add(store.TypeComment, cs.Comments)
	return movable
}

// storePositions persists the coordinates of the nodes the layout moved.
func (r *Runner) storePositions(ctx context.Context, snap *graph.Snapshot, moved []string) error {
	if len(moved) == 0 {
		return nil
	}
	rows := make([]store.GraphNode, 0, len(moved))
	for _, id := range moved {
		n := snap.Nodes[id]
		if n == nil || !n.Positioned {
			continue
		}
		x, y, z := n.X, n.Y, n.Z
		rows = append(rows, store.GraphNode{ID: id, PosX: &x, PosY: &y, PosZ: &z})
	}
	return r.store.UpdateNodePositions(ctx, rows)
}
