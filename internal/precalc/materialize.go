package precalc

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"redgraph/engine/internal/store"
)

// Materializer turns source entities into graph nodes and links. Upserts
// run first and the orphan sweep second; the reverse order would delete
// nodes the same run is about to re-create.
type Materializer struct {
	store   *store.Store
	log     *zap.SugaredLogger
	workers int
}

// NewMaterializer creates a Materializer with the given worker bound for
// per-type weight recomputation.
func NewMaterializer(st *store.Store, workers int, log *zap.SugaredLogger) *Materializer {
	if workers < 1 {
		workers = 1
	}
	return &Materializer{store: st, log: log, workers: workers}
}

// MaterializeResult summarizes one materialization phase.
type MaterializeResult struct {
	NodesWritten int
	LinksWritten int
	NodesSwept   int64
	LinksSwept   int64
}

// Run materializes the change set. A full change set clears and rebuilds
// the graph tables; an incremental one touches only affected ids.
func (m *Materializer) Run(ctx context.Context, cs *ChangeSet) (*MaterializeResult, error) {
	if cs.Full {
		if err := m.store.ClearGraph(ctx); err != nil {
			return nil, err
		}
	}

	// Scopes: nil means everything (full rebuild), otherwise the changed
	// ids plus the derived activity-weight owners.
	var subScope, userScope, postScope, commentScope []int64
	if !cs.Full {
		subScope = union(cs.Subreddits, cs.DerivedSubreddits)
		userScope = union(cs.Users, cs.DerivedUsers)
		postScope = keys(cs.Posts)
		commentScope = keys(cs.Comments)
	}

	counts, err := m.loadCounts(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	var subNodes, userNodes, postNodes, commentNodes []store.GraphNode
	var posts []store.Post
	var comments []store.Comment

	// Per-entity weight recomputation is independent until the final
	// write, so the four types build concurrently.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	g.Go(func() error {
		subs, err := m.store.SubredditsByIDs(gctx, subScope)
		if err != nil {
			return err
		}
		subNodes = make([]store.GraphNode, 0, len(subs))
		for _, sr := range subs {
			val := 1 + math.Log1p(float64(sr.Subscribers)) +
				0.5*float64(counts.postsBySub[sr.ID]) +
				0.1*float64(counts.commentsBySub[sr.ID])
			subNodes = append(subNodes, store.GraphNode{
				ID: store.NodeID(store.TypeSubreddit, sr.ID), Name: "r/" + sr.Name,
				NodeType: store.TypeSubreddit, Val: val, CreatedAt: now, UpdatedAt: now,
			})
		}
		return nil
	})
	g.Go(func() error {
		users, err := m.store.UsersByIDs(gctx, userScope)
		if err != nil {
			return err
		}
		userNodes = make([]store.GraphNode, 0, len(users))
		for _, u := range users {
			val := 1 + math.Log1p(math.Max(float64(u.Karma), 0)) +
				0.25*float64(counts.postsByUser[u.ID]) +
				0.1*float64(counts.commentsByUser[u.ID])
			userNodes = append(userNodes, store.GraphNode{
				ID: store.NodeID(store.TypeUser, u.ID), Name: "u/" + u.Name,
				NodeType: store.TypeUser, Val: val, CreatedAt: now, UpdatedAt: now,
			})
		}
		return nil
	})
	g.Go(func() error {
		var err error
		posts, err = m.store.PostsByIDs(gctx, postScope)
		if err != nil {
			return err
		}
		postNodes = make([]store.GraphNode, 0, len(posts))
		for _, p := range posts {
			val := 1 + math.Log1p(math.Max(float64(p.Score), 0))
			postNodes = append(postNodes, store.GraphNode{
				ID: store.NodeID(store.TypePost, p.ID), Name: p.Title,
				NodeType: store.TypePost, Val: val, CreatedAt: now, UpdatedAt: now,
			})
		}
		return nil
	})
	g.Go(func() error {
		var err error
		comments, err = m.store.CommentsByIDs(gctx, commentScope)
		if err != nil {
			return err
		}
		commentNodes = make([]store.GraphNode, 0, len(comments))
		for _, c := range comments {
			val := 1 + math.Log1p(math.Max(float64(c.Score), 0))
			commentNodes = append(commentNodes, store.GraphNode{
				ID: store.NodeID(store.TypeComment, c.ID), Name: fmt.Sprintf("comment %d", c.ID),
				NodeType: store.TypeComment, Val: val, CreatedAt: now, UpdatedAt: now,
			})
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &MaterializeResult{}
	allNodes := make([]store.GraphNode, 0, len(subNodes)+len(userNodes)+len(postNodes)+len(commentNodes))
	allNodes = append(allNodes, subNodes...)
	allNodes = append(allNodes, userNodes...)
	allNodes = append(allNodes, postNodes...)
	allNodes = append(allNodes, commentNodes...)
	if err := m.store.UpsertGraphNodes(ctx, allNodes); err != nil {
		return nil, err
	}
	result.NodesWritten = len(allNodes)

	links, err := m.buildLinks(ctx, posts, comments, userScope, now)
	if err != nil {
		return nil, err
	}
	written, err := m.store.UpsertGraphLinks(ctx, links)
	if err != nil {
		return nil, err
	}
	result.LinksWritten = written

	// Sweep after upserts: nodes whose source entity vanished, then links
	// with a dangling endpoint.
	if result.NodesSwept, err = m.store.SweepOrphanNodes(ctx); err != nil {
		return nil, err
	}
	if result.LinksSwept, err = m.store.SweepOrphanLinks(ctx); err != nil {
		return nil, err
	}

	m.log.Infow("materialization done",
		"full", cs.Full,
		"nodes_written", result.NodesWritten, "links_written", result.LinksWritten,
		"nodes_swept", result.NodesSwept, "links_swept", result.LinksSwept)
	return result, nil
}

// buildLinks derives the link rows for the loaded posts and comments plus
// the activity links of the users in scope. Links whose other endpoint is
// not materialized yet are dropped by the store upsert, silently.
func (m *Materializer) buildLinks(ctx context.Context, posts []store.Post, comments []store.Comment, userScope []int64, now int64) ([]store.GraphLink, error) {
	var links []store.GraphLink

	add := func(kind, source, target string, weight float64) {
		links = append(links, store.GraphLink{
			ID: store.LinkID(kind, source, target), Source: source, Target: target,
			Kind: kind, Weight: weight, UpdatedAt: now,
		})
	}

	for _, p := range posts {
		postID := store.NodeID(store.TypePost, p.ID)
		add(store.LinkAuthored, store.NodeID(store.TypeUser, p.UserID), postID, 1)
		add(store.LinkPostedIn, postID, store.NodeID(store.TypeSubreddit, p.SubredditID), 1)
	}
	for _, c := range comments {
		commentID := store.NodeID(store.TypeComment, c.ID)
		add(store.LinkCommentOn, commentID, store.NodeID(store.TypePost, c.PostID), 1)
		if c.ParentCommentID != nil {
			add(store.LinkReplyTo, commentID, store.NodeID(store.TypeComment, *c.ParentCommentID), 1)
		}
	}

	activity, err := m.store.ActivityByUserSubreddit(ctx, userScope)
	if err != nil {
		return nil, err
	}
	for _, a := range activity {
		add(store.LinkActiveIn,
			store.NodeID(store.TypeUser, a.UserID),
			store.NodeID(store.TypeSubreddit, a.SubredditID),
			float64(a.Count))
	}

	return links, nil
}

type sourceCounts struct {
	postsBySub     map[int64]int64
	commentsBySub  map[int64]int64
	postsByUser    map[int64]int64
	commentsByUser map[int64]int64
}

func (m *Materializer) loadCounts(ctx context.Context) (*sourceCounts, error) {
	var c sourceCounts
	var err error
	if c.postsBySub, err = m.store.PostCountsBySubreddit(ctx); err != nil {
		return nil, err
	}
	if c.commentsBySub, err = m.store.CommentCountsBySubreddit(ctx); err != nil {
		return nil, err
	}
	if c.postsByUser, err = m.store.PostCountsByUser(ctx); err != nil {
		return nil, err
	}
	if c.commentsByUser, err = m.store.CommentCountsByUser(ctx); err != nil {
		return nil, err
	}
	return &c, nil
}

func union(a, b map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(a)+len(b))
	seen := make(map[int64]struct{}, len(a)+len(b))
	for id := range a {
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for id := range b {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
