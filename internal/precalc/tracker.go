// Package precalc is the incremental graph precalculation engine: change
// tracking, materialization, community detection, spatial layout, and
// version/diff recording, executed as sequential phases of one run.
package precalc

import (
	"context"

	"go.uber.org/zap"

	"redgraph/engine/internal/store"
)

// ChangeSet holds the source entity ids mutated since the watermark, plus
// the derived sets of users and subreddits whose activity weight is
// affected even though their own rows did not change.
type ChangeSet struct {
	// Full means everything changed: first run, forced rebuild, or a
	// corrupt watermark (fail closed).
	Full bool

	// SweepNeeded means source rows were deleted since the last run.
	// Deletes leave no change_seq behind, so they are detected by
	// comparing source row counts against materialized node counts.
	SweepNeeded bool

	Subreddits map[int64]struct{}
	Users      map[int64]struct{}
	Posts      map[int64]struct{}
	Comments   map[int64]struct{}

	DerivedUsers      map[int64]struct{}
	DerivedSubreddits map[int64]struct{}
}

// Empty reports whether nothing changed.
func (cs *ChangeSet) Empty() bool {
	return !cs.Full && !cs.SweepNeeded &&
		len(cs.Subreddits) == 0 && len(cs.Users) == 0 &&
		len(cs.Posts) == 0 && len(cs.Comments) == 0
}

// Size returns the total number of directly changed entities.
func (cs *ChangeSet) Size() int {
	return len(cs.Subreddits) + len(cs.Users) + len(cs.Posts) + len(cs.Comments)
}

// Tracker determines what changed since the last successful run.
type Tracker struct {
	store *store.Store
	log   *zap.SugaredLogger
}

// NewTracker creates a Tracker.
func NewTracker(st *store.Store, log *zap.SugaredLogger) *Tracker {
	return &Tracker{store: st, log: log}
}

// Track builds the change set for one run. state is the watermark row as
// read at run start; nil or corrupt state fails closed into a full
// rebuild, as does forceFull.
func (t *Tracker) Track(ctx context.Context, state *store.PrecalcState, forceFull bool) (*ChangeSet, error) {
	cs := &ChangeSet{
		Subreddits:        make(map[int64]struct{}),
		Users:             make(map[int64]struct{}),
		Posts:             make(map[int64]struct{}),
		Comments:          make(map[int64]struct{}),
		DerivedUsers:      make(map[int64]struct{}),
		DerivedSubreddits: make(map[int64]struct{}),
	}

	switch {
	case forceFull:
		cs.Full = true
		t.log.Infow("full rebuild requested")
		return cs, nil
	case state == nil:
		cs.Full = true
		t.log.Infow("no watermark, forcing full rebuild")
		return cs, nil
	case state.LastRunSeq < 0:
		cs.Full = true
		t.log.Warnw("corrupt watermark, forcing full rebuild", "last_run_seq", state.LastRunSeq)
		return cs, nil
	}

	// A watermark that points at a version that never completed means the
	// state row cannot be trusted either.
	if state.CurrentVersionID != nil {
		v, err := t.store.GetVersion(ctx, *state.CurrentVersionID)
		if err != nil || v.Status != store.StatusCompleted {
			cs.Full = true
			t.log.Warnw("watermark references incomplete version, forcing full rebuild",
				"version_id", *state.CurrentVersionID)
			return cs, nil
		}
	}

	since := state.LastRunSeq
	for _, et := range []struct {
		entityType string
		dest       map[int64]struct{}
	}{
		{store.TypeSubreddit, cs.Subreddits},
		{store.TypeUser, cs.Users},
		{store.TypePost, cs.Posts},
		{store.TypeComment, cs.Comments},
	} {
		ids, err := t.store.ChangedIDs(ctx, et.entityType, since)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			et.dest[id] = struct{}{}
		}
	}

	if err := t.derive(ctx, cs); err != nil {
		return nil, err
	}
	if err := t.detectDeletes(ctx, cs); err != nil {
		return nil, err
	}

	t.log.Debugw("change set tracked",
		"since_seq", since,
		"subreddits", len(cs.Subreddits), "users", len(cs.Users),
		"posts", len(cs.Posts), "comments", len(cs.Comments),
		"derived_users", len(cs.DerivedUsers), "derived_subreddits", len(cs.DerivedSubreddits),
		"sweep_needed", cs.SweepNeeded)
	return cs, nil
}

// detectDeletes flags the change set when any type has more materialized
// nodes than source rows, which only happens after a source delete.
func (t *Tracker) detectDeletes(ctx context.Context, cs *ChangeSet) error {
	for _, entityType := range []string{
		store.TypeSubreddit, store.TypeUser, store.TypePost, store.TypeComment,
	} {
		sourceCount, err := t.store.CountSourceEntities(ctx, entityType)
		if err != nil {
			return err
		}
		nodeCount, err := t.store.CountGraphNodes(ctx, []string{entityType})
		if err != nil {
			return err
		}
		if nodeCount > sourceCount {
			cs.SweepNeeded = true
			return nil
		}
	}
	return nil
}

// derive adds the authors and containing subreddits of changed content: a
// new post bumps the activity weight of its author and subreddit even
// though those rows did not change.
func (t *Tracker) derive(ctx context.Context, cs *ChangeSet) error {
	postIDs := keys(cs.Posts)
	if len(postIDs) > 0 {
		posts, err := t.store.PostsByIDs(ctx, postIDs)
		if err != nil {
			return err
		}
		for _, p := range posts {
			addDerived(cs.DerivedUsers, cs.Users, p.UserID)
			addDerived(cs.DerivedSubreddits, cs.Subreddits, p.SubredditID)
		}
	}

	commentIDs := keys(cs.Comments)
	if len(commentIDs) > 0 {
		comments, err := t.store.CommentsByIDs(ctx, commentIDs)
		if err != nil {
			return err
		}
		parentPosts := make(map[int64]struct{})
		for _, c := range comments {
			addDerived(cs.DerivedUsers, cs.Users, c.UserID)
			parentPosts[c.PostID] = struct{}{}
		}
		if len(parentPosts) > 0 {
			posts, err := t.store.PostsByIDs(ctx, keys(parentPosts))
			if err != nil {
				return err
			}
			for _, p := range posts {
				addDerived(cs.DerivedSubreddits, cs.Subreddits, p.SubredditID)
			}
		}
	}

	return nil
}

// addDerived adds id to derived unless it is already directly changed.
func addDerived(derived, direct map[int64]struct{}, id int64) {
	if _, ok := direct[id]; !ok {
		derived[id] = struct{}{}
	}
}

func keys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
