package precalc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redgraph/engine/internal/logging"
	"redgraph/engine/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func nowMs() int64 { return time.Now().UnixMilli() }

func seedSubreddit(t *testing.T, s *store.Store, id int64, name string, subscribers int64) {
	t.Helper()
	require.NoError(t, s.UpsertSubreddit(context.Background(), &store.Subreddit{
		ID: id, Name: name, Title: name, Subscribers: subscribers,
		CreatedAt: nowMs(), UpdatedAt: nowMs(),
	}))
}

func seedUser(t *testing.T, s *store.Store, id int64, name string, karma int64) {
	t.Helper()
	require.NoError(t, s.UpsertUser(context.Background(), &store.User{
		ID: id, Name: name, Karma: karma, CreatedAt: nowMs(), UpdatedAt: nowMs(),
	}))
}

func seedPost(t *testing.T, s *store.Store, id, subID, userID int64) {
	t.Helper()
	require.NoError(t, s.UpsertPost(context.Background(), &store.Post{
		ID: id, SubredditID: subID, UserID: userID,
		Title: "post", Score: 10, CreatedAt: nowMs(), UpdatedAt: nowMs(),
	}))
}

func seedComment(t *testing.T, s *store.Store, id, postID, userID int64, parent *int64) {
	t.Helper()
	require.NoError(t, s.UpsertComment(context.Background(), &store.Comment{
		ID: id, PostID: postID, UserID: userID, ParentCommentID: parent,
		Score: 1, CreatedAt: nowMs(), UpdatedAt: nowMs(),
	}))
}

func TestTrack_NilStateFailsClosedToFull(t *testing.T) {
	s := testStore(t)
	cs, err := NewTracker(s, logging.Nop()).Track(context.Background(), nil, false)
	require.NoError(t, err)
	assert.True(t, cs.Full)
}

func TestTrack_CorruptWatermarkFailsClosedToFull(t *testing.T) {
	s := testStore(t)
	cs, err := NewTracker(s, logging.Nop()).Track(context.Background(),
		&store.PrecalcState{LastRunSeq: -5}, false)
	require.NoError(t, err)
	assert.True(t, cs.Full)
}

func TestTrack_IncompleteCurrentVersionFailsClosedToFull(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateRunningVersion(ctx, false)
	require.NoError(t, err)
	require.NoError(t, s.FailVersion(ctx, id))

	cs, err := NewTracker(s, logging.Nop()).Track(ctx,
		&store.PrecalcState{LastRunSeq: 0, CurrentVersionID: &id}, false)
	require.NoError(t, err)
	assert.True(t, cs.Full)
}

func TestTrack_ForceFull(t *testing.T) {
	s := testStore(t)
	cs, err := NewTracker(s, logging.Nop()).Track(context.Background(),
		&store.PrecalcState{LastRunSeq: 0}, true)
	require.NoError(t, err)
	assert.True(t, cs.Full)
}

func TestTrack_IncrementalDirectChanges(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedSubreddit(t, s, 1, "golang", 100)
	seedUser(t, s, 1, "alice", 10)
	watermark, err := s.CurrentChangeSeq(ctx)
	require.NoError(t, err)

	seedUser(t, s, 2, "bob", 20)

	cs, err := NewTracker(s, logging.Nop()).Track(ctx,
		&store.PrecalcState{LastRunSeq: watermark}, false)
	require.NoError(t, err)

	assert.False(t, cs.Full)
	assert.Contains(t, cs.Users, int64(2))
	assert.NotContains(t, cs.Users, int64(1))
	assert.Empty(t, cs.Subreddits)
}

func TestTrack_DerivesAuthorAndSubredditFromPost(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedSubreddit(t, s, 1, "golang", 100)
	seedUser(t, s, 1, "alice", 10)
	watermark, err := s.CurrentChangeSeq(ctx)
	require.NoError(t, err)

	seedPost(t, s, 1, 1, 1)

	cs, err := NewTracker(s, logging.Nop()).Track(ctx,
		&store.PrecalcState{LastRunSeq: watermark}, false)
	require.NoError(t, err)

	assert.Contains(t, cs.Posts, int64(1))
	assert.Contains(t, cs.DerivedUsers, int64(1), "post author's activity weight changed")
	assert.Contains(t, cs.DerivedSubreddits, int64(1), "containing subreddit's weight changed")
}

func TestTrack_DerivesThroughCommentParentPost(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedSubreddit(t, s, 1, "golang", 100)
	seedUser(t, s, 1, "alice", 10)
	seedUser(t, s, 2, "bob", 20)
	seedPost(t, s, 1, 1, 1)
	watermark, err := s.CurrentChangeSeq(ctx)
	require.NoError(t, err)

	// bob comments on alice's post
	seedComment(t, s, 1, 1, 2, nil)

	cs, err := NewTracker(s, logging.Nop()).Track(ctx,
		&store.PrecalcState{LastRunSeq: watermark}, false)
	require.NoError(t, err)

	assert.Contains(t, cs.Comments, int64(1))
	assert.Contains(t, cs.DerivedUsers, int64(2), "commenter derived")
	assert.NotContains(t, cs.DerivedUsers, int64(1), "post author's row and counts are unaffected")
	assert.Contains(t, cs.DerivedSubreddits, int64(1), "subreddit derived via the parent post")
}

func TestTrack_DirectChangeWinsOverDerived(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedSubreddit(t, s, 1, "golang", 100)
	watermark, err := s.CurrentChangeSeq(ctx)
	require.NoError(t, err)

	seedUser(t, s, 1, "alice", 10)
	seedPost(t, s, 1, 1, 1) // author also directly changed

	cs, err := NewTracker(s, logging.Nop()).Track(ctx,
		&store.PrecalcState{LastRunSeq: watermark}, false)
	require.NoError(t, err)

	assert.Contains(t, cs.Users, int64(1))
	assert.NotContains(t, cs.DerivedUsers, int64(1), "directly changed ids never appear as derived")
}

func TestChangeSet_EmptyAndSize(t *testing.T) {
	cs := &ChangeSet{
		Subreddits: map[int64]struct{}{},
		Users:      map[int64]struct{}{},
		Posts:      map[int64]struct{}{},
		Comments:   map[int64]struct{}{},
	}
	assert.True(t, cs.Empty())

	cs.Posts[1] = struct{}{}
	assert.False(t, cs.Empty())
	assert.Equal(t, 1, cs.Size())

	full := &ChangeSet{Full: true}
	assert.False(t, full.Empty())
}

func TestTrack_SourceDeleteRequestsSweep(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedSubreddit(t, s, 1, "golang", 100)
	seedUser(t, s, 1, "alice", 10)
	seedPost(t, s, 1, 1, 1)
	require.NoError(t, s.UpsertGraphNodes(ctx, []store.GraphNode{
		{ID: store.NodeID(store.TypeSubreddit, 1), Name: "r/golang", NodeType: store.TypeSubreddit, Val: 1},
		{ID: store.NodeID(store.TypeUser, 1), Name: "u/alice", NodeType: store.TypeUser, Val: 1},
		{ID: store.NodeID(store.TypePost, 1), Name: "post", NodeType: store.TypePost, Val: 1},
	}))
	watermark, err := s.CurrentChangeSeq(ctx)
	require.NoError(t, err)

	// A delete bumps no change_seq, so without the count comparison this
	// change set would be empty and the orphaned node would linger.
	require.NoError(t, s.DeleteSourceEntity(ctx, store.TypePost, 1))

	cs, err := NewTracker(s, logging.Nop()).Track(ctx,
		&store.PrecalcState{LastRunSeq: watermark}, false)
	require.NoError(t, err)

	assert.True(t, cs.SweepNeeded)
	assert.False(t, cs.Empty(), "a bare delete still needs a run")
	assert.Equal(t, 0, cs.Size())
	assert.False(t, cs.Full)
}
