package store

import "fmt"

// Source entity rows. Timestamps are Unix millis; ChangeSeq comes from the
// shared change_counter and is what the change tracker scans.

// Subreddit is a row in the subreddits table.
type Subreddit struct {
	ID          int64
	Name        string
	Title       string
	Subscribers int64
	CreatedAt   int64
	UpdatedAt   int64
	ChangeSeq   int64
}

// User is a row in the users table.
type User struct {
	ID        int64
	Name      string
	Karma     int64
	CreatedAt int64
	UpdatedAt int64
	ChangeSeq int64
}

// Post is a row in the posts table.
type Post struct {
	ID          int64
	SubredditID int64
	UserID      int64
	Title       string
	Score       int64
	CreatedAt   int64
	UpdatedAt   int64
	ChangeSeq   int64
}

// Comment is a row in the comments table.
type Comment struct {
	ID              int64
	PostID          int64
	UserID          int64
	ParentCommentID *int64
	Score           int64
	CreatedAt       int64
	UpdatedAt       int64
	ChangeSeq       int64
}

// Node type tags for graph_nodes.node_type.
const (
	TypeSubreddit = "subreddit"
	TypeUser      = "user"
	TypePost      = "post"
	TypeComment   = "comment"
)

// NodeID derives the stable graph node id for a source entity.
func NodeID(entityType string, sourceID int64) string {
	return fmt.Sprintf("%s_%d", entityType, sourceID)
}

// Link kinds for graph_links.kind.
const (
	LinkAuthored  = "authored"   // user -> post
	LinkPostedIn  = "posted_in"  // post -> subreddit
	LinkCommentOn = "comment_on" // comment -> post
	LinkReplyTo   = "reply_to"   // comment -> parent comment
	LinkActiveIn  = "active_in"  // user -> subreddit, weight = activity count
)

// LinkID derives the stable graph link id for a relationship.
func LinkID(kind, source, target string) string {
	return fmt.Sprintf("%s:%s:%s", kind, source, target)
}

// GraphNode is a materialized graph vertex. Position columns stay NULL
// until the layout phase has run at least once.
type GraphNode struct {
	ID        string
	Name      string
	NodeType  string
	Val       float64
	PosX      *float64
	PosY      *float64
	PosZ      *float64
	CreatedAt int64
	UpdatedAt int64
}

// Positioned reports whether all three coordinates are set.
func (n *GraphNode) Positioned() bool {
	return n.PosX != nil && n.PosY != nil && n.PosZ != nil
}

// GraphLink is a materialized graph edge. Weight is the multiplicity of
// the underlying relationship.
type GraphLink struct {
	ID        string
	Source    string
	Target    string
	Kind      string
	Weight    float64
	UpdatedAt int64
}

// Community is one cluster from the modularity pass.
type Community struct {
	ID         int64
	VersionID  int64
	Label      string
	Size       int
	Modularity float64
}

// CommunityMember maps one node into one community.
type CommunityMember struct {
	CommunityID int64
	NodeID      string
}

// CommunityLink is the aggregated edge weight between two communities,
// stored once per unordered pair (A < B).
type CommunityLink struct {
	CommunityA int64
	CommunityB int64
	Weight     float64
}

// HierarchyEntry places one node at one hierarchy level. Level 0 is the
// finest partition.
type HierarchyEntry struct {
	NodeID            string
	Level             int
	CommunityID       int64
	ParentCommunityID *int64
	CentroidX         *float64
	CentroidY         *float64
	CentroidZ         *float64
}

// EdgeBundle is the curved-edge aggregate between two communities.
type EdgeBundle struct {
	CommunityA  int64
	CommunityB  int64
	Weight      float64
	AvgStrength float64
	CtrlX       float64
	CtrlY       float64
	CtrlZ       float64
}

// Version statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// GraphVersion records one engine run.
type GraphVersion struct {
	ID          int64
	Status      string
	FullRebuild bool
	NodeCount   int
	LinkCount   int
	DiffCount   int
	Converged   bool
	StartedAt   int64
	FinishedAt  *int64
	DurationMS  *int64
}

// Diff actions and entity types.
const (
	DiffAdd    = "add"
	DiffUpdate = "update"
	DiffDelete = "delete"

	EntityNode = "node"
	EntityLink = "link"
)

// GraphDiff is one entity-level change within a version.
type GraphDiff struct {
	ID         int64
	VersionID  int64
	Action     string
	EntityType string
	EntityID   string
	OldVal     *float64
	NewVal     *float64
	OldX       *float64
	OldY       *float64
	OldZ       *float64
	NewX       *float64
	NewY       *float64
	NewZ       *float64
}

// PrecalcState is the singleton watermark row.
type PrecalcState struct {
	LastRunSeq        int64
	LastRunAt         *int64
	LastFullRebuildAt *int64
	CurrentVersionID  *int64
}
