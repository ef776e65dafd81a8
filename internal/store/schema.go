package store

// Source tables are owned by the crawler; the engine only reads them (the
// seed command writes them for local development). Every source table
// carries a change_seq stamped from change_counter, so "changed since X"
// is a plain range scan instead of a timestamp comparison.

const schemaSubreddits = `
CREATE TABLE IF NOT EXISTS subreddits (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL DEFAULT '',
    subscribers INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    change_seq INTEGER NOT NULL DEFAULT 0
)`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    karma INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    change_seq INTEGER NOT NULL DEFAULT 0
)`

const schemaPosts = `
CREATE TABLE IF NOT EXISTS posts (
    id INTEGER PRIMARY KEY,
    subreddit_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    score INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    change_seq INTEGER NOT NULL DEFAULT 0
)`

const schemaComments = `
CREATE TABLE IF NOT EXISTS comments (
    id INTEGER PRIMARY KEY,
    post_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    parent_comment_id INTEGER,
    score INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    change_seq INTEGER NOT NULL DEFAULT 0
)`

const schemaChangeCounter = `
CREATE TABLE IF NOT EXISTS change_counter (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    seq INTEGER NOT NULL DEFAULT 0
)`

// Materialized graph tables. Node ids derive deterministically from
// (entity type, source id), e.g. "subreddit_42", so re-materializing
// unchanged data is idempotent. Link endpoints are checked at write time
// rather than enforced by FK cascade; the orphan sweep cleans up.

const schemaGraphNodes = `
CREATE TABLE IF NOT EXISTS graph_nodes (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    node_type TEXT NOT NULL,
    val REAL NOT NULL DEFAULT 1,
    pos_x REAL,
    pos_y REAL,
    pos_z REAL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

const schemaGraphNodesIdx = `
CREATE INDEX IF NOT EXISTS idx_graph_nodes_weight ON graph_nodes (val DESC, id ASC)`

const schemaGraphLinks = `
CREATE TABLE IF NOT EXISTS graph_links (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    target TEXT NOT NULL,
    kind TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1,
    updated_at INTEGER NOT NULL
)`

const schemaGraphLinksSourceIdx = `
CREATE INDEX IF NOT EXISTS idx_graph_links_source ON graph_links (source)`

const schemaGraphLinksTargetIdx = `
CREATE INDEX IF NOT EXISTS idx_graph_links_target ON graph_links (target)`

// Community family. Rewritten wholesale each run; version_id records which
// run produced the current partition.

const schemaCommunities = `
CREATE TABLE IF NOT EXISTS communities (
    id INTEGER NOT NULL,
    version_id INTEGER NOT NULL,
    label TEXT NOT NULL,
    size INTEGER NOT NULL,
    modularity REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (id)
)`

const schemaCommunityMembers = `
CREATE TABLE IF NOT EXISTS community_members (
    community_id INTEGER NOT NULL,
    node_id TEXT NOT NULL,
    PRIMARY KEY (community_id, node_id),
    UNIQUE (node_id)
)`

const schemaCommunityLinks = `
CREATE TABLE IF NOT EXISTS community_links (
    community_a INTEGER NOT NULL,
    community_b INTEGER NOT NULL,
    weight REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (community_a, community_b),
    CHECK (community_a < community_b)
)`

const schemaCommunityHierarchy = `
CREATE TABLE IF NOT EXISTS community_hierarchy (
    node_id TEXT NOT NULL,
    level INTEGER NOT NULL,
    community_id INTEGER NOT NULL,
    parent_community_id INTEGER,
    centroid_x REAL,
    centroid_y REAL,
    centroid_z REAL,
    PRIMARY KEY (node_id, level)
)`

const schemaEdgeBundles = `
CREATE TABLE IF NOT EXISTS edge_bundles (
    community_a INTEGER NOT NULL,
    community_b INTEGER NOT NULL,
    weight REAL NOT NULL,
    avg_strength REAL NOT NULL,
    ctrl_x REAL NOT NULL,
    ctrl_y REAL NOT NULL,
    ctrl_z REAL NOT NULL,
    PRIMARY KEY (community_a, community_b)
)`

// Version and diff records plus the singleton watermark and lease rows.

const schemaGraphVersions = `
CREATE TABLE IF NOT EXISTS graph_versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    status TEXT NOT NULL CHECK (status IN ('running','completed','failed')),
    full_rebuild INTEGER NOT NULL DEFAULT 0,
    node_count INTEGER NOT NULL DEFAULT 0,
    link_count INTEGER NOT NULL DEFAULT 0,
    diff_count INTEGER NOT NULL DEFAULT 0,
    converged INTEGER NOT NULL DEFAULT 1,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    duration_ms INTEGER
)`

const schemaGraphDiffs = `
CREATE TABLE IF NOT EXISTS graph_diffs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version_id INTEGER NOT NULL,
    action TEXT NOT NULL CHECK (action IN ('add','update','delete')),
    entity_type TEXT NOT NULL CHECK (entity_type IN ('node','link')),
    entity_id TEXT NOT NULL,
    old_val REAL,
    new_val REAL,
    old_x REAL, old_y REAL, old_z REAL,
    new_x REAL, new_y REAL, new_z REAL
)`

const schemaGraphDiffsIdx = `
CREATE INDEX IF NOT EXISTS idx_graph_diffs_version ON graph_diffs (version_id, id)`

const schemaPrecalcState = `
CREATE TABLE IF NOT EXISTS precalc_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    last_run_seq INTEGER NOT NULL DEFAULT 0,
    last_run_at INTEGER,
    last_full_rebuild_at INTEGER,
    current_version_id INTEGER
)`

const schemaPrecalcLease = `
CREATE TABLE IF NOT EXISTS precalc_lease (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    holder TEXT NOT NULL,
    acquired_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
)`

// migrate applies the schema idempotently.
func (s *Store) migrate() error {
	stmts := []string{
		schemaSubreddits,
		schemaUsers,
		schemaPosts,
		schemaComments,
		schemaChangeCounter,
		schemaGraphNodes,
		schemaGraphNodesIdx,
		schemaGraphLinks,
		schemaGraphLinksSourceIdx,
		schemaGraphLinksTargetIdx,
		schemaCommunities,
		schemaCommunityMembers,
		schemaCommunityLinks,
		schemaCommunityHierarchy,
		schemaEdgeBundles,
		schemaGraphVersions,
		schemaGraphDiffs,
		schemaGraphDiffsIdx,
		schemaPrecalcState,
		schemaPrecalcLease,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := s.conn.Exec(`INSERT INTO change_counter (id, seq) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`)
	return err
}
