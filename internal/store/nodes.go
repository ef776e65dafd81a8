package store

import (
	"context"
	"database/sql"
	"fmt"

	"redgraph/engine/internal/errors"
)

// scanGraphNode scans a row into a GraphNode. The row must have all 9
// columns in standard order.
func scanGraphNode(scanner interface{ Scan(dest ...any) error }) (GraphNode, error) {
	var n GraphNode
	err := scanner.Scan(
		&n.ID, &n.Name, &n.NodeType, &n.Val,
		&n.PosX, &n.PosY, &n.PosZ,
		&n.CreatedAt, &n.UpdatedAt,
	)
	return n, err
}

const graphNodeColumns = `id, name, node_type, val, pos_x, pos_y, pos_z, created_at, updated_at`

// AllGraphNodes returns every materialized node.
func (s *Store) AllGraphNodes(ctx context.Context) ([]GraphNode, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+graphNodeColumns+` FROM graph_nodes ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "loading graph nodes")
	}
	defer rows.Close()

	var nodes []GraphNode
	for rows.Next() {
		n, err := scanGraphNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// GraphNodeByID returns a single node, or ErrNotFound.
func (s *Store) GraphNodeByID(ctx context.Context, id string) (*GraphNode, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+graphNodeColumns+` FROM graph_nodes WHERE id = ?`, id)
	n, err := scanGraphNode(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "node %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// UpsertGraphNodes writes a batch of nodes in one transaction. Existing
// rows keep their created_at and position; name, type, and weight are
// recomputed values from current source data.
func (s *Store) UpsertGraphNodes(ctx context.Context, nodes []GraphNode) error {
	if len(nodes) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO graph_nodes (id, name, node_type, val, pos_x, pos_y, pos_z, created_at, updated_at)
			VALUES (?, ?, ?, ?, NULL, NULL, NULL, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name, node_type = excluded.node_type,
				val = excluded.val, updated_at = excluded.updated_at
		`)
		if err != nil {
			return errors.Wrap(err, "preparing node upsert")
		}
		defer stmt.Close()

		for i := range nodes {
			n := &nodes[i]
			if _, err := stmt.ExecContext(ctx, n.ID, n.Name, n.NodeType, n.Val, n.CreatedAt, n.UpdatedAt); err != nil {
				return errors.Wrapf(err, "upserting node %s", n.ID)
			}
		}
		return nil
	})
}

// UpdateNodePositions writes layout output for the given nodes in one
// transaction.
func (s *Store) UpdateNodePositions(ctx context.Context, nodes []GraphNode) error {
	if len(nodes) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE graph_nodes SET pos_x = ?, pos_y = ?, pos_z = ? WHERE id = ?`)
		if err != nil {
			return errors.Wrap(err, "preparing position update")
		}
		defer stmt.Close()

		for i := range nodes {
			n := &nodes[i]
			if _, err := stmt.ExecContext(ctx, n.PosX, n.PosY, n.PosZ, n.ID); err != nil {
				return errors.Wrapf(err, "updating position of %s", n.ID)
			}
		}
		return nil
	})
}

// nodeIDOffsets maps node types to the 1-based substr offset where the
// numeric source id starts inside the graph node id.
var nodeIDOffsets = map[string]int{
	TypeSubreddit: len(TypeSubreddit) + 2, // "subreddit_" + 1
	TypeUser:      len(TypeUser) + 2,
	TypePost:      len(TypePost) + 2,
	TypeComment:   len(TypeComment) + 2,
}

// SweepOrphanNodes deletes graph nodes whose backing source entity no
// longer exists. Runs after the upsert phase, never before it.
func (s *Store) SweepOrphanNodes(ctx context.Context) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, nodeType := range []string{TypeSubreddit, TypeUser, TypePost, TypeComment} {
			table, _ := sourceTable(nodeType)
			query := fmt.Sprintf(`
				DELETE FROM graph_nodes
				WHERE node_type = '%s'
				  AND substr(id, %d) NOT IN (SELECT CAST(id AS TEXT) FROM %s)
			`, nodeType, nodeIDOffsets[nodeType], table)
			res, err := tx.ExecContext(ctx, query)
			if err != nil {
				return errors.Wrapf(err, "sweeping orphan %s nodes", nodeType)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	return total, err
}

// ClearGraph wipes the derived tables for a full rebuild. Source tables,
// versions, diffs, and precalc state are untouched.
func (s *Store) ClearGraph(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{
			"graph_links", "graph_nodes",
			"community_members", "community_links", "communities",
			"community_hierarchy", "edge_bundles",
		} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return errors.Wrapf(err, "clearing %s", table)
			}
		}
		return nil
	})
}
