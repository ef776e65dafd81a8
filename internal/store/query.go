package store

import (
	"context"
	"strings"

	"redgraph/engine/internal/errors"
)

// Read-side queries for the serving layer. All ordering is weight
// descending with an id tie-break so results are stable between calls.

// placeholders returns "?, ?, ..." for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func (s *Store) queryGraphNodes(ctx context.Context, query string, args ...any) ([]GraphNode, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying graph nodes")
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

// typeFilterClause builds an optional "AND node_type IN (...)" clause.
func typeFilterClause(types []string) (string, []any) {
	if len(types) == 0 {
		return "", nil
	}
	return ` AND node_type IN (` + placeholders(len(types)) + `)`, stringArgs(types)
}

// TopGraphNodes returns the heaviest nodes, optionally restricted by
// type. limit must be positive.
func (s *Store) TopGraphNodes(ctx context.Context, types []string, limit int) ([]GraphNode, error) {
	clause, args := typeFilterClause(types)
	args = append(args, limit)
	return s.queryGraphNodes(ctx,
		`SELECT `+graphNodeColumns+` FROM graph_nodes WHERE 1=1`+clause+
			` ORDER BY val DESC, id ASC LIMIT ?`, args...)
}

// GraphNodesAfter returns the next page after the (afterVal, afterID)
// cursor position in descending-weight-then-id order.
func (s *Store) GraphNodesAfter(ctx context.Context, types []string, afterVal float64, afterID string, limit int) ([]GraphNode, error) {
	clause, typeArgs := typeFilterClause(types)
	args := []any{afterVal, afterVal, afterID}
	args = append(args, typeArgs...)
	args = append(args, limit)
	return s.queryGraphNodes(ctx,
		`SELECT `+graphNodeColumns+` FROM graph_nodes
		 WHERE (val < ? OR (val = ? AND id > ?))`+clause+
			` ORDER BY val DESC, id ASC LIMIT ?`, args...)
}

// GraphNodesInBox returns positioned nodes inside the bounding box. A nil
// z range makes the query 2D.
func (s *Store) GraphNodesInBox(ctx context.Context, minX, maxX, minY, maxY float64, minZ, maxZ *float64, types []string, limit int) ([]GraphNode, error) {
	query := `SELECT ` + graphNodeColumns + ` FROM graph_nodes
		 WHERE pos_x IS NOT NULL AND pos_x BETWEEN ? AND ?
		   AND pos_y BETWEEN ? AND ?`
	args := []any{minX, maxX, minY, maxY}
	if minZ != nil && maxZ != nil {
		query += ` AND pos_z BETWEEN ? AND ?`
		args = append(args, *minZ, *maxZ)
	}
	clause, typeArgs := typeFilterClause(types)
	query += clause
	args = append(args, typeArgs...)
	args = append(args, limit)
	return s.queryGraphNodes(ctx, query+` ORDER BY val DESC, id ASC LIMIT ?`, args...)
}

// GraphNodesByIDs returns the nodes with the given ids, heaviest first.
func (s *Store) GraphNodesByIDs(ctx context.Context, ids []string) ([]GraphNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryGraphNodes(ctx,
		`SELECT `+graphNodeColumns+` FROM graph_nodes
		 WHERE id IN (`+placeholders(len(ids))+`) ORDER BY val DESC, id ASC`,
		stringArgs(ids)...)
}

// LinksAmong returns links whose both endpoints are in ids, heaviest
// first. limit <= 0 means unlimited.
func (s *Store) LinksAmong(ctx context.Context, ids []string, limit int) ([]GraphLink, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := placeholders(len(ids))
	args := stringArgs(ids)
	args = append(args, stringArgs(ids)...)
	query := `SELECT id, source, target, kind, weight, updated_at FROM graph_links
		 WHERE source IN (` + ph + `) AND target IN (` + ph + `)
		 ORDER BY weight DESC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying links among nodes")
	}
	defer rows.Close()

	var links []GraphLink
	for rows.Next() {
		l, err := scanGraphLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// CountGraphNodes returns the node total, optionally by type.
func (s *Store) CountGraphNodes(ctx context.Context, types []string) (int64, error) {
	clause, args := typeFilterClause(types)
	var n int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM graph_nodes WHERE 1=1`+clause, args...).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "counting graph nodes")
	}
	return n, nil
}
