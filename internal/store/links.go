package store

import (
	"context"
	"database/sql"

	"redgraph/engine/internal/errors"
)

// scanGraphLink scans a row into a GraphLink. The row must have all 6
// columns in standard order.
func scanGraphLink(scanner interface{ Scan(dest ...any) error }) (GraphLink, error) {
	var l GraphLink
	err := scanner.Scan(&l.ID, &l.Source, &l.Target, &l.Kind, &l.Weight, &l.UpdatedAt)
	return l, err
}

const graphLinkColumns = `id, source, target, kind, weight, updated_at`

// AllGraphLinks returns every materialized link.
func (s *Store) AllGraphLinks(ctx context.Context) ([]GraphLink, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+graphLinkColumns+` FROM graph_links ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "loading graph links")
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

// LinksForNode returns all links where the given node is source or target.
func (s *Store) LinksForNode(ctx context.Context, nodeID string) ([]GraphLink, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+graphLinkColumns+` FROM graph_links WHERE source = ? OR target = ?`,
		nodeID, nodeID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading links for %s", nodeID)
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

// UpsertGraphLinks writes a batch of links in one transaction. A link
// whose endpoint has not been materialized yet is skipped silently; it is
// picked up once that endpoint exists. Weight is set, not accumulated, so
// re-running on unchanged data is idempotent.
func (s *Store) UpsertGraphLinks(ctx context.Context, links []GraphLink) (written int, err error) {
	if len(links) == 0 {
		return 0, nil
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO graph_links (id, source, target, kind, weight, updated_at)
			SELECT ?, ?, ?, ?, ?, ?
			WHERE EXISTS (SELECT 1 FROM graph_nodes WHERE id = ?2)
			  AND EXISTS (SELECT 1 FROM graph_nodes WHERE id = ?3)
			ON CONFLICT (id) DO UPDATE SET
				weight = excluded.weight, updated_at = excluded.updated_at
		`)
		if err != nil {
			return errors.Wrap(err, "preparing link upsert")
		}
		defer stmt.Close()

		for i := range links {
			l := &links[i]
			res, err := stmt.ExecContext(ctx, l.ID, l.Source, l.Target, l.Kind, l.Weight, l.UpdatedAt)
			if err != nil {
				return errors.Wrapf(err, "upserting link %s", l.ID)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				written++
			}
		}
		return nil
	})
	return written, err
}

// SweepOrphanLinks deletes links whose source or target no longer resolves
// to a graph node.
func (s *Store) SweepOrphanLinks(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM graph_links
		WHERE source NOT IN (SELECT id FROM graph_nodes)
		   OR target NOT IN (SELECT id FROM graph_nodes)
	`)
	if err != nil {
		return 0, errors.Wrap(err, "sweeping orphan links")
	}
	return res.RowsAffected()
}
