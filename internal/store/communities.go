package store

import (
	"context"
	"database/sql"

	"redgraph/engine/internal/errors"
)

// ReplaceCommunities swaps in a complete new community partition (flat
// communities, memberships, inter-community links, hierarchy entries) in
// one transaction. The previous partition stays visible until commit.
func (s *Store) ReplaceCommunities(ctx context.Context, communities []Community, members []CommunityMember, links []CommunityLink, hierarchy []HierarchyEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"community_members", "community_links", "communities", "community_hierarchy"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return errors.Wrapf(err, "clearing %s", table)
			}
		}

		commStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO communities (id, version_id, label, size, modularity)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return errors.Wrap(err, "preparing community insert")
		}
		defer commStmt.Close()
		for _, c := range communities {
			if _, err := commStmt.ExecContext(ctx, c.ID, c.VersionID, c.Label, c.Size, c.Modularity); err != nil {
				return errors.Wrapf(err, "inserting community %d", c.ID)
			}
		}

		memberStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO community_members (community_id, node_id) VALUES (?, ?)`)
		if err != nil {
			return errors.Wrap(err, "preparing membership insert")
		}
		defer memberStmt.Close()
		for _, m := range members {
			if _, err := memberStmt.ExecContext(ctx, m.CommunityID, m.NodeID); err != nil {
				return errors.Wrapf(err, "inserting membership %d/%s", m.CommunityID, m.NodeID)
			}
		}

		// One row per unordered pair; accumulate weight on conflict so
		// callers may emit the same pair more than once.
		linkStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO community_links (community_a, community_b, weight)
			VALUES (?, ?, ?)
			ON CONFLICT (community_a, community_b) DO UPDATE SET
				weight = weight + excluded.weight`)
		if err != nil {
			return errors.Wrap(err, "preparing community link insert")
		}
		defer linkStmt.Close()
		for _, l := range links {
			a, b, w := l.CommunityA, l.CommunityB, l.Weight
			if a > b {
				a, b = b, a
			}
			if a == b {
				continue
			}
			if _, err := linkStmt.ExecContext(ctx, a, b, w); err != nil {
				return errors.Wrapf(err, "inserting community link %d-%d", a, b)
			}
		}

		hierStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO community_hierarchy (node_id, level, community_id, parent_community_id, centroid_x, centroid_y, centroid_z)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return errors.Wrap(err, "preparing hierarchy insert")
		}
		defer hierStmt.Close()
		for _, h := range hierarchy {
			if _, err := hierStmt.ExecContext(ctx, h.NodeID, h.Level, h.CommunityID, h.ParentCommunityID, h.CentroidX, h.CentroidY, h.CentroidZ); err != nil {
				return errors.Wrapf(err, "inserting hierarchy entry %s@%d", h.NodeID, h.Level)
			}
		}

		return nil
	})
}

// ReplaceEdgeBundles swaps in the layout phase's bundle set and writes
// community centroids onto the hierarchy rows, in one transaction.
func (s *Store) ReplaceEdgeBundles(ctx context.Context, bundles []EdgeBundle, centroids map[int64][3]float64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM edge_bundles`); err != nil {
			return errors.Wrap(err, "clearing edge_bundles")
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO edge_bundles (community_a, community_b, weight, avg_strength, ctrl_x, ctrl_y, ctrl_z)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return errors.Wrap(err, "preparing bundle insert")
		}
		defer stmt.Close()
		for _, b := range bundles {
			if _, err := stmt.ExecContext(ctx, b.CommunityA, b.CommunityB, b.Weight, b.AvgStrength, b.CtrlX, b.CtrlY, b.CtrlZ); err != nil {
				return errors.Wrapf(err, "inserting bundle %d-%d", b.CommunityA, b.CommunityB)
			}
		}

		centroidStmt, err := tx.PrepareContext(ctx, `
			UPDATE community_hierarchy SET centroid_x = ?, centroid_y = ?, centroid_z = ?
			WHERE community_id = ?`)
		if err != nil {
			return errors.Wrap(err, "preparing centroid update")
		}
		defer centroidStmt.Close()
		for id, c := range centroids {
			if _, err := centroidStmt.ExecContext(ctx, c[0], c[1], c[2], id); err != nil {
				return errors.Wrapf(err, "updating centroid of community %d", id)
			}
		}

		return nil
	})
}

// ListCommunities returns all communities ordered by size descending then
// id ascending.
func (s *Store) ListCommunities(ctx context.Context) ([]Community, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, version_id, label, size, modularity
		FROM communities ORDER BY size DESC, id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "listing communities")
	}
	defer rows.Close()

	var out []Community
	for rows.Next() {
		var c Community
		if err := rows.Scan(&c.ID, &c.VersionID, &c.Label, &c.Size, &c.Modularity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CommunityMemberIDs returns the node ids belonging to a community,
// ordered by node weight descending.
func (s *Store) CommunityMemberIDs(ctx context.Context, communityID int64) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT m.node_id FROM community_members m
		JOIN graph_nodes n ON n.id = m.node_id
		WHERE m.community_id = ?
		ORDER BY n.val DESC, n.id ASC`, communityID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing members of community %d", communityID)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// HierarchyLevel returns every hierarchy entry at the given level.
func (s *Store) HierarchyLevel(ctx context.Context, level int) ([]HierarchyEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT node_id, level, community_id, parent_community_id, centroid_x, centroid_y, centroid_z
		FROM community_hierarchy WHERE level = ? ORDER BY community_id, node_id`, level)
	if err != nil {
		return nil, errors.Wrapf(err, "loading hierarchy level %d", level)
	}
	defer rows.Close()

	var out []HierarchyEntry
	for rows.Next() {
		var h HierarchyEntry
		if err := rows.Scan(&h.NodeID, &h.Level, &h.CommunityID, &h.ParentCommunityID, &h.CentroidX, &h.CentroidY, &h.CentroidZ); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListCommunityLinks returns the aggregated inter-community edges.
func (s *Store) ListCommunityLinks(ctx context.Context) ([]CommunityLink, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT community_a, community_b, weight
		FROM community_links ORDER BY community_a, community_b`)
	if err != nil {
		return nil, errors.Wrap(err, "listing community links")
	}
	defer rows.Close()

	var out []CommunityLink
	for rows.Next() {
		var l CommunityLink
		if err := rows.Scan(&l.CommunityA, &l.CommunityB, &l.Weight); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListEdgeBundles returns all bundles ordered by weight descending.
func (s *Store) ListEdgeBundles(ctx context.Context) ([]EdgeBundle, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT community_a, community_b, weight, avg_strength, ctrl_x, ctrl_y, ctrl_z
		FROM edge_bundles ORDER BY weight DESC, community_a, community_b`)
	if err != nil {
		return nil, errors.Wrap(err, "listing edge bundles")
	}
	defer rows.Close()

	var out []EdgeBundle
	for rows.Next() {
		var b EdgeBundle
		if err := rows.Scan(&b.CommunityA, &b.CommunityB, &b.Weight, &b.AvgStrength, &b.CtrlX, &b.CtrlY, &b.CtrlZ); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
