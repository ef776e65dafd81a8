package store

import (
	"context"
	"database/sql"
	"time"

	"redgraph/engine/internal/errors"
)

// GetPrecalcState returns the singleton watermark row, or nil when no run
// has ever completed.
func (s *Store) GetPrecalcState(ctx context.Context) (*PrecalcState, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT last_run_seq, last_run_at, last_full_rebuild_at, current_version_id
		FROM precalc_state WHERE id = 1`)
	var st PrecalcState
	err := row.Scan(&st.LastRunSeq, &st.LastRunAt, &st.LastFullRebuildAt, &st.CurrentVersionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading precalc state")
	}
	return &st, nil
}

// CreateRunningVersion inserts a new version row in running status and
// returns its id.
func (s *Store) CreateRunningVersion(ctx context.Context, fullRebuild bool) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO graph_versions (status, full_rebuild, started_at)
		VALUES (?, ?, ?)`,
		StatusRunning, fullRebuild, time.Now().UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "creating version")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "reading version id")
	}
	return id, nil
}

// CompleteVersion finishes a run: all diffs, the completed status flip,
// and the watermark update land in one transaction, so a reader never
// sees a completed version with partially written diffs.
func (s *Store) CompleteVersion(ctx context.Context, versionID int64, diffs []GraphDiff, nodeCount, linkCount int, converged bool, watermarkSeq int64, fullRebuild bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO graph_diffs (version_id, action, entity_type, entity_id,
				old_val, new_val, old_x, old_y, old_z, new_x, new_y, new_z)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return errors.Wrap(err, "preparing diff insert")
		}
		defer stmt.Close()
		for i := range diffs {
			d := &diffs[i]
			if _, err := stmt.ExecContext(ctx, versionID, d.Action, d.EntityType, d.EntityID,
				d.OldVal, d.NewVal, d.OldX, d.OldY, d.OldZ, d.NewX, d.NewY, d.NewZ); err != nil {
				return errors.Wrapf(err, "inserting diff for %s", d.EntityID)
			}
		}

		now := time.Now().UnixMilli()
		res, err := tx.ExecContext(ctx, `
			UPDATE graph_versions
			SET status = ?, node_count = ?, link_count = ?, diff_count = ?,
			    converged = ?, finished_at = ?, duration_ms = ? - started_at
			WHERE id = ? AND status = ?`,
			StatusCompleted, nodeCount, linkCount, len(diffs), converged, now, now,
			versionID, StatusRunning)
		if err != nil {
			return errors.Wrap(err, "completing version")
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return errors.Newf("version %d not in running status", versionID)
		}

		var fullAt any
		if fullRebuild {
			fullAt = now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO precalc_state (id, last_run_seq, last_run_at, last_full_rebuild_at, current_version_id)
			VALUES (1, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				last_run_seq = excluded.last_run_seq,
				last_run_at = excluded.last_run_at,
				last_full_rebuild_at = COALESCE(excluded.last_full_rebuild_at, precalc_state.last_full_rebuild_at),
				current_version_id = excluded.current_version_id`,
			watermarkSeq, now, fullAt, versionID)
		return errors.Wrap(err, "updating precalc state")
	})
}

// FailVersion marks a run as failed. Partial phase output stays in place
// but is never referenced by precalc_state.
func (s *Store) FailVersion(ctx context.Context, versionID int64) error {
	now := time.Now().UnixMilli()
	_, err := s.conn.ExecContext(ctx, `
		UPDATE graph_versions
		SET status = ?, finished_at = ?, duration_ms = ? - started_at
		WHERE id = ? AND status = ?`,
		StatusFailed, now, now, versionID, StatusRunning)
	return errors.Wrapf(err, "failing version %d", versionID)
}

func scanVersion(scanner interface{ Scan(dest ...any) error }) (GraphVersion, error) {
	var v GraphVersion
	err := scanner.Scan(&v.ID, &v.Status, &v.FullRebuild, &v.NodeCount, &v.LinkCount,
		&v.DiffCount, &v.Converged, &v.StartedAt, &v.FinishedAt, &v.DurationMS)
	return v, err
}

const versionColumns = `id, status, full_rebuild, node_count, link_count, diff_count, converged, started_at, finished_at, duration_ms`

// GetVersion returns one version row, or ErrNotFound.
func (s *Store) GetVersion(ctx context.Context, id int64) (*GraphVersion, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM graph_versions WHERE id = ?`, id)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "version %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVersions returns version rows newest first.
func (s *Store) ListVersions(ctx context.Context, limit int) ([]GraphVersion, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM graph_versions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing versions")
	}
	defer rows.Close()

	var out []GraphVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DiffsSince returns all diffs for completed versions newer than
// sinceVersion, ordered by (version, diff id) for deterministic replay.
func (s *Store) DiffsSince(ctx context.Context, sinceVersion int64) ([]GraphDiff, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT d.id, d.version_id, d.action, d.entity_type, d.entity_id,
		       d.old_val, d.new_val, d.old_x, d.old_y, d.old_z, d.new_x, d.new_y, d.new_z
		FROM graph_diffs d
		JOIN graph_versions v ON v.id = d.version_id
		WHERE d.version_id > ? AND v.status = ?
		ORDER BY d.version_id, d.id`, sinceVersion, StatusCompleted)
	if err != nil {
		return nil, errors.Wrapf(err, "loading diffs since version %d", sinceVersion)
	}
	defer rows.Close()

	var out []GraphDiff
	for rows.Next() {
		var d GraphDiff
		if err := rows.Scan(&d.ID, &d.VersionID, &d.Action, &d.EntityType, &d.EntityID,
			&d.OldVal, &d.NewVal, &d.OldX, &d.OldY, &d.OldZ, &d.NewX, &d.NewY, &d.NewZ); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PruneVersions deletes version and diff rows beyond the newest keep
// completed versions. The current version is never pruned regardless of
// its age.
func (s *Store) PruneVersions(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	var pruned int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var currentID int64 = -1
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(current_version_id, -1) FROM precalc_state WHERE id = 1`).Scan(&currentID)
		if err != nil && err != sql.ErrNoRows {
			return errors.Wrap(err, "reading current version")
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM graph_diffs WHERE version_id IN (
				SELECT id FROM graph_versions
				WHERE id != ?
				  AND id NOT IN (
					SELECT id FROM graph_versions WHERE status = ? ORDER BY id DESC LIMIT ?
				  )
			)`, currentID, StatusCompleted, keep)
		if err != nil {
			return errors.Wrap(err, "pruning diffs")
		}

		res, err := tx.ExecContext(ctx, `
			DELETE FROM graph_versions
			WHERE id != ?
			  AND id NOT IN (
				SELECT id FROM graph_versions WHERE status = ? ORDER BY id DESC LIMIT ?
			  )`, currentID, StatusCompleted, keep)
		if err != nil {
			return errors.Wrap(err, "pruning versions")
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	return pruned, err
}
