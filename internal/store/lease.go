package store

import (
	"context"
	"database/sql"
	"time"

	"redgraph/engine/internal/errors"
)

// The run lease is a single row with an expiry rather than a held database
// lock, so a crashed run never blocks future runs: once expires_at passes,
// any caller may reclaim it.

// AcquireLease claims the precalc lease for holder with the given TTL.
// Returns ErrLeaseHeld when a different holder owns an unexpired lease.
func (s *Store) AcquireLease(ctx context.Context, holder string, ttl time.Duration) error {
	now := time.Now().UnixMilli()
	expires := now + ttl.Milliseconds()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		var expiresAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT holder, expires_at FROM precalc_lease WHERE id = 1`).Scan(&current, &expiresAt)
		switch {
		case err == sql.ErrNoRows:
			// free
		case err != nil:
			return errors.Wrap(err, "reading lease")
		case current != holder && expiresAt > now:
			return errors.Wrapf(errors.ErrLeaseHeld, "held by %s until %d", current, expiresAt)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO precalc_lease (id, holder, acquired_at, expires_at)
			VALUES (1, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				holder = excluded.holder,
				acquired_at = excluded.acquired_at,
				expires_at = excluded.expires_at`,
			holder, now, expires)
		return errors.Wrap(err, "writing lease")
	})
}

// ReleaseLease drops the lease if holder still owns it. Releasing a lease
// someone else reclaimed is a no-op.
func (s *Store) ReleaseLease(ctx context.Context, holder string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM precalc_lease WHERE id = 1 AND holder = ?`, holder)
	return errors.Wrap(err, "releasing lease")
}
