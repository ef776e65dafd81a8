// Package store is the SQLite persistence layer: the four crawler-owned
// source tables, the materialized graph tables, the community family, the
// version/diff records, and the precalc watermark and lease rows.
package store

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"redgraph/engine/internal/errors"
)

// Store wraps a SQLite database connection.
type Store struct {
	conn *sql.DB
	Path string
	log  *zap.SugaredLogger
}

// Open opens a SQLite database with WAL mode, foreign keys, and a busy
// timeout, and applies the schema. WAL keeps readers unblocked while a
// precalc run is writing.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "executing %s", p)
		}
	}

	s := &Store{conn: conn, Path: path, log: log}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	log.Debugw("database opened", "path", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying sql.DB for custom queries.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// otherwise. Phase writes go through here so a crash mid-phase leaves the
// previous state intact.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}
