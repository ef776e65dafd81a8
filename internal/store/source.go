package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"redgraph/engine/internal/errors"
)

// The engine reads these tables; writes exist for the seed command and for
// tests. Every write stamps a fresh change_seq from the shared counter so
// the change tracker sees it.

func nextChangeSeq(tx *sql.Tx) (int64, error) {
	var seq int64
	err := tx.QueryRow(`UPDATE change_counter SET seq = seq + 1 WHERE id = 1 RETURNING seq`).Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(err, "advancing change counter")
	}
	return seq, nil
}

// CurrentChangeSeq returns the latest issued change sequence number.
func (s *Store) CurrentChangeSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.conn.QueryRowContext(ctx, `SELECT seq FROM change_counter WHERE id = 1`).Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(err, "reading change counter")
	}
	return seq, nil
}

// UpsertSubreddit inserts or updates a subreddit row, bumping its change_seq.
func (s *Store) UpsertSubreddit(ctx context.Context, sr *Subreddit) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		seq, err := nextChangeSeq(tx)
		if err != nil {
			return err
		}
		now := time.Now().UnixMilli()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subreddits (id, name, title, subscribers, created_at, updated_at, change_seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name, title = excluded.title,
				subscribers = excluded.subscribers,
				updated_at = excluded.updated_at, change_seq = excluded.change_seq
		`, sr.ID, sr.Name, sr.Title, sr.Subscribers, now, now, seq)
		return errors.Wrapf(err, "upserting subreddit %d", sr.ID)
	})
}

// UpsertUser inserts or updates a user row, bumping its change_seq.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		seq, err := nextChangeSeq(tx)
		if err != nil {
			return err
		}
		now := time.Now().UnixMilli()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (id, name, karma, created_at, updated_at, change_seq)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name, karma = excluded.karma,
				updated_at = excluded.updated_at, change_seq = excluded.change_seq
		`, u.ID, u.Name, u.Karma, now, now, seq)
		return errors.Wrapf(err, "upserting user %d", u.ID)
	})
}

// UpsertPost inserts or updates a post row, bumping its change_seq.
func (s *Store) UpsertPost(ctx context.Context, p *Post) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		seq, err := nextChangeSeq(tx)
		if err != nil {
			return err
		}
		now := time.Now().UnixMilli()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO posts (id, subreddit_id, user_id, title, score, created_at, updated_at, change_seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				subreddit_id = excluded.subreddit_id, user_id = excluded.user_id,
				title = excluded.title, score = excluded.score,
				updated_at = excluded.updated_at, change_seq = excluded.change_seq
		`, p.ID, p.SubredditID, p.UserID, p.Title, p.Score, now, now, seq)
		return errors.Wrapf(err, "upserting post %d", p.ID)
	})
}

// UpsertComment inserts or updates a comment row, bumping its change_seq.
func (s *Store) UpsertComment(ctx context.Context, c *Comment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		seq, err := nextChangeSeq(tx)
		if err != nil {
			return err
		}
		now := time.Now().UnixMilli()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO comments (id, post_id, user_id, parent_comment_id, score, created_at, updated_at, change_seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				post_id = excluded.post_id, user_id = excluded.user_id,
				parent_comment_id = excluded.parent_comment_id, score = excluded.score,
				updated_at = excluded.updated_at, change_seq = excluded.change_seq
		`, c.ID, c.PostID, c.UserID, c.ParentCommentID, c.Score, now, now, seq)
		return errors.Wrapf(err, "upserting comment %d", c.ID)
	})
}

// DeleteSourceEntity removes a source row. The next run's orphan sweep
// removes the corresponding graph node and its links.
func (s *Store) DeleteSourceEntity(ctx context.Context, entityType string, id int64) error {
	table, ok := sourceTable(entityType)
	if !ok {
		return errors.Newf("unknown entity type %q", entityType)
	}
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	return errors.Wrapf(err, "deleting %s %d", entityType, id)
}

func sourceTable(entityType string) (string, bool) {
	switch entityType {
	case TypeSubreddit:
		return "subreddits", true
	case TypeUser:
		return "users", true
	case TypePost:
		return "posts", true
	case TypeComment:
		return "comments", true
	}
	return "", false
}

// CountSourceEntities returns the row count of one source table.
func (s *Store) CountSourceEntities(ctx context.Context, entityType string) (int64, error) {
	table, ok := sourceTable(entityType)
	if !ok {
		return 0, errors.Newf("unknown entity type %q", entityType)
	}
	var n int64
	err := s.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	return n, errors.Wrapf(err, "counting %s", entityType)
}

// ChangedIDs returns ids in the given source table with change_seq newer
// than sinceSeq, ascending.
func (s *Store) ChangedIDs(ctx context.Context, entityType string, sinceSeq int64) ([]int64, error) {
	table, ok := sourceTable(entityType)
	if !ok {
		return nil, errors.Newf("unknown entity type %q", entityType)
	}
	rows, err := s.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE change_seq > ? ORDER BY id`, table), sinceSeq)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning changed %s ids", entityType)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// idFilter builds "AND id IN (...)" for an optional id set. nil means no
// filter (full rebuild); an empty non-nil set matches nothing.
func idFilter(ids []int64) (string, []any) {
	if ids == nil {
		return "", nil
	}
	if len(ids) == 0 {
		return " AND 1 = 0", nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return " AND id IN (" + strings.Join(placeholders, ",") + ")", args
}

// SubredditsByIDs loads subreddit rows; ids == nil loads everything.
func (s *Store) SubredditsByIDs(ctx context.Context, ids []int64) ([]Subreddit, error) {
	clause, args := idFilter(ids)
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, title, subscribers, created_at, updated_at, change_seq
		FROM subreddits WHERE 1 = 1`+clause+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "loading subreddits")
	}
	defer rows.Close()

	var out []Subreddit
	for rows.Next() {
		var sr Subreddit
		if err := rows.Scan(&sr.ID, &sr.Name, &sr.Title, &sr.Subscribers, &sr.CreatedAt, &sr.UpdatedAt, &sr.ChangeSeq); err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// UsersByIDs loads user rows; ids == nil loads everything.
func (s *Store) UsersByIDs(ctx context.Context, ids []int64) ([]User, error) {
	clause, args := idFilter(ids)
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, karma, created_at, updated_at, change_seq
		FROM users WHERE 1 = 1`+clause+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "loading users")
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Karma, &u.CreatedAt, &u.UpdatedAt, &u.ChangeSeq); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// PostsByIDs loads post rows; ids == nil loads everything.
func (s *Store) PostsByIDs(ctx context.Context, ids []int64) ([]Post, error) {
	clause, args := idFilter(ids)
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, subreddit_id, user_id, title, score, created_at, updated_at, change_seq
		FROM posts WHERE 1 = 1`+clause+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "loading posts")
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.SubredditID, &p.UserID, &p.Title, &p.Score, &p.CreatedAt, &p.UpdatedAt, &p.ChangeSeq); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CommentsByIDs loads comment rows; ids == nil loads everything.
func (s *Store) CommentsByIDs(ctx context.Context, ids []int64) ([]Comment, error) {
	clause, args := idFilter(ids)
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, post_id, user_id, parent_comment_id, score, created_at, updated_at, change_seq
		FROM comments WHERE 1 = 1`+clause+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "loading comments")
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.UserID, &c.ParentCommentID, &c.Score, &c.CreatedAt, &c.UpdatedAt, &c.ChangeSeq); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// countsByID runs a GROUP BY count query and returns id -> count.
func (s *Store) countsByID(ctx context.Context, query string) (map[int64]int64, error) {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "counting")
	}
	defer rows.Close()

	out := make(map[int64]int64)
	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// PostCountsBySubreddit returns subreddit id -> post count.
func (s *Store) PostCountsBySubreddit(ctx context.Context) (map[int64]int64, error) {
	return s.countsByID(ctx, `SELECT subreddit_id, COUNT(*) FROM posts GROUP BY subreddit_id`)
}

// PostCountsByUser returns user id -> post count.
func (s *Store) PostCountsByUser(ctx context.Context) (map[int64]int64, error) {
	return s.countsByID(ctx, `SELECT user_id, COUNT(*) FROM posts GROUP BY user_id`)
}

// CommentCountsByUser returns user id -> comment count.
func (s *Store) CommentCountsByUser(ctx context.Context) (map[int64]int64, error) {
	return s.countsByID(ctx, `SELECT user_id, COUNT(*) FROM comments GROUP BY user_id`)
}

// CommentCountsBySubreddit returns subreddit id -> comment count, joined
// through the containing post.
func (s *Store) CommentCountsBySubreddit(ctx context.Context) (map[int64]int64, error) {
	return s.countsByID(ctx, `
		SELECT p.subreddit_id, COUNT(*) FROM comments c
		JOIN posts p ON c.post_id = p.id GROUP BY p.subreddit_id`)
}

// UserSubredditActivity is the per-(user, subreddit) activity count backing
// the active_in link weight.
type UserSubredditActivity struct {
	UserID      int64
	SubredditID int64
	Count       int64
}

// ActivityByUserSubreddit aggregates posts plus comments per (user,
// subreddit) pair, optionally restricted to the given users.
func (s *Store) ActivityByUserSubreddit(ctx context.Context, userIDs []int64) ([]UserSubredditActivity, error) {
	clause, args := idFilter(userIDs)
	clause = strings.ReplaceAll(clause, " id ", " user_id ")
	query := `
		SELECT user_id, subreddit_id, COUNT(*) FROM (
			SELECT user_id, subreddit_id FROM posts WHERE 1 = 1` + clause + `
			UNION ALL
			SELECT c.user_id, p.subreddit_id
			FROM comments c JOIN posts p ON c.post_id = p.id
			WHERE 1 = 1` + strings.ReplaceAll(clause, "user_id", "c.user_id") + `
		) GROUP BY user_id, subreddit_id`
	allArgs := append(append([]any{}, args...), args...)
	rows, err := s.conn.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, errors.Wrap(err, "aggregating user activity")
	}
	defer rows.Close()

	var out []UserSubredditActivity
	for rows.Next() {
		var a UserSubredditActivity
		if err := rows.Scan(&a.UserID, &a.SubredditID, &a.Count); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
