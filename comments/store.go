// Package comments keeps the comments attached to content items. The
// ephemeral mode, the default, holds them in memory for the life of the
// process. The persistent mode writes them to SQLite and is opt-in.
package comments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"earshot/config"
)

var ErrEmptyText = errors.New("comment text is empty")

type Comment struct {
	ID        int64
	PostID    int
	Text      string
	CreatedAt time.Time
}

type Store struct {
	db    *sql.DB
	clock func() time.Time

	mu     sync.Mutex
	mem    []Comment
	lastID int64
}

// Open returns a store for cfg. Ephemeral stores never touch disk.
func Open(ctx context.Context, cfg config.CommentsConfig) (*Store, error) {
	if cfg.RetentionMode != "persistent" {
		return &Store{clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	// Ids keep increasing across restarts even if the clock goes back.
	var maxID sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(id) FROM comments`).Scan(&maxID); err != nil {
		db.Close()
		return nil, fmt.Errorf("read last id: %w", err)
	}
	s.lastID = maxID.Int64
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS comments (
    id INTEGER PRIMARY KEY,
    post_id INTEGER NOT NULL,
    body TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id, id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) Persistent() bool { return s.db != nil }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// nextID hands out millisecond timestamps, bumped past the previous id
// when two comments land in the same millisecond.
func (s *Store) nextID(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// Attach adds text as a new comment on postID.
func (s *Store) Attach(ctx context.Context, postID int, text string) (Comment, error) {
	if strings.TrimSpace(text) == "" {
		return Comment{}, ErrEmptyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	c := Comment{ID: s.nextID(now), PostID: postID, Text: text, CreatedAt: now}

	if s.db == nil {
		s.mem = append(s.mem, c)
		return c, nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comments(id, post_id, body, created_at) VALUES(?, ?, ?, ?)`,
		c.ID, c.PostID, c.Text, c.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

// List returns the comments on postID, oldest first.
func (s *Store) List(ctx context.Context, postID int) ([]Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		var out []Comment
		for _, c := range s.mem {
			if c.PostID == postID {
				out = append(out, c)
			}
		}
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, post_id, body, created_at FROM comments WHERE post_id = ? ORDER BY id ASC`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		var created string
		if err := rows.Scan(&c.ID, &c.PostID, &c.Text, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			c.CreatedAt = ts
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns how many comments postID has.
func (s *Store) Count(ctx context.Context, postID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		n := 0
		for _, c := range s.mem {
			if c.PostID == postID {
				n++
			}
		}
		return n, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE post_id = ?`, postID).Scan(&n)
	return n, err
}
