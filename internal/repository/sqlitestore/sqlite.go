// Package sqlitestore implements the repository contracts on a local SQLite
// file. Table and column names match the bot's Postgres deployment.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"

	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/repository"
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS chat_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    content TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS chat_history_chat_created
    ON chat_history (chat_id, created_at);

CREATE TABLE IF NOT EXISTS users (
    chat_id TEXT PRIMARY KEY,
    language_code TEXT NOT NULL DEFAULT 'ru',
    request_count INTEGER NOT NULL DEFAULT 0,
    is_premium INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cached_digests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    language_code TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS cached_digests_lang_created
    ON cached_digests (language_code, created_at);`

var _ repository.Store = (*Store)(nil)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now for rows written without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlitestore: path must not be empty")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// SQLite serializes writers anyway; one connection also keeps an
	// in-memory database alive and shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, multierr.Append(fmt.Errorf("sqlitestore: schema: %w", err), db.Close())
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func fail(op string, err error) error {
	return &repository.StorageError{Op: op, Err: err}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

func (s *Store) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

// AppendTurns inserts turns in one transaction.
func (s *Store) AppendTurns(ctx context.Context, turns ...domain.Turn) (err error) {
	if len(turns) == 0 {
		return nil
	}
	for _, t := range turns {
		if t.ConversationID == "" {
			return fail("AppendTurns", errors.New("conversation id is required"))
		}
		if !t.Role.Valid() {
			return fail("AppendTurns", fmt.Errorf("invalid role %q", t.Role))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("AppendTurns", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	for _, t := range turns {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chat_history (chat_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			t.ConversationID, string(t.Role), t.Content, formatTime(s.stamp(t.CreatedAt)))
		if err != nil {
			return fail("AppendTurns", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fail("AppendTurns", err)
	}
	return nil
}

// RecentTurns returns at most limit turns, oldest first.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT role, content, created_at FROM (
            SELECT id, role, content, created_at
            FROM chat_history
            WHERE chat_id = ?
            ORDER BY created_at DESC, id DESC
            LIMIT ?
        ) ORDER BY created_at ASC, id ASC`, conversationID, limit)
	if err != nil {
		return nil, fail("RecentTurns", err)
	}
	defer rows.Close()

	turns := make([]domain.Turn, 0, limit)
	for rows.Next() {
		var role, content, created string
		if err := rows.Scan(&role, &content, &created); err != nil {
			return nil, fail("RecentTurns", err)
		}
		ts, err := parseTime(created)
		if err != nil {
			return nil, fail("RecentTurns", err)
		}
		turns = append(turns, domain.Turn{
			ConversationID: conversationID,
			Role:           domain.Role(role),
			Content:        content,
			CreatedAt:      ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fail("RecentTurns", err)
	}
	return turns, nil
}

// Prune deletes transcript rows created before cutoff and reports how many
// went away.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fail("Prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fail("Prune", err)
	}
	return n, nil
}
