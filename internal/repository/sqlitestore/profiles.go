package sqlitestore

import (
	"context"
	"database/sql"
	"errors"

	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/repository"
)

func (s *Store) GetProfile(ctx context.Context, conversationID string) (domain.Profile, bool, error) {
	var (
		lang      string
		count     int
		unlimited bool
		created   string
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT language_code, request_count, is_premium, created_at
        FROM users WHERE chat_id = ?`, conversationID).Scan(&lang, &count, &unlimited, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, false, nil
	}
	if err != nil {
		return domain.Profile{}, false, fail("GetProfile", err)
	}
	ts, err := parseTime(created)
	if err != nil {
		return domain.Profile{}, false, fail("GetProfile", err)
	}
	return domain.Profile{
		ConversationID: conversationID,
		Language:       domain.Language(lang),
		RequestCount:   count,
		IsUnlimited:    unlimited,
		CreatedAt:      ts,
	}, true, nil
}

// CreateProfile inserts p unless the chat already has a row, then returns
// whatever is stored.
func (s *Store) CreateProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	if p.ConversationID == "" {
		return domain.Profile{}, fail("CreateProfile", errors.New("conversation id is required"))
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO users (chat_id, language_code, request_count, is_premium, created_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (chat_id) DO NOTHING`,
		p.ConversationID, string(p.Language), p.RequestCount, p.IsUnlimited, formatTime(s.stamp(p.CreatedAt)))
	if err != nil {
		return domain.Profile{}, fail("CreateProfile", err)
	}
	stored, ok, err := s.GetProfile(ctx, p.ConversationID)
	if err != nil {
		return domain.Profile{}, err
	}
	if !ok {
		return domain.Profile{}, fail("CreateProfile", errors.New("profile vanished after insert"))
	}
	return stored, nil
}

func (s *Store) SetLanguage(ctx context.Context, conversationID string, lang domain.Language) error {
	return s.updateProfile(ctx, "SetLanguage",
		`UPDATE users SET language_code = ? WHERE chat_id = ?`, string(lang), conversationID)
}

func (s *Store) IncrementRequestCount(ctx context.Context, conversationID string) error {
	return s.updateProfile(ctx, "IncrementRequestCount",
		`UPDATE users SET request_count = request_count + 1 WHERE chat_id = ?`, conversationID)
}

func (s *Store) SetUnlimited(ctx context.Context, conversationID string, unlimited bool) error {
	return s.updateProfile(ctx, "SetUnlimited",
		`UPDATE users SET is_premium = ? WHERE chat_id = ?`, unlimited, conversationID)
}

func (s *Store) updateProfile(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fail(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fail(op, err)
	}
	if n == 0 {
		return fail(op, repository.ErrProfileMissing)
	}
	return nil
}
