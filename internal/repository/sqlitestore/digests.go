package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"relocation-assistant/internal/domain"
)

func (s *Store) PutDigest(ctx context.Context, d domain.CachedDigest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cached_digests (language_code, content, created_at) VALUES (?, ?, ?)`,
		string(d.Language), d.Content, formatTime(s.stamp(d.CreatedAt)))
	if err != nil {
		return fail("PutDigest", err)
	}
	return nil
}

func (s *Store) LatestDigest(ctx context.Context, lang domain.Language) (domain.CachedDigest, bool, error) {
	var content, created string
	err := s.db.QueryRowContext(ctx, `
        SELECT content, created_at FROM cached_digests
        WHERE language_code = ?
        ORDER BY created_at DESC, id DESC
        LIMIT 1`, string(lang)).Scan(&content, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CachedDigest{}, false, nil
	}
	if err != nil {
		return domain.CachedDigest{}, false, fail("LatestDigest", err)
	}
	ts, err := parseTime(created)
	if err != nil {
		return domain.CachedDigest{}, false, fail("LatestDigest", err)
	}
	return domain.CachedDigest{Language: lang, Content: content, CreatedAt: ts}, true, nil
}

// DeleteDigests removes digests for langs, or every digest when langs is empty.
func (s *Store) DeleteDigests(ctx context.Context, langs ...domain.Language) (int, error) {
	query := `DELETE FROM cached_digests`
	args := make([]any, 0, len(langs))
	if len(langs) > 0 {
		query += ` WHERE language_code IN (?` + strings.Repeat(", ?", len(langs)-1) + `)`
		for _, l := range langs {
			args = append(args, string(l))
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fail("DeleteDigests", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fail("DeleteDigests", err)
	}
	return int(n), nil
}
