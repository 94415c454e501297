package repository

import (
	"context"
	"errors"
	"time"

	"relocation-assistant/internal/domain"
)

// DigestCache applies the freshness window on top of any DigestLog.
type DigestCache struct {
	log DigestLog
	ttl time.Duration
	now func() time.Time
}

// NewDigestCache wraps log. A nil now uses time.Now.
func NewDigestCache(log DigestLog, ttl time.Duration, now func() time.Time) (*DigestCache, error) {
	if log == nil {
		return nil, errors.New("repository: digest log must not be nil")
	}
	if ttl <= 0 {
		return nil, errors.New("repository: digest ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &DigestCache{log: log, ttl: ttl, now: now}, nil
}

// GetFresh returns the newest digest for lang if it is no older than the TTL.
// Older rows are ignored, not deleted.
func (c *DigestCache) GetFresh(ctx context.Context, lang domain.Language) (string, bool, error) {
	d, ok, err := c.log.LatestDigest(ctx, lang)
	if err != nil || !ok {
		return "", false, err
	}
	if !d.FreshAt(c.now(), c.ttl) {
		return "", false, nil
	}
	return d.Content, true, nil
}

// Put appends text as the newest digest for lang.
func (c *DigestCache) Put(ctx context.Context, lang domain.Language, text string) error {
	return c.log.PutDigest(ctx, domain.CachedDigest{Language: lang, Content: text, CreatedAt: c.now()})
}

// Invalidate deletes digests for langs, or for every language when none are given.
func (c *DigestCache) Invalidate(ctx context.Context, langs ...domain.Language) (int, error) {
	return c.log.DeleteDigests(ctx, langs...)
}
