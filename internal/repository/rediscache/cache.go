// Package rediscache keeps the digest log in Redis lists so every webhook
// instance sees the same cached digest.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/repository"
)

const (
	keyPrefix = "digest:"

	defaultMaxEntries = 20
	defaultKeyTTL     = 7 * 24 * time.Hour
)

// redisAPI is the subset of *redis.Client used by Cache.
type redisAPI interface {
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	LIndex(ctx context.Context, key string, index int64) *redis.StringCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

var _ repository.DigestLog = (*Cache)(nil)

// Cache is a DigestLog where each language is a list with the newest digest
// at index 0.
type Cache struct {
	client     redisAPI
	maxEntries int64
	keyTTL     time.Duration
}

type Option func(*Cache)

// WithMaxEntries caps how many digests each language list retains.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = int64(n)
		}
	}
}

// WithKeyTTL sets the expiry refreshed on every write.
func WithKeyTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.keyTTL = ttl
		}
	}
}

func New(client redisAPI, opts ...Option) (*Cache, error) {
	if client == nil {
		return nil, errors.New("rediscache: client must not be nil")
	}
	c := &Cache{client: client, maxEntries: defaultMaxEntries, keyTTL: defaultKeyTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string, opts ...Option) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rediscache: ping %s: %w", addr, err)
	}
	return New(client, opts...)
}

func (c *Cache) Close() error {
	return c.client.Close()
}

type entry struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func key(lang domain.Language) string {
	return keyPrefix + string(lang)
}

func fail(op string, err error) error {
	return &repository.StorageError{Op: op, Err: err}
}

// PutDigest pushes d to the head of its language list. Callers write digests
// in creation order, so the head is always the newest. The push, trim and
// expiry go out as one MULTI/EXEC round trip.
func (c *Cache) PutDigest(ctx context.Context, d domain.CachedDigest) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	val, err := json.Marshal(entry{Content: d.Content, CreatedAt: d.CreatedAt.UTC()})
	if err != nil {
		return fail("PutDigest", err)
	}
	k := key(d.Language)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, k, val)
		pipe.LTrim(ctx, k, 0, c.maxEntries-1)
		pipe.Expire(ctx, k, c.keyTTL)
		return nil
	})
	if err != nil {
		return fail("PutDigest", err)
	}
	return nil
}

func (c *Cache) LatestDigest(ctx context.Context, lang domain.Language) (domain.CachedDigest, bool, error) {
	val, err := c.client.LIndex(ctx, key(lang), 0).Result()
	if errors.Is(err, redis.Nil) {
		return domain.CachedDigest{}, false, nil
	}
	if err != nil {
		return domain.CachedDigest{}, false, fail("LatestDigest", err)
	}
	var e entry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		return domain.CachedDigest{}, false, fail("LatestDigest", fmt.Errorf("decode entry: %w", err))
	}
	return domain.CachedDigest{Language: lang, Content: e.Content, CreatedAt: e.CreatedAt}, true, nil
}

// DeleteDigests drops the lists for langs, or for every language when empty.
func (c *Cache) DeleteDigests(ctx context.Context, langs ...domain.Language) (int, error) {
	deleted := 0
	for _, lang := range languagesOrAll(langs) {
		k := key(lang)
		n, err := c.client.LLen(ctx, k).Result()
		if err != nil {
			return deleted, fail("DeleteDigests", err)
		}
		if n == 0 {
			continue
		}
		if err := c.client.Del(ctx, k).Err(); err != nil {
			return deleted, fail("DeleteDigests", err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

func languagesOrAll(langs []domain.Language) []domain.Language {
	if len(langs) == 0 {
		return domain.Languages
	}
	return langs
}
