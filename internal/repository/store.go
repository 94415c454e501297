package repository

import (
	"context"
	"fmt"

	"relocation-assistant/internal/domain"
)

// TranscriptStore persists conversation turns.
type TranscriptStore interface {
	// AppendTurns writes turns atomically.
	AppendTurns(ctx context.Context, turns ...domain.Turn) error
	// RecentTurns returns at most limit turns, oldest first.
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
}

// ProfileStore persists per-conversation quota and language settings.
type ProfileStore interface {
	GetProfile(ctx context.Context, conversationID string) (domain.Profile, bool, error)
	// CreateProfile inserts a profile unless one exists and returns the stored row.
	CreateProfile(ctx context.Context, p domain.Profile) (domain.Profile, error)
	SetLanguage(ctx context.Context, conversationID string, lang domain.Language) error
	IncrementRequestCount(ctx context.Context, conversationID string) error
	SetUnlimited(ctx context.Context, conversationID string, unlimited bool) error
}

// DigestLog is the append-only log of generated digests.
type DigestLog interface {
	PutDigest(ctx context.Context, d domain.CachedDigest) error
	// LatestDigest returns the most recently created digest for lang.
	LatestDigest(ctx context.Context, lang domain.Language) (domain.CachedDigest, bool, error)
	// DeleteDigests removes every digest for langs, or for all languages when
	// langs is empty, and reports how many rows went away.
	DeleteDigests(ctx context.Context, langs ...domain.Language) (int, error)
}

// Store is implemented by every primary storage driver.
type Store interface {
	TranscriptStore
	ProfileStore
	DigestLog
}

// StorageError reports a failed read or write against a store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("repository: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// languagesOrAll expands an empty selection to every supported language.
func languagesOrAll(langs []domain.Language) []domain.Language {
	if len(langs) == 0 {
		return domain.Languages
	}
	return langs
}
