package usecase

import (
	"context"

	"go.uber.org/zap"

	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/repository"
)

// DigestCache is the freshness-aware digest store; *repository.DigestCache
// implements it.
type DigestCache interface {
	GetFresh(ctx context.Context, lang domain.Language) (string, bool, error)
	Put(ctx context.Context, lang domain.Language, text string) error
	Invalidate(ctx context.Context, langs ...domain.Language) (int, error)
}

// The guarded adapters below log storage failures on the caller's
// request-scoped logger and degrade them to empty results so they never
// reach the user.

type guardedTranscript struct {
	store repository.TranscriptStore
}

func (g guardedTranscript) recent(ctx context.Context, log *zap.Logger, conversationID string, limit int) []domain.Turn {
	turns, err := g.store.RecentTurns(ctx, conversationID, limit)
	if err != nil {
		log.Warn("load history failed", zap.String("stage", "load_history"), zap.Error(err))
		return nil
	}
	return turns
}

func (g guardedTranscript) append(ctx context.Context, log *zap.Logger, turns ...domain.Turn) {
	if err := g.store.AppendTurns(ctx, turns...); err != nil {
		log.Warn("persist turns failed", zap.String("stage", "persist_turns"), zap.Error(err))
	}
}

type guardedProfiles struct {
	store repository.ProfileStore
}

// resolve returns the stored profile, creating it on first contact. On
// failure it returns an in-memory default so the request can proceed.
func (g guardedProfiles) resolve(ctx context.Context, log *zap.Logger, conversationID string, lang domain.Language) domain.Profile {
	fallback := domain.Profile{ConversationID: conversationID, Language: lang}
	p, ok, err := g.store.GetProfile(ctx, conversationID)
	if err != nil {
		log.Warn("get profile failed", zap.String("stage", "resolve_profile"), zap.Error(err))
		return fallback
	}
	if ok {
		return p
	}
	p, err = g.store.CreateProfile(ctx, fallback)
	if err != nil {
		log.Warn("create profile failed", zap.String("stage", "resolve_profile"), zap.Error(err))
		return fallback
	}
	return p
}

func (g guardedProfiles) setLanguage(ctx context.Context, log *zap.Logger, conversationID string, lang domain.Language) {
	if err := g.store.SetLanguage(ctx, conversationID, lang); err != nil {
		log.Warn("set language failed", zap.String("stage", "set_language"), zap.Error(err))
	}
}

func (g guardedProfiles) charge(ctx context.Context, log *zap.Logger, conversationID string) {
	if err := g.store.IncrementRequestCount(ctx, conversationID); err != nil {
		log.Warn("increment request count failed", zap.String("stage", "charge_quota"), zap.Error(err))
	}
}

type guardedDigests struct {
	cache DigestCache
}

func (g guardedDigests) getFresh(ctx context.Context, log *zap.Logger, lang domain.Language) (string, bool) {
	text, ok, err := g.cache.GetFresh(ctx, lang)
	if err != nil {
		log.Warn("read digest cache failed", zap.String("stage", "digest_lookup"), zap.Error(err))
		return "", false
	}
	return text, ok
}

func (g guardedDigests) put(ctx context.Context, log *zap.Logger, lang domain.Language, text string) {
	if err := g.cache.Put(ctx, lang, text); err != nil {
		log.Warn("write digest cache failed", zap.String("stage", "digest_store"), zap.Error(err))
	}
}
