// Package app assembles the assistant from its configuration. Both the
// webhook and the operator CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"relocation-assistant/internal/config"
	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/i18n"
	"relocation-assistant/internal/integrations/langchain"
	"relocation-assistant/internal/integrations/openai"
	"relocation-assistant/internal/integrations/paramstore"
	"relocation-assistant/internal/integrations/telegram"
	"relocation-assistant/internal/repository"
	"relocation-assistant/internal/repository/rediscache"
	"relocation-assistant/internal/repository/sqlitestore"
	"relocation-assistant/internal/sanitize"
	"relocation-assistant/internal/usecase"
)

// Pruner deletes transcript turns older than cutoff. Only stores without
// native expiry implement it.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type App struct {
	Config  config.Config
	Store   repository.Store
	Digests *repository.DigestCache
	Texts   *i18n.Catalog
	Answer  *usecase.AnswerService
	Chat    *usecase.ChatService
	// Pruner is nil when the store expires turns on its own.
	Pruner Pruner

	closers []func() error
}

type options struct {
	aws    *aws.Config
	tokens paramstore.TokenSource
	now    func() time.Time
}

type Option func(*options)

// WithAWSConfig skips loading the default AWS configuration.
func WithAWSConfig(cfg aws.Config) Option {
	return func(o *options) {
		o.aws = &cfg
	}
}

// WithTokenSource replaces the SSM parameter store as the source of API
// tokens.
func WithTokenSource(tokens paramstore.TokenSource) Option {
	return func(o *options) {
		o.tokens = tokens
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New wires every component cfg selects. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg config.Config, log *zap.Logger, opts ...Option) (_ *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	awsCfg := func() (aws.Config, error) {
		if o.aws == nil {
			loaded, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return aws.Config{}, fmt.Errorf("app: load aws config: %w", err)
			}
			o.aws = &loaded
		}
		return *o.aws, nil
	}

	if o.tokens == nil {
		c, err := awsCfg()
		if err != nil {
			return nil, err
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(c))
		if err != nil {
			return nil, err
		}
		o.tokens = ps
	}

	if err := a.openStore(cfg, o, awsCfg); err != nil {
		return nil, err
	}
	digestLog, err := a.openDigestLog(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Digests, err = repository.NewDigestCache(digestLog, cfg.DigestCacheTTL, o.now)
	if err != nil {
		return nil, err
	}

	gen, err := newGenerator(cfg, o.tokens)
	if err != nil {
		return nil, err
	}
	a.Texts, err = i18n.New(cfg.DefaultLanguage)
	if err != nil {
		return nil, err
	}
	phrases, err := config.LoadPhrases(cfg.PhrasesFile)
	if err != nil {
		return nil, err
	}
	bot, err := telegram.NewClient(o.tokens, cfg.ParamPrefix)
	if err != nil {
		return nil, err
	}

	a.Answer, err = usecase.NewAnswerService(usecase.AnswerDeps{
		Generator:   gen,
		Transcripts: a.Store,
		Digests:     a.Digests,
		Texts:       a.Texts,
		Formatter:   sanitize.NewStructuredFormatter(a.Texts.Headers(), cfg.DefaultLanguage),
		Typing:      bot,
		Logger:      log,
	}, usecase.AnswerSettings{
		DefaultLanguage:   cfg.DefaultLanguage,
		HistoryTurnLimit:  cfg.HistoryTurnLimit,
		HistoryTokenLimit: cfg.HistoryTokenLimit,
		TypingInterval:    cfg.TypingInterval,
		Phrases:           phrases,
	})
	if err != nil {
		return nil, err
	}

	a.Chat, err = usecase.NewChatService(usecase.ChatDeps{
		Answerer:    a.Answer,
		Profiles:    a.Store,
		Transcripts: a.Store,
		Digests:     a.Digests,
		Texts:       a.Texts,
		Sender:      bot,
		Logger:      log,
	}, usecase.ChatSettings{
		DefaultLanguage:  cfg.DefaultLanguage,
		FreeRequestLimit: cfg.FreeRequestLimit,
		QuotaPolicy:      cfg.QuotaPolicy,
		IsAdmin:          cfg.IsAdmin,
		Now:              o.now,
	})
	if err != nil {
		return nil, err
	}

	log.Info("assistant assembled",
		zap.String("store", string(cfg.StoreDriver)),
		zap.String("digest_cache", string(cfg.DigestCache)),
		zap.String("provider", string(cfg.Provider)),
		zap.String("quota_policy", string(cfg.QuotaPolicy)),
	)
	return a, nil
}

func (a *App) openStore(cfg config.Config, o options, awsCfg func() (aws.Config, error)) error {
	switch cfg.StoreDriver {
	case config.StoreDynamoDB:
		c, err := awsCfg()
		if err != nil {
			return err
		}
		store, err := repository.New(awsdynamodb.NewFromConfig(c), cfg.StateTable,
			repository.WithRetention(cfg.TranscriptRetention),
			repository.WithClock(o.now),
		)
		if err != nil {
			return err
		}
		a.Store = store
	case config.StoreSQLite:
		store, err := sqlitestore.Open(cfg.SQLitePath, sqlitestore.WithClock(o.now))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		a.Store = store
		a.Pruner = store
	default:
		return fmt.Errorf("app: unknown store driver %q", cfg.StoreDriver)
	}
	return nil
}

func (a *App) openDigestLog(ctx context.Context, cfg config.Config) (repository.DigestLog, error) {
	switch cfg.DigestCache {
	case config.CacheStore:
		return a.Store, nil
	case config.CacheRedis:
		cache, err := rediscache.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cache.Close)
		return cache, nil
	}
	return nil, fmt.Errorf("app: unknown digest cache %q", cfg.DigestCache)
}

func newGenerator(cfg config.Config, tokens paramstore.TokenSource) (usecase.Generator, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewClient(tokens, cfg.ParamPrefix,
			openai.WithBaseURL(cfg.GenerationBaseURL),
			openai.WithModel(domain.LevelAugmented, cfg.ModelAugmented),
			openai.WithModel(domain.LevelReduced, cfg.ModelReduced),
		)
	case config.ProviderLangchain:
		return langchain.New(cfg.GenerationBaseURL, cfg.ModelAugmented, cfg.ModelReduced,
			langchain.WithToken(tokens, cfg.ParamPrefix+"/open-ai-token"),
		)
	}
	return nil, errors.New("app: unknown generation provider " + string(cfg.Provider))
}

// Close releases the store and cache connections.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	a.closers = nil
	return errs
}
