// Package config parses the assistant's runtime configuration. Values are read
// once at startup and passed by value into constructors.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"relocation-assistant/internal/domain"
)

type StoreDriver string

const (
	StoreDynamoDB StoreDriver = "dynamodb"
	StoreSQLite   StoreDriver = "sqlite"
)

// CacheDriver selects where news digests are cached. CacheStore keeps them
// next to transcripts in the primary store.
type CacheDriver string

const (
	CacheStore CacheDriver = "store"
	CacheRedis CacheDriver = "redis"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderLangchain Provider = "langchain"
)

// QuotaPolicy decides when a billable request is counted against the free
// allowance.
type QuotaPolicy string

const (
	// ChargeBeforeCall counts every accepted request, including cache hits
	// and failed generations.
	ChargeBeforeCall QuotaPolicy = "charge_before_call"
	// ChargeOnSuccess counts a request only when the reply was generated or
	// served from cache, not when the user got an apology.
	ChargeOnSuccess QuotaPolicy = "charge_on_success"
)

const (
	DefaultHistoryTurnLimit    = 20
	DefaultDigestCacheTTL      = 24 * time.Hour
	DefaultFreeRequestLimit    = 10
	DefaultTranscriptRetention = 30 * 24 * time.Hour
	DefaultTypingInterval      = 4 * time.Second
	DefaultSQLitePath          = "assistant.db"
	DefaultModelAugmented      = "gpt-4o-search-preview"
	DefaultModelReduced        = "gpt-4o"
)

// Config is the fully parsed runtime configuration.
type Config struct {
	StoreDriver         StoreDriver
	StateTable          string
	SQLitePath          string
	DigestCache         CacheDriver
	RedisAddr           string
	ParamPrefix         string
	Provider            Provider
	GenerationBaseURL   string
	ModelAugmented      string
	ModelReduced        string
	DefaultLanguage     domain.Language
	HistoryTurnLimit    int
	HistoryTokenLimit   int
	DigestCacheTTL      time.Duration
	FreeRequestLimit    int
	QuotaPolicy         QuotaPolicy
	TranscriptRetention time.Duration
	TypingInterval      time.Duration
	PhrasesFile         string
	WebhookSecret       string
	AdminChatIDs        []string
	LogLevel            string
}

// FromEnv builds a Config from getenv (normally os.Getenv). Every invalid or
// missing key is reported, not just the first one.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}

	cfg := Config{
		StoreDriver:         StoreDriver(p.str("STORE_DRIVER", string(StoreDynamoDB))),
		StateTable:          p.str("STATE_TABLE", ""),
		SQLitePath:          p.str("SQLITE_PATH", DefaultSQLitePath),
		DigestCache:         CacheDriver(p.str("DIGEST_CACHE", string(CacheStore))),
		RedisAddr:           p.str("REDIS_ADDR", ""),
		ParamPrefix:         strings.TrimRight(p.str("PARAM_PREFIX", ""), "/"),
		Provider:            Provider(p.str("GENERATION_PROVIDER", string(ProviderOpenAI))),
		GenerationBaseURL:   p.str("GENERATION_BASE_URL", ""),
		ModelAugmented:      p.str("MODEL_AUGMENTED", DefaultModelAugmented),
		ModelReduced:        p.str("MODEL_REDUCED", DefaultModelReduced),
		HistoryTurnLimit:    p.positiveInt("HISTORY_TURN_LIMIT", DefaultHistoryTurnLimit),
		HistoryTokenLimit:   p.nonNegativeInt("HISTORY_TOKEN_LIMIT", 0),
		DigestCacheTTL:      p.duration("DIGEST_CACHE_TTL", DefaultDigestCacheTTL),
		FreeRequestLimit:    p.nonNegativeInt("FREE_REQUEST_LIMIT", DefaultFreeRequestLimit),
		QuotaPolicy:         QuotaPolicy(p.str("QUOTA_CHARGE_POLICY", string(ChargeBeforeCall))),
		TranscriptRetention: p.duration("TRANSCRIPT_RETENTION", DefaultTranscriptRetention),
		TypingInterval:      p.duration("TYPING_INTERVAL", DefaultTypingInterval),
		PhrasesFile:         p.str("PHRASES_FILE", ""),
		WebhookSecret:       p.str("WEBHOOK_SECRET", ""),
		AdminChatIDs:        splitList(p.str("ADMIN_CHAT_IDS", "")),
		LogLevel:            strings.ToLower(p.str("LOG_LEVEL", "info")),
	}

	lang, err := domain.ParseLanguage(p.str("DEFAULT_LANGUAGE", string(domain.LanguageRU)))
	if err != nil {
		p.fail("DEFAULT_LANGUAGE", err)
	}
	cfg.DefaultLanguage = lang

	p.errs = multierr.Append(p.errs, cfg.validate())
	if p.errs != nil {
		return Config{}, p.errs
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs error
	switch c.StoreDriver {
	case StoreDynamoDB:
		if c.StateTable == "" {
			errs = multierr.Append(errs, keyError("STATE_TABLE", errors.New("required for the dynamodb store")))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = multierr.Append(errs, keyError("SQLITE_PATH", errors.New("required for the sqlite store")))
		}
	default:
		errs = multierr.Append(errs, keyError("STORE_DRIVER", fmt.Errorf("unknown driver %q", c.StoreDriver)))
	}

	switch c.DigestCache {
	case CacheStore:
	case CacheRedis:
		if c.RedisAddr == "" {
			errs = multierr.Append(errs, keyError("REDIS_ADDR", errors.New("required for the redis digest cache")))
		}
	default:
		errs = multierr.Append(errs, keyError("DIGEST_CACHE", fmt.Errorf("unknown driver %q", c.DigestCache)))
	}

	switch c.Provider {
	case ProviderOpenAI:
	case ProviderLangchain:
		if c.GenerationBaseURL == "" {
			errs = multierr.Append(errs, keyError("GENERATION_BASE_URL", errors.New("required for the langchain provider")))
		}
	default:
		errs = multierr.Append(errs, keyError("GENERATION_PROVIDER", fmt.Errorf("unknown provider %q", c.Provider)))
	}

	switch c.QuotaPolicy {
	case ChargeBeforeCall, ChargeOnSuccess:
	default:
		errs = multierr.Append(errs, keyError("QUOTA_CHARGE_POLICY", fmt.Errorf("unknown policy %q", c.QuotaPolicy)))
	}

	if c.ParamPrefix == "" {
		errs = multierr.Append(errs, keyError("PARAM_PREFIX", errors.New("required")))
	}
	return errs
}

// IsAdmin reports whether conversationID may run administrative commands.
func (c Config) IsAdmin(conversationID string) bool {
	for _, id := range c.AdminChatIDs {
		if id == conversationID {
			return true
		}
	}
	return false
}

type parser struct {
	getenv func(string) string
	errs   error
}

func (p *parser) fail(key string, err error) {
	p.errs = multierr.Append(p.errs, keyError(key, err))
}

func (p *parser) str(key, def string) string {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	return v
}

func (p *parser) nonNegativeInt(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	if n < 0 {
		p.fail(key, errors.New("must not be negative"))
		return def
	}
	return n
}

func (p *parser) positiveInt(key string, def int) int {
	n := p.nonNegativeInt(key, def)
	if n == 0 {
		p.fail(key, errors.New("must be positive"))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	if d <= 0 {
		p.fail(key, errors.New("must be positive"))
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func keyError(key string, err error) error {
	return fmt.Errorf("config: %s: %w", key, err)
}
