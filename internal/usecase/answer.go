// Package usecase holds the conversation flows: the answer pipeline with its
// retry ladder, and the chat service that wraps it with commands, quota and
// persistence.
package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"relocation-assistant/internal/config"
	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/i18n"
	"relocation-assistant/internal/repository"
	"relocation-assistant/internal/sanitize"
)

const defaultHistoryTurnLimit = 20

// Generator is the generation backend. Implementations return
// *domain.GenerationError and never retry.
type Generator interface {
	Complete(ctx context.Context, messages []domain.ChatMessage, level domain.CapabilityLevel) (string, error)
}

// Localizer resolves canned user-facing texts.
type Localizer interface {
	Text(lang domain.Language, id string, data map[string]any) string
}

// Formatter renders sanitized digest text as structured HTML.
type Formatter interface {
	ReformatAsStructured(text string, lang domain.Language) string
}

// Outcome tells the caller where a reply came from.
type Outcome string

const (
	OutcomeGenerated Outcome = "generated"
	OutcomeFallback  Outcome = "fallback"
	OutcomeCached    Outcome = "cached"
	OutcomeFailed    Outcome = "failed"
)

type AnswerRequest struct {
	ConversationID string
	Utterance      string
	Language       domain.Language
	Mode           domain.Mode
}

type Reply struct {
	Text    string
	Format  domain.Format
	Outcome Outcome
}

// Succeeded reports whether the reply carries model output rather than an
// apology.
func (r Reply) Succeeded() bool {
	return r.Outcome != OutcomeFailed
}

type AnswerDeps struct {
	Generator   Generator
	Transcripts repository.TranscriptStore
	Digests     DigestCache
	Texts       Localizer
	Formatter   Formatter
	// Typing is optional.
	Typing TypingNotifier
	Logger *zap.Logger
}

type AnswerSettings struct {
	DefaultLanguage   domain.Language
	HistoryTurnLimit  int
	HistoryTokenLimit int
	TypingInterval    time.Duration
	Phrases           config.Phrases
}

type AnswerService struct {
	gen         Generator
	transcripts guardedTranscript
	digests     guardedDigests
	texts       Localizer
	formatter   Formatter
	typing      TypingNotifier
	log         *zap.Logger
	settings    AnswerSettings
}

var errEmptyCompletion = errors.New("usecase: empty completion")

func NewAnswerService(deps AnswerDeps, settings AnswerSettings) (*AnswerService, error) {
	if deps.Generator == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if deps.Transcripts == nil {
		return nil, errors.New("usecase: transcript store must not be nil")
	}
	if deps.Digests == nil {
		return nil, errors.New("usecase: digest cache must not be nil")
	}
	if deps.Texts == nil {
		return nil, errors.New("usecase: localizer must not be nil")
	}
	if deps.Formatter == nil {
		return nil, errors.New("usecase: formatter must not be nil")
	}
	if err := settings.Phrases.Validate(); err != nil {
		return nil, err
	}
	if settings.HistoryTurnLimit <= 0 {
		settings.HistoryTurnLimit = defaultHistoryTurnLimit
	}
	if _, err := domain.ParseLanguage(string(settings.DefaultLanguage)); err != nil {
		settings.DefaultLanguage = domain.LanguageRU
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &AnswerService{
		gen:         deps.Generator,
		transcripts: guardedTranscript{store: deps.Transcripts},
		digests:     guardedDigests{cache: deps.Digests},
		texts:       deps.Texts,
		formatter:   deps.Formatter,
		typing:      deps.Typing,
		log:         log,
		settings:    settings,
	}, nil
}

// Answer turns one inbound utterance into one reply. It never returns an
// error: every failure ends in a localized apology with OutcomeFailed.
func (s *AnswerService) Answer(ctx context.Context, req AnswerRequest) Reply {
	lang := s.language(req.Language)
	mode := req.Mode
	if mode != domain.ModeDigest {
		mode = domain.ModeReply
	}
	log := s.log.With(
		zap.String("invocation_id", newUUID()),
		zap.String("conversation_id", req.ConversationID),
		zap.String("mode", string(mode)),
		zap.String("language", string(lang)),
	)

	var messages []domain.ChatMessage
	if mode == domain.ModeDigest {
		if text, ok := s.digests.getFresh(ctx, log, lang); ok {
			log.Info("digest served from cache", zap.String("stage", "digest_lookup"))
			return Reply{Text: text, Format: domain.FormatHTML, Outcome: OutcomeCached}
		}
		messages = buildDigestMessages(s.settings.Phrases.SystemPrompt[lang], s.settings.Phrases.DigestInstruction[lang])
	} else {
		history := s.transcripts.recent(ctx, log, req.ConversationID, s.settings.HistoryTurnLimit)
		history = trimHistory(history, s.settings.HistoryTokenLimit)
		messages = buildReplyMessages(s.settings.Phrases.SystemPrompt[lang], history, req.Utterance)
	}

	stop := startTyping(ctx, s.typing, req.ConversationID, s.settings.TypingInterval, log)
	defer stop()

	outcome := OutcomeGenerated
	text, primaryErr := s.tryPrimary(ctx, log, mode, lang, messages)
	if primaryErr != nil {
		log.Warn("augmented generation failed, falling back",
			zap.String("stage", "try_primary"),
			zap.String("error_kind", string(domain.KindOf(primaryErr))),
			zap.Error(primaryErr))

		var fallbackErr error
		text, fallbackErr = s.complete(ctx, messages, domain.LevelReduced)
		if fallbackErr != nil {
			log.Error("fallback generation failed",
				zap.String("stage", "try_fallback"),
				zap.String("error_kind", string(domain.KindOf(fallbackErr))),
				zap.Error(fallbackErr))
			return s.failure(lang, primaryErr, fallbackErr)
		}
		outcome = OutcomeFallback
	}

	if mode == domain.ModeDigest {
		structured := s.formatter.ReformatAsStructured(sanitize.StripMarkup(text), lang)
		s.digests.put(ctx, log, lang, structured)
		return Reply{Text: structured, Format: domain.FormatHTML, Outcome: outcome}
	}
	return Reply{Text: text, Format: domain.FormatPlain, Outcome: outcome}
}

// tryPrimary runs the augmented call and its two one-shot corrections:
// first for an access disclaimer, then (digest only) for a disallowed
// source. Any call error aborts the ladder.
func (s *AnswerService) tryPrimary(ctx context.Context, log *zap.Logger, mode domain.Mode, lang domain.Language, messages []domain.ChatMessage) (string, error) {
	text, err := s.complete(ctx, messages, domain.LevelAugmented)
	if err != nil {
		return "", err
	}

	var extra []string
	if phrase, ok := containsAnyFold(text, s.settings.Phrases.AccessDenied); ok {
		log.Info("access disclaimer in reply, retrying", zap.String("stage", "retry_access_denied"), zap.String("phrase", phrase))
		extra = append(extra, s.settings.Phrases.AccessRetryInstruction[lang])
		text, err = s.complete(ctx, withInstructions(messages, extra...), domain.LevelAugmented)
		if err != nil {
			return "", err
		}
	}

	if mode != domain.ModeDigest {
		return text, nil
	}
	if source, ok := containsAnyFold(text, s.settings.Phrases.DisallowedSources); ok {
		log.Info("disallowed source in digest, retrying", zap.String("stage", "retry_content_policy"), zap.String("source", source))
		extra = append(extra, s.settings.Phrases.SourceRetryInstruction[lang])
		text, err = s.complete(ctx, withInstructions(messages, extra...), domain.LevelAugmented)
		if err != nil {
			return "", err
		}
	}
	return text, nil
}

func (s *AnswerService) complete(ctx context.Context, messages []domain.ChatMessage, level domain.CapabilityLevel) (string, error) {
	text, err := s.gen.Complete(ctx, messages, level)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &domain.GenerationError{Kind: domain.KindUnknown, Level: level, Err: errEmptyCompletion}
	}
	return text, nil
}

// failure picks the apology from the errors of the augmented attempt and the
// reduced fallback. If either one is a rate limit the user gets the
// temporarily-unavailable text, even when the other failed for a different
// reason; only when neither is rate limited does the generic error apply.
func (s *AnswerService) failure(lang domain.Language, errs ...error) Reply {
	id := i18n.GenericError
	for _, err := range errs {
		if domain.KindOf(err) == domain.KindRateLimited {
			id = i18n.TemporarilyUnavailable
			break
		}
	}
	return Reply{Text: s.texts.Text(lang, id, nil), Format: domain.FormatPlain, Outcome: OutcomeFailed}
}

func (s *AnswerService) language(lang domain.Language) domain.Language {
	if parsed, err := domain.ParseLanguage(string(lang)); err == nil {
		return parsed
	}
	return s.settings.DefaultLanguage
}

var newUUID = func() string {
	return uuid.NewString()
}
