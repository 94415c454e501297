package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"relocation-assistant/internal/config"
	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/i18n"
	"relocation-assistant/internal/repository"
)

// Sender delivers text to a chat. parseMode is "" for plain text or "HTML".
type Sender interface {
	SendMessage(ctx context.Context, chatID, text, parseMode string) error
}

// Answerer is implemented by *AnswerService.
type Answerer interface {
	Answer(ctx context.Context, req AnswerRequest) Reply
}

const parseModeHTML = "HTML"

// Inbound is one message as received from the chat platform.
type Inbound struct {
	ConversationID string
	Text           string
	// QuotedText is the message this one replies to, if any.
	QuotedText string
}

type ChatDeps struct {
	Answerer    Answerer
	Profiles    repository.ProfileStore
	Transcripts repository.TranscriptStore
	Digests     DigestCache
	Texts       Localizer
	Sender      Sender
	Logger      *zap.Logger
}

type ChatSettings struct {
	DefaultLanguage  domain.Language
	FreeRequestLimit int
	QuotaPolicy      config.QuotaPolicy
	IsAdmin          func(conversationID string) bool
	Now              func() time.Time
}

type ChatService struct {
	answerer    Answerer
	profiles    guardedProfiles
	transcripts guardedTranscript
	digests     DigestCache
	texts       Localizer
	sender      Sender
	log         *zap.Logger
	settings    ChatSettings
}

func NewChatService(deps ChatDeps, settings ChatSettings) (*ChatService, error) {
	switch {
	case deps.Answerer == nil:
		return nil, errors.New("usecase: answerer must not be nil")
	case deps.Profiles == nil:
		return nil, errors.New("usecase: profile store must not be nil")
	case deps.Transcripts == nil:
		return nil, errors.New("usecase: transcript store must not be nil")
	case deps.Digests == nil:
		return nil, errors.New("usecase: digest cache must not be nil")
	case deps.Texts == nil:
		return nil, errors.New("usecase: localizer must not be nil")
	case deps.Sender == nil:
		return nil, errors.New("usecase: sender must not be nil")
	}
	switch settings.QuotaPolicy {
	case config.ChargeBeforeCall, config.ChargeOnSuccess:
	case "":
		settings.QuotaPolicy = config.ChargeBeforeCall
	default:
		return nil, errors.New("usecase: unknown quota policy " + string(settings.QuotaPolicy))
	}
	if _, err := domain.ParseLanguage(string(settings.DefaultLanguage)); err != nil {
		settings.DefaultLanguage = domain.LanguageRU
	}
	if settings.IsAdmin == nil {
		settings.IsAdmin = func(string) bool { return false }
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatService{
		answerer:    deps.Answerer,
		profiles:    guardedProfiles{store: deps.Profiles},
		transcripts: guardedTranscript{store: deps.Transcripts},
		digests:     deps.Digests,
		texts:       deps.Texts,
		sender:      deps.Sender,
		log:         log,
		settings:    settings,
	}, nil
}

// HandleMessage answers one inbound message: a command or a question.
// Storage failures are logged and never fail the call; delivery failures do.
func (s *ChatService) HandleMessage(ctx context.Context, in Inbound) error {
	conversationID := strings.TrimSpace(in.ConversationID)
	if conversationID == "" {
		return newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return newError(ErrorInvalidInput, "empty_message", nil)
	}
	log := s.log.With(zap.String("conversation_id", conversationID))

	profile := s.profiles.resolve(ctx, log, conversationID, s.settings.DefaultLanguage)
	lang := s.language(profile.Language)

	if strings.HasPrefix(text, "/") {
		return s.handleCommand(ctx, log, profile, lang, text)
	}
	utterance := quoteReply(s.texts.Text(lang, i18n.ReplyToLabel, nil), in.QuotedText, text)
	return s.ask(ctx, log, profile, lang, domain.ModeReply, utterance)
}

func (s *ChatService) handleCommand(ctx context.Context, log *zap.Logger, profile domain.Profile, lang domain.Language, text string) error {
	name, arg := parseCommand(text)
	id := profile.ConversationID
	switch name {
	case "start":
		return s.sendText(ctx, id, lang, i18n.Welcome, nil)
	case "help":
		return s.sendText(ctx, id, lang, i18n.Help, nil)
	case "lang", "language":
		next, err := domain.ParseLanguage(arg)
		if err != nil {
			return s.sendText(ctx, id, lang, i18n.LanguageUsage, nil)
		}
		s.profiles.setLanguage(ctx, log, id, next)
		return s.sendText(ctx, id, next, i18n.LanguageChanged, nil)
	case "news":
		return s.ask(ctx, log, profile, lang, domain.ModeDigest, "")
	case "refresh":
		return s.refresh(ctx, log, id, lang, arg)
	}
	return s.sendText(ctx, id, lang, i18n.UnknownCommand, nil)
}

// refresh drops cached digests so the next /news regenerates them.
func (s *ChatService) refresh(ctx context.Context, log *zap.Logger, id string, lang domain.Language, arg string) error {
	if !s.settings.IsAdmin(id) {
		return s.sendText(ctx, id, lang, i18n.AdminOnly, nil)
	}
	langs := domain.Languages
	if arg != "" {
		target, err := domain.ParseLanguage(arg)
		if err != nil {
			return s.sendText(ctx, id, lang, i18n.LanguageUsage, nil)
		}
		langs = []domain.Language{target}
	}
	n, err := s.digests.Invalidate(ctx, langs...)
	if err != nil {
		log.Error("invalidate digests failed", zap.String("stage", "refresh"), zap.Error(err))
		return s.sendText(ctx, id, lang, i18n.GenericError, nil)
	}
	log.Info("digests invalidated", zap.String("stage", "refresh"), zap.Int("deleted", n))
	names := make([]string, 0, len(langs))
	for _, l := range langs {
		names = append(names, string(l))
	}
	return s.sendText(ctx, id, lang, i18n.RefreshDone, map[string]any{"Languages": strings.Join(names, ", ")})
}

func (s *ChatService) ask(ctx context.Context, log *zap.Logger, profile domain.Profile, lang domain.Language, mode domain.Mode, utterance string) error {
	id := profile.ConversationID
	if s.quotaExhausted(profile) {
		log.Info("free quota exhausted", zap.String("stage", "quota"), zap.Int("request_count", profile.RequestCount))
		if err := s.sendText(ctx, id, lang, i18n.QuotaExhausted, map[string]any{"Limit": s.settings.FreeRequestLimit}); err != nil {
			return err
		}
		return newError(ErrorQuotaExceeded, "free_quota_exhausted", nil)
	}

	if s.settings.QuotaPolicy == config.ChargeBeforeCall {
		s.profiles.charge(ctx, log, id)
	}
	reply := s.answerer.Answer(ctx, AnswerRequest{
		ConversationID: id,
		Utterance:      utterance,
		Language:       lang,
		Mode:           mode,
	})
	if reply.Succeeded() {
		if s.settings.QuotaPolicy == config.ChargeOnSuccess {
			s.profiles.charge(ctx, log, id)
		}
		if mode == domain.ModeReply {
			now := s.settings.Now()
			s.transcripts.append(ctx, log,
				domain.Turn{ConversationID: id, Role: domain.RoleUser, Content: utterance, CreatedAt: now},
				domain.Turn{ConversationID: id, Role: domain.RoleAssistant, Content: reply.Text, CreatedAt: now.Add(time.Millisecond)},
			)
		}
	}
	return s.deliver(ctx, id, reply)
}

func (s *ChatService) quotaExhausted(p domain.Profile) bool {
	if p.IsUnlimited || s.settings.FreeRequestLimit <= 0 {
		return false
	}
	return p.RequestCount >= s.settings.FreeRequestLimit
}

func (s *ChatService) sendText(ctx context.Context, id string, lang domain.Language, msgID string, data map[string]any) error {
	return s.deliver(ctx, id, Reply{Text: s.texts.Text(lang, msgID, data), Format: domain.FormatPlain})
}

func (s *ChatService) deliver(ctx context.Context, id string, reply Reply) error {
	parseMode := ""
	if reply.Format == domain.FormatHTML {
		parseMode = parseModeHTML
	}
	if err := s.sender.SendMessage(ctx, id, reply.Text, parseMode); err != nil {
		return newError(ErrorDeliveryFailed, "send_message", err)
	}
	return nil
}

func (s *ChatService) language(lang domain.Language) domain.Language {
	if parsed, err := domain.ParseLanguage(string(lang)); err == nil {
		return parsed
	}
	return s.settings.DefaultLanguage
}

// parseCommand splits "/cmd@bot arg" into "cmd" and "arg".
func parseCommand(text string) (name, arg string) {
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return "", ""
	}
	name = strings.ToLower(fields[0])
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if len(fields) > 1 {
		arg = fields[1]
	}
	return name, arg
}
