package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"relocation-assistant/internal/config"
	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/i18n"
)

type mockAnswerer struct {
	reply    Reply
	requests []AnswerRequest
}

func (m *mockAnswerer) Answer(_ context.Context, req AnswerRequest) Reply {
	m.requests = append(m.requests, req)
	return m.reply
}

type mockProfiles struct {
	profiles    map[string]domain.Profile
	getErr      error
	createErr   error
	chargeErr   error
	languageErr error
	charged     int
	languageTo  domain.Language
}

func newMockProfiles() *mockProfiles {
	return &mockProfiles{profiles: map[string]domain.Profile{}}
}

func (m *mockProfiles) GetProfile(_ context.Context, id string) (domain.Profile, bool, error) {
	if m.getErr != nil {
		return domain.Profile{}, false, m.getErr
	}
	p, ok := m.profiles[id]
	return p, ok, nil
}

func (m *mockProfiles) CreateProfile(_ context.Context, p domain.Profile) (domain.Profile, error) {
	if m.createErr != nil {
		return domain.Profile{}, m.createErr
	}
	if existing, ok := m.profiles[p.ConversationID]; ok {
		return existing, nil
	}
	m.profiles[p.ConversationID] = p
	return p, nil
}

func (m *mockProfiles) SetLanguage(_ context.Context, id string, lang domain.Language) error {
	if m.languageErr != nil {
		return m.languageErr
	}
	m.languageTo = lang
	p := m.profiles[id]
	p.Language = lang
	m.profiles[id] = p
	return nil
}

func (m *mockProfiles) IncrementRequestCount(_ context.Context, id string) error {
	if m.chargeErr != nil {
		return m.chargeErr
	}
	m.charged++
	p := m.profiles[id]
	p.RequestCount++
	m.profiles[id] = p
	return nil
}

func (m *mockProfiles) SetUnlimited(_ context.Context, id string, unlimited bool) error {
	p := m.profiles[id]
	p.IsUnlimited = unlimited
	m.profiles[id] = p
	return nil
}

type sentMessage struct {
	chatID    string
	text      string
	parseMode string
}

type mockSender struct {
	sent []sentMessage
	err  error
}

func (m *mockSender) SendMessage(_ context.Context, chatID, text, parseMode string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text, parseMode: parseMode})
	return nil
}

func (m *mockSender) last(t *testing.T) sentMessage {
	t.Helper()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

var chatNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type chatFixture struct {
	answerer    *mockAnswerer
	profiles    *mockProfiles
	transcripts *mockTranscripts
	digests     *mockDigests
	sender      *mockSender
	texts       *i18n.Catalog
	logs        *observer.ObservedLogs
	svc         *ChatService
}

func newChatFixture(t *testing.T, policy config.QuotaPolicy, limit int) *chatFixture {
	t.Helper()
	f := &chatFixture{
		answerer:    &mockAnswerer{reply: Reply{Text: "answer", Format: domain.FormatPlain, Outcome: OutcomeGenerated}},
		profiles:    newMockProfiles(),
		transcripts: &mockTranscripts{},
		digests:     &mockDigests{},
		sender:      &mockSender{},
		texts:       testCatalog(t),
	}
	core, logs := observer.New(zapcore.DebugLevel)
	f.logs = logs
	svc, err := NewChatService(ChatDeps{
		Answerer:    f.answerer,
		Profiles:    f.profiles,
		Transcripts: f.transcripts,
		Digests:     f.digests,
		Texts:       f.texts,
		Sender:      f.sender,
		Logger:      zap.New(core),
	}, ChatSettings{
		DefaultLanguage:  domain.LanguageRU,
		FreeRequestLimit: limit,
		QuotaPolicy:      policy,
		IsAdmin:          func(id string) bool { return id == "admin" },
		Now:              func() time.Time { return chatNow },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func expectUsecaseError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewChatService_Validation(t *testing.T) {
	_, err := NewChatService(ChatDeps{}, ChatSettings{})
	require.Error(t, err)

	f := newChatFixture(t, config.ChargeBeforeCall, 10)
	_, err = NewChatService(ChatDeps{
		Answerer: f.answerer, Profiles: f.profiles, Transcripts: f.transcripts,
		Digests: f.digests, Texts: f.texts, Sender: f.sender,
	}, ChatSettings{QuotaPolicy: "charge_twice"})
	require.ErrorContains(t, err, "unknown quota policy")
}

func TestHandleMessage_InvalidInput(t *testing.T) {
	f := newChatFixture(t, config.ChargeBeforeCall, 10)

	err := f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: "   "})
	expectUsecaseError(t, err, ErrorInvalidInput, "empty_message")

	err = f.svc.HandleMessage(context.Background(), Inbound{Text: "hi"})
	expectUsecaseError(t, err, ErrorInvalidInput, "missing_conversation_id")
	require.Empty(t, f.sender.sent)
}

func TestHandleMessage_QuestionFlow(t *testing.T) {
	f := newChatFixture(t, config.ChargeBeforeCall, 10)

	err := f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: "Как получить ВНЖ?"})
	require.NoError(t, err)

	require.Len(t, f.answerer.requests, 1)
	req := f.answerer.requests[0]
	require.Equal(t, AnswerRequest{ConversationID: "1", Utterance: "Как получить ВНЖ?", Language: domain.LanguageRU, Mode: domain.ModeReply}, req)

	require.Equal(t, 1, f.profiles.charged)
	require.Equal(t, domain.LanguageRU, f.profiles.profiles["1"].Language, "profile created lazily with the default language")

	require.Len(t, f.transcripts.appended, 2)
	require.Equal(t, domain.Turn{ConversationID: "1", Role: domain.RoleUser, Content: "Как получить ВНЖ?", CreatedAt: chatNow}, f.transcripts.appended[0])
	require.Equal(t, domain.RoleAssistant, f.transcripts.appended[1].Role)
	require.Equal(t, "answer", f.transcripts.appended[1].Content)
	require.True(t, f.transcripts.appended[1].CreatedAt.After(f.transcripts.appended[0].CreatedAt))

	require.Equal(t, sentMessage{chatID: "1", text: "answer", parseMode: ""}, f.sender.last(t))
}

func TestHandleMessage_QuotedReplyPrefix(t *testing.T) {
	f := newChatFixture(t, config.ChargeBeforeCall, 10)

	err := f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: "А для детей?", QuotedText: "Виза D выдаётся на год."})
	require.NoError(t, err)

	label := f.texts.Text(domain.LanguageRU, i18n.ReplyToLabel, nil)
	want := "(" + label + ": 'Виза D выдаётся на год.') А для детей?"
	require.Equal(t, want, f.answerer.requests[0].Utterance)
	require.Equal(t, want, f.transcripts.appended[0].Content)
}

func TestHandleMessage_FailedReplyIsNotPersisted(t *testing.T) {
	cases := []struct {
		policy      config.QuotaPolicy
		wantCharged int
	}{
		{policy: config.ChargeBeforeCall, wantCharged: 1},
		{policy: config.ChargeOnSuccess, wantCharged: 0},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			f := newChatFixture(t, tc.policy, 10)
			f.answerer.reply = Reply{Text: "sorry", Format: domain.FormatPlain, Outcome: OutcomeFailed}

			require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: "q"}))
			require.Equal(t, tc.wantCharged, f.profiles.charged)
			require.Empty(t, f.transcripts.appended)
			require.Equal(t, "sorry", f.sender.last(t).text)
		})
	}
}

func TestHandleMessage_ChargeOnSuccess(t *testing.T) {
	f := newChatFixture(t, config.ChargeOnSuccess, 10)
	require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: "q"}))
	require.Equal(t, 1, f.profiles.charged)
}

func TestHandleMessage_QuotaExhausted(t *testing.T) {
	f := newChatFixture(t, config.ChargeBeforeCall, 3)
	f.profiles.profiles["1"] = domain.Profile{ConversationID: "1", Language: domain.LanguageEN, RequestCount: 3}

	err := f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: "q"})
	expectUsecaseError(t, err, ErrorQuotaExceeded, "free_quota_exhausted")
	require.Empty(t, f.answerer.requests)
	require.Zero(t, f.profiles.charged)
	require.Equal(t, f.texts.Text(domain.LanguageEN, i18n.QuotaExhausted, map[string]any{"Limit": 3}), f.sender.last(t).text)
	require.Contains(t, f.sender.last(t).text, "3")
}

func TestHandleMessage_UnlimitedAndDisabledQuota(t *testing.T) {
	f := newChatFixture(t, config.ChargeBeforeCall, 3)
	f.profiles.profiles["1"] = domain.Profile{ConversationID: "1", Language: domain.LanguageEN, RequestCount: 50, IsUnlimited: true}
	require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: "q"}))
	require.Len(t, f.answerer.requests, 1)

	f = newChatFixture(t, config.ChargeBeforeCall, 0)
	f.profiles.profiles["2"] = domain.Profile{ConversationID: "2", Language: domain.LanguageEN, RequestCount: 500}
	require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "2", Text: "q"}))
	require.Len(t, f.answerer.requests, 1)
}

func TestHandleMessage_StorageFailuresDoNotBlockReply(t *testing.T) {
	f := newChatFixture(t, config.ChargeBeforeCall, 10)
	f.profiles.getErr = errors.New("dynamodb down")
	f.profiles.chargeErr = errors.New("dynamodb down")
	f.transcripts.appendErr = errors.New("dynamodb down")

	require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: "q"}))
	require.Equal(t, domain.LanguageRU, f.answerer.requests[0].Language)
	require.Equal(t, "answer", f.sender.last(t).text)

	requireStorageWarnings(t, f.logs, "1", map[string]string{
		"get profile failed":             "resolve_profile",
		"increment request count failed": "charge_quota",
		"persist turns failed":           "persist_turns",
	})
}

func TestHandleMessage_ProfileWriteFailuresLogConversation(t *testing.T) {
	f := newChatFixture(t, config.ChargeBeforeCall, 10)
	f.profiles.createErr = errors.New("conditional write failed")
	f.profiles.languageErr = errors.New("dynamodb down")

	require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "77", Text: "/lang en"}))
	require.Equal(t, f.texts.Text(domain.LanguageEN, i18n.LanguageChanged, nil), f.sender.last(t).text)

	requireStorageWarnings(t, f.logs, "77", map[string]string{
		"create profile failed": "resolve_profile",
		"set language failed":   "set_language",
	})
}

func TestHandleMessage_DeliveryFailure(t *testing.T) {
	f := newChatFixture(t, config.ChargeBeforeCall, 10)
	f.sender.err = errors.New("telegram 502")

	err := f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: "q"})
	expectUsecaseError(t, err, ErrorDeliveryFailed, "send_message")
	require.ErrorContains(t, err, "telegram 502")
}

func TestHandleMessage_Commands(t *testing.T) {
	cases := []struct {
		text   string
		lang   domain.Language
		wantID string
	}{
		{text: "/start", lang: domain.LanguageRU, wantID: i18n.Welcome},
		{text: "/start@RelocationBot", lang: domain.LanguageRU, wantID: i18n.Welcome},
		{text: "/HELP", lang: domain.LanguageRU, wantID: i18n.Help},
		{text: "/lang", lang: domain.LanguageRU, wantID: i18n.LanguageUsage},
		{text: "/lang de", lang: domain.LanguageRU, wantID: i18n.LanguageUsage},
		{text: "/refresh", lang: domain.LanguageRU, wantID: i18n.AdminOnly},
		{text: "/visa", lang: domain.LanguageRU, wantID: i18n.UnknownCommand},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			f := newChatFixture(t, config.ChargeBeforeCall, 10)
			require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: tc.text}))
			require.Equal(t, f.texts.Text(tc.lang, tc.wantID, nil), f.sender.last(t).text)
			require.Empty(t, f.answerer.requests)
			require.Zero(t, f.profiles.charged, "commands are free")
		})
	}
}

func TestHandleMessage_LanguageSwitch(t *testing.T) {
	f := newChatFixture(t, config.ChargeBeforeCall, 10)

	require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: "/lang EN"}))
	require.Equal(t, domain.LanguageEN, f.profiles.languageTo)
	require.Equal(t, f.texts.Text(domain.LanguageEN, i18n.LanguageChanged, nil), f.sender.last(t).text)

	require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: "hello"}))
	require.Equal(t, domain.LanguageEN, f.answerer.requests[0].Language)
}

func TestHandleMessage_NewsUsesDigestMode(t *testing.T) {
	f := newChatFixture(t, config.ChargeBeforeCall, 10)
	f.answerer.reply = Reply{Text: "<b>News</b>", Format: domain.FormatHTML, Outcome: OutcomeCached}

	require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "1", Text: "/news"}))
	require.Equal(t, domain.ModeDigest, f.answerer.requests[0].Mode)
	require.Empty(t, f.answerer.requests[0].Utterance)
	require.Equal(t, 1, f.profiles.charged)
	require.Empty(t, f.transcripts.appended, "digests are not part of the transcript")
	require.Equal(t, sentMessage{chatID: "1", text: "<b>News</b>", parseMode: "HTML"}, f.sender.last(t))
}

func TestHandleMessage_AdminRefresh(t *testing.T) {
	f := newChatFixture(t, config.ChargeBeforeCall, 10)

	require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "admin", Text: "/refresh en"}))
	require.Equal(t, []domain.Language{domain.LanguageEN}, f.digests.invalidated)
	require.Equal(t, f.texts.Text(domain.LanguageRU, i18n.RefreshDone, map[string]any{"Languages": "en"}), f.sender.last(t).text)

	f.digests.invalidated = nil
	require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "admin", Text: "/refresh"}))
	require.Equal(t, domain.Languages, f.digests.invalidated)

	f.digests.invalidErr = errors.New("boom")
	require.NoError(t, f.svc.HandleMessage(context.Background(), Inbound{ConversationID: "admin", Text: "/refresh"}))
	require.Equal(t, f.texts.Text(domain.LanguageRU, i18n.GenericError, nil), f.sender.last(t).text)
}

func TestParseCommand(t *testing.T) {
	cases := map[string][2]string{
		"/start":           {"start", ""},
		"/lang en":         {"lang", "en"},
		"/Lang@Bot  ru  x": {"lang", "ru"},
		"/":                {"", ""},
		"/refresh@bot":     {"refresh", ""},
	}
	for in, want := range cases {
		name, arg := parseCommand(in)
		require.Equal(t, want[0], name, in)
		require.Equal(t, want[1], arg, in)
	}
}
