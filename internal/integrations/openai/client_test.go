package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"relocation-assistant/internal/domain"
)

type fakeTokens struct {
	tok   string
	err   error
	calls int
}

func (f *fakeTokens) Token(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.tok, f.err
}

type capturedRequest struct {
	auth string
	body goopenai.ChatCompletionRequest
}

func newServer(t *testing.T, status int, body string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		if captured != nil {
			captured.auth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func completion(content, finish string) string {
	b, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
	})
	return string(b)
}

func newTestClient(t *testing.T, srv *httptest.Server, tokens *fakeTokens) *Client {
	t.Helper()
	c, err := NewClient(tokens, "/relocation/", WithBaseURL(srv.URL+"/v1"), WithModel(domain.LevelReduced, "gpt-4o-mini"))
	require.NoError(t, err)
	return c
}

var prompt = []domain.ChatMessage{
	{Role: domain.RoleSystem, Content: "You are a consultant."},
	{Role: domain.RoleUser, Content: "What visa do I need?"},
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")

	_, err = NewClient(&fakeTokens{}, " / ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "prefix")
}

func TestNewClient_DefaultModels(t *testing.T) {
	c, err := NewClient(&fakeTokens{}, "/p", WithModel(domain.LevelAugmented, "  "))
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-search-preview", c.Model(domain.LevelAugmented))
	require.Equal(t, "gpt-4o", c.Model(domain.LevelReduced))
	require.Equal(t, "/p/open-ai-token", c.tokenName)
}

func TestComplete_HappyPath(t *testing.T) {
	var captured capturedRequest
	srv := newServer(t, http.StatusOK, completion("  You need a D-type visa.  ", "stop"), &captured)
	tokens := &fakeTokens{tok: "sk-test"}
	c := newTestClient(t, srv, tokens)

	out, err := c.Complete(context.Background(), prompt, domain.LevelReduced)
	require.NoError(t, err)
	require.Equal(t, "You need a D-type visa.", out)
	require.Equal(t, "Bearer sk-test", captured.auth)
	require.Equal(t, "gpt-4o-mini", captured.body.Model)
	require.Len(t, captured.body.Messages, 2)
	require.Equal(t, "system", captured.body.Messages[0].Role)
	require.Equal(t, "What visa do I need?", captured.body.Messages[1].Content)
}

func TestComplete_AugmentedLevelUsesSearchModel(t *testing.T) {
	var captured capturedRequest
	srv := newServer(t, http.StatusOK, completion("ok", "stop"), &captured)
	c := newTestClient(t, srv, &fakeTokens{tok: "sk"})

	_, err := c.Complete(context.Background(), prompt, domain.LevelAugmented)
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-search-preview", captured.body.Model)
}

func TestComplete_KeyResolvedOnce(t *testing.T) {
	srv := newServer(t, http.StatusOK, completion("ok", "stop"), nil)
	tokens := &fakeTokens{tok: "sk"}
	c := newTestClient(t, srv, tokens)

	for i := 0; i < 3; i++ {
		_, err := c.Complete(context.Background(), prompt, domain.LevelReduced)
		require.NoError(t, err)
	}
	require.Equal(t, 1, tokens.calls)
}

func TestComplete_KeyFailureRetriedNextCall(t *testing.T) {
	srv := newServer(t, http.StatusOK, completion("ok", "stop"), nil)
	tokens := &fakeTokens{err: errors.New("ssm unavailable")}
	c := newTestClient(t, srv, tokens)

	_, err := c.Complete(context.Background(), prompt, domain.LevelReduced)
	require.ErrorContains(t, err, "ssm unavailable")
	require.Equal(t, domain.KindUnknown, domain.KindOf(err))

	tokens.err = nil
	tokens.tok = "sk"
	out, err := c.Complete(context.Background(), prompt, domain.LevelReduced)
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestComplete_ErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   domain.ErrorKind
	}{
		{name: "429", status: http.StatusTooManyRequests, body: `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, kind: domain.KindRateLimited},
		{name: "insufficient quota", status: http.StatusForbidden, body: `{"error":{"message":"quota","type":"insufficient_quota","code":"insufficient_quota"}}`, kind: domain.KindRateLimited},
		{name: "context length", status: http.StatusBadRequest, body: `{"error":{"message":"too long","type":"invalid_request_error","code":"context_length_exceeded"}}`, kind: domain.KindRateLimited},
		{name: "content policy", status: http.StatusBadRequest, body: `{"error":{"message":"blocked","type":"invalid_request_error","code":"content_policy_violation"}}`, kind: domain.KindContentPolicy},
		{name: "server error", status: http.StatusBadGateway, body: `{"error":{"message":"bad gateway","type":"server_error"}}`, kind: domain.KindTransport},
		{name: "non json 503", status: http.StatusServiceUnavailable, body: `upstream down`, kind: domain.KindTransport},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":{"message":"bad param","type":"invalid_request_error","code":"invalid_value"}}`, kind: domain.KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(t, tc.status, tc.body, nil)
			c := newTestClient(t, srv, &fakeTokens{tok: "sk"})

			_, err := c.Complete(context.Background(), prompt, domain.LevelAugmented)
			require.Error(t, err)
			var genErr *domain.GenerationError
			require.ErrorAs(t, err, &genErr)
			require.Equal(t, tc.kind, genErr.Kind)
			require.Equal(t, domain.LevelAugmented, genErr.Level)
		})
	}
}

func TestComplete_ContentFilterFinishReason(t *testing.T) {
	srv := newServer(t, http.StatusOK, completion("", "content_filter"), nil)
	c := newTestClient(t, srv, &fakeTokens{tok: "sk"})

	_, err := c.Complete(context.Background(), prompt, domain.LevelReduced)
	require.Equal(t, domain.KindContentPolicy, domain.KindOf(err))
}

func TestComplete_NoChoices(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"id":"x","choices":[]}`, nil)
	c := newTestClient(t, srv, &fakeTokens{tok: "sk"})

	_, err := c.Complete(context.Background(), prompt, domain.LevelReduced)
	require.ErrorContains(t, err, "no choices")
}

func TestComplete_TransportTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(&fakeTokens{tok: "sk"}, "/p",
		WithBaseURL(srv.URL+"/v1"),
		WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}),
	)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), prompt, domain.LevelReduced)
	require.Equal(t, domain.KindTransport, domain.KindOf(err))
}

func TestComplete_UnknownLevel(t *testing.T) {
	c, err := NewClient(&fakeTokens{tok: "sk"}, "/p")
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), prompt, domain.CapabilityLevel("turbo"))
	require.ErrorContains(t, err, "no model")
}
