// Package langchain is a generation backend for OpenAI-compatible
// self-hosted endpoints (Ollama, vLLM, LocalAI) built on langchaingo.
package langchain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/integrations/paramstore"
)

// placeholderToken is sent to endpoints that do not check API keys.
const placeholderToken = "unused"

// Generator completes prompts through langchaingo. Self-hosted models have no
// search tool, so both levels map to plain chat models; the augmented one is
// usually larger.
type Generator struct {
	baseURL    string
	tokens     paramstore.TokenSource
	tokenName  string
	httpClient *http.Client
	models     map[domain.CapabilityLevel]string

	mu  sync.Mutex
	llm llms.Model
}

type Option func(*Generator)

// WithToken reads the API key from tokens under name instead of sending a
// placeholder.
func WithToken(tokens paramstore.TokenSource, name string) Option {
	return func(g *Generator) {
		g.tokens = tokens
		g.tokenName = strings.TrimSpace(name)
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) {
		g.httpClient = c
	}
}

// New returns a Generator for the endpoint at baseURL.
func New(baseURL, augmentedModel, reducedModel string, opts ...Option) (*Generator, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("langchain: base url must not be empty")
	}
	if strings.TrimSpace(augmentedModel) == "" || strings.TrimSpace(reducedModel) == "" {
		return nil, errors.New("langchain: models must not be empty")
	}
	g := &Generator{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		models: map[domain.CapabilityLevel]string{
			domain.LevelAugmented: strings.TrimSpace(augmentedModel),
			domain.LevelReduced:   strings.TrimSpace(reducedModel),
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Generator) resolveLLM(ctx context.Context) (llms.Model, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.llm != nil {
		return g.llm, nil
	}
	token := placeholderToken
	if g.tokens != nil {
		tok, err := g.tokens.Token(ctx, g.tokenName)
		if err != nil {
			return nil, fmt.Errorf("langchain: resolve api key: %w", err)
		}
		token = tok
	}
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(g.baseURL),
		openai.WithModel(g.models[domain.LevelReduced]),
		openai.WithHTTPClient(statusRecorder{client: g.httpClient}),
	)
	if err != nil {
		return nil, fmt.Errorf("langchain: create client: %w", err)
	}
	g.llm = llm
	return llm, nil
}

// Complete sends messages at level. Every failure is a *domain.GenerationError.
func (g *Generator) Complete(ctx context.Context, messages []domain.ChatMessage, level domain.CapabilityLevel) (string, error) {
	model, ok := g.models[level]
	if !ok {
		return "", &domain.GenerationError{Kind: domain.KindUnknown, Level: level, Err: fmt.Errorf("langchain: no model for level %q", level)}
	}
	llm, err := g.resolveLLM(ctx)
	if err != nil {
		return "", &domain.GenerationError{Kind: domain.KindUnknown, Level: level, Err: err}
	}

	status := &statusBox{}
	resp, err := llm.GenerateContent(withStatusBox(ctx, status), toContent(messages), llms.WithModel(model))
	if err != nil {
		return "", &domain.GenerationError{Kind: classify(err, status.code), Level: level, Err: fmt.Errorf("langchain: generate: %w", err)}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &domain.GenerationError{Kind: domain.KindUnknown, Level: level, Err: errors.New("langchain: no choices in response")}
	}
	choice := resp.Choices[0]
	if choice.StopReason == "content_filter" {
		return "", &domain.GenerationError{Kind: domain.KindContentPolicy, Level: level, Err: errors.New("langchain: response blocked by content filter")}
	}
	return strings.TrimSpace(choice.Content), nil
}

func toContent(messages []domain.ChatMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		out = append(out, llms.TextParts(messageType(m.Role), m.Content))
	}
	return out
}

func messageType(r domain.Role) schema.ChatMessageType {
	switch r {
	case domain.RoleSystem:
		return schema.ChatMessageTypeSystem
	case domain.RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}

// classify prefers the HTTP status seen by the transport; langchaingo only
// reports it inside the error text.
func classify(err error, status int) domain.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.KindRateLimited
	case status >= 500:
		return domain.KindTransport
	case status >= 400:
		return domain.KindUnknown
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return domain.KindTransport
	}
	return domain.KindUnknown
}

type statusBoxKey struct{}

// statusBox receives the status code of the last response for one call.
type statusBox struct {
	mu   sync.Mutex
	code int
}

func withStatusBox(ctx context.Context, b *statusBox) context.Context {
	return context.WithValue(ctx, statusBoxKey{}, b)
}

// statusRecorder is the langchaingo HTTP doer. It copies each response status
// into the statusBox carried by the request context.
type statusRecorder struct {
	client *http.Client
}

func (r statusRecorder) Do(req *http.Request) (*http.Response, error) {
	client := r.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if resp != nil {
		if b, ok := req.Context().Value(statusBoxKey{}).(*statusBox); ok {
			b.mu.Lock()
			b.code = resp.StatusCode
			b.mu.Unlock()
		}
	}
	return resp, err
}
