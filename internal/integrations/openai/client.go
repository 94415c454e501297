// Package openai is the generation backend built on the OpenAI chat
// completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/integrations/paramstore"
)

const defaultTimeout = 60 * time.Second

// chatAPI is the subset of *goopenai.Client used here.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// Client completes prompts at a capability level. The augmented level uses a
// search-enabled model; the reduced level a plain chat model.
type Client struct {
	tokens     paramstore.TokenSource
	tokenName  string
	baseURL    string
	httpClient *http.Client
	models     map[domain.CapabilityLevel]string

	mu  sync.Mutex
	api chatAPI
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithModel overrides the model used at level.
func WithModel(level domain.CapabilityLevel, model string) Option {
	return func(c *Client) {
		if model = strings.TrimSpace(model); model != "" {
			c.models[level] = model
		}
	}
}

// NewClient creates a Client whose API key is read through tokens under
// "<paramPrefix>/open-ai-token" on first use.
func NewClient(tokens paramstore.TokenSource, paramPrefix string, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("openai: token source must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		tokens:     tokens,
		tokenName:  paramPrefix + "/open-ai-token",
		httpClient: &http.Client{Timeout: defaultTimeout},
		models: map[domain.CapabilityLevel]string{
			domain.LevelAugmented: "gpt-4o-search-preview",
			domain.LevelReduced:   "gpt-4o",
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the model name used at level.
func (c *Client) Model(level domain.CapabilityLevel) string {
	return c.models[level]
}

// resolveAPI builds the SDK client on first use. A failed key lookup is not
// remembered, so the next call tries SSM again.
func (c *Client) resolveAPI(ctx context.Context) (chatAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}
	key, err := c.tokens.Token(ctx, c.tokenName)
	if err != nil {
		return nil, fmt.Errorf("openai: resolve api key: %w", err)
	}
	cfg := goopenai.DefaultConfig(key)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	c.api = goopenai.NewClientWithConfig(cfg)
	return c.api, nil
}

// Complete sends messages at level and returns the first choice's content.
// Every failure is a *domain.GenerationError.
func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, level domain.CapabilityLevel) (string, error) {
	model, ok := c.models[level]
	if !ok || model == "" {
		return "", &domain.GenerationError{Kind: domain.KindUnknown, Level: level, Err: fmt.Errorf("openai: no model for level %q", level)}
	}
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", &domain.GenerationError{Kind: domain.KindUnknown, Level: level, Err: err}
	}

	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: toSDKMessages(messages),
	}
	resp, err := api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", &domain.GenerationError{Kind: classify(err), Level: level, Err: fmt.Errorf("openai: chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &domain.GenerationError{Kind: domain.KindUnknown, Level: level, Err: errors.New("openai: no choices in response")}
	}
	if resp.Choices[0].FinishReason == goopenai.FinishReasonContentFilter {
		return "", &domain.GenerationError{Kind: domain.KindContentPolicy, Level: level, Err: errors.New("openai: response blocked by content filter")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func toSDKMessages(messages []domain.ChatMessage) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, goopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

var rateLimitCodes = map[string]bool{
	"rate_limit_exceeded":     true,
	"insufficient_quota":      true,
	"context_length_exceeded": true,
	"tokens_exceeded":         true,
}

var contentPolicyCodes = map[string]bool{
	"content_filter":           true,
	"content_policy_violation": true,
}

// classify maps SDK and transport errors onto domain error kinds.
func classify(err error) domain.ErrorKind {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		code := fmt.Sprint(apiErr.Code)
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests, rateLimitCodes[code], rateLimitCodes[apiErr.Type]:
			return domain.KindRateLimited
		case contentPolicyCodes[code], contentPolicyCodes[apiErr.Type]:
			return domain.KindContentPolicy
		case apiErr.HTTPStatusCode >= 500:
			return domain.KindTransport
		}
		return domain.KindUnknown
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.HTTPStatusCode == http.StatusTooManyRequests:
			return domain.KindRateLimited
		case reqErr.HTTPStatusCode >= 500:
			return domain.KindTransport
		}
		return domain.KindUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return domain.KindTransport
	}
	return domain.KindUnknown
}
