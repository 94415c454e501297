// Package paramstore reads secrets from AWS SSM Parameter Store.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// TokenSource resolves an API token by parameter name. The generation and
// messaging clients depend on this rather than on *Client.
type TokenSource interface {
	Token(ctx context.Context, name string) (string, error)
}

// tokenPayload is the JSON shape stored in SSM for API tokens.
type tokenPayload struct {
	Token string `json:"token"`
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI

	mu     sync.Mutex
	tokens map[string]string
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api, tokens: make(map[string]string)}, nil
}

// GetParameter returns the decrypted value of name.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// Token returns the "token" field of the JSON document stored under name.
// Successful lookups are cached for the lifetime of the Client; failures are
// not, so a transient SSM error is retried on the next call.
func (c *Client) Token(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)

	c.mu.Lock()
	tok, ok := c.tokens[name]
	c.mu.Unlock()
	if ok {
		return tok, nil
	}

	raw, err := c.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal token %q as JSON: %w", name, err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", fmt.Errorf("paramstore: token %q is empty", name)
	}

	c.mu.Lock()
	if c.tokens == nil {
		c.tokens = make(map[string]string)
	}
	c.tokens[name] = tp.Token
	c.mu.Unlock()
	return tp.Token, nil
}

// StaticTokens is a TokenSource backed by a fixed map, used by the admin CLI
// when tokens come from the environment instead of SSM.
type StaticTokens map[string]string

func (s StaticTokens) Token(_ context.Context, name string) (string, error) {
	tok, ok := s[strings.TrimSpace(name)]
	if !ok || tok == "" {
		return "", fmt.Errorf("paramstore: token %q is not set", name)
	}
	return tok, nil
}
