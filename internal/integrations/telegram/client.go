// Package telegram is a small Bot API client: sending messages and chat
// actions, plus the webhook update types.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"relocation-assistant/internal/integrations/paramstore"
)

// MaxMessageRunes is the Bot API limit for one message text.
const MaxMessageRunes = 4096

const defaultBaseURL = "https://api.telegram.org"

// APIError captures an unsuccessful Bot API response.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed with status %d: %s", e.Method, e.StatusCode, e.Description)
}

func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the Bot API with a token resolved from the parameter store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     paramstore.TokenSource
	tokenName  string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client reading the bot token from
// "<paramPrefix>/telegram-token".
func NewClient(tokens paramstore.TokenSource, paramPrefix string, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("telegram: token source must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("telegram: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
		tokenName:  paramPrefix + "/telegram-token",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendMessage delivers text to chatID, split into chunks the API accepts.
// parseMode is ParseModeNone or ParseModeHTML.
func (c *Client) SendMessage(ctx context.Context, chatID, text, parseMode string) error {
	chunks := SplitMessage(text, MaxMessageRunes)
	if parseMode == ParseModeHTML {
		chunks = SplitHTML(text, MaxMessageRunes)
	}
	for _, chunk := range chunks {
		err := c.call(ctx, "sendMessage", sendMessageRequest{
			ChatID:                chatIDValue(chatID),
			Text:                  chunk,
			ParseMode:             parseMode,
			DisableWebPagePreview: true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SendChatAction shows a status such as ChatActionTyping in chatID.
func (c *Client) SendChatAction(ctx context.Context, chatID, action string) error {
	return c.call(ctx, "sendChatAction", sendChatActionRequest{ChatID: chatIDValue(chatID), Action: action})
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	token, err := c.tokens.Token(ctx, c.tokenName)
	if err != nil {
		return fmt.Errorf("telegram: resolve bot token: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	url := c.baseURL + "/bot" + token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		// The URL embeds the token; never let it reach logs.
		return fmt.Errorf("telegram: %s: %w", method, redact(err, token))
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil || !out.OK || res.StatusCode != http.StatusOK {
		apiErr := &APIError{Method: method, StatusCode: res.StatusCode, Description: out.Description}
		if apiErr.Description == "" {
			apiErr.Description = strings.TrimSpace(string(raw))
		}
		if out.Parameters != nil {
			apiErr.RetryAfter = out.Parameters.RetryAfter
		}
		return apiErr
	}
	return nil
}

func chatIDValue(chatID string) any {
	if n, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return n
	}
	return chatID
}

func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

// SplitMessage cuts text into pieces of at most limit runes, preferring to
// break after a blank line, then after a newline, then at a space.
func SplitMessage(text string, limit int) []string {
	return split(text, limit, false)
}

// SplitHTML is SplitMessage for HTML parse mode. A cut never falls inside a
// tag or an entity, and a <b> element open at a cut is closed at the end of
// its chunk and reopened at the start of the next.
func SplitHTML(text string, limit int) []string {
	return split(text, limit, true)
}

const (
	boldOpen  = "<b>"
	boldClose = "</b>"
	// maxEntityLen covers the named and numeric entities EscapeHTML emits.
	maxEntityLen = 10
)

func split(text string, limit int, html bool) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	window, minCut := limit, 0
	if html && limit > 4*len(boldOpen+boldClose) {
		window = limit - len(boldOpen+boldClose)
		minCut = len(boldOpen)
	}

	var chunks []string
	rest := text
	for utf8.RuneCountInString(rest) > limit {
		cut := byteOffset(rest, window)
		at := -1
		for _, sep := range []string{"\n\n", "\n", " "} {
			if i := strings.LastIndex(rest[:cut], sep); i > minCut {
				at = i + len(sep)
				break
			}
		}
		if at <= 0 {
			at = cut
		}
		if html {
			at = markupSafeCut(rest, at)
		}

		chunk, next := rest[:at], rest[at:]
		if html && boldOpenAtEnd(chunk) && strings.HasPrefix(next, boldClose) {
			chunk, next = chunk+boldClose, next[len(boldClose):]
		}
		if html && boldOpenAtEnd(chunk) {
			chunk = strings.TrimSpace(chunk) + boldClose
			next = boldOpen + next
		}
		if chunk = strings.TrimSpace(chunk); chunk != "" && chunk != boldOpen+boldClose {
			chunks = append(chunks, chunk)
		}
		rest = next
	}
	if tail := strings.TrimSpace(rest); tail != "" {
		chunks = append(chunks, tail)
	}
	return chunks
}

// markupSafeCut moves at back to the start of a tag or entity it would
// split. The cut never moves into a leading <b>, so every chunk makes
// progress even after the tag is reopened.
func markupSafeCut(s string, at int) int {
	head := s[:at]
	if i := strings.LastIndexByte(head, '<'); i > len(boldOpen) && !strings.Contains(head[i:], ">") {
		at = i
		head = s[:at]
	}
	if i := strings.LastIndexByte(head, '&'); i > len(boldOpen) && at-i < maxEntityLen && !strings.Contains(head[i:], ";") {
		at = i
	}
	if strings.HasSuffix(s[:at], boldOpen) && at-len(boldOpen) > len(boldOpen) {
		at -= len(boldOpen)
	}
	return at
}

func boldOpenAtEnd(chunk string) bool {
	return strings.LastIndex(chunk, boldOpen) > strings.LastIndex(chunk, boldClose)
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
