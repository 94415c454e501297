// Package handler adapts API Gateway proxy events carrying Telegram webhook
// updates to the chat service.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"relocation-assistant/internal/integrations/telegram"
	"relocation-assistant/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerSecretToken   = "X-Telegram-Bot-Api-Secret-Token"

	errorUnauthorized     = "UNAUTHORIZED"
	errorMethodNotAllowed = "METHOD_NOT_ALLOWED"

	statusProcessed = "ok"
	statusIgnored   = "ignored"
)

type ChatUseCase interface {
	HandleMessage(ctx context.Context, in usecase.Inbound) error
}

type Handler struct {
	uc     ChatUseCase
	secret string
	log    *zap.Logger
}

type Option func(*Handler)

// WithWebhookSecret requires every update to carry secret in the
// X-Telegram-Bot-Api-Secret-Token header.
func WithWebhookSecret(secret string) Option {
	return func(h *Handler) {
		h.secret = secret
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(uc ChatUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, log: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle processes one webhook call. Once an update is authenticated and
// decoded the response is always 200: Telegram redelivers anything else,
// which would answer and charge the same message twice.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With(zap.String("correlation_id", correlationID))

	if req.HTTPMethod != "" && req.HTTPMethod != http.MethodPost {
		return respond(correlationID, http.StatusMethodNotAllowed, errorResponse{Error: errorMethodNotAllowed}), nil
	}
	if h.secret != "" {
		got := header(req.Headers, headerSecretToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			log.Warn("webhook secret mismatch")
			return respond(correlationID, http.StatusUnauthorized, errorResponse{Error: errorUnauthorized}), nil
		}
	}

	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return respond(correlationID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}), nil
		}
		body = string(decoded)
	}
	var update telegram.Update
	if err := json.Unmarshal([]byte(body), &update); err != nil {
		log.Warn("undecodable update", zap.Error(err))
		return respond(correlationID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}), nil
	}

	msg := update.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		log.Debug("ignoring non-text update", zap.Int64("update_id", update.UpdateID))
		return respond(correlationID, http.StatusOK, statusResponse{Status: statusIgnored}), nil
	}

	in := usecase.Inbound{
		ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:           msg.Text,
		QuotedText:     msg.QuotedText(),
	}
	if err := h.uc.HandleMessage(ctx, in); err != nil {
		logUseCaseError(log.With(zap.String("conversation_id", in.ConversationID)), err)
	}
	return respond(correlationID, http.StatusOK, statusResponse{Status: statusProcessed}), nil
}

func logUseCaseError(log *zap.Logger, err error) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		log.Error("unexpected error handling update", zap.Error(err))
		return
	}
	fields := []zap.Field{zap.String("code", string(ucErr.Code)), zap.String("reason", ucErr.Reason), zap.Error(err)}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorQuotaExceeded:
		log.Info("update not answered", fields...)
	default:
		log.Error("update handling failed", fields...)
	}
}

func respond(correlationID string, status int, payload any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(`{"error":"` + string(usecase.ErrorInternal) + `"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":      "application/json",
			headerCorrelationID: correlationID,
		},
		Body: string(body),
	}
}

// header looks up name case-insensitively; API Gateway preserves the
// client's casing.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
