// Package handler hosts the relay dispatcher behind an API Gateway webhook.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"relaybot/internal/domain"
	"relaybot/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"

	errorUnauthorized     = "UNAUTHORIZED"
	errorNotFound         = "NOT_FOUND"
	errorMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type Dispatcher interface {
	OnMessage(ctx context.Context, user domain.UserID, raw string, now time.Time) (string, error)
	OnCommand(ctx context.Context, user domain.UserID, name string) (string, error)
	Reply(err error) string
}

type Handler struct {
	dispatcher Dispatcher
	secret     []byte
	logger     *slog.Logger
	now        func() time.Time
}

type messageRequest struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

type commandRequest struct {
	UserID  string `json:"userId"`
	Command string `json:"command"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
	Reply string `json:"reply,omitempty"`
}

func NewHandler(d Dispatcher, secret string, logger *slog.Logger) (*Handler, error) {
	if d == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("handler: webhook secret must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{dispatcher: d, secret: []byte(secret), logger: logger, now: time.Now}, nil
}

// Handle serves POST /message and POST /command. Panics are recovered and
// reported as 500 so one bad request cannot take down the function.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
	corrID := header(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", corrID, "path", req.Path)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("webhook_panic", "err", usecase.PanicError(r))
			resp, err = h.errorResponse(corrID, http.StatusInternalServerError, string(usecase.ErrorInternal), ""), nil
		}
	}()

	if !h.authorized(req.Headers) {
		logger.Warn("webhook_unauthorized")
		return h.errorResponse(corrID, http.StatusUnauthorized, errorUnauthorized, ""), nil
	}
	if req.HTTPMethod != http.MethodPost {
		return h.errorResponse(corrID, http.StatusMethodNotAllowed, errorMethodNotAllowed, ""), nil
	}

	body, err := requestBody(req)
	if err != nil {
		return h.errorResponse(corrID, http.StatusBadRequest, string(usecase.ErrorValidation), ""), nil
	}

	var (
		reply   string
		callErr error
	)
	switch path := strings.TrimRight(req.Path, "/"); {
	case strings.HasSuffix(path, "/message"):
		var in messageRequest
		if err := json.Unmarshal(body, &in); err != nil {
			return h.errorResponse(corrID, http.StatusBadRequest, string(usecase.ErrorValidation), ""), nil
		}
		reply, callErr = h.dispatcher.OnMessage(ctx, domain.UserID(strings.TrimSpace(in.UserID)), in.Text, h.now())
	case strings.HasSuffix(path, "/command"):
		var in commandRequest
		if err := json.Unmarshal(body, &in); err != nil {
			return h.errorResponse(corrID, http.StatusBadRequest, string(usecase.ErrorValidation), ""), nil
		}
		reply, callErr = h.dispatcher.OnCommand(ctx, domain.UserID(strings.TrimSpace(in.UserID)), in.Command)
	default:
		return h.errorResponse(corrID, http.StatusNotFound, errorNotFound, ""), nil
	}

	if callErr != nil {
		code := usecase.Code(callErr)
		status := statusFor(code)
		logger.Info("webhook_rejected", "code", string(code), "status", status, "err", callErr)
		out := h.errorResponse(corrID, status, string(code), h.dispatcher.Reply(callErr))
		if d, ok := usecase.RetryAfter(callErr); ok && status == http.StatusTooManyRequests {
			out.Headers["Retry-After"] = strconv.Itoa(int(math.Max(1, math.Ceil(d.Seconds()))))
		}
		return out, nil
	}

	return h.jsonResponse(corrID, http.StatusOK, replyResponse{Reply: reply}), nil
}

func (h *Handler) authorized(headers map[string]string) bool {
	got, ok := strings.CutPrefix(header(headers, "Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), h.secret) == 1
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorValidation, usecase.ErrorUnknownCommand:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case usecase.ErrorUpstreamRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

// header looks a header up case-insensitively; API Gateway does not
// normalize names.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (h *Handler) errorResponse(corrID string, status int, code, reply string) events.APIGatewayProxyResponse {
	return h.jsonResponse(corrID, status, errorResponse{Error: code, Reply: reply})
}

func (h *Handler) jsonResponse(corrID string, status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}
