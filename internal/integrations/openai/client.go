package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"relaybot/internal/domain"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 150
	DefaultTemperature = 0.7
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
	DefaultTimeout     = 30 * time.Second

	maxRetryDelay = 8 * time.Second
	maxAttempts   = 10
)

var (
	ErrUpstreamUnavailable = errors.New("openai: upstream unavailable")
	ErrUpstreamRejected    = errors.New("openai: upstream rejected request")

	errEmptyCompletion = errors.New("openai: empty completion")
)

// UpstreamError is the CompletionError returned by Complete. Kind is
// ErrUpstreamUnavailable or ErrUpstreamRejected; StatusCode is the last HTTP
// status seen, or 0 if no response was received.
type UpstreamError struct {
	Kind       error
	StatusCode int
	Attempts   int
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%v after %d attempt(s)", e.Kind, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// HTTPStatusCode reports the last upstream HTTP status.
func (e *UpstreamError) HTTPStatusCode() int {
	return e.StatusCode
}

// Settings are the recognized completion options.
type Settings struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// DefaultSettings returns gpt-4o-mini, 150 tokens, temperature 0.7.
func DefaultSettings() Settings {
	return Settings{Model: DefaultModel, MaxTokens: DefaultMaxTokens, Temperature: DefaultTemperature}
}

// chatAPI is the slice of the go-openai client used here.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// Client sends conversation windows to an OpenAI-compatible chat completions
// endpoint and retries transient failures. It never touches conversation
// history; recording the reply is the caller's job.
type Client struct {
	api         chatAPI
	settings    Settings
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	retryDelay  time.Duration
	timeout     time.Duration
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
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

// WithMaxAttempts bounds the number of calls per completion, retries included.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// WithRetryDelay sets the delay before the first retry; later retries double
// it up to a fixed cap.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithTimeout bounds a whole Complete call, every attempt and backoff
// included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client authenticated with apiKey. Zero settings fields
// take the defaults, except Temperature, where 0 is a legal value.
func NewClient(apiKey string, settings Settings, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	if strings.TrimSpace(settings.Model) == "" {
		settings.Model = DefaultModel
	}
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = DefaultMaxTokens
	}
	if settings.Temperature < 0 || settings.Temperature > 2 {
		return nil, fmt.Errorf("openai: temperature %v out of range [0,2]", settings.Temperature)
	}

	c := &Client{
		settings:    settings,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		timeout:     DefaultTimeout,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.maxAttempts > maxAttempts {
		c.maxAttempts = maxAttempts
	}
	if c.retryDelay < 0 {
		c.retryDelay = 0
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = normalizeBaseURL(c.baseURL)
	cfg.HTTPClient = c.httpClient
	c.api = goopenai.NewClientWithConfig(cfg)
	return c, nil
}

// normalizeBaseURL makes sure the base ends in /v1, the prefix go-openai
// expects in front of /chat/completions.
func normalizeBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// ModelInfo describes the client's effective configuration.
type ModelInfo struct {
	Model       string
	MaxTokens   int
	Temperature float64
	MaxAttempts int
}

func (c *Client) ModelInfo() ModelInfo {
	return ModelInfo{
		Model:       c.settings.Model,
		MaxTokens:   c.settings.MaxTokens,
		Temperature: c.settings.Temperature,
		MaxAttempts: c.maxAttempts,
	}
}

// Complete requests a reply to userTurn given the prior window, oldest turn
// first. Transient failures (no response, 408, 429, 5xx, empty completion)
// are retried with doubling backoff; on exhaustion the error matches
// ErrUpstreamUnavailable. Other 4xx responses fail at once with
// ErrUpstreamRejected. The client timeout wraps the whole retry loop.
func (c *Client) Complete(ctx context.Context, window []domain.Turn, userTurn domain.Turn) (string, error) {
	req := c.buildRequest(window, userTurn)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		lastErr    error
		lastStatus int
		attempts   int
	)
	for attempts < c.maxAttempts {
		attempts++
		text, err := c.attempt(ctx, req)
		if err == nil {
			return text, nil
		}

		status := statusCode(err)
		if !isTransient(status) {
			c.logger.Warn("completion_rejected", "status", status, "attempt", attempts)
			return "", &UpstreamError{Kind: ErrUpstreamRejected, StatusCode: status, Attempts: attempts, Err: err}
		}
		lastErr, lastStatus = err, status

		if ctx.Err() != nil || attempts >= c.maxAttempts {
			break
		}
		delay := backoff(c.retryDelay, attempts)
		c.logger.Info("completion_retry_scheduled", "status", status, "attempt", attempts, "delay", delay.String())
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	c.logger.Warn("completion_unavailable", "status", lastStatus, "attempts", attempts)
	return "", &UpstreamError{Kind: ErrUpstreamUnavailable, StatusCode: lastStatus, Attempts: attempts, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, req goopenai.ChatCompletionRequest) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", errEmptyCompletion)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: blank content", errEmptyCompletion)
	}
	return text, nil
}

func (c *Client) buildRequest(window []domain.Turn, userTurn domain.Turn) goopenai.ChatCompletionRequest {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(window)+1)
	for _, t := range window {
		messages = append(messages, toMessage(t))
	}
	messages = append(messages, toMessage(userTurn))

	return goopenai.ChatCompletionRequest{
		Model:       c.settings.Model,
		Messages:    messages,
		MaxTokens:   c.settings.MaxTokens,
		Temperature: float32(c.settings.Temperature),
	}
}

func toMessage(t domain.Turn) goopenai.ChatCompletionMessage {
	role := goopenai.ChatMessageRoleUser
	if t.Role == domain.RoleAssistant {
		role = goopenai.ChatMessageRoleAssistant
	}
	return goopenai.ChatCompletionMessage{Role: role, Content: t.Content}
}

// statusCode extracts the HTTP status from go-openai errors. RequestError is
// checked first because it may wrap an APIError without a status.
func statusCode(err error) int {
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	return 0
}

func isTransient(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

func backoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
