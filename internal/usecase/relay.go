package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/integrations/openai"
	"relaybot/internal/ratelimit"
	"relaybot/internal/validate"
)

type InputValidator interface {
	Validate(raw string) (string, error)
}

type RateLimiter interface {
	Check(user domain.UserID, now time.Time) error
}

type ContextStore interface {
	Append(user domain.UserID, turns ...domain.Turn)
	Window(user domain.UserID) []domain.Turn
	Clear(user domain.UserID)
}

type Completer interface {
	Complete(ctx context.Context, window []domain.Turn, userTurn domain.Turn) (string, error)
}

// RelayService is the event dispatcher core. It is safe for concurrent use
// as long as its collaborators are; per-user atomicity lives in the limiter
// and the store, and no lock is held across the completion call.
type RelayService struct {
	validator InputValidator
	limiter   RateLimiter
	history   ContextStore
	llm       Completer
	logger    *slog.Logger

	commandPrefix string
	minInterval   time.Duration
	perMinute     int
}

type Option func(*RelayService)

func WithLogger(logger *slog.Logger) Option {
	return func(s *RelayService) {
		s.logger = logger
	}
}

func WithCommandPrefix(prefix string) Option {
	return func(s *RelayService) {
		s.commandPrefix = prefix
	}
}

// WithRateLimitHint sets the limits quoted by the help command.
func WithRateLimitHint(minInterval time.Duration, perMinute int) Option {
	return func(s *RelayService) {
		s.minInterval = minInterval
		s.perMinute = perMinute
	}
}

func NewRelayService(v InputValidator, l RateLimiter, h ContextStore, llm Completer, opts ...Option) (*RelayService, error) {
	if v == nil {
		return nil, errors.New("usecase: validator must not be nil")
	}
	if l == nil {
		return nil, errors.New("usecase: rate limiter must not be nil")
	}
	if h == nil {
		return nil, errors.New("usecase: context store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: completion client must not be nil")
	}
	s := &RelayService{
		validator:     v,
		limiter:       l,
		history:       h,
		llm:           llm,
		commandPrefix: "!",
		minInterval:   ratelimit.DefaultMinInterval,
		perMinute:     ratelimit.DefaultMaxPerWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// CommandPrefix is the prefix that routes a message to OnCommand.
func (s *RelayService) CommandPrefix() string {
	return s.commandPrefix
}

// OnMessage runs one chat message through validation, rate limiting and the
// completion call, and returns the reply. Both turns are appended to the
// sender's history only after the completion succeeds, so every failure
// leaves the history untouched.
func (s *RelayService) OnMessage(ctx context.Context, user domain.UserID, raw string, now time.Time) (string, error) {
	if !user.Valid() {
		return "", newError(ErrorValidation, reasonInvalidUser, nil)
	}

	text, err := s.validator.Validate(raw)
	if err != nil {
		ue := validationError(err)
		s.logger.Debug("message_rejected", "user", user.String(), "reason", ue.Reason)
		return "", ue
	}

	if err := s.limiter.Check(user, now); err != nil {
		ue := rateLimitError(err)
		s.logger.Debug("message_rejected", "user", user.String(), "reason", ue.Reason)
		return "", ue
	}

	window := s.history.Window(user)
	userTurn := domain.UserTurn(text)

	reply, err := s.llm.Complete(ctx, window, userTurn)
	if err != nil {
		ue := completionError(err)
		if ue.Code == ErrorUpstreamRejected {
			s.logger.Warn("completion_failed", "user", user.String(), "reason", ue.Reason, "status", upstreamStatus(err))
		} else {
			s.logger.Info("completion_failed", "user", user.String(), "reason", ue.Reason, "status", upstreamStatus(err))
		}
		return "", ue
	}

	s.history.Append(user, userTurn, domain.AssistantTurn(reply))
	s.logger.Debug("message_relayed", "user", user.String(), "window_turns", len(window))
	return reply, nil
}

// OnCommand handles ping, clear and help. Names are matched
// case-insensitively.
func (s *RelayService) OnCommand(_ context.Context, user domain.UserID, name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ping":
		return replyPong, nil
	case "clear":
		if !user.Valid() {
			return "", newError(ErrorValidation, reasonInvalidUser, nil)
		}
		s.history.Clear(user)
		s.logger.Debug("history_cleared", "user", user.String())
		return replyCleared, nil
	case "help":
		return helpText(s.commandPrefix, s.minInterval, s.perMinute), nil
	default:
		return "", newError(ErrorUnknownCommand, reasonUnknownCommand, nil)
	}
}

// Reply renders err for the sender using this service's command prefix.
func (s *RelayService) Reply(err error) string {
	return ReplyText(err, s.commandPrefix)
}

func validationError(err error) *Error {
	switch {
	case errors.Is(err, validate.ErrEmptyInput):
		return newError(ErrorValidation, reasonEmptyInput, err)
	case errors.Is(err, validate.ErrTooLong):
		return newError(ErrorValidation, reasonTooLong, err)
	default:
		return newError(ErrorValidation, reasonUnsafeContent, err)
	}
}

func rateLimitError(err error) *Error {
	if errors.Is(err, ratelimit.ErrWindowExceeded) {
		return newError(ErrorRateLimited, reasonWindowExceeded, err)
	}
	return newError(ErrorRateLimited, reasonTooFrequent, err)
}

func completionError(err error) *Error {
	switch {
	case errors.Is(err, openai.ErrUpstreamRejected):
		return newError(ErrorUpstreamRejected, reasonRejected, err)
	case errors.Is(err, openai.ErrUpstreamUnavailable):
		return newError(ErrorUpstreamUnavailable, reasonUnavailable, err)
	default:
		return newError(ErrorInternal, reasonCompletion, err)
	}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatus(err error) int {
	var sc httpStatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}
