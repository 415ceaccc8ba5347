// Package discord connects the relay dispatcher to the Discord gateway.
package discord

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"relaybot/internal/domain"
	"relaybot/internal/usecase"
)

const (
	// MaxMessageLength is Discord's per-message character limit.
	MaxMessageLength = 2000

	defaultEventTimeout   = 2 * time.Minute
	defaultTypingInterval = 8 * time.Second
)

// Dispatcher is the slice of usecase.RelayService the bot drives.
type Dispatcher interface {
	OnMessage(ctx context.Context, user domain.UserID, raw string, now time.Time) (string, error)
	OnCommand(ctx context.Context, user domain.UserID, name string) (string, error)
	Reply(err error) string
	CommandPrefix() string
}

// session is the slice of *discordgo.Session used to answer a message.
type session interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

type Bot struct {
	dispatcher     Dispatcher
	logger         *slog.Logger
	now            func() time.Time
	eventTimeout   time.Duration
	typingInterval time.Duration
}

type Option func(*Bot)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bot) {
		b.logger = logger
	}
}

// WithEventTimeout bounds the handling of a single message.
func WithEventTimeout(d time.Duration) Option {
	return func(b *Bot) {
		b.eventTimeout = d
	}
}

func New(d Dispatcher, opts ...Option) (*Bot, error) {
	if d == nil {
		return nil, errors.New("discord: dispatcher must not be nil")
	}
	b := &Bot{
		dispatcher:     d,
		now:            time.Now,
		eventTimeout:   defaultEventTimeout,
		typingInterval: defaultTypingInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.eventTimeout <= 0 {
		b.eventTimeout = defaultEventTimeout
	}
	return b, nil
}

// Run connects to the gateway with token and serves messages until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context, token string) error {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("discord_ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	s.AddHandler(b.messageHandler(ctx))

	if err := s.Open(); err != nil {
		return err
	}
	b.logger.Info("discord_connected")

	<-ctx.Done()
	b.logger.Info("discord_disconnecting")
	return s.Close()
}

func (b *Bot) messageHandler(ctx context.Context) func(*discordgo.Session, *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m == nil || m.Message == nil {
			return
		}
		selfID := ""
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		b.handle(ctx, s, selfID, m.Message)
	}
}

// handle answers one message. It never panics: a failure while handling one
// user's message is logged and answered with a generic reply.
func (b *Bot) handle(ctx context.Context, api session, selfID string, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == selfID {
		return
	}

	eventID := uuid.NewString()
	logger := b.logger.With("event_id", eventID, "user", m.Author.ID, "channel", m.ChannelID)

	defer func() {
		if r := recover(); r != nil {
			perr := usecase.PanicError(r)
			logger.Error("discord_event_panic", "err", perr)
			b.send(logger, api, m.ChannelID, b.dispatcher.Reply(perr))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, b.eventTimeout)
	defer cancel()

	user := domain.UserID(m.Author.ID)

	var (
		reply string
		err   error
	)
	if name, ok := usecase.ParseCommand(m.Content, b.dispatcher.CommandPrefix()); ok {
		reply, err = b.dispatcher.OnCommand(ctx, user, name)
	} else {
		stop := b.startTyping(ctx, logger, api, m.ChannelID)
		reply, err = b.dispatcher.OnMessage(ctx, user, m.Content, b.now())
		stop()
	}
	if err != nil {
		logger.Info("discord_event_rejected", "code", string(usecase.Code(err)), "err", err)
		reply = b.dispatcher.Reply(err)
	}
	b.send(logger, api, m.ChannelID, reply)
}

func (b *Bot) send(logger *slog.Logger, api session, channelID, text string) {
	for _, chunk := range splitMessage(text, MaxMessageLength) {
		if _, err := api.ChannelMessageSend(channelID, chunk); err != nil {
			logger.Warn("discord_send_failed", "err", err)
			return
		}
	}
}

// startTyping shows the typing indicator until the returned stop func is
// called. Discord clears the indicator after about ten seconds, so it is
// refreshed on an interval.
func (b *Bot) startTyping(ctx context.Context, logger *slog.Logger, api session, channelID string) func() {
	typing := func() {
		if err := api.ChannelTyping(channelID); err != nil {
			logger.Debug("discord_typing_failed", "err", err)
		}
	}
	typing()
	if b.typingInterval <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(b.typingInterval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				typing()
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}

// splitMessage cuts text into chunks of at most limit runes, preferring to
// break after a newline in the second half of a chunk.
func splitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
