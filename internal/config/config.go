// Package config reads the bot's settings from the environment once at
// startup and resolves secrets, falling back to SSM Parameter Store.
package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"relaybot/internal/integrations/openai"
	"relaybot/internal/integrations/paramstore"
	"relaybot/internal/ratelimit"
	"relaybot/internal/repository"
	"relaybot/internal/validate"
)

const (
	KeyOpenAIModel          = "OPENAI_MODEL"
	KeyOpenAIMaxTokens      = "OPENAI_MAX_TOKENS"
	KeyOpenAITemperature    = "OPENAI_TEMPERATURE"
	KeyOpenAIBaseURL        = "OPENAI_BASE_URL"
	KeyOpenAITimeoutSeconds = "OPENAI_TIMEOUT_SECONDS"
	KeyOpenAIMaxRetries     = "OPENAI_MAX_RETRIES"
	KeyMaxContextLength     = "MAX_CONTEXT_LENGTH"
	KeyRateLimitSeconds     = "RATE_LIMIT_SECONDS"
	KeyMaxRequestsPerMinute = "MAX_REQUESTS_PER_MINUTE"
	KeyMaxMessageLength     = "MAX_MESSAGE_LENGTH"
	KeyCommandPrefix        = "COMMAND_PREFIX"
	KeyParamPrefix          = "PARAM_PREFIX"
	KeyLogLevel             = "LOG_LEVEL"
	KeyLogFormat            = "LOG_FORMAT"

	KeyDiscordToken  = "DISCORD_TOKEN"
	KeyWebhookSecret = "WEBHOOK_SECRET"
	KeyOpenAIAPIKey  = "OPENAI_API_KEY"
)

// ErrMissingSecret is the fatal ConfigError for a required secret that is
// neither in the environment nor in Parameter Store.
var ErrMissingSecret = errors.New("config: missing secret")

// Mode selects which host the process runs, and so which secrets it needs.
type Mode string

const (
	ModeGateway Mode = "serve"
	ModeWebhook Mode = "lambda"
)

type Config struct {
	OpenAIModel          string
	OpenAIMaxTokens      int
	OpenAITemperature    float64
	OpenAIBaseURL        string
	OpenAITimeout        time.Duration
	OpenAIMaxRetries     int
	MaxContextLength     int
	RateLimitInterval    time.Duration
	MaxRequestsPerMinute int
	MaxMessageLength     int
	CommandPrefix        string
	ParamPrefix          string
	LogLevel             string
	LogFormat            string

	DiscordToken  string
	WebhookSecret string
	OpenAIAPIKey  string
}

// SetDefaults registers every recognized key with its default and enables
// environment lookup under the same names.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyOpenAIModel, openai.DefaultModel)
	v.SetDefault(KeyOpenAIMaxTokens, openai.DefaultMaxTokens)
	v.SetDefault(KeyOpenAITemperature, openai.DefaultTemperature)
	v.SetDefault(KeyOpenAIBaseURL, "https://api.openai.com/v1")
	v.SetDefault(KeyOpenAITimeoutSeconds, int(openai.DefaultTimeout/time.Second))
	v.SetDefault(KeyOpenAIMaxRetries, openai.DefaultMaxAttempts)
	v.SetDefault(KeyMaxContextLength, repository.DefaultMaxTurns)
	v.SetDefault(KeyRateLimitSeconds, int(ratelimit.DefaultMinInterval/time.Second))
	v.SetDefault(KeyMaxRequestsPerMinute, ratelimit.DefaultMaxPerWindow)
	v.SetDefault(KeyMaxMessageLength, validate.DefaultMaxLength)
	v.SetDefault(KeyCommandPrefix, "!")
	v.SetDefault(KeyParamPrefix, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.AutomaticEnv()
}

// Load reads and validates every non-secret setting from v. Secrets are
// copied as found; call ResolveSecrets before use.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("config: viper instance must not be nil")
	}
	SetDefaults(v)

	cfg := Config{
		OpenAIModel:   strings.TrimSpace(v.GetString(KeyOpenAIModel)),
		OpenAIBaseURL: strings.TrimSpace(v.GetString(KeyOpenAIBaseURL)),
		CommandPrefix: strings.TrimSpace(v.GetString(KeyCommandPrefix)),
		ParamPrefix:   strings.TrimRight(strings.TrimSpace(v.GetString(KeyParamPrefix)), "/"),
		LogLevel:      strings.TrimSpace(v.GetString(KeyLogLevel)),
		LogFormat:     strings.TrimSpace(v.GetString(KeyLogFormat)),
		DiscordToken:  strings.TrimSpace(v.GetString(KeyDiscordToken)),
		WebhookSecret: strings.TrimSpace(v.GetString(KeyWebhookSecret)),
		OpenAIAPIKey:  strings.TrimSpace(v.GetString(KeyOpenAIAPIKey)),
	}
	if cfg.OpenAIModel == "" {
		return Config{}, fmt.Errorf("config: %s must not be empty", KeyOpenAIModel)
	}
	if cfg.CommandPrefix == "" {
		return Config{}, fmt.Errorf("config: %s must not be empty", KeyCommandPrefix)
	}

	var err error
	if cfg.OpenAIMaxTokens, err = positiveInt(v, KeyOpenAIMaxTokens); err != nil {
		return Config{}, err
	}
	if cfg.OpenAITemperature, err = floatValue(v, KeyOpenAITemperature); err != nil {
		return Config{}, err
	}
	if cfg.OpenAITemperature < 0 || cfg.OpenAITemperature > 2 {
		return Config{}, fmt.Errorf("config: %s must be within [0,2], got %v", KeyOpenAITemperature, cfg.OpenAITemperature)
	}
	timeoutSeconds, err := positiveInt(v, KeyOpenAITimeoutSeconds)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenAITimeout = time.Duration(timeoutSeconds) * time.Second
	if cfg.OpenAIMaxRetries, err = positiveInt(v, KeyOpenAIMaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.MaxContextLength, err = positiveInt(v, KeyMaxContextLength); err != nil {
		return Config{}, err
	}
	rateSeconds, err := integer(v, KeyRateLimitSeconds)
	if err != nil {
		return Config{}, err
	}
	if rateSeconds < 0 {
		return Config{}, fmt.Errorf("config: %s must not be negative, got %d", KeyRateLimitSeconds, rateSeconds)
	}
	cfg.RateLimitInterval = time.Duration(rateSeconds) * time.Second
	if cfg.MaxRequestsPerMinute, err = positiveInt(v, KeyMaxRequestsPerMinute); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessageLength, err = positiveInt(v, KeyMaxMessageLength); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func integer(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid integer %q", key, raw)
	}
	return n, nil
}

func positiveInt(v *viper.Viper, key string) (int, error) {
	n, err := integer(v, key)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %d", key, n)
	}
	return n, nil
}

func floatValue(v *viper.Viper, key string) (float64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid number %q", key, raw)
	}
	return f, nil
}

type secretRef struct {
	key   string
	param string
	dst   *string
}

func (c *Config) required(mode Mode) []secretRef {
	refs := []secretRef{{key: KeyOpenAIAPIKey, param: "/openai-api-key", dst: &c.OpenAIAPIKey}}
	switch mode {
	case ModeGateway:
		refs = append(refs, secretRef{key: KeyDiscordToken, param: "/discord-token", dst: &c.DiscordToken})
	case ModeWebhook:
		refs = append(refs, secretRef{key: KeyWebhookSecret, param: "/webhook-secret", dst: &c.WebhookSecret})
	}
	return refs
}

// ResolveSecrets fills secrets the environment did not provide from
// Parameter Store under ParamPrefix, then checks that every secret mode
// needs is present. getter may be nil when no prefix is configured.
func (c *Config) ResolveSecrets(ctx context.Context, mode Mode, getter paramstore.SecretGetter) error {
	if getter != nil && c.ParamPrefix != "" {
		for _, ref := range c.required(mode) {
			if *ref.dst != "" {
				continue
			}
			val, err := getter.GetSecret(ctx, c.ParamPrefix+ref.param)
			if errors.Is(err, paramstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("config: resolve %s: %w", ref.key, err)
			}
			*ref.dst = val
		}
	}
	return c.Validate(mode)
}

// Validate reports ErrMissingSecret naming every absent secret mode needs.
func (c *Config) Validate(mode Mode) error {
	if mode != ModeGateway && mode != ModeWebhook {
		return fmt.Errorf("config: unknown mode %q", mode)
	}
	var missing []string
	for _, ref := range c.required(mode) {
		if strings.TrimSpace(*ref.dst) == "" {
			missing = append(missing, ref.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSecret, strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{
		MinInterval:  c.RateLimitInterval,
		Window:       ratelimit.DefaultWindow,
		MaxPerWindow: c.MaxRequestsPerMinute,
	}
}

func (c Config) CompletionSettings() openai.Settings {
	return openai.Settings{
		Model:       c.OpenAIModel,
		MaxTokens:   c.OpenAIMaxTokens,
		Temperature: c.OpenAITemperature,
	}
}
