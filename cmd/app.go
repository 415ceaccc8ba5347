package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/viper"

	"relaybot/internal/config"
	"relaybot/internal/integrations/openai"
	"relaybot/internal/integrations/paramstore"
	"relaybot/internal/logutil"
	"relaybot/internal/ratelimit"
	"relaybot/internal/repository"
	"relaybot/internal/usecase"
	"relaybot/internal/validate"
)

// app holds the wired components shared by both hosts.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	limiter *ratelimit.Limiter
	history *repository.HistoryStore
	relay   *usecase.RelayService
}

// bootstrap reads configuration once and wires the dispatcher. Any error
// here is fatal: the process must not serve with incomplete configuration.
func bootstrap(ctx context.Context, v *viper.Viper, mode config.Mode) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	logger, err := logutil.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	var secrets paramstore.SecretGetter
	if cfg.ParamPrefix != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("create SSM client: %w", err)
		}
		secrets = ps
	}
	if err := cfg.ResolveSecrets(ctx, mode, secrets); err != nil {
		return nil, err
	}

	llm, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.CompletionSettings(),
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithTimeout(cfg.OpenAITimeout),
		openai.WithMaxAttempts(cfg.OpenAIMaxRetries),
		openai.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create completion client: %w", err)
	}
	info := llm.ModelInfo()
	logger.Info("completion_client_ready",
		"model", info.Model,
		"max_tokens", info.MaxTokens,
		"temperature", info.Temperature,
		"max_attempts", info.MaxAttempts,
	)

	limiter := ratelimit.New(cfg.RateLimit())
	history := repository.NewHistoryStore(cfg.MaxContextLength)

	relay, err := usecase.NewRelayService(validate.New(cfg.MaxMessageLength), limiter, history, llm,
		usecase.WithLogger(logger),
		usecase.WithCommandPrefix(cfg.CommandPrefix),
		usecase.WithRateLimitHint(cfg.RateLimitInterval, cfg.MaxRequestsPerMinute),
	)
	if err != nil {
		return nil, fmt.Errorf("create relay service: %w", err)
	}

	return &app{cfg: cfg, logger: logger, limiter: limiter, history: history, relay: relay}, nil
}

func (a *app) logStats() {
	rl := a.limiter.Stats()
	hs := a.history.Stats()
	a.logger.Info("relay_stats",
		"rate_active_users", rl.ActiveUsers,
		"rate_max_per_window", rl.MaxPerWindow,
		"history_users", hs.Users,
		"history_turns", hs.Turns,
	)
}
