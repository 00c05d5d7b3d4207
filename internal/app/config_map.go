package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pulsebot/internal/bot"
	"pulsebot/internal/config"
	"pulsebot/internal/generation"
	"pulsebot/internal/health"
	"pulsebot/internal/platform/gemini"
	"pulsebot/internal/platform/openai"
	"pulsebot/internal/storage"
	"pulsebot/internal/task/queue"
	"pulsebot/internal/task/scheduler"
	logx "pulsebot/pkg/logx"
)

const (
	defaultDigestSpec  = "* * * * *"
	defaultLLMTimeout  = 2 * time.Minute
	defaultPollTimeout = 10 * time.Second
	defaultDBPath      = "./data/pulsebot.db"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Ops: logx.OpsConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChatID != 0,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapQueueConfig(cfg *config.Config) (queue.Config, error) {
	qc := cfg.Queue
	initial, err := config.ParseDurationField("queue.initial_delay", qc.InitialDelay)
	if err != nil {
		return queue.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("queue.max_delay", qc.MaxDelay)
	if err != nil {
		return queue.Config{}, err
	}
	pacing, err := config.ParseToggleDuration("queue.inter_task_pacing", qc.InterTaskPacing, queue.DefaultPacing)
	if err != nil {
		return queue.Config{}, err
	}
	return queue.Config{
		MaxRetries:      qc.MaxRetries,
		InitialDelay:    initial,
		MaxDelay:        maxDelay,
		BackoffFactor:   qc.BackoffFactor,
		Pacing:          pacing,
		ThrottledStatus: qc.ThrottledStatusCode,
		HistorySize:     qc.HistorySize,
	}, nil
}

// mapStorageConfig picks the driver. A path without a driver means sqlite.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if driver == "" {
		if path == "" {
			return storage.Config{Driver: "memory"}, nil
		}
		driver = "sqlite"
	}
	if driver == "memory" {
		return storage.Config{Driver: driver}, nil
	}
	if path == "" {
		path = defaultDBPath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

func digestSpec(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Scheduler.DigestSpec); s != "" {
		return s
	}
	return defaultDigestSpec
}

func mapBotConfig(cfg *config.Config) (bot.Config, error) {
	cooldown, err := config.ParseDurationOrDefault("bot.now_cooldown", cfg.Bot.NowCooldown, bot.DefaultNowCooldown)
	if err != nil {
		return bot.Config{}, err
	}
	ttl, err := config.ParseDurationOrDefault("bot.pending_ttl", cfg.Bot.PendingTTL, bot.DefaultPendingTTL)
	if err != nil {
		return bot.Config{}, err
	}
	return bot.Config{NowCooldown: cooldown, PendingTTL: ttl, SessionSize: cfg.Bot.SessionSize}, nil
}

func mapHealthConfig(cfg *config.Config) health.Config {
	return health.Config{Enabled: cfg.Health.Enabled, Addr: cfg.Health.Addr}
}

// newGenerator builds the configured LLM backend.
func newGenerator(ctx context.Context, cfg *config.Config, log logx.Logger) (generation.Generator, error) {
	lc := cfg.LLM
	switch strings.ToLower(strings.TrimSpace(lc.Provider)) {
	case "", "openai":
		return openai.New(openai.Config{
			APIKey:       lc.APIKey,
			Model:        lc.Model,
			BaseURL:      lc.BaseURL,
			SystemPrompt: lc.SystemPrompt,
			Temperature:  lc.Temperature,
			MaxTokens:    lc.MaxTokens,
		}, log), nil
	case "gemini":
		return gemini.New(ctx, gemini.Config{
			APIKey:       lc.APIKey,
			Model:        lc.Model,
			BaseURL:      lc.BaseURL,
			SystemPrompt: lc.SystemPrompt,
			Temperature:  lc.Temperature,
			MaxTokens:    lc.MaxTokens,
		}, log)
	default:
		return nil, fmt.Errorf("%w: unknown llm.provider %q", generation.ErrInvalidConfig, lc.Provider)
	}
}

// validateReload rejects configs the live components could not apply.
func validateReload(_ context.Context, cfg *config.Config) error {
	if _, err := mapQueueConfig(cfg); err != nil {
		return err
	}
	if err := scheduler.ValidateSchedule(digestSpec(cfg)); err != nil {
		return fmt.Errorf("scheduler.digest_spec: %w", err)
	}
	if _, err := mapBotConfig(cfg); err != nil {
		return err
	}
	_, err := mapStorageConfig(cfg)
	return err
}
