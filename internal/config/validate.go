package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags first, then the fields tags cannot express:
// duration strings, timezones, listen addresses and driver requirements.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"queue.initial_delay", cfg.Queue.InitialDelay},
		{"queue.max_delay", cfg.Queue.MaxDelay},
		{"llm.timeout", cfg.LLM.Timeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"scheduler.topic_pause", cfg.Scheduler.TopicPause},
		{"bot.now_cooldown", cfg.Bot.NowCooldown},
		{"bot.pending_ttl", cfg.Bot.PendingTTL},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := ParseToggleDuration("queue.inter_task_pacing", cfg.Queue.InterTaskPacing, 0); err != nil {
		errs = append(errs, err)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if cfg.Storage.Driver == "sqlite" && strings.TrimSpace(cfg.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path: required for sqlite driver"))
	}
	if addr := strings.TrimSpace(cfg.Health.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("health.addr: %w", err))
		}
	}
	return errors.Join(errs...)
}
