package config

import (
	"reflect"
	"sort"

	logx "pulsebot/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ and returns log
// fields describing the new values. Secrets (bot token, API key) are
// reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Queue != newCfg.Queue {
		q := newCfg.Queue
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.Int("queue.max_retries", q.MaxRetries),
			logx.String("queue.initial_delay", q.InitialDelay),
			logx.String("queue.max_delay", q.MaxDelay),
			logx.Float64("queue.backoff_factor", q.BackoffFactor),
			logx.String("queue.inter_task_pacing", q.InterTaskPacing),
		)
	}

	o, n := oldCfg.LLM, newCfg.LLM
	keyChanged := o.APIKey != n.APIKey
	o.APIKey, n.APIKey = "", ""
	if keyChanged || !reflect.DeepEqual(o, n) {
		changed = append(changed, "llm")
		attrs = append(attrs,
			logx.String("llm.provider", n.Provider),
			logx.String("llm.model", n.Model),
			logx.Bool("llm.api_key_changed", keyChanged),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}
	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
		attrs = append(attrs, logx.Bool("health.enabled", newCfg.Health.Enabled), logx.String("health.addr", newCfg.Health.Addr))
	}
	if oldCfg.Bot != newCfg.Bot {
		changed = append(changed, "bot")
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections that only take effect after a restart.
// Logging and queue policy are applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "logging", "queue":
		default:
			out = append(out, s)
		}
	}
	return out
}
