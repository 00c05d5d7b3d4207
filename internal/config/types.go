package config

// Config is the on-disk configuration. JSON and YAML share the same keys.
//
// All durations are Go duration strings (e.g. "200ms", "1s", "10m").
// Secrets may be left empty in the file and supplied by environment
// variables instead (see ApplyEnv).
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Queue     QueueConfig     `json:"queue"`
	LLM       LLMConfig       `json:"llm"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Health    HealthConfig    `json:"health"`
	Bot       BotConfig       `json:"bot"`
}

type TelegramConfig struct {
	Token        string  `json:"token" validate:"required"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// LogChatID receives forwarded log lines when logging.telegram is enabled.
	LogChatID   int64  `json:"log_chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level" validate:"omitempty,oneof=debug info warn error"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// QueueConfig is the retry and pacing policy of the LLM call queue.
//
// Defaults (when fields are omitted/zero):
//   - max_retries: 5
//   - initial_delay: "1s"
//   - max_delay: "60s"
//   - backoff_factor: 2
//   - inter_task_pacing: "200ms" (use "off" to disable)
//   - throttled_status_code: 429
//   - history_size: 100
type QueueConfig struct {
	MaxRetries          int     `json:"max_retries,omitempty" validate:"gte=0,lte=50"`
	InitialDelay        string  `json:"initial_delay,omitempty"`
	MaxDelay            string  `json:"max_delay,omitempty"`
	BackoffFactor       float64 `json:"backoff_factor,omitempty" validate:"omitempty,gte=1"`
	InterTaskPacing     string  `json:"inter_task_pacing,omitempty"`
	ThrottledStatusCode int     `json:"throttled_status_code,omitempty" validate:"omitempty,gte=100,lt=600"`
	HistorySize         int     `json:"history_size,omitempty" validate:"gte=0"`
}

// LLMConfig selects the text generation backend.
//
// Example:
//
//	"llm": { "provider": "openai", "model": "gpt-3.5-turbo", "temperature": 0.7 }
type LLMConfig struct {
	Provider     string   `json:"provider,omitempty" validate:"omitempty,oneof=openai gemini"`
	APIKey       string   `json:"api_key,omitempty"`
	Model        string   `json:"model,omitempty"`
	BaseURL      string   `json:"base_url,omitempty" validate:"omitempty,url"`
	Temperature  *float32 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens    int      `json:"max_tokens,omitempty" validate:"gte=0"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	// Timeout bounds a single call, retries excluded.
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls persistence of user settings and deliveries.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pulsebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=memory sqlite"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// DigestSpec is how often due users are checked. Default "* * * * *".
	DigestSpec string `json:"digest_spec,omitempty"`
	// TopicPause is the wait between topics of one digest. Default "1s".
	TopicPause string `json:"topic_pause,omitempty"`
}

type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

type BotConfig struct {
	// NowCooldown suppresses repeated /now within the window. Default "60s".
	NowCooldown string `json:"now_cooldown,omitempty"`
	// PendingTTL is how long a settings prompt waits for a reply. Default "10m".
	PendingTTL  string `json:"pending_ttl,omitempty"`
	SessionSize int    `json:"session_size,omitempty" validate:"gte=0"`
}
