package config

import (
	"os"
	"strings"
)

const (
	EnvBotToken  = "BOT_TOKEN"
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvGeminiKey = "GEMINI_API_KEY"
	EnvDBPath    = "PULSEBOT_DB_PATH"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays secrets and deployment paths from the environment.
// Non-empty variables win over file values. The LLM key is taken from the
// variable that matches the configured provider.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) string {
		v, ok := lookup(k)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	if v := get(EnvBotToken); v != "" {
		cfg.Telegram.Token = v
	}

	key := EnvOpenAIKey
	if strings.EqualFold(strings.TrimSpace(cfg.LLM.Provider), "gemini") {
		key = EnvGeminiKey
	}
	if v := get(key); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := get(EnvDBPath); v != "" {
		cfg.Storage.Path = v
		if strings.TrimSpace(cfg.Storage.Driver) == "" {
			cfg.Storage.Driver = "sqlite"
		}
	}
}
