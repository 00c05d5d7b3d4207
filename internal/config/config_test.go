package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDecodeJSONAndYAMLAgree(t *testing.T) {
	t.Parallel()
	j := `{"telegram":{"token":"t"},"queue":{"max_retries":3,"initial_delay":"100ms"},"llm":{"provider":"gemini"}}`
	y := "telegram:\n  token: t\nqueue:\n  max_retries: 3\n  initial_delay: 100ms\nllm:\n  provider: gemini\n"

	a, err := Decode("c.json", []byte(j))
	if err != nil {
		t.Fatalf("Decode(json) error: %v", err)
	}
	b, err := Decode("c.yaml", []byte(y))
	if err != nil {
		t.Fatalf("Decode(yaml) error: %v", err)
	}
	if hashConfig(a) != hashConfig(b) {
		t.Fatalf("json %+v != yaml %+v", a, b)
	}
	if a.Queue.MaxRetries != 3 || a.Queue.InitialDelay != "100ms" {
		t.Fatalf("Queue = %+v", a.Queue)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, path, body string
	}{
		{"unknown json key", "c.json", `{"telegram":{"token":"t"},"pprof":{}}`},
		{"unknown yaml key", "c.yml", "queue:\n  retries: 3\n"},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "queue: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := &Config{Telegram: TelegramConfig{Token: "file"}, LLM: LLMConfig{APIKey: "file-key"}}
	ApplyEnv(cfg, env(map[string]string{
		EnvBotToken:  "env-token",
		EnvOpenAIKey: "sk-env",
		EnvGeminiKey: "gem",
		EnvDBPath:    "/tmp/p.db",
	}))
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("Token = %q", cfg.Telegram.Token)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Fatalf("APIKey = %q, want openai key", cfg.LLM.APIKey)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/tmp/p.db" {
		t.Fatalf("Storage = %+v", cfg.Storage)
	}

	g := &Config{LLM: LLMConfig{Provider: "gemini"}}
	ApplyEnv(g, env(map[string]string{EnvOpenAIKey: "sk-x", EnvGeminiKey: "gem"}))
	if g.LLM.APIKey != "gem" {
		t.Fatalf("gemini APIKey = %q", g.LLM.APIKey)
	}

	keep := &Config{Telegram: TelegramConfig{Token: "file"}}
	ApplyEnv(keep, env(map[string]string{EnvBotToken: "  "}))
	if keep.Telegram.Token != "file" {
		t.Fatalf("blank env overwrote token: %q", keep.Telegram.Token)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	ok := func() *Config {
		return &Config{Telegram: TelegramConfig{Token: "t"}}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "minimal"},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: "Token"},
		{name: "bad provider", mutate: func(c *Config) { c.LLM.Provider = "llama" }, wantErr: "Provider"},
		{name: "bad duration", mutate: func(c *Config) { c.Queue.MaxDelay = "soon" }, wantErr: "queue.max_delay"},
		{name: "negative duration", mutate: func(c *Config) { c.Bot.PendingTTL = "-1m" }, wantErr: "bot.pending_ttl"},
		{name: "pacing off", mutate: func(c *Config) { c.Queue.InterTaskPacing = "off" }},
		{name: "backoff below one", mutate: func(c *Config) { c.Queue.BackoffFactor = 0.5 }, wantErr: "BackoffFactor"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: "scheduler.timezone"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }, wantErr: "storage.path"},
		{name: "bad health addr", mutate: func(c *Config) { c.Health.Addr = "3000" }, wantErr: "health.addr"},
		{name: "good health addr", mutate: func(c *Config) { c.Health.Addr = ":3000" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := ok()
			if tt.mutate != nil {
				tt.mutate(c)
			}
			err := Validate(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseToggleDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 200 * time.Millisecond},
		{"off", -1},
		{"0s", -1},
		{"50ms", 50 * time.Millisecond},
	}
	for _, tt := range tests {
		got, err := ParseToggleDuration("p", tt.raw, 200*time.Millisecond)
		if err != nil || got != tt.want {
			t.Fatalf("ParseToggleDuration(%q) = %v, %v, want %v", tt.raw, got, err, tt.want)
		}
	}
}

func TestManagerLoadAppliesEnv(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "pulsebot.json", `{"telegram":{"token":""},"llm":{"provider":"openai"}}`)
	m := NewConfigManager(p)
	m.SetEnv(env(map[string]string{EnvBotToken: "123:abc", EnvOpenAIKey: "sk-test"}))

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Get() did not return committed config")
	}
}

func TestManagerLoadFailsWithoutToken(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "pulsebot.yaml", "logging:\n  level: info\n")
	m := NewConfigManager(p)
	m.SetEnv(env(nil))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected missing token error")
	}
	if m.Get() != nil {
		t.Fatal("failed Load committed a config")
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "pulsebot.json", `{"telegram":{"token":"t"},"queue":{"max_retries":5}}`)
	m := NewConfigManager(p)
	m.SetEnv(env(nil))
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatal("unchanged config was published")
	default:
	}

	if err := os.WriteFile(p, []byte(`{"telegram":{"token":"t"},"queue":{"max_retries":2}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	select {
	case cfg := <-ch:
		if cfg.Queue.MaxRetries != 2 {
			t.Fatalf("MaxRetries = %d, want 2", cfg.Queue.MaxRetries)
		}
	default:
		t.Fatal("changed config not published")
	}

	if err := os.WriteFile(p, []byte(`{"telegram":{"token":"t"},"queue":{"max_delay":"never"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	if got := m.Get().Queue.MaxRetries; got != 2 {
		t.Fatalf("invalid reload replaced config: max_retries = %d", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "a"}, LLM: LLMConfig{APIKey: "k1"}}
	b := &Config{Telegram: TelegramConfig{Token: "a"}, LLM: LLMConfig{APIKey: "k2"}, Queue: QueueConfig{MaxRetries: 3}}

	changed, attrs := SummarizeConfigChange(a, b)
	want := []string{"llm", "queue"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "llm" {
		t.Fatalf("RestartRequired = %v", got)
	}
}
