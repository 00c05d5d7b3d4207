package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	logx "pulsebot/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
)

// ConfigManager holds the current config and hands reloads to subscribers.
type ConfigManager struct {
	path      string
	lookup    LookupFunc
	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	mu      sync.RWMutex
	current *Config
	hash    uint64

	subMu sync.Mutex
	subs  map[chan *Config]struct{}
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path:   path,
		lookup: os.LookupEnv,
		log:    logx.Nop(),
		subs:   map[chan *Config]struct{}{},
	}
}

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetEnv swaps the environment source, for tests.
func (m *ConfigManager) SetEnv(lookup LookupFunc) {
	if lookup != nil {
		m.lookup = lookup
	}
}

// SetValidator adds a check that a reloaded config must pass before it
// replaces the current one.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

func (m *ConfigManager) Path() string { return m.path }

// Parse reads the file, applies env overrides and validates. The result is
// not committed.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(m.path, raw)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, m.lookup)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err == nil {
		m.Commit(cfg)
	}
	return cfg, err
}

func (m *ConfigManager) Commit(cfg *Config) {
	h := hashConfig(cfg)
	m.mu.Lock()
	m.current, m.hash = cfg, h
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe returns a channel that receives every committed reload. A
// subscriber that falls behind only ever sees the newest config.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

// Unsubscribe closes ch. Unknown or already removed channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// Full: discard the oldest pending config and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload commits and publishes the file's config when it parses, differs
// from the current one and passes the validator.
func (m *ConfigManager) reload(ctx context.Context) {
	log := m.log.With(logx.String("path", m.path))

	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config reload rejected", logx.Err(err))
		return
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.hash
	m.mu.RUnlock()
	if same {
		log.Debug("config file touched, content unchanged")
		return
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err = m.validator(vctx, cfg)
		cancel()
		if err != nil {
			log.Warn("config reload rejected", logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	log.Info("config committed", logx.String("hash", fmt.Sprintf("%016x", h)))
}
