package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Ops     OpsConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// OpsConfig forwards log lines at or above MinLevel (default warn) to an
// operator chat, at most RatePerSec lines per second (default 1).
type OpsConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// OpsSender delivers one formatted line to the operator chat.
type OpsSender func(ctx context.Context, text string) error

const defaultLogFile = "./pulsebot.log"

// Service owns the sinks. Apply rebuilds them; loggers obtained earlier
// pick up the change on their next line.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	ops  *opsSink
}

// New builds the sinks from cfg and returns the service with its root logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{ops: newOpsSink()}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetOpsSender installs the operator chat sender. It takes effect on the
// next Apply with Ops.Enabled.
func (s *Service) SetOpsSender(fn OpsSender) {
	s.ops.setSender(fn)
}

// Apply swaps level and sinks. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Ops.Enabled && s.ops.configure(cfg.Ops) {
		sinks = append(sinks, s.ops)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the operator worker and closes the log file.
func (s *Service) Close() error {
	s.ops.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return def
}

// opsSink is a zerolog.LevelWriter that hands lines to a background sender.
// Writes never block; lines over the rate or the queue capacity are dropped.
type opsSink struct {
	queue chan string

	mu       sync.Mutex
	send     OpsSender
	limiter  *rate.Limiter
	minLevel zerolog.Level
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newOpsSink() *opsSink {
	return &opsSink{queue: make(chan string, 128), minLevel: zerolog.WarnLevel}
}

func (o *opsSink) setSender(fn OpsSender) {
	o.mu.Lock()
	o.send = fn
	o.mu.Unlock()
}

// configure applies cfg and starts the worker once. It reports false when
// no sender is installed.
func (o *opsSink) configure(cfg OpsConfig) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.send == nil {
		return false
	}
	rps := max(cfg.RatePerSec, 1)
	o.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	o.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	if o.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		o.cancel = cancel
		o.wg.Add(1)
		go o.run(ctx)
	}
	return true
}

func (o *opsSink) run(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-o.queue:
			o.mu.Lock()
			send := o.send
			o.mu.Unlock()
			if send == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, defaultOpsTimeout)
			_ = send(sctx, line)
			cancel()
		}
	}
}

func (o *opsSink) stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		o.wg.Wait()
	}
}

func (o *opsSink) Write(p []byte) (int, error) {
	return o.WriteLevel(zerolog.InfoLevel, p)
}

func (o *opsSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	o.mu.Lock()
	allowed := level >= o.minLevel && o.limiter != nil && o.limiter.Allow()
	o.mu.Unlock()
	if !allowed {
		return len(p), nil
	}
	if line := formatOpsLine(p); line != "" {
		select {
		case o.queue <- line:
		default:
		}
	}
	return len(p), nil
}
