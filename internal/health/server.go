// Package health serves liveness and queue diagnostics over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"pulsebot/internal/runtime/supervisor"
	"pulsebot/internal/task/queue"
	"pulsebot/internal/task/scheduler"
	logx "pulsebot/pkg/logx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const DefaultAddr = ":3000"

type Config struct {
	Enabled bool
	Addr    string
}

// Sources are the components the diagnostics endpoints read. Nil fields
// are reported as absent.
type Sources struct {
	Queue     interface{ Snapshot() queue.Snapshot }
	Scheduler interface{ Snapshot() scheduler.Snapshot }
	Storage   interface {
		Ping(ctx context.Context) error
	}
	Runtime interface{ Status() []supervisor.Routine }
}

type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	src  Sources
	srv  *http.Server
	ln   net.Listener
	addr string
}

func New(src Sources, log logx.Logger) *Server {
	return &Server{src: src, log: log.With(logx.String("comp", "health"))}
}

// Handler returns the router. Anything outside /health is 404.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/health/queue", s.queueSnapshot)
	r.Get("/health/scheduler", s.schedulerSnapshot)
	r.Get("/health/ready", s.ready)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return r
}

func (s *Server) queueSnapshot(w http.ResponseWriter, _ *http.Request) {
	if s.src.Queue == nil {
		http.Error(w, "queue not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.src.Queue.Snapshot())
}

func (s *Server) schedulerSnapshot(w http.ResponseWriter, _ *http.Request) {
	if s.src.Scheduler == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.src.Scheduler.Snapshot())
}

// ready pings storage with a short deadline and lists supervised routines.
// A routine that stopped with an error does not fail readiness; the poller
// restarts itself.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"storage": "ok"}
	code := http.StatusOK
	if s.src.Storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.src.Storage.Ping(ctx); err != nil {
			status["storage"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if s.src.Runtime != nil {
		status["routines"] = s.src.Runtime.Status()
	}
	writeJSON(w, code, status)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Start listens on cfg.Addr and serves in the background. A disabled config
// is a no-op.
func (s *Server) Start(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.srv, s.ln, s.addr = srv, ln, ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("health server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("health server listening", logx.String("addr", s.addr))
	return nil
}

// Stop shuts the server down gracefully within ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, addr := s.srv, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("health shutdown error", logx.String("addr", addr), logx.Err(err))
		return err
	}
	s.log.Info("health server stopped", logx.String("addr", addr))
	return nil
}

// Addr reports the actual listen address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
