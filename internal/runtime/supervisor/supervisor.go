// Package supervisor runs the app's long-lived goroutines (polling, routing,
// config watch) under one context and keeps a status table for /health.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "pulsebot/pkg/logx"
)

// Routine is the last known state of one named goroutine.
type Routine struct {
	Name     string    `json:"name"`
	Running  bool      `json:"running"`
	Started  time.Time `json:"started"`
	Restarts int       `json:"restarts,omitempty"`
	LastErr  string    `json:"last_err,omitempty"`
}

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	mu       sync.Mutex
	routines map[string]*Routine
	firstErr error

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels every routine when one of them fails.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:      ctx,
		cancel:   cancel,
		log:      logx.Nop(),
		routines: map[string]*Routine{},
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel ends the shared context. Use Wait to block until routines exit.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first failure seen, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Status lists routines sorted by name.
func (s *Supervisor) Status() []Routine {
	s.mu.Lock()
	out := make([]Routine, 0, len(s.routines))
	for _, r := range s.routines {
		out = append(out, *r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Go runs fn once. A returned error or panic is recorded; context
// cancellation is not an error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.track(name)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.call(name, fn)
		s.finish(name, err)
		if err != nil && s.cancelOnErr {
			s.cancel()
		}
	}()
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type restartPolicy struct {
	min, max        time.Duration
	stopOnCleanExit bool
}

type RestartOption func(*restartPolicy)

// WithRestartBackoff bounds the doubling delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithStopOnCleanExit decides whether a nil return ends the routine (the
// default) or counts as a failure and restarts it.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnCleanExit = enabled }
}

// GoRestart keeps fn running until the context ends. Failures are recorded
// but never cancel siblings. A run that lasted 30s or more resets the
// backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second, stopOnCleanExit: true}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)

	s.track(name)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		delay := p.min
		for {
			began := time.Now()
			err := s.call(name, fn)
			if s.ctx.Err() != nil {
				s.finish(name, nil)
				return
			}
			if err == nil {
				if p.stopOnCleanExit {
					s.finish(name, nil)
					return
				}
				err = errors.New("exited")
			}
			if time.Since(began) >= 30*time.Second {
				delay = p.min
			}
			s.restarting(name, err)
			s.log.Warn("routine restarting", logx.String("name", name), logx.Duration("backoff", delay), logx.Err(err))

			t := time.NewTimer(delay)
			select {
			case <-s.ctx.Done():
				t.Stop()
				s.finish(name, nil)
				return
			case <-t.C:
			}
			delay = min(delay*2, p.max)
		}
	}()
}

// call runs fn with panic recovery and maps cancellation to nil.
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("routine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	err = fn(s.ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", name, err)
	}
	return err
}

func (s *Supervisor) track(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routines[name]
	if !ok {
		r = &Routine{Name: name}
		s.routines[name] = r
	}
	r.Running, r.Started = true, time.Now()
	s.log.Debug("routine started", logx.String("name", name))
}

func (s *Supervisor) restarting(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.routines[name]
	r.Restarts++
	r.LastErr = err.Error()
	if s.firstErr == nil {
		s.firstErr = err
	}
}

func (s *Supervisor) finish(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.routines[name]
	r.Running = false
	if err != nil {
		r.LastErr = err.Error()
		if s.firstErr == nil {
			s.firstErr = err
		}
	}
	s.log.Debug("routine stopped", logx.String("name", name), logx.Err(err))
}

// Wait blocks until every routine has returned or ctx ends. It returns the
// first recorded failure.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
