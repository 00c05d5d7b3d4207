package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"pulsebot/internal/eventbus"
	logx "pulsebot/pkg/logx"

	"github.com/google/uuid"
)

// Sleeper waits for d or until ctx ends. Tests swap it to record delays.
type Sleeper func(ctx context.Context, d time.Duration) error

type Option func(*Queue)

func WithSleeper(fn Sleeper) Option {
	return func(q *Queue) {
		if fn != nil {
			q.sleep = fn
		}
	}
}

// Queue serializes calls to a rate-limited upstream.
type Queue struct {
	log   logx.Logger
	bus   eventbus.Bus
	sleep Sleeper

	// ctx is cancelled when Close gives up waiting; in-flight actions and
	// backoff sleeps observe it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cfg      Config
	backlog  []*entry
	draining bool
	closed   bool
	idle     chan struct{}

	hmu     sync.Mutex
	history []HistoryItem

	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	throttled atomic.Uint64
	exhausted atomic.Uint64
}

type entry struct {
	id         string
	name       string
	enqueuedAt time.Time

	run     func(ctx context.Context) error
	resolve func(err error)
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		log:    log.With(logx.String("comp", "queue")),
		bus:    bus,
		sleep:  sleepCtx,
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg.withDefaults(),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Apply swaps the policy. The task currently retrying keeps the policy it
// started with; the next task picks up the new one.
func (q *Queue) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	q.mu.Lock()
	q.cfg = cfg
	q.mu.Unlock()

	q.hmu.Lock()
	if len(q.history) > cfg.HistorySize {
		q.history = q.history[len(q.history)-cfg.HistorySize:]
	}
	q.hmu.Unlock()
}

func (q *Queue) Config() Config {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg
}

// Submit appends action to the backlog and returns its handle. It never
// blocks. After Close the handle resolves with ErrClosed straight away.
func Submit[T any](q *Queue, name string, action func(ctx context.Context) (T, error)) *Result[T] {
	r := newResult[T]()
	var val T
	e := &entry{
		name: name,
		run: func(ctx context.Context) error {
			v, err := action(ctx)
			if err != nil {
				return err
			}
			val = v
			return nil
		},
		resolve: func(err error) {
			if err != nil {
				var zero T
				r.resolve(zero, err)
				return
			}
			r.resolve(val, nil)
		},
	}
	if action == nil {
		e.run = func(context.Context) error { return ErrNilAction }
	}
	r.id = q.enqueue(e)
	return r
}

// Do is Submit for callers that only care about the error.
func (q *Queue) Do(name string, action func(ctx context.Context) error) *Result[struct{}] {
	if action == nil {
		return Submit[struct{}](q, name, nil)
	}
	return Submit(q, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, action(ctx)
	})
}

func (q *Queue) enqueue(e *entry) string {
	e.id = uuid.NewString()
	e.enqueuedAt = time.Now()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		e.resolve(ErrClosed)
		return e.id
	}
	q.backlog = append(q.backlog, e)
	q.submitted.Add(1)
	start := !q.draining
	if start {
		q.draining = true
		q.idle = make(chan struct{})
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	return e.id
}

// drain is the only goroutine that runs actions. At most one exists at a
// time; draining is flipped under mu on both ends.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.backlog) == 0 {
			q.draining = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		e := q.backlog[0]
		q.backlog[0] = nil
		q.backlog = q.backlog[1:]
		cfg := q.cfg
		q.mu.Unlock()

		if q.ctx.Err() != nil {
			e.resolve(ErrClosed)
			q.failed.Add(1)
			continue
		}

		q.execute(e, cfg)

		if cfg.Pacing > 0 {
			_ = q.sleep(q.ctx, cfg.Pacing)
		}
	}
}

func (q *Queue) execute(e *entry, cfg Config) {
	started := time.Now()
	queueDelay := started.Sub(e.enqueuedAt)
	log := q.log.With(logx.String("task", e.name), logx.String("task_id", e.id))
	q.publish(EventStarted, TaskEvent{ID: e.id, Name: e.name, Started: started, QueueDelay: queueDelay, Attempt: 1})

	var err error
	attempts := 0
	delay := cfg.InitialDelay
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		attempts = attempt + 1
		err = q.invoke(e, log)
		if err == nil || !cfg.throttled(err) {
			break
		}

		q.throttled.Add(1)
		if attempts == cfg.MaxRetries {
			log.Warn("rate limit retries exhausted", logx.Int("attempts", attempts), logx.Err(err))
			q.exhausted.Add(1)
			err = ErrRetriesExhausted
			break
		}

		log.Info("rate limited, retrying", logx.Int("attempt", attempts), logx.Duration("delay", delay))
		q.publish(EventThrottled, TaskEvent{ID: e.id, Name: e.name, Started: started, QueueDelay: queueDelay, Attempt: attempts, Delay: delay, Error: err.Error()})
		if serr := q.sleep(q.ctx, delay); serr != nil {
			err = fmt.Errorf("%w: %v", ErrClosed, err)
			break
		}
		delay = cfg.nextDelay(delay)
	}

	dur := time.Since(started)
	item := HistoryItem{ID: e.id, Name: e.name, Started: started, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	ev := TaskEvent{ID: e.id, Name: e.name, Started: started, QueueDelay: queueDelay, Duration: dur, Attempt: attempts}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		q.failed.Add(1)
		if !errors.Is(err, ErrRetriesExhausted) {
			log.Warn("task failed", logx.Int("attempts", attempts), logx.Duration("dur", dur), logx.Err(err))
		}
		q.publish(EventFailed, ev)
	} else {
		q.succeeded.Add(1)
		log.Debug("task finished", logx.Int("attempts", attempts), logx.Duration("dur", dur), logx.Duration("queue_delay", queueDelay))
		q.publish(EventFinished, ev)
	}
	q.record(item, cfg.HistorySize)
	e.resolve(err)
}

func (q *Queue) invoke(e *entry, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrActionPanic, r)
		}
	}()
	return e.run(q.ctx)
}

func (q *Queue) record(item HistoryItem, size int) {
	q.hmu.Lock()
	defer q.hmu.Unlock()
	q.history = append(q.history, item)
	if len(q.history) > size {
		q.history = q.history[len(q.history)-size:]
	}
}

func (q *Queue) publish(typ string, ev TaskEvent) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

// Len is the number of tasks waiting behind the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	cfg := q.cfg
	s := Snapshot{
		Pending:  len(q.backlog),
		Draining: q.draining,
		Closed:   q.closed,
	}
	q.mu.Unlock()

	s.Submitted = q.submitted.Load()
	s.Succeeded = q.succeeded.Load()
	s.Failed = q.failed.Load()
	s.Throttled = q.throttled.Load()
	s.Exhausted = q.exhausted.Load()
	s.MaxRetries = cfg.MaxRetries
	s.InitialDelay = cfg.InitialDelay
	s.MaxDelay = cfg.MaxDelay
	s.BackoffFactor = cfg.BackoffFactor
	s.Pacing = cfg.Pacing

	q.hmu.Lock()
	s.History = make([]HistoryItem, len(q.history))
	copy(s.History, q.history)
	q.hmu.Unlock()
	return s
}

// Close stops accepting work and waits for the backlog to drain. If ctx ends
// first, the in-flight action's context is cancelled and whatever is still
// queued resolves with ErrClosed.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	idle := q.idle
	draining := q.draining
	q.mu.Unlock()

	if !draining {
		q.cancel()
		return nil
	}
	select {
	case <-idle:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.log.Warn("queue close timed out; cancelling in-flight task", logx.Int("pending", q.Len()))
		q.cancel()
		return ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
