package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulsebot/internal/bot"
	"pulsebot/internal/config"
	"pulsebot/internal/eventbus"
	"pulsebot/internal/generation"
	"pulsebot/internal/health"
	"pulsebot/internal/runtime/supervisor"
	"pulsebot/internal/storage"
	"pulsebot/internal/task/queue"
	"pulsebot/internal/task/scheduler"
	kit "pulsebot/internal/transport"
	"pulsebot/internal/transport/telegram/adapter"
	logx "pulsebot/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

const digestJobTimeout = 30 * time.Minute

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	queue   *queue.Queue
	gen     *generation.Service
	adapter *adapter.Adapter
	deliver *bot.Deliverer
	router  *bot.Router
	sched   *scheduler.Service
	health  *health.Server

	sup     *supervisor.Supervisor
	updates chan kit.Update
}

// NewApp loads the config and builds every component. Nothing talks to the
// network until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		logs:    logs,
		log:     log,
		bus:     eventbus.New(),
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(context.Background()); err != nil {
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) (err error) {
	cfg := a.cfg

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(sc, a.log)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() {
		if err != nil {
			_ = a.store.Close()
		}
	}()

	qc, err := mapQueueConfig(cfg)
	if err != nil {
		return err
	}
	a.queue = queue.New(qc, a.log, a.bus)

	backend, err := newGenerator(ctx, cfg, a.log)
	if err != nil {
		return err
	}
	callTimeout, err := config.ParseDurationOrDefault("llm.timeout", cfg.LLM.Timeout, defaultLLMTimeout)
	if err != nil {
		return err
	}
	a.gen = generation.NewService(backend, a.queue, a.log, generation.WithCallTimeout(callTimeout))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return err
	}
	a.adapter, err = adapter.New(adapter.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, a.log)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	pause, err := config.ParseToggleDuration("scheduler.topic_pause", cfg.Scheduler.TopicPause, bot.DefaultTopicPause)
	if err != nil {
		return err
	}
	a.deliver = bot.NewDeliverer(a.gen, a.store, a.adapter, a.log, bot.WithTopicPause(pause))

	bc, err := mapBotConfig(cfg)
	if err != nil {
		return err
	}
	a.router = bot.NewRouter(bc, a.store, a.gen, a.deliver, a.adapter, a.log)

	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.log, a.bus)
	a.health = health.New(health.Sources{
		Queue:     a.queue,
		Scheduler: a.sched,
		Storage:   a.store,
		Runtime:   routines{a},
	}, a.log)

	if id := cfg.Telegram.LogChatID; id != 0 {
		a.logs.SetOpsSender(func(ctx context.Context, text string) error {
			_, err := a.adapter.SendText(ctx, kit.ChatTarget{ChatID: id}, text, nil)
			return err
		})
		a.logs.Apply(mapLogConfig(cfg))
	}
	return nil
}

// Start checks storage and the LLM, then starts polling, the scheduler and
// the health server. A failed check is fatal.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "app"))),
		supervisor.WithCancelOnError(false),
	)
	run := a.sup.Context()

	pctx, cancel := context.WithTimeout(run, 10*time.Second)
	err := a.store.Ping(pctx)
	cancel()
	if err != nil {
		return fmt.Errorf("storage ping: %w", err)
	}

	a.log.Info("testing LLM connection")
	if err := a.gen.Ping(run); err != nil {
		return fmt.Errorf("LLM connection test: %w", err)
	}
	a.log.Info("LLM connection OK")

	a.cfgm.SetValidator(validateReload)

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, bot.Commands()); err != nil {
			a.log.Warn("menu commands update failed", logx.Err(err))
		}
	})
	a.sup.Go0("bot.router", func(c context.Context) {
		a.router.Run(c, a.updates)
	})

	if err := a.sched.Add("daily-digest", digestSpec(a.cfg), digestJobTimeout, a.runDigest); err != nil {
		return fmt.Errorf("scheduler.digest_spec: %w", err)
	}
	if a.sched.Enabled() {
		a.sched.Start(run)
	}

	if err := a.health.Start(run, mapHealthConfig(a.cfg)); err != nil {
		return fmt.Errorf("health: %w", err)
	}

	a.logEvents()
	a.watchConfig()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started")
	return nil
}

// routines exposes the app and adapter supervisors once Start has run.
type routines struct{ a *App }

func (r routines) Status() []supervisor.Routine {
	if r.a.sup == nil {
		return nil
	}
	return append(r.a.sup.Status(), r.a.adapter.Routines()...)
}

func (a *App) runDigest(ctx context.Context) error {
	n, err := a.deliver.RunDaily(ctx, time.Now())
	if n > 0 {
		a.log.Info("daily digests sent", logx.Int("users", n), logx.Bool("errors", err != nil))
	}
	return err
}

// logEvents mirrors queue and scheduler events into the log. Throttling is
// reported at info so rate limit pressure is visible without debug logs.
func (a *App) logEvents() {
	events, unsub := a.bus.Subscribe(128, "queue.", "scheduler.")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				if n := a.bus.Dropped(); n > 0 {
					a.log.Debug("bus events dropped", logx.Uint64("count", n))
				}
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				switch {
				case e.Type == queue.EventThrottled:
					a.log.Info("llm throttled", logx.Any("task", e.Data))
				case a.log.Enabled(logx.LevelDebug):
					a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
				}
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		err := a.closeStore()
		_ = a.logs.Close()
		return err
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("health", time.Second, a.health.Stop)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("queue", 5*time.Second, func(c context.Context) error {
		if err := a.queue.Close(c); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	if errors.Is(err, storage.ErrClosed) {
		return nil
	}
	return err
}

// watchConfig applies reloaded logging and queue settings live. Other
// sections are logged as needing a restart.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))

	if qc, err := mapQueueConfig(next); err != nil {
		a.log.Warn("invalid queue config; keeping previous", logx.Err(err))
	} else {
		a.queue.Apply(qc)
	}

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
