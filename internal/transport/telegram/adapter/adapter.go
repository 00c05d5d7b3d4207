// Package adapter connects the bot to Telegram through telebot.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "pulsebot/internal/runtime/supervisor"
	kit "pulsebot/internal/transport"
	logx "pulsebot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

const (
	defaultPollTimeout = 10 * time.Second
	stopGrace          = 2 * time.Second
	dropReportEvery    = 30 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter receives text messages by long polling and sends replies.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	mu  sync.Mutex
	out chan<- kit.Update // nil while stopped
	sup *rtsup.Supervisor

	dropped atomic.Uint64

	menuMu  sync.Mutex
	menuSum uint64
}

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	a := &Adapter{log: log.With(logx.String("comp", "telegram"))}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

// onText forwards a message without blocking the poller. Messages that do
// not fit in the channel are counted and dropped.
func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	up := kit.Update{Message: &kit.Message{
		ID:            m.ID,
		ChatID:        m.Chat.ID,
		FromID:        m.Sender.ID,
		FromUsername:  m.Sender.Username,
		FromFirstName: m.Sender.FirstName,
		Text:          m.Text,
	}}

	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return nil
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Start begins long polling and delivers messages to out. Calling Start on
// a running adapter does nothing.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out = out
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.sup = sup

	sup.GoRestart("telebot.poll", func(context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second), rtsup.WithStopOnCleanExit(false))

	// bot.Start only returns after bot.Stop.
	sup.Go0("telebot.stop", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	sup.Go0("telegram.drops", func(c context.Context) {
		t := time.NewTicker(dropReportEvery)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-t.C:
				a.reportDrops(cap(out))
			}
		}
	})
	return nil
}

func (a *Adapter) reportDrops(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming messages dropped (router busy)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop ends polling. A getUpdates call may stay open for the poll timeout,
// so Stop gives up waiting after a short grace period.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	err := sup.Wait(wctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop timed out; poll left to finish", logx.Err(err))
		return nil
	}
	if err != nil {
		a.log.Debug("telegram stopped after poll errors", logx.Err(err))
	}
	return nil
}

// Routines reports the adapter's goroutines while running.
func (a *Adapter) Routines() []rtsup.Routine {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Status()
}
