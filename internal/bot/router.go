package bot

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"pulsebot/internal/storage"
	kit "pulsebot/internal/transport"
	logx "pulsebot/pkg/logx"
)

const (
	DefaultNowCooldown    = 60 * time.Second
	DefaultPendingTTL     = 10 * time.Minute
	DefaultSessionSize    = 1024
	DefaultHandlerTimeout = 10 * time.Minute
	maxConcurrentHandlers = 32
)

// Expander writes a business plan for a topic.
type Expander interface {
	Expand(ctx context.Context, topic string) (string, error)
}

type Config struct {
	NowCooldown    time.Duration
	PendingTTL     time.Duration
	SessionSize    int
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.NowCooldown == 0 {
		c.NowCooldown = DefaultNowCooldown
	}
	if c.PendingTTL == 0 {
		c.PendingTTL = DefaultPendingTTL
	}
	if c.SessionSize <= 0 {
		c.SessionSize = DefaultSessionSize
	}
	if c.HandlerTimeout == 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
	return c
}

type Router struct {
	store     storage.Store
	expander  Expander
	deliverer *Deliverer
	sender    kit.Sender
	log       logx.Logger
	now       func() time.Time

	pending *sessions
	nowGate *cooldown

	commands map[string]HandlerFunc
	handle   HandlerFunc
}

type RouterOption func(*Router)

// WithClock replaces time.Now for sessions and cooldowns.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

func NewRouter(cfg Config, store storage.Store, expander Expander, deliverer *Deliverer, sender kit.Sender, log logx.Logger, opts ...RouterOption) *Router {
	cfg = cfg.withDefaults()
	r := &Router{
		store:     store,
		expander:  expander,
		deliverer: deliverer,
		sender:    sender,
		log:       log.With(logx.String("comp", "bot")),
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.pending = newSessions(cfg.SessionSize, cfg.PendingTTL, r.now)
	r.nowGate = newCooldown(cfg.SessionSize, cfg.NowCooldown, r.now)
	r.commands = map[string]HandlerFunc{
		"start":    r.cmdStart,
		"settings": r.prompt(pendingTime, msgAskTime),
		"topics":   r.prompt(pendingTopics, msgAskTopics),
		"timezone": r.prompt(pendingTimezone, msgAskTimezone),
		"now":      r.cmdNow,
		"help":     r.cmdHelp,
		"stop":     r.cmdStop,
	}
	r.handle = Chain(r.dispatch, MWRequestLog(), MWPanicRecover(), MWTimeout(cfg.HandlerTimeout))
	return r
}

// Run consumes updates until ctx ends or in is closed. Each update is
// handled on its own goroutine, bounded by a fixed limit.
func (r *Router) Run(ctx context.Context, in <-chan kit.Update) {
	sem := make(chan struct{}, maxConcurrentHandlers)
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-in:
			if !ok {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				r.Handle(ctx, up)
			}()
		}
	}
}

// Handle processes one update. Handler errors are logged and answered with a
// generic apology.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	if up.Message == nil || strings.TrimSpace(up.Message.Text) == "" {
		return
	}
	req := newRequest(up.Message, r.log)
	if err := r.handle(ctx, req); err != nil {
		r.reply(context.WithoutCancel(ctx), req, msgGenericError)
	}
}

func (r *Router) dispatch(ctx context.Context, req *Request) error {
	if req.Command != "" {
		h, ok := r.commands[req.Command]
		if !ok {
			req.Logger.Debug("unknown command ignored", logx.String("cmd", req.Command))
			return nil
		}
		return h(ctx, req)
	}
	if strings.HasPrefix(req.Text, "Expand") {
		return r.expand(ctx, req)
	}
	return r.pendingInput(ctx, req)
}

func (r *Router) reply(ctx context.Context, req *Request, text string) {
	if _, err := r.sender.SendText(ctx, req.Chat, text, nil); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
}

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	r.pending.clear(req.UserID)
	name := req.Message.FromFirstName
	if name == "" {
		name = req.Message.FromUsername
	}
	u, err := r.store.UpsertUser(ctx, storage.NewUser(req.UserID, name, r.now()))
	if err != nil {
		return err
	}
	req.Logger.Info("user started", logx.String("daily_time", u.DailyTime), logx.String("tz", u.Timezone))
	r.reply(ctx, req, welcomeText(name, u.DailyTime, u.Timezone))
	return nil
}

func (r *Router) prompt(kind pendingKind, text string) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		r.pending.set(req.UserID, kind)
		r.reply(ctx, req, text)
		return nil
	}
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	r.reply(ctx, req, msgHelp)
	return nil
}

func (r *Router) cmdStop(ctx context.Context, req *Request) error {
	r.pending.clear(req.UserID)
	if err := r.store.SetActive(ctx, req.UserID, false); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.reply(ctx, req, msgStartFirst)
			return nil
		}
		return err
	}
	r.reply(ctx, req, msgStopped)
	return nil
}

func (r *Router) cmdNow(ctx context.Context, req *Request) error {
	if !r.nowGate.allow(req.UserID) {
		req.Logger.Debug("duplicate /now ignored")
		return nil
	}
	r.reply(ctx, req, msgGenerating)

	u, err := r.store.GetUser(ctx, req.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		r.reply(ctx, req, msgStartFirst)
		return nil
	}
	if err != nil {
		return err
	}
	// Send notifies the user itself on failure.
	_ = r.deliverer.Send(ctx, u)
	return nil
}

var (
	expandRe = regexp.MustCompile(`^Expand\s+(.+)$`)
	timeRe   = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)
)

func (r *Router) expand(ctx context.Context, req *Request) error {
	m := expandRe.FindStringSubmatch(req.Text)
	if m == nil {
		r.reply(ctx, req, msgExpandUsage)
		return nil
	}
	topic := strings.TrimSpace(m[1])
	r.reply(ctx, req, "🔍 Expanding "+topic+" idea...")

	if _, err := r.store.GetUser(ctx, req.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.reply(ctx, req, msgStartFirst)
			return nil
		}
		return err
	}
	plan, err := r.expander.Expand(ctx, topic)
	if err != nil {
		req.Logger.Warn("expand failed", logx.String("topic", topic), logx.Err(err))
		r.reply(ctx, req, msgExpandFailed)
		return nil
	}
	r.reply(ctx, req, plan)
	return nil
}

func (r *Router) pendingInput(ctx context.Context, req *Request) error {
	kind := r.pending.take(req.UserID)
	if kind == pendingNone {
		return nil
	}
	text := req.Text

	var (
		err  error
		done string
	)
	switch kind {
	case pendingTime:
		if !timeRe.MatchString(text) {
			r.reply(ctx, req, msgInvalidTime)
			return nil
		}
		err = r.store.UpdateDailyTime(ctx, req.UserID, text)
		done = "✅ Daily drop time updated to " + text
	case pendingTopics:
		topics := splitTopics(text)
		if len(topics) == 0 {
			r.reply(ctx, req, msgNoTopics)
			return nil
		}
		err = r.store.UpdateTopics(ctx, req.UserID, topics)
		done = "✅ Topics updated to: " + strings.Join(topics, ", ")
	case pendingTimezone:
		if !validTimezone(text) {
			r.reply(ctx, req, msgInvalidTimezone)
			return nil
		}
		err = r.store.UpdateTimezone(ctx, req.UserID, text)
		done = "✅ Timezone updated to " + text
	}
	if errors.Is(err, storage.ErrNotFound) {
		r.reply(ctx, req, msgStartFirst)
		return nil
	}
	if err != nil {
		return err
	}
	req.Logger.Info("setting updated", logx.String("setting", kind.String()))
	r.reply(ctx, req, done)
	return nil
}

func splitTopics(text string) []string {
	var out []string
	for _, t := range strings.Split(text, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func validTimezone(tz string) bool {
	if tz == "" || strings.EqualFold(tz, "local") {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}
