package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"pulsebot/internal/generation"
	"pulsebot/internal/storage"
	"pulsebot/internal/task/scheduler"
	kit "pulsebot/internal/transport"
	logx "pulsebot/pkg/logx"
)

// DefaultTopicPause is the wait between two insight requests of one digest.
const DefaultTopicPause = time.Second

// Insighter produces one insight for a topic.
type Insighter interface {
	Insight(ctx context.Context, topic string) (generation.Insight, error)
}

type Deliverer struct {
	gen    Insighter
	store  storage.Store
	sender kit.Sender
	log    logx.Logger

	pause time.Duration
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type DelivererOption func(*Deliverer)

// WithTopicPause sets the wait between topics. Negative disables it.
func WithTopicPause(d time.Duration) DelivererOption {
	return func(x *Deliverer) { x.pause = d }
}

// WithDelivererClock replaces time.Now and the pause sleep.
func WithDelivererClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) DelivererOption {
	return func(x *Deliverer) {
		if now != nil {
			x.now = now
		}
		if sleep != nil {
			x.sleep = sleep
		}
	}
}

func NewDeliverer(gen Insighter, store storage.Store, sender kit.Sender, log logx.Logger, opts ...DelivererOption) *Deliverer {
	d := &Deliverer{
		gen:    gen,
		store:  store,
		sender: sender,
		log:    log.With(logx.String("comp", "deliver")),
		pause:  DefaultTopicPause,
		sleep:  sleepCtx,
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Send generates and delivers one digest to u and records the attempt. On
// failure the user gets a short notice and the error is returned.
func (d *Deliverer) Send(ctx context.Context, u storage.User) error {
	topics := u.Topics
	if len(topics) == 0 {
		topics = storage.DefaultTopics()
	}
	log := d.log.With(logx.String("user_id", u.ID))
	log.Info("generating digest", logx.Strings("topics", topics))

	insights, err := d.collect(ctx, topics)
	if err == nil {
		var chatID int64
		chatID, err = strconv.ParseInt(u.ID, 10, 64)
		if err == nil {
			_, err = d.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, FormatDigest(insights),
				&kit.SendOptions{ParseMode: kit.ParseModeMarkdown, DisablePreview: true})
		}
	}

	rec := storage.Delivery{UserID: u.ID, At: d.now().UTC(), Topics: topics}
	if err == nil {
		rec.Delivered = true
		rec.Insights = insights
	} else {
		rec.Error = err.Error()
	}
	// Record with a fresh context so a cancelled request still leaves a trace.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if aerr := d.store.AppendDelivery(wctx, rec); aerr != nil {
		log.Warn("delivery log failed", logx.Err(aerr))
	}

	if err != nil {
		log.Warn("digest failed", logx.Err(err))
		d.notifyFailure(wctx, u.ID)
		return err
	}
	log.Info("digest delivered", logx.Int("insights", len(insights)))
	return nil
}

func (d *Deliverer) collect(ctx context.Context, topics []string) ([]generation.Insight, error) {
	out := make([]generation.Insight, 0, len(topics))
	for i, topic := range topics {
		if i > 0 && d.pause > 0 {
			if err := d.sleep(ctx, d.pause); err != nil {
				return nil, err
			}
		}
		in, err := d.gen.Insight(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("topic %q: %w", topic, err)
		}
		out = append(out, in)
	}
	return out, nil
}

func (d *Deliverer) notifyFailure(ctx context.Context, userID string) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return
	}
	if _, err := d.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, msgDeliveryFailed, nil); err != nil {
		d.log.Warn("failure notice not sent", logx.String("user_id", userID), logx.Err(err))
	}
}

// RunDaily delivers to every active user whose daily time, in their own
// timezone, is the minute of now. Deliveries run concurrently. It returns the
// number of users it delivered to successfully.
func (d *Deliverer) RunDaily(ctx context.Context, now time.Time) (int, error) {
	users, err := d.store.ListActiveUsers(ctx)
	if err != nil {
		return 0, err
	}
	var due []storage.User
	for _, u := range users {
		if scheduler.DueAt(now, u.Timezone, u.DailyTime) {
			due = append(due, u)
		}
	}
	if len(due) == 0 {
		d.log.Debug("no users due", logx.String("utc", now.UTC().Format("15:04")))
		return 0, nil
	}
	d.log.Info("sending daily digests", logx.Int("users", len(due)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		errs []error
	)
	for _, u := range due {
		wg.Add(1)
		go func(u storage.User) {
			defer wg.Done()
			err := d.Send(ctx, u)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("user %s: %w", u.ID, err))
				return
			}
			ok++
		}(u)
	}
	wg.Wait()
	return ok, errors.Join(errs...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
