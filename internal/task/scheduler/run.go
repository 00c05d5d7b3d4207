package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"pulsebot/internal/eventbus"
	logx "pulsebot/pkg/logx"

	"github.com/robfig/cron/v3"
)

const skipWarnThrottle = 5 * time.Minute

func (s *Service) wrap(name string, timeout time.Duration, job Job, st *runState) cron.Job {
	return cron.FuncJob(func() {
		if !st.running.CompareAndSwap(false, true) {
			st.skipped.Add(1)
			s.reportSkip(name)
			s.publish(EventRunSkipped, RunEvent{Schedule: name})
			return
		}
		defer st.running.Store(false)

		s.mu.Lock()
		base := s.base
		s.mu.Unlock()
		if base == nil {
			return
		}
		ctx := base
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(base, timeout)
			defer cancel()
		}

		start := time.Now()
		err := runJob(ctx, job)
		took := time.Since(start)
		st.runs.Add(1)
		if err != nil {
			st.failed.Add(1)
			s.log.Warn("scheduled run failed", logx.String("schedule", name), logx.Duration("took", took), logx.Err(err))
			s.publish(EventRunFailed, RunEvent{Schedule: name, Took: took, Err: err})
			return
		}
		s.log.Debug("scheduled run finished", logx.String("schedule", name), logx.Duration("took", took))
		s.publish(EventRunFinished, RunEvent{Schedule: name, Took: took})
	})
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job(ctx)
}

// reportSkip logs overlap skips at most once per throttle window per
// schedule. The first skip after a quiet period is a warning.
func (s *Service) reportSkip(name string) {
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	if !last.IsZero() && now.Sub(last) < skipWarnThrottle {
		s.warnMu.Unlock()
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name))
		return
	}
	s.lastWarn[name] = now
	s.warnMu.Unlock()
	s.log.Warn("previous run still in progress; trigger skipped", logx.String("schedule", name))
}

func (s *Service) publish(typ string, ev RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
