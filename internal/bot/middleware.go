package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "pulsebot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware decorates a handler. Router applies them outermost first.
type Middleware func(next HandlerFunc) HandlerFunc

const slowRequest = 750 * time.Millisecond

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := range m {
		h = m[len(m)-1-i](h)
	}
	return h
}

// MWTimeout bounds a whole request, including every LLM task it queues.
func MWTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error so the user still
// gets the apology reply.
func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req.Logger.Error("handler panicked", logx.String("cmd", req.Command), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("handler %q: panic: %v", req.Command, r)
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog writes one line per request: warn on error, info when slow,
// debug otherwise.
func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			took := time.Since(began)

			line := req.Logger.With(logx.String("cmd", req.Command), logx.Duration("took", took))
			if err != nil {
				line.Warn("request failed", logx.Err(err))
			} else if took >= slowRequest {
				line.Info("request handled")
			} else {
				line.Debug("request handled")
			}
			return err
		}
	}
}
