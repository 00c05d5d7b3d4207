package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pulsebot/internal/task/queue"
	logx "pulsebot/pkg/logx"
)

// Service routes completions through the queue.
type Service struct {
	gen     Generator
	q       *queue.Queue
	log     logx.Logger
	timeout time.Duration
}

type Option func(*Service)

// WithCallTimeout bounds each backend call. Retries and queue wait are not
// included.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func NewService(gen Generator, q *queue.Queue, log logx.Logger, opts ...Option) *Service {
	s := &Service{gen: gen, q: q, log: log.With(logx.String("comp", "generation"))}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Complete submits one prompt and waits for the answer or ctx. The call
// keeps its place in the queue even if ctx ends first.
func (s *Service) Complete(ctx context.Context, name string, req Request) (string, error) {
	r := queue.Submit(s.q, name, func(qctx context.Context) (string, error) {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			qctx, cancel = context.WithTimeout(qctx, s.timeout)
			defer cancel()
		}
		out, err := s.gen.Complete(qctx, req)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out) == "" {
			return "", ErrEmptyResponse
		}
		return out, nil
	})

	out, err := r.Wait(ctx)
	if err != nil {
		s.log.Warn("generation failed", logx.String("task", name), logx.String("task_id", r.ID()), logx.Err(err))
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return out, nil
}

// Insight generates and parses one idea for topic.
func (s *Service) Insight(ctx context.Context, topic string) (Insight, error) {
	out, err := s.Complete(ctx, "insight", Request{Prompt: FocusPrompt(IdeaPrompt(topic), []string{topic})})
	if err != nil {
		return Insight{Topic: topic}, err
	}
	return ParseInsight(topic, out), nil
}

// Expand returns a short business plan for topic.
func (s *Service) Expand(ctx context.Context, topic string) (string, error) {
	return s.Complete(ctx, "expand", Request{Prompt: ExpandPrompt(topic) + " focused on " + topic + "."})
}

// Ping runs a tiny completion to prove the key and network path work.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.Complete(ctx, "ping", Request{Prompt: FocusPrompt("Test connection", nil)})
	return err
}
