package generation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pulsebot/internal/task/queue"
	logx "pulsebot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instantSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newService(t *testing.T, gen Generator, cfg queue.Config) *Service {
	t.Helper()
	q := queue.New(cfg, logx.Nop(), nil, queue.WithSleeper(instantSleep))
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	return NewService(gen, q, logx.Nop())
}

func TestParseInsight(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, text         string
		headline, wantIdea string
	}{
		{"both", "Headline: Robot Chefs Rise \nIdea:  Rent kitchen robots to cafes.", "Robot Chefs Rise", "Rent kitchen robots to cafes."},
		{"extra lines", "Sure!\nHeadline: X\nsomething\nIdea: Y\nHeadline: ignored", "X", "Y"},
		{"missing idea", "Headline: Only this", "Only this", ""},
		{"nothing", "no format at all", "", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseInsight("AI", tt.text)
			assert.Equal(t, "AI", got.Topic)
			assert.Equal(t, tt.headline, got.Headline)
			assert.Equal(t, tt.wantIdea, got.Idea)
		})
	}
}

func TestFocusPrompt(t *testing.T) {
	t.Parallel()
	p := FocusPrompt(IdeaPrompt("Health"), []string{"Health"})
	assert.True(t, strings.HasPrefix(p, "Generate a quick business idea for Health focused on Health. FORMAT YOUR RESPONSE EXACTLY LIKE THIS:"))
	assert.Contains(t, p, "Headline: [")
	assert.Contains(t, p, "Idea: [")

	assert.True(t, strings.HasPrefix(FocusPrompt("Test connection", nil), "Test connection. FORMAT"))
}

func TestInsightGoesThroughQueue(t *testing.T) {
	t.Parallel()
	var got Request
	gen := GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		got = req
		return "Headline: Tiny Clinics\nIdea: Pop-up clinics in malls.", nil
	})
	svc := newService(t, gen, queue.Config{Pacing: -1})

	in, err := svc.Insight(context.Background(), "Health")
	require.NoError(t, err)
	assert.Equal(t, Insight{Topic: "Health", Headline: "Tiny Clinics", Idea: "Pop-up clinics in malls."}, in)
	assert.Contains(t, got.Prompt, "Generate a quick business idea for Health")
}

func TestCompleteRetriesThrottled(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	gen := GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		if calls.Add(1) < 3 {
			return "", queue.FromStatus(429, 429, errors.New("rate limited"))
		}
		return "ok", nil
	})
	svc := newService(t, gen, queue.Config{Pacing: -1})

	out, err := svc.Complete(context.Background(), "t", Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCompleteExhausted(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	gen := GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		calls.Add(1)
		return "", queue.Throttled(errors.New("429"))
	})
	svc := newService(t, gen, queue.Config{MaxRetries: 3, Pacing: -1})

	_, err := svc.Complete(context.Background(), "t", Request{Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, queue.ErrRetriesExhausted)
	assert.True(t, strings.HasPrefix(err.Error(), "failed to generate content: "))
	// One retry layer only.
	assert.EqualValues(t, 3, calls.Load())
}

func TestCompleteNonThrottledNotRetried(t *testing.T) {
	t.Parallel()
	boom := errors.New("invalid OpenAI API key format")
	var calls atomic.Int32
	gen := GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		calls.Add(1)
		return "", boom
	})
	svc := newService(t, gen, queue.Config{Pacing: -1})

	err := svc.Ping(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, calls.Load())
}

func TestCompleteEmptyResponse(t *testing.T) {
	t.Parallel()
	gen := GeneratorFunc(func(ctx context.Context, req Request) (string, error) { return "  ", nil })
	svc := newService(t, gen, queue.Config{Pacing: -1})

	_, err := svc.Expand(context.Background(), "AI")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestCallTimeout(t *testing.T) {
	t.Parallel()
	gen := GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	q := queue.New(queue.Config{Pacing: -1}, logx.Nop(), nil)
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	svc := NewService(gen, q, logx.Nop(), WithCallTimeout(20*time.Millisecond))

	_, err := svc.Complete(context.Background(), "slow", Request{Prompt: "p"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
