package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pulsebot/internal/generation"
	"pulsebot/internal/task/queue"
	logx "pulsebot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGenerator(t *testing.T, status int, body string, cfg Config) (*Generator, *string) {
	t.Helper()
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL + "/"
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	g, err := New(context.Background(), cfg, logx.Nop())
	require.NoError(t, err)
	return g, &path
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{}, logx.Nop())
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestCompleteSuccess(t *testing.T) {
	t.Parallel()
	body := `{"candidates":[{"content":{"role":"model","parts":[{"text":"Headline: Solar Sheds\n"},{"text":"Idea: Rent solar sheds."}]}}]}`
	g, path := newGenerator(t, http.StatusOK, body, Config{Model: "gemini-test"})

	out, err := g.Complete(context.Background(), generation.Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "Headline: Solar Sheds\nIdea: Rent solar sheds.", out)
	assert.True(t, strings.Contains(*path, "gemini-test"), "path = %s", *path)

	in := generation.ParseInsight("Climate", out)
	assert.Equal(t, "Solar Sheds", in.Headline)
}

func TestClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"429", http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`},
		{"500", http.StatusInternalServerError, `{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`},
		{"400", http.StatusBadRequest, `{"error":{"code":400,"message":"bad","status":"INVALID_ARGUMENT"}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, _ := newGenerator(t, tt.status, tt.body, Config{})
			_, err := g.Complete(context.Background(), generation.Request{Prompt: "p"})
			require.Error(t, err)
			assert.Equal(t, tt.status, queue.StatusOf(err), "err = %v", err)
		})
	}
}

func TestEmptyCandidates(t *testing.T) {
	t.Parallel()
	g, _ := newGenerator(t, http.StatusOK, `{"candidates":[]}`, Config{})
	_, err := g.Complete(context.Background(), generation.Request{Prompt: "p"})
	assert.ErrorIs(t, err, generation.ErrEmptyResponse)
}
