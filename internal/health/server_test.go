package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pulsebot/internal/runtime/supervisor"
	"pulsebot/internal/task/queue"
	logx "pulsebot/pkg/logx"
)

type fakeQueue struct{ snap queue.Snapshot }

func (f fakeQueue) Snapshot() queue.Snapshot { return f.snap }

type fakeRuntime []supervisor.Routine

func (f fakeRuntime) Status() []supervisor.Routine { return f }

type pinger func(ctx context.Context) error

func (p pinger) Ping(ctx context.Context) error { return p(ctx) }

func get(t *testing.T, h http.Handler, method, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()
	s := New(Sources{Queue: fakeQueue{snap: queue.Snapshot{Pending: 2, Submitted: 7, MaxRetries: 5}}}, logx.Nop())
	h := s.Handler()

	tests := []struct {
		name, method, path string
		code               int
		body               string
	}{
		{"ok", http.MethodGet, "/health", http.StatusOK, "OK"},
		{"unknown", http.MethodGet, "/", http.StatusNotFound, ""},
		{"other path", http.MethodGet, "/metrics", http.StatusNotFound, ""},
		{"scheduler absent", http.MethodGet, "/health/scheduler", http.StatusServiceUnavailable, "scheduler not configured\n"},
	}
	for _, tt := range tests {
		code, body := get(t, h, tt.method, tt.path)
		if code != tt.code || body != tt.body {
			t.Fatalf("%s: %s %s = %d %q, want %d %q", tt.name, tt.method, tt.path, code, body, tt.code, tt.body)
		}
	}

	code, body := get(t, h, http.MethodPost, "/health")
	if code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health = %d %q", code, body)
	}
}

func TestQueueSnapshotJSON(t *testing.T) {
	t.Parallel()
	s := New(Sources{Queue: fakeQueue{snap: queue.Snapshot{
		Pending:      2,
		Submitted:    7,
		Exhausted:    1,
		MaxRetries:   5,
		InitialDelay: time.Second,
		History:      []queue.HistoryItem{{ID: "a", Name: "insight", Attempts: 3}},
	}}}, logx.Nop())

	code, body := get(t, s.Handler(), http.MethodGet, "/health/queue")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("body %q: %v", body, err)
	}
	if got["pending"] != float64(2) || got["submitted"] != float64(7) || got["exhausted"] != float64(1) {
		t.Fatalf("snapshot = %v", got)
	}
	hist, _ := got["history"].([]any)
	if len(hist) != 1 || hist[0].(map[string]any)["attempts"] != float64(3) {
		t.Fatalf("history = %v", got["history"])
	}
}

func TestReady(t *testing.T) {
	t.Parallel()
	ok := New(Sources{
		Storage: pinger(func(context.Context) error { return nil }),
		Runtime: fakeRuntime{{Name: "telebot.poll", Running: true, Restarts: 1}},
	}, logx.Nop())
	code, body := get(t, ok.Handler(), http.MethodGet, "/health/ready")
	if code != http.StatusOK {
		t.Fatalf("ready = %d", code)
	}
	var got struct {
		Storage  string               `json:"storage"`
		Routines []supervisor.Routine `json:"routines"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("body %q: %v", body, err)
	}
	if got.Storage != "ok" || len(got.Routines) != 1 || got.Routines[0].Name != "telebot.poll" || got.Routines[0].Restarts != 1 {
		t.Fatalf("ready body = %+v", got)
	}

	down := New(Sources{Storage: pinger(func(context.Context) error { return errors.New("database is closed") })}, logx.Nop())
	code, body = get(t, down.Handler(), http.MethodGet, "/health/ready")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("ready = %d %q", code, body)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Sources{}, logx.Nop())
	if err := s.Start(context.Background(), Config{Enabled: false}); err != nil || s.Addr() != "" {
		t.Fatalf("disabled Start = %v, addr %q", err, s.Addr())
	}
	if err := s.Start(context.Background(), Config{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("GET /health = %d %q", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Addr() != "" {
		t.Fatal("Addr set after Stop")
	}
}
