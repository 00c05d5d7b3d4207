package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulsebot/internal/eventbus"
	logx "pulsebot/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "* * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every: 00:05", kind: SpecInterval, source: "hhmm", duration: 5 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "01:75", "interval:", "-5m", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) = nil error", raw)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil {
		t.Fatalf("parseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("parseHHMM = %d:%d, want 23:15", h, m)
	}
	for _, bad := range []string{"24:00", "12:60", "1200", "12:5"} {
		if _, _, err := parseHHMM(bad); err == nil {
			t.Fatalf("parseHHMM(%q) = nil error", bad)
		}
	}
}

func TestDueAt(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 3, 0, 30, 0, time.UTC)
	tests := []struct {
		tz, hhmm string
		want     bool
	}{
		{"UTC", "03:00", true},
		{"", "03:00", true},
		{"UTC", "3:00", true},
		{"UTC", "03:01", false},
		{"Asia/Jakarta", "10:00", true},
		{"Asia/Jakarta", "03:00", false},
		{"America/New_York", "23:00", true},
		{"Not/AZone", "03:00", true},
		{"UTC", "bogus", false},
	}
	for _, tt := range tests {
		if got := DueAt(now, tt.tz, tt.hhmm); got != tt.want {
			t.Fatalf("DueAt(%s, %q, %q) = %v, want %v", now.Format(time.RFC3339), tt.tz, tt.hhmm, got, tt.want)
		}
	}
}

func TestAddValidates(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil)
	noop := func(context.Context) error { return nil }

	if err := s.Add("", "* * * * *", 0, noop); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := s.Add("x", "* * * * *", 0, nil); err == nil {
		t.Fatal("nil job accepted")
	}
	if err := s.Add("x", "61 * * * *", 0, noop); err == nil {
		t.Fatal("bad cron accepted")
	}
	if err := s.AddDaily("x", "25:00", 0, noop); err == nil {
		t.Fatal("bad daily time accepted")
	}
}

func TestAddReplacesByName(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC"}, logx.Nop(), nil)
	noop := func(context.Context) error { return nil }

	if err := s.Add("digest", "* * * * *", 0, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddDaily("digest", "09:30", 0, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("tick", "5m", 0, noop); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if !snap.Started || snap.Timezone != "UTC" {
		t.Fatalf("Snapshot = %+v", snap)
	}
	if len(snap.Schedules) != 2 {
		t.Fatalf("Schedules = %+v, want 2", snap.Schedules)
	}
	if got := snap.Schedules[0]; got.Name != "digest" || got.Spec != "30 9 * * *" || got.Next.IsZero() {
		t.Fatalf("digest = %+v", got)
	}
	if got := snap.Schedules[1]; got.Spec != "@every 5m0s" {
		t.Fatalf("tick spec = %q", got.Spec)
	}

	if !s.Remove("tick") || s.Remove("tick") {
		t.Fatal("Remove should report true once")
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{}, logx.Nop(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	st := &runState{}
	job := s.wrap("digest", 0, func(ctx context.Context) error {
		close(started)
		<-release
		return errors.New("boom")
	}, st)

	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	<-started

	job.Run() // overlaps, returns immediately
	if got := st.skipped.Load(); got != 1 {
		t.Fatalf("skipped = %d, want 1", got)
	}
	close(release)
	<-done

	if st.runs.Load() != 1 || st.failed.Load() != 1 {
		t.Fatalf("runs=%d failed=%d, want 1/1", st.runs.Load(), st.failed.Load())
	}
	want := []string{EventRunSkipped, EventRunFailed}
	for _, typ := range want {
		select {
		case ev := <-events:
			if ev.Type != typ {
				t.Fatalf("event = %s, want %s", ev.Type, typ)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %s", typ)
		}
	}
}

func TestRunRecoversPanicAndHonorsTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	st := &runState{}
	s.wrap("panics", 0, func(context.Context) error { panic("bad") }, st).Run()
	if st.failed.Load() != 1 || st.running.Load() {
		t.Fatalf("panic run: failed=%d running=%v", st.failed.Load(), st.running.Load())
	}

	var got error
	s.wrap("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		got = ctx.Err()
		return got
	}, &runState{}).Run()
	if !errors.Is(got, context.DeadlineExceeded) {
		t.Fatalf("ctx err = %v, want deadline exceeded", got)
	}
}

func TestStopCancelsRunningJobsAfterDeadline(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	finished := make(chan error, 1)
	job := s.wrap("long", 0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
		return ctx.Err()
	}, &runState{})
	go job.Run()
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Stop(stopCtx)

	select {
	case err := <-finished:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("job ctx err = %v, want canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("running job was not cancelled by Stop")
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in string
		ok bool
	}{
		{"* * * * *", true},
		{"0 */5 * * * *", true},
		{"@daily", true},
		{"90s", true},
		{"02:30", true},
		{"every tuesday", false},
		{"* * *", false},
		{"@fortnightly", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateSchedule(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("ValidateSchedule(%q) = %v, want ok=%v", tt.in, err, tt.ok)
		}
	}
}
