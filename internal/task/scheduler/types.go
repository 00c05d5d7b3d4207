package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pulsebot/internal/eventbus"
	logx "pulsebot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
}

// Job is one scheduled run. ctx ends on timeout or Stop.
type Job func(ctx context.Context) error

const (
	EventRunSkipped  = "scheduler.run.skipped"
	EventRunFinished = "scheduler.run.finished"
	EventRunFailed   = "scheduler.run.failed"
)

// RunEvent is the Data of scheduler bus events.
type RunEvent struct {
	Schedule string
	Took     time.Duration
	Err      error
}

// runState is shared by every trigger of one schedule.
type runState struct {
	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	state         *runState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	base   context.Context
	cancel context.CancelFunc

	// Skip warnings are throttled per schedule.
	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
	Runs    uint64
	Skipped uint64
	Failed  uint64
}

type Snapshot struct {
	Enabled   bool
	Started   bool
	Timezone  string
	Schedules []ScheduleInfo
}
