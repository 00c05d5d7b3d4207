package queue

import "time"

const (
	DefaultMaxRetries      = 5
	DefaultInitialDelay    = time.Second
	DefaultMaxDelay        = time.Minute
	DefaultBackoffFactor   = 2.0
	DefaultPacing          = 200 * time.Millisecond
	DefaultThrottledStatus = 429
	DefaultHistorySize     = 100
)

// Config is the retry and pacing policy.
//
// Zero values take the defaults above. A negative Pacing disables the
// inter-task pause.
type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Pacing        time.Duration

	// ThrottledStatus is the status code that marks an attempt as throttled
	// when the action attaches one with WithStatus.
	ThrottledStatus int

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = DefaultBackoffFactor
	}
	if c.Pacing == 0 {
		c.Pacing = DefaultPacing
	}
	if c.Pacing < 0 {
		c.Pacing = 0
	}
	if c.ThrottledStatus <= 0 {
		c.ThrottledStatus = DefaultThrottledStatus
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// DefaultConfig returns the effective policy when nothing is configured.
func DefaultConfig() Config { return Config{}.withDefaults() }

// throttled reports whether a failed attempt should be retried.
func (c Config) throttled(err error) bool {
	return IsThrottled(err) || (c.ThrottledStatus > 0 && StatusOf(err) == c.ThrottledStatus)
}

// nextDelay grows d by the backoff factor, capped at MaxDelay.
func (c Config) nextDelay(d time.Duration) time.Duration {
	next := float64(d) * c.BackoffFactor
	if next >= float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(next)
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is the payload of queue events on the bus.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempt    int           `json:"attempt"`
	Delay      time.Duration `json:"delay,omitempty"`
	Error      string        `json:"error,omitempty"`
}

const (
	EventStarted   = "queue.task.started"
	EventThrottled = "queue.task.throttled"
	EventFinished  = "queue.task.finished"
	EventFailed    = "queue.task.failed"
)

// Snapshot is a point-in-time view for /health.
type Snapshot struct {
	Pending  int  `json:"pending"`
	Draining bool `json:"draining"`
	Closed   bool `json:"closed"`

	Submitted uint64 `json:"submitted"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Throttled uint64 `json:"throttled"`
	Exhausted uint64 `json:"exhausted"`

	MaxRetries    int           `json:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	Pacing        time.Duration `json:"pacing"`

	History []HistoryItem `json:"history"`
}
