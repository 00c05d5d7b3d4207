package storage

import (
	"context"
	"errors"
	"time"

	"pulsebot/internal/generation"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrClosed   = errors.New("storage closed")
)

const (
	DefaultDailyTime = "10:00"
	DefaultTimezone  = "UTC"
)

// DefaultTopics returns a fresh copy of the topics new users start with.
func DefaultTopics() []string { return []string{"AI", "Startups", "Health"} }

// Config configures storage.
//
// Driver values:
//   - "" or "memory": in-process maps
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// User is one subscriber, keyed by the Telegram user id.
type User struct {
	ID        string
	Name      string
	DailyTime string // "HH:MM" in Timezone
	Topics    []string
	Timezone  string // IANA name
	Joined    time.Time
	Active    bool
}

// NewUser returns a user with the default schedule and topics.
func NewUser(id, name string, now time.Time) User {
	return User{
		ID:        id,
		Name:      name,
		DailyTime: DefaultDailyTime,
		Topics:    DefaultTopics(),
		Timezone:  DefaultTimezone,
		Joined:    now.UTC(),
		Active:    true,
	}
}

// Delivery records one digest attempt.
type Delivery struct {
	ID        string
	UserID    string
	At        time.Time
	Delivered bool
	Topics    []string
	Insights  []generation.Insight
	Error     string
}

type Store interface {
	// UpsertUser creates u, or for an existing id refreshes the name and
	// reactivates it while keeping the saved schedule and topics. It returns
	// the stored user.
	UpsertUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)

	// The Update* and SetActive calls return ErrNotFound for unknown ids.
	UpdateDailyTime(ctx context.Context, id, hhmm string) error
	UpdateTopics(ctx context.Context, id string, topics []string) error
	UpdateTimezone(ctx context.Context, id, tz string) error
	SetActive(ctx context.Context, id string, active bool) error

	ListActiveUsers(ctx context.Context) ([]User, error)

	AppendDelivery(ctx context.Context, d Delivery) error
	// ListDeliveries returns up to limit entries for userID, newest first.
	ListDeliveries(ctx context.Context, userID string, limit int) ([]Delivery, error)

	Ping(ctx context.Context) error
	Close() error
}
