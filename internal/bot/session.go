package bot

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// pendingKind is the reply a user owes after a settings prompt.
type pendingKind int

const (
	pendingNone pendingKind = iota
	pendingTime
	pendingTopics
	pendingTimezone
)

func (k pendingKind) String() string {
	switch k {
	case pendingTime:
		return "time"
	case pendingTopics:
		return "topics"
	case pendingTimezone:
		return "timezone"
	default:
		return "none"
	}
}

type pendingEntry struct {
	kind pendingKind
	at   time.Time
}

// sessions is a bounded per-user store of pending prompts. The least recently
// prompted users are evicted first.
type sessions struct {
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

func newSessions(size int, ttl time.Duration, now func() time.Time) *sessions {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New(size)
	if err != nil {
		// Only a non-positive size errors.
		panic(err)
	}
	return &sessions{cache: c, ttl: ttl, now: now}
}

func (s *sessions) set(userID string, kind pendingKind) {
	s.cache.Add(userID, pendingEntry{kind: kind, at: s.now()})
}

// take returns and clears the pending prompt for userID. Expired prompts are
// dropped and reported as none.
func (s *sessions) take(userID string) pendingKind {
	v, ok := s.cache.Get(userID)
	if !ok {
		return pendingNone
	}
	s.cache.Remove(userID)
	e := v.(pendingEntry)
	if s.ttl > 0 && s.now().Sub(e.at) > s.ttl {
		return pendingNone
	}
	return e.kind
}

func (s *sessions) clear(userID string) { s.cache.Remove(userID) }

// cooldown suppresses repeats of one action per user inside a window.
type cooldown struct {
	mu     sync.Mutex
	cache  *lru.Cache
	window time.Duration
	now    func() time.Time
}

func newCooldown(size int, window time.Duration, now func() time.Time) *cooldown {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &cooldown{cache: c, window: window, now: now}
}

// allow reports whether userID may run the action now, and if so starts a
// new window.
func (c *cooldown) allow(userID string) bool {
	if c.window <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if v, ok := c.cache.Get(userID); ok && now.Sub(v.(time.Time)) < c.window {
		return false
	}
	c.cache.Add(userID, now)
	return true
}
