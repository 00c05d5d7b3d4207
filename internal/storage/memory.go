package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"pulsebot/internal/generation"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu         sync.RWMutex
	closed     bool
	users      map[string]User
	deliveries []Delivery
}

func NewMemory() Store {
	return &memoryStore{users: map[string]User{}}
}

func cloneUser(u User) User {
	u.Topics = slices.Clone(u.Topics)
	return u
}

func cloneDelivery(d Delivery) Delivery {
	d.Topics = slices.Clone(d.Topics)
	d.Insights = slices.Clone(d.Insights)
	return d
}

func (s *memoryStore) UpsertUser(ctx context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return User{}, ErrClosed
	}
	if cur, ok := s.users[u.ID]; ok {
		cur.Name = u.Name
		cur.Active = true
		s.users[u.ID] = cur
		return cloneUser(cur), nil
	}
	if u.Joined.IsZero() {
		u.Joined = time.Now().UTC()
	}
	u.Active = true
	s.users[u.ID] = cloneUser(u)
	return cloneUser(u), nil
}

func (s *memoryStore) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return User{}, ErrClosed
	}
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *memoryStore) update(id string, fn func(u *User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(&u)
	s.users[id] = u
	return nil
}

func (s *memoryStore) UpdateDailyTime(ctx context.Context, id, hhmm string) error {
	return s.update(id, func(u *User) { u.DailyTime = hhmm })
}

func (s *memoryStore) UpdateTopics(ctx context.Context, id string, topics []string) error {
	return s.update(id, func(u *User) { u.Topics = slices.Clone(topics) })
}

func (s *memoryStore) UpdateTimezone(ctx context.Context, id, tz string) error {
	return s.update(id, func(u *User) { u.Timezone = tz })
}

func (s *memoryStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.update(id, func(u *User) { u.Active = active })
}

func (s *memoryStore) ListActiveUsers(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		if u.Active {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) AppendDelivery(ctx context.Context, d Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}
	if d.Insights == nil {
		d.Insights = []generation.Insight{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.deliveries = append(s.deliveries, cloneDelivery(d))
	return nil
}

func (s *memoryStore) ListDeliveries(ctx context.Context, userID string, limit int) ([]Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Delivery
	for i := len(s.deliveries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if d := s.deliveries[i]; d.UserID == userID {
			out = append(out, cloneDelivery(d))
		}
	}
	return out, nil
}

func (s *memoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
