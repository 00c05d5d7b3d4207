package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pulsebot/internal/generation"
	logx "pulsebot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drivers(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			st, err := Open(Config{}, logx.Nop())
			require.NoError(t, err)
			return st
		},
		"sqlite": func(t *testing.T) Store {
			path := filepath.Join(t.TempDir(), "data", "pulsebot.db")
			st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
			require.NoError(t, err)
			return st
		},
	}
}

func forEachDriver(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()
	for name, open := range drivers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st := open(t)
			t.Cleanup(func() { _ = st.Close() })
			fn(t, st)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "firestore"}, logx.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")

	_, err = Open(Config{Driver: "sqlite"}, logx.Nop())
	assert.ErrorContains(t, err, "path is required")
}

func TestUpsertKeepsSettings(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		joined := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

		u, err := st.UpsertUser(ctx, NewUser("42", "Ana", joined))
		require.NoError(t, err)
		assert.Equal(t, DefaultDailyTime, u.DailyTime)
		assert.Equal(t, DefaultTopics(), u.Topics)
		assert.True(t, u.Active)
		assert.True(t, joined.Equal(u.Joined))

		require.NoError(t, st.UpdateDailyTime(ctx, "42", "07:30"))
		require.NoError(t, st.UpdateTopics(ctx, "42", []string{"Fintech"}))
		require.NoError(t, st.SetActive(ctx, "42", false))

		again, err := st.UpsertUser(ctx, NewUser("42", "Ana B", time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "Ana B", again.Name)
		assert.Equal(t, "07:30", again.DailyTime)
		assert.Equal(t, []string{"Fintech"}, again.Topics)
		assert.True(t, again.Active, "upsert reactivates")
		assert.True(t, joined.Equal(again.Joined), "joined is kept")
	})
}

func TestUpdatesUnknownUser(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		_, err := st.GetUser(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, st.UpdateDailyTime(ctx, "nope", "09:00"), ErrNotFound)
		assert.ErrorIs(t, st.UpdateTopics(ctx, "nope", []string{"AI"}), ErrNotFound)
		assert.ErrorIs(t, st.UpdateTimezone(ctx, "nope", "UTC"), ErrNotFound)
		assert.ErrorIs(t, st.SetActive(ctx, "nope", false), ErrNotFound)
	})
}

func TestListActiveUsers(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		for _, id := range []string{"3", "1", "2"} {
			_, err := st.UpsertUser(ctx, NewUser(id, "u"+id, time.Now()))
			require.NoError(t, err)
		}
		require.NoError(t, st.SetActive(ctx, "2", false))
		require.NoError(t, st.UpdateTimezone(ctx, "3", "Asia/Jakarta"))

		users, err := st.ListActiveUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "1", users[0].ID)
		assert.Equal(t, "3", users[1].ID)
		assert.Equal(t, "Asia/Jakarta", users[1].Timezone)
	})
}

func TestReturnedTopicsAreCopies(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		u, err := st.UpsertUser(ctx, NewUser("1", "a", time.Now()))
		require.NoError(t, err)
		u.Topics[0] = "mutated"

		got, err := st.GetUser(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, DefaultTopics(), got.Topics)
	})
}

func TestDeliveries(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, st.AppendDelivery(ctx, Delivery{
			UserID:    "7",
			At:        base,
			Delivered: true,
			Topics:    []string{"AI"},
			Insights:  []generation.Insight{{Topic: "AI", Headline: "H", Idea: "I"}},
		}))
		require.NoError(t, st.AppendDelivery(ctx, Delivery{
			UserID: "7",
			At:     base.Add(24 * time.Hour),
			Topics: []string{"AI"},
			Error:  "failed to generate content",
		}))
		require.NoError(t, st.AppendDelivery(ctx, Delivery{UserID: "8", At: base}))

		got, err := st.ListDeliveries(ctx, "7", 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.False(t, got[0].Delivered)
		assert.Equal(t, "failed to generate content", got[0].Error)
		assert.True(t, got[1].Delivered)
		assert.Equal(t, []generation.Insight{{Topic: "AI", Headline: "H", Idea: "I"}}, got[1].Insights)
		assert.NotEmpty(t, got[1].ID)
		assert.NotEqual(t, got[0].ID, got[1].ID)

		latest, err := st.ListDeliveries(ctx, "7", 1)
		require.NoError(t, err)
		require.Len(t, latest, 1)
		assert.True(t, base.Add(24*time.Hour).Equal(latest[0].At))
	})
}

func TestPingAndClose(t *testing.T) {
	t.Parallel()
	for name, open := range drivers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st := open(t)
			require.NoError(t, st.Ping(context.Background()))
			require.NoError(t, st.Close())
			assert.Error(t, st.Ping(context.Background()))
		})
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pulsebot.db")
	cfg := Config{Driver: "sqlite", Path: path}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	_, err = st.UpsertUser(context.Background(), NewUser("1", "a", time.Now()))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	// Migrations must be idempotent across restarts.
	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	u, err := st.GetUser(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "a", u.Name)
}
