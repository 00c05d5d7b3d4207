package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pulsebot/internal/generation"
	logx "pulsebot/pkg/logx"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway and pragmas are per
	// connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite storage ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	for _, r := range results {
		s.log.Info("migration applied", logx.String("file", filepath.Base(r.Source.Path)), logx.Duration("took", r.Duration))
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

const userColumns = `id, name, daily_time, topics, timezone, joined, active`

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) (User, error) {
	if u.Joined.IsZero() {
		u.Joined = time.Now().UTC()
	}
	topics, err := json.Marshal(nonNil(u.Topics))
	if err != nil {
		return User{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users(`+userColumns+`) VALUES(?,?,?,?,?,?,1)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, active=1`,
		u.ID, u.Name, u.DailyTime, string(topics), u.Timezone, u.Joined.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return User{}, err
	}
	return s.GetUser(ctx, u.ID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u      User
		topics string
		joined string
		active int
	)
	if err := row.Scan(&u.ID, &u.Name, &u.DailyTime, &topics, &u.Timezone, &joined, &active); err != nil {
		return User{}, err
	}
	if err := json.Unmarshal([]byte(topics), &u.Topics); err != nil {
		return User{}, fmt.Errorf("user %s topics: %w", u.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, joined)
	if err != nil {
		return User{}, fmt.Errorf("user %s joined: %w", u.ID, err)
	}
	u.Joined = t
	u.Active = active != 0
	return u, nil
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *sqliteStore) exec1(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) UpdateDailyTime(ctx context.Context, id, hhmm string) error {
	return s.exec1(ctx, `UPDATE users SET daily_time = ? WHERE id = ?`, hhmm, id)
}

func (s *sqliteStore) UpdateTopics(ctx context.Context, id string, topics []string) error {
	b, err := json.Marshal(nonNil(topics))
	if err != nil {
		return err
	}
	return s.exec1(ctx, `UPDATE users SET topics = ? WHERE id = ?`, string(b), id)
}

func (s *sqliteStore) UpdateTimezone(ctx context.Context, id, tz string) error {
	return s.exec1(ctx, `UPDATE users SET timezone = ? WHERE id = ?`, tz, id)
}

func (s *sqliteStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec1(ctx, `UPDATE users SET active = ? WHERE id = ?`, boolInt(active), id)
}

func (s *sqliteStore) ListActiveUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, d Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}
	topics, err := json.Marshal(nonNil(d.Topics))
	if err != nil {
		return err
	}
	insights := d.Insights
	if insights == nil {
		insights = []generation.Insight{}
	}
	ib, err := json.Marshal(insights)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deliveries(id, user_id, at, delivered, topics, insights, error) VALUES(?,?,?,?,?,?,?)`,
		d.ID, d.UserID, d.At.UTC().Format(time.RFC3339Nano), boolInt(d.Delivered), string(topics), string(ib), nullStr(d.Error),
	)
	return err
}

func (s *sqliteStore) ListDeliveries(ctx context.Context, userID string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, at, delivered, topics, insights, error FROM deliveries
		 WHERE user_id = ? ORDER BY at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d               Delivery
			at, topics, ins string
			delivered       int
			errText         sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.UserID, &at, &delivered, &topics, &ins, &errText); err != nil {
			return nil, err
		}
		if d.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(topics), &d.Topics); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ins), &d.Insights); err != nil {
			return nil, err
		}
		d.Delivered = delivered != 0
		d.Error = errText.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
