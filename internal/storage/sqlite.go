package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"channelwatch/internal/model"
	"channelwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: sweeps write from several goroutines, and every
	// connection to ":memory:" would otherwise be a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ListSubscriptions returns every stored subscription.
func (s *SQLite) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feed_id, destination, owner, label, last_seen_item_id, last_seen_at, created_at, updated_at
		 FROM subscriptions ORDER BY feed_id, destination`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SaveSubscription inserts or overwrites a subscription.
func (s *SQLite) SaveSubscription(ctx context.Context, sub *model.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (feed_id, destination, owner, label, last_seen_item_id, last_seen_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (feed_id, destination) DO UPDATE SET
		   owner = excluded.owner,
		   label = excluded.label,
		   last_seen_item_id = excluded.last_seen_item_id,
		   last_seen_at = excluded.last_seen_at,
		   updated_at = excluded.updated_at`,
		string(sub.FeedID), string(sub.Destination), sub.Owner, sub.Label,
		nullString(sub.LastSeenItemID), formatTime(sub.LastSeenAt),
		sub.CreatedAt.UTC().Format(timeLayout), sub.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// SetLastSeen advances the dedup cursor of an existing subscription.
func (s *SQLite) SetLastSeen(ctx context.Context, feedID model.FeedID, dest model.Destination, itemID string) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_seen_item_id = ?, last_seen_at = ?, updated_at = ?
		 WHERE feed_id = ? AND destination = ?`,
		itemID, now, now, string(feedID), string(dest),
	)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscription %s -> %s: %w", feedID, dest, model.ErrNotFound)
	}
	return nil
}

// DeleteSubscription removes a subscription. Deleting a missing record is not an error.
func (s *SQLite) DeleteSubscription(ctx context.Context, feedID model.FeedID, dest model.Destination) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE feed_id = ? AND destination = ?`,
		string(feedID), string(dest),
	)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubscription(row scannable) (model.Subscription, error) {
	var sub model.Subscription
	var feedID, dest, created, updated string
	var lastSeen, lastSeenAt sql.NullString
	err := row.Scan(&feedID, &dest, &sub.Owner, &sub.Label, &lastSeen, &lastSeenAt, &created, &updated)
	if err != nil {
		return sub, fmt.Errorf("scan subscription: %w", err)
	}
	sub.FeedID = model.FeedID(feedID)
	sub.Destination = model.Destination(dest)
	sub.LastSeenItemID = lastSeen.String
	if lastSeenAt.Valid {
		t, err := time.Parse(timeLayout, lastSeenAt.String)
		if err != nil {
			return sub, fmt.Errorf("subscription %s -> %s: last_seen_at: %w", feedID, dest, err)
		}
		sub.LastSeenAt = &t
	}
	if sub.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return sub, fmt.Errorf("subscription %s -> %s: created_at: %w", feedID, dest, err)
	}
	if sub.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return sub, fmt.Errorf("subscription %s -> %s: updated_at: %w", feedID, dest, err)
	}
	return sub, nil
}
