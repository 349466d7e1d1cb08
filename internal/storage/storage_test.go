package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"channelwatch/internal/model"
)

var ignoreTimestamps = cmpopts.IgnoreFields(model.Subscription{}, "CreatedAt", "UpdatedAt", "LastSeenAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestFile(t *testing.T) *JSONFile {
	t.Helper()
	s, err := NewJSONFile(filepath.Join(t.TempDir(), "state", "subscriptions.json"))
	if err != nil {
		t.Fatalf("new json file: %v", err)
	}
	return s
}

func drivers() map[string]func(t *testing.T) Storage {
	return map[string]func(t *testing.T) Storage{
		"sqlite": func(t *testing.T) Storage { return newTestDB(t) },
		"json":   func(t *testing.T) Storage { return newTestFile(t) },
	}
}

func TestSaveAndList(t *testing.T) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			subs := []model.Subscription{
				{FeedID: "UCbbbbbbbbbbbbbbbbbbbbbb", Destination: "telegram:2", Owner: "@bob", Label: "@b"},
				{FeedID: "UCaaaaaaaaaaaaaaaaaaaaaa", Destination: "telegram:1", Owner: "@alice", Label: "@a"},
				{FeedID: "UCaaaaaaaaaaaaaaaaaaaaaa", Destination: "webhook:https://example.com/hook", LastSeenItemID: "vid1"},
			}
			for i := range subs {
				if err := s.SaveSubscription(ctx, &subs[i]); err != nil {
					t.Fatalf("save %d: %v", i, err)
				}
				if subs[i].CreatedAt.IsZero() || subs[i].UpdatedAt.IsZero() {
					t.Errorf("save %d: timestamps not populated", i)
				}
			}

			got, err := s.ListSubscriptions(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			want := []model.Subscription{subs[1], subs[2], subs[0]}
			if diff := cmp.Diff(want, got, ignoreTimestamps); diff != "" {
				t.Errorf("ListSubscriptions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSaveOverwritesSameKey(t *testing.T) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			sub := model.Subscription{FeedID: "UCaaaaaaaaaaaaaaaaaaaaaa", Destination: "telegram:1", Owner: "@old", LastSeenItemID: "v1"}
			if err := s.SaveSubscription(ctx, &sub); err != nil {
				t.Fatalf("save: %v", err)
			}
			created := sub.CreatedAt

			sub.Owner = "@new"
			if err := s.SaveSubscription(ctx, &sub); err != nil {
				t.Fatalf("save again: %v", err)
			}

			got, err := s.ListSubscriptions(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("expected 1 subscription, got %d", len(got))
			}
			if diff := cmp.Diff("@new", got[0].Owner); diff != "" {
				t.Errorf("owner mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff("v1", got[0].LastSeenItemID); diff != "" {
				t.Errorf("cursor mismatch (-want +got):\n%s", diff)
			}
			if !got[0].CreatedAt.Equal(created.Truncate(time.Second)) {
				t.Errorf("CreatedAt changed: %v -> %v", created, got[0].CreatedAt)
			}
		})
	}
}

func TestSetLastSeen(t *testing.T) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			sub := model.Subscription{FeedID: "UCaaaaaaaaaaaaaaaaaaaaaa", Destination: "telegram:1"}
			if err := s.SaveSubscription(ctx, &sub); err != nil {
				t.Fatalf("save: %v", err)
			}
			if err := s.SetLastSeen(ctx, sub.FeedID, sub.Destination, "v2"); err != nil {
				t.Fatalf("set last seen: %v", err)
			}

			got, err := s.ListSubscriptions(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if diff := cmp.Diff("v2", got[0].LastSeenItemID); diff != "" {
				t.Errorf("cursor mismatch (-want +got):\n%s", diff)
			}
			if got[0].LastSeenAt == nil {
				t.Error("expected LastSeenAt to be set")
			}

			err = s.SetLastSeen(ctx, "UCmissingmissingmissing0", "telegram:1", "v1")
			if !errors.Is(err, model.ErrNotFound) {
				t.Errorf("expected ErrNotFound for missing subscription, got %v", err)
			}
		})
	}
}

func TestDeleteSubscription(t *testing.T) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			a := model.Subscription{FeedID: "UCaaaaaaaaaaaaaaaaaaaaaa", Destination: "telegram:1"}
			b := model.Subscription{FeedID: "UCaaaaaaaaaaaaaaaaaaaaaa", Destination: "telegram:2"}
			for _, sub := range []*model.Subscription{&a, &b} {
				if err := s.SaveSubscription(ctx, sub); err != nil {
					t.Fatalf("save: %v", err)
				}
			}

			if err := s.DeleteSubscription(ctx, a.FeedID, a.Destination); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := s.DeleteSubscription(ctx, a.FeedID, a.Destination); err != nil {
				t.Fatalf("delete missing: %v", err)
			}

			got, err := s.ListSubscriptions(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			want := []model.Subscription{b}
			if diff := cmp.Diff(want, got, ignoreTimestamps); diff != "" {
				t.Errorf("after delete mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSQLiteRejectsCorruptTimestamps(t *testing.T) {
	tests := []struct {
		column string
		value  string
	}{
		{column: "last_seen_at", value: "yesterday"},
		{column: "created_at", value: "2026-13-45"},
		{column: "updated_at", value: ""},
	}

	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			ctx := context.Background()
			s := newTestDB(t)
			seen := time.Now()
			sub := model.Subscription{FeedID: "UCaaaaaaaaaaaaaaaaaaaaaa", Destination: "telegram:1", LastSeenItemID: "v1", LastSeenAt: &seen}
			if err := s.SaveSubscription(ctx, &sub); err != nil {
				t.Fatalf("save: %v", err)
			}
			if _, err := s.db.ExecContext(ctx, "UPDATE subscriptions SET "+tt.column+" = ?", tt.value); err != nil {
				t.Fatalf("corrupt %s: %v", tt.column, err)
			}
			if _, err := s.ListSubscriptions(ctx); err == nil {
				t.Fatalf("expected error for corrupt %s", tt.column)
			}
		})
	}
}

func TestJSONFileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subscriptions.json")

	s, err := NewJSONFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sub := model.Subscription{FeedID: "UCaaaaaaaaaaaaaaaaaaaaaa", Destination: "telegram:1", Owner: "@alice"}
	if err := s.SaveSubscription(ctx, &sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SetLastSeen(ctx, sub.FeedID, sub.Destination, "v9"); err != nil {
		t.Fatalf("set last seen: %v", err)
	}

	reopened, err := NewJSONFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []model.Subscription{{FeedID: sub.FeedID, Destination: sub.Destination, Owner: "@alice", LastSeenItemID: "v9"}}
	if diff := cmp.Diff(want, got, ignoreTimestamps); diff != "" {
		t.Errorf("reopened state mismatch (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
}

func TestJSONFileRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewJSONFile(path); err == nil {
		t.Fatal("expected error for corrupt state file")
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		path    string
		wantErr bool
	}{
		{name: "default is sqlite", driver: "", path: ":memory:"},
		{name: "sqlite", driver: "sqlite", path: ":memory:"},
		{name: "json", driver: "JSON", path: filepath.Join(t.TempDir(), "s.json")},
		{name: "unknown", driver: "redis", path: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.driver, tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_ = s.Close()
		})
	}
}
