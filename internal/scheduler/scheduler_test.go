package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"channelwatch/internal/model"
	"channelwatch/internal/registry"
	"channelwatch/internal/storage"
	"channelwatch/internal/watch"
)

const (
	feedA = model.FeedID("UCaaaaaaaaaaaaaaaaaaaaaa")
	feedB = model.FeedID("UCbbbbbbbbbbbbbbbbbbbbbb")
)

type mockNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (m *mockNotifier) Send(_ context.Context, _ model.Destination, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.texts)
}

type mockFetcher struct {
	mu    sync.Mutex
	items map[model.FeedID]*model.FeedItem
	errs  map[model.FeedID]error
	calls map[model.FeedID]int

	// When set, FetchLatest signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		items: make(map[model.FeedID]*model.FeedItem),
		errs:  make(map[model.FeedID]error),
		calls: make(map[model.FeedID]int),
	}
}

func (m *mockFetcher) FetchLatest(ctx context.Context, feedID model.FeedID) (*model.FeedItem, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[feedID]++
	if err := m.errs[feedID]; err != nil {
		return nil, err
	}
	return m.items[feedID], nil
}

func (m *mockFetcher) set(feedID model.FeedID, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[feedID] = &model.FeedItem{ID: id, Title: "Video " + id, URL: "https://youtu.be/" + id}
}

type fixture struct {
	reg      *registry.Registry
	fetcher  *mockFetcher
	notifier *mockNotifier
	sched    *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(store, log)
	f := newMockFetcher()
	n := &mockNotifier{}
	engine := watch.NewEngine(n, reg, log)

	return &fixture{
		reg:      reg,
		fetcher:  f,
		notifier: n,
		sched:    New(reg, f, engine, log),
	}
}

func (fx *fixture) subscribe(t *testing.T, feedID model.FeedID, dest model.Destination) {
	t.Helper()
	if _, err := fx.reg.Upsert(context.Background(), model.Subscription{FeedID: feedID, Destination: dest}, false); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func ignoreDuration() cmp.Option {
	return cmpopts.IgnoreFields(Stats{}, "Duration")
}

func TestSweepNotifiesOnlyNewItems(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.subscribe(t, feedA, "telegram:1")

	steps := []struct {
		name      string
		latest    string
		wantStats Stats
		wantSent  int
	}{
		{name: "first sweep sets baseline", latest: "v1", wantStats: Stats{Feeds: 1, Result: watch.Result{Baselined: 1}}, wantSent: 0},
		{name: "new upload announced", latest: "v2", wantStats: Stats{Feeds: 1, Result: watch.Result{Notified: 1}}, wantSent: 1},
		{name: "unchanged feed is quiet", latest: "v2", wantStats: Stats{Feeds: 1}, wantSent: 1},
	}

	for _, st := range steps {
		fx.fetcher.set(feedA, st.latest)
		got, err := fx.sched.Sweep(ctx)
		if err != nil {
			t.Fatalf("%s: sweep: %v", st.name, err)
		}
		if diff := cmp.Diff(st.wantStats, got, ignoreDuration()); diff != "" {
			t.Errorf("%s: stats mismatch (-want +got):\n%s", st.name, diff)
		}
		if diff := cmp.Diff(st.wantSent, fx.notifier.count()); diff != "" {
			t.Errorf("%s: sent count mismatch (-want +got):\n%s", st.name, diff)
		}
	}
}

func TestSweepFetchesEachFeedOnce(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, feedA, "telegram:1")
	fx.subscribe(t, feedA, "telegram:2")
	fx.subscribe(t, feedA, "webhook:https://example.com/hook")
	fx.subscribe(t, feedB, "telegram:1")
	fx.fetcher.set(feedA, "a1")
	fx.fetcher.set(feedB, "b1")

	got, err := fx.sched.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	want := map[model.FeedID]int{feedA: 1, feedB: 1}
	if diff := cmp.Diff(want, fx.fetcher.calls); diff != "" {
		t.Errorf("fetch calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{Feeds: 2, Result: watch.Result{Baselined: 4}}, got, ignoreDuration()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestSweepIsolatesFeedErrors(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.subscribe(t, feedA, "telegram:1")
	fx.subscribe(t, feedB, "telegram:1")
	fx.fetcher.set(feedA, "a1")
	fx.fetcher.set(feedB, "b1")
	if _, err := fx.sched.Sweep(ctx); err != nil {
		t.Fatalf("baseline sweep: %v", err)
	}

	fx.fetcher.errs[feedA] = model.ErrUpstreamUnavailable
	fx.fetcher.set(feedB, "b2")

	got, err := fx.sched.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if diff := cmp.Diff(Stats{Feeds: 2, FetchErrors: 1, Result: watch.Result{Notified: 1}}, got, ignoreDuration()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	sub, _ := fx.reg.Lookup(feedA, "telegram:1")
	if diff := cmp.Diff("a1", sub.LastSeenItemID); diff != "" {
		t.Errorf("failed feed cursor must not move (-want +got):\n%s", diff)
	}
}

func TestSweepEmptyFeed(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, feedA, "telegram:1")

	got, err := fx.sched.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	want := Stats{Feeds: 1, Empty: 1, Result: watch.Result{Baselined: 1}}
	if diff := cmp.Diff(want, got, ignoreDuration()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	sub, _ := fx.reg.Lookup(feedA, "telegram:1")
	if diff := cmp.Diff(model.EmptyFeedCursor, sub.LastSeenItemID); diff != "" {
		t.Errorf("cursor mismatch (-want +got):\n%s", diff)
	}
}

func TestSweepAnnouncesFirstUploadOfEmptyFeed(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.subscribe(t, feedA, "telegram:1")

	steps := []struct {
		name      string
		latest    string
		wantStats Stats
		wantSent  int
	}{
		{name: "empty feed observed", wantStats: Stats{Feeds: 1, Empty: 1, Result: watch.Result{Baselined: 1}}, wantSent: 0},
		{name: "still empty", wantStats: Stats{Feeds: 1, Empty: 1}, wantSent: 0},
		{name: "first upload announced", latest: "v1", wantStats: Stats{Feeds: 1, Result: watch.Result{Notified: 1}}, wantSent: 1},
		{name: "unchanged feed is quiet", latest: "v1", wantStats: Stats{Feeds: 1}, wantSent: 1},
	}

	for _, st := range steps {
		if st.latest != "" {
			fx.fetcher.set(feedA, st.latest)
		}
		got, err := fx.sched.Sweep(ctx)
		if err != nil {
			t.Fatalf("%s: sweep: %v", st.name, err)
		}
		if diff := cmp.Diff(st.wantStats, got, ignoreDuration()); diff != "" {
			t.Errorf("%s: stats mismatch (-want +got):\n%s", st.name, diff)
		}
		if diff := cmp.Diff(st.wantSent, fx.notifier.count()); diff != "" {
			t.Errorf("%s: sent count mismatch (-want +got):\n%s", st.name, diff)
		}
	}
}

func TestSweepDoesNotOverlap(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, feedA, "telegram:1")
	fx.fetcher.set(feedA, "v1")
	fx.fetcher.entered = make(chan struct{}, 1)
	fx.fetcher.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := fx.sched.Sweep(context.Background())
		done <- err
	}()

	select {
	case <-fx.fetcher.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first sweep never fetched")
	}

	if _, err := fx.sched.Sweep(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("expected ErrSweepInProgress, got %v", err)
	}

	close(fx.fetcher.release)
	if err := <-done; err != nil {
		t.Fatalf("first sweep: %v", err)
	}

	// A sweep can start again once the previous one finished.
	fx.fetcher.entered = nil
	if _, err := fx.sched.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep after finish: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, feedA, "telegram:1")
	fx.fetcher.set(feedA, "v1")
	fx.fetcher.entered = make(chan struct{}, 1)
	fx.fetcher.release = make(chan struct{})
	close(fx.fetcher.release)
	fx.sched.SetInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.sched.Run(ctx) }()

	select {
	case <-fx.fetcher.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("initial sweep did not run")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSetSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: "*/5 * * * *"},
		{expr: "@hourly"},
		{expr: "@every 2m"},
		{expr: "not a schedule", wantErr: true},
		{expr: "* * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s := New(nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
			err := s.SetSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			want := tt.expr
			if tt.wantErr {
				want = every(DefaultInterval)
			}
			if diff := cmp.Diff(want, s.Schedule()); diff != "" {
				t.Errorf("schedule mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
