// Package registry holds the subscription registry: the in-memory source of
// truth for subscriptions and their dedup cursors, written through to a
// durable store.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"channelwatch/internal/model"
	"channelwatch/internal/storage"
)

type key struct {
	feedID model.FeedID
	dest   model.Destination
}

// Registry maps (feed, destination) to a Subscription. A single mutex guards
// the whole map; the request rate is low and sweeps only hold it briefly.
type Registry struct {
	store storage.Storage
	log   *slog.Logger

	mu   sync.Mutex
	subs map[key]model.Subscription
}

// New creates an empty Registry backed by store. Call Load before use.
func New(store storage.Storage, log *slog.Logger) *Registry {
	return &Registry{
		store: store,
		log:   log,
		subs:  make(map[key]model.Subscription),
	}
}

// Load replaces the in-memory state with the contents of the store.
func (r *Registry) Load(ctx context.Context) error {
	subs, err := r.store.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("%w: load subscriptions: %w", model.ErrPersistence, err)
	}

	loaded := make(map[key]model.Subscription, len(subs))
	for _, s := range subs {
		loaded[key{s.FeedID, s.Destination}] = s
	}

	r.mu.Lock()
	r.subs = loaded
	r.mu.Unlock()

	r.log.Info("registry loaded", "subscriptions", len(loaded))
	return nil
}

// Upsert creates or overwrites the subscription for (sub.FeedID,
// sub.Destination). An existing dedup cursor is kept unless resetCursor is
// set; sub.LastSeenItemID is ignored for existing records. The store is
// written first, so a failed write leaves the registry unchanged.
func (r *Registry) Upsert(ctx context.Context, sub model.Subscription, resetCursor bool) (model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{sub.FeedID, sub.Destination}
	if prev, ok := r.subs[k]; ok {
		sub.CreatedAt = prev.CreatedAt
		sub.LastSeenItemID = prev.LastSeenItemID
		sub.LastSeenAt = prev.LastSeenAt
	}
	if resetCursor {
		sub.LastSeenItemID = ""
		sub.LastSeenAt = nil
	}

	if err := r.store.SaveSubscription(ctx, &sub); err != nil {
		return model.Subscription{}, fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	r.subs[k] = sub
	return sub, nil
}

// Get returns copies of all subscriptions bound to feedID, ordered by destination.
func (r *Registry) Get(feedID model.FeedID) []model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Subscription
	for k, s := range r.subs {
		if k.feedID == feedID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out
}

// Lookup returns the subscription for (feedID, dest).
func (r *Registry) Lookup(feedID model.FeedID, dest model.Destination) (model.Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[key{feedID, dest}]
	return s, ok
}

// ForDestination returns copies of all subscriptions posting to dest, ordered by feed.
func (r *Registry) ForDestination(dest model.Destination) []model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Subscription
	for k, s := range r.subs {
		if k.dest == dest {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeedID < out[j].FeedID })
	return out
}

// DistinctFeedIDs returns each watched feed once, sorted.
func (r *Registry) DistinctFeedIDs() []model.FeedID {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[model.FeedID]struct{})
	for k := range r.subs {
		seen[k.feedID] = struct{}{}
	}
	ids := make([]model.FeedID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Advance moves the dedup cursor of (feedID, dest) to itemID. The in-memory
// cursor always advances; a failed store write is returned wrapped in
// model.ErrPersistence and leaves the disk cursor stale until the next
// successful write for that key. Advancing a removed subscription returns
// model.ErrNotFound.
func (r *Registry) Advance(ctx context.Context, feedID model.FeedID, dest model.Destination, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{feedID, dest}
	s, ok := r.subs[k]
	if !ok {
		return fmt.Errorf("subscription %s -> %s: %w", feedID, dest, model.ErrNotFound)
	}
	now := time.Now().UTC()
	s.LastSeenItemID = itemID
	s.LastSeenAt = &now
	s.UpdatedAt = now
	r.subs[k] = s

	if err := r.store.SetLastSeen(ctx, feedID, dest, itemID); err != nil {
		return fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	return nil
}

// Remove deletes the subscription for (feedID, dest). It reports whether a
// subscription existed.
func (r *Registry) Remove(ctx context.Context, feedID model.FeedID, dest model.Destination) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{feedID, dest}
	if _, ok := r.subs[k]; !ok {
		return false, nil
	}
	if err := r.store.DeleteSubscription(ctx, feedID, dest); err != nil {
		return false, fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	delete(r.subs, k)
	return true, nil
}
