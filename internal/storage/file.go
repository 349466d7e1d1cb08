package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"channelwatch/internal/model"
)

// JSONFile implements Storage as a single JSON document keyed by feed ID
// then destination. Every mutation rewrites the whole file through a
// temporary file and a rename, so a crash leaves either the old or the new
// document on disk.
type JSONFile struct {
	path string

	mu   sync.Mutex
	data map[model.FeedID]map[model.Destination]fileRecord
}

type fileRecord struct {
	Owner          string     `json:"owner,omitempty"`
	Label          string     `json:"label,omitempty"`
	LastSeenItemID string     `json:"last_seen_item_id,omitempty"`
	LastSeenAt     *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewJSONFile loads the document at path, creating an empty one if it does
// not exist yet.
func NewJSONFile(path string) (*JSONFile, error) {
	s := &JSONFile{
		path: path,
		data: map[model.FeedID]map[model.Destination]fileRecord{},
	}

	raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied state path
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := s.writeLocked(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("decode state file %s: %w", path, err)
		}
	}
	return s, nil
}

// Close is a no-op; every write is already flushed.
func (s *JSONFile) Close() error {
	return nil
}

// ListSubscriptions returns every stored subscription ordered by key.
func (s *JSONFile) ListSubscriptions(_ context.Context) ([]model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subs []model.Subscription
	for feedID, byDest := range s.data {
		for dest, rec := range byDest {
			subs = append(subs, model.Subscription{
				FeedID:         feedID,
				Destination:    dest,
				Owner:          rec.Owner,
				Label:          rec.Label,
				LastSeenItemID: rec.LastSeenItemID,
				LastSeenAt:     rec.LastSeenAt,
				CreatedAt:      rec.CreatedAt,
				UpdatedAt:      rec.UpdatedAt,
			})
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].FeedID != subs[j].FeedID {
			return subs[i].FeedID < subs[j].FeedID
		}
		return subs[i].Destination < subs[j].Destination
	})
	return subs, nil
}

// SaveSubscription inserts or overwrites a subscription.
func (s *JSONFile) SaveSubscription(_ context.Context, sub *model.Subscription) error {
	now := time.Now().UTC().Truncate(time.Second)
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadFeed := s.data[sub.FeedID]
	var prevRec fileRecord
	var hadRec bool
	if hadFeed {
		prevRec, hadRec = prev[sub.Destination]
	} else {
		s.data[sub.FeedID] = map[model.Destination]fileRecord{}
	}
	s.data[sub.FeedID][sub.Destination] = fileRecord{
		Owner:          sub.Owner,
		Label:          sub.Label,
		LastSeenItemID: sub.LastSeenItemID,
		LastSeenAt:     sub.LastSeenAt,
		CreatedAt:      sub.CreatedAt,
		UpdatedAt:      sub.UpdatedAt,
	}

	if err := s.writeLocked(); err != nil {
		switch {
		case !hadFeed:
			delete(s.data, sub.FeedID)
		case hadRec:
			s.data[sub.FeedID][sub.Destination] = prevRec
		default:
			delete(s.data[sub.FeedID], sub.Destination)
		}
		return err
	}
	return nil
}

// SetLastSeen advances the dedup cursor of an existing subscription.
func (s *JSONFile) SetLastSeen(_ context.Context, feedID model.FeedID, dest model.Destination, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[feedID][dest]
	if !ok {
		return fmt.Errorf("subscription %s -> %s: %w", feedID, dest, model.ErrNotFound)
	}
	prev := rec
	now := time.Now().UTC().Truncate(time.Second)
	rec.LastSeenItemID = itemID
	rec.LastSeenAt = &now
	rec.UpdatedAt = now
	s.data[feedID][dest] = rec

	if err := s.writeLocked(); err != nil {
		s.data[feedID][dest] = prev
		return err
	}
	return nil
}

// DeleteSubscription removes a subscription. Deleting a missing record is not an error.
func (s *JSONFile) DeleteSubscription(_ context.Context, feedID model.FeedID, dest model.Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[feedID][dest]
	if !ok {
		return nil
	}
	delete(s.data[feedID], dest)
	emptied := len(s.data[feedID]) == 0
	if emptied {
		delete(s.data, feedID)
	}

	if err := s.writeLocked(); err != nil {
		if emptied {
			s.data[feedID] = map[model.Destination]fileRecord{}
		}
		s.data[feedID][dest] = rec
		return err
	}
	return nil
}

func (s *JSONFile) writeLocked() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
