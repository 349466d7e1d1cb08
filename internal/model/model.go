// Package model defines the domain types used across the application.
package model

import (
	"errors"
	"strings"
	"time"
)

// Error taxonomy shared by the resolver, fetchers, registry and engine.
var (
	// ErrNotFound means a user-supplied reference does not resolve to a feed,
	// or a subscription does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable covers network, auth, quota and timeout failures
	// of the upstream source. It is transient.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotifierFailed wraps a failed delivery to a destination.
	ErrNotifierFailed = errors.New("notifier failed")
	// ErrPersistence wraps a failed write to the durable store.
	ErrPersistence = errors.New("persistence error")
)

// FeedID is the canonical identifier of an upstream feed. It is stable
// across renames of the channel handle.
type FeedID string

// Destination is an opaque notification target of the form "<scheme>:<target>",
// e.g. "telegram:-100123" or "webhook:https://example.com/hook".
type Destination string

// Destination schemes understood by the notifiers.
const (
	SchemeTelegram = "telegram"
	SchemeWebhook  = "webhook"
)

// NewDestination joins a scheme and a target.
func NewDestination(scheme, target string) Destination {
	return Destination(scheme + ":" + target)
}

// Scheme returns the part before the first colon.
func (d Destination) Scheme() string {
	scheme, _, _ := strings.Cut(string(d), ":")
	return scheme
}

// Target returns the part after the first colon.
func (d Destination) Target() string {
	_, target, _ := strings.Cut(string(d), ":")
	return target
}

// Subscription binds a feed to a destination and carries its dedup cursor.
type Subscription struct {
	FeedID      FeedID
	Destination Destination
	// Owner identifies who created the subscription. Optional.
	Owner string
	// Label is the reference the subscription was registered with.
	Label string
	// LastSeenItemID is the most recent item already handled. Empty until
	// the first successful fetch, EmptyFeedCursor when that fetch found no
	// items.
	LastSeenItemID string
	LastSeenAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EmptyFeedCursor is the cursor of a subscription whose feed was empty when
// first observed. It never equals a real item ID, so the first item the feed
// publishes is announced.
const EmptyFeedCursor = "(empty)"

// HasBaseline reports whether the subscription's feed has been observed yet,
// with or without items.
func (s Subscription) HasBaseline() bool {
	return s.LastSeenItemID != ""
}

// SeenItem reports whether the cursor points at a real item.
func (s Subscription) SeenItem() bool {
	return s.LastSeenItemID != "" && s.LastSeenItemID != EmptyFeedCursor
}

// FeedItem is the normalized most-recent item of a feed. ID is compared
// by equality only.
type FeedItem struct {
	ID          string
	Title       string
	URL         string
	PublishedAt time.Time
}

// Notification is the payload handed to a notifier for a new item.
type Notification struct {
	Destination Destination
	Title       string
	URL         string
	Owner       string
	Label       string
}
