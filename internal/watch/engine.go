// Package watch turns fetched feed items into notifications: the dedup and
// dispatch engine run by every sweep, and the registration service used by
// the command layer.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"channelwatch/internal/model"
)

// Notifier delivers a message to a destination.
type Notifier interface {
	Send(ctx context.Context, dest model.Destination, text string) error
}

// Advancer moves a subscription's dedup cursor.
type Advancer interface {
	Advance(ctx context.Context, feedID model.FeedID, dest model.Destination, itemID string) error
}

// Result counts what Process did with one feed item.
type Result struct {
	Baselined int
	Notified  int
	// Failed counts notifications that were attempted but not delivered.
	// Their cursors are advanced anyway.
	Failed int
}

// Add accumulates other into r.
func (r *Result) Add(other Result) {
	r.Baselined += other.Baselined
	r.Notified += other.Notified
	r.Failed += other.Failed
}

// Engine compares fetched items against per-subscription cursors and
// dispatches notifications for new items.
type Engine struct {
	notifier      Notifier
	cursors       Advancer
	log           *slog.Logger
	announceFirst bool
}

// NewEngine creates an Engine. By default a subscription's first observed
// item sets its baseline silently.
func NewEngine(notifier Notifier, cursors Advancer, log *slog.Logger) *Engine {
	return &Engine{
		notifier: notifier,
		cursors:  cursors,
		log:      log,
	}
}

// SetAnnounceFirst makes the first observed item of a subscription produce a
// notification instead of a silent baseline.
func (e *Engine) SetAnnounceFirst(v bool) {
	e.announceFirst = v
}

// AnnounceFirst reports the first-observation policy.
func (e *Engine) AnnounceFirst() bool {
	return e.announceFirst
}

// Process handles item for every subscription bound to feedID. Each
// subscription gets at most one notification and one cursor advance. A
// notification that fails is logged and its cursor still advances, so a
// broken destination cannot cause repeated announcements.
func (e *Engine) Process(ctx context.Context, feedID model.FeedID, item model.FeedItem, subs []model.Subscription) Result {
	var res Result
	for _, sub := range subs {
		if sub.FeedID != feedID {
			continue
		}
		if ctx.Err() != nil {
			return res
		}

		switch {
		case sub.LastSeenItemID == item.ID:
			continue
		case !sub.HasBaseline() && !e.announceFirst:
			e.advance(ctx, sub, item.ID)
			res.Baselined++
			e.log.Debug("baseline set", "feed_id", feedID, "destination", sub.Destination, "item_id", item.ID)
			continue
		}

		err := e.dispatch(ctx, sub, item)
		e.advance(ctx, sub, item.ID)
		if err != nil {
			res.Failed++
			e.log.Error("notify", "feed_id", feedID, "destination", sub.Destination, "item_id", item.ID, "error", err)
			continue
		}
		res.Notified++
	}
	return res
}

// ProcessEmpty handles a fetch of feedID that returned no items. Every
// subscription without a baseline gets EmptyFeedCursor, so the feed's first
// upload is treated as new rather than as a baseline.
func (e *Engine) ProcessEmpty(ctx context.Context, feedID model.FeedID, subs []model.Subscription) Result {
	var res Result
	for _, sub := range subs {
		if sub.FeedID != feedID || sub.HasBaseline() {
			continue
		}
		if ctx.Err() != nil {
			return res
		}
		e.advance(ctx, sub, model.EmptyFeedCursor)
		res.Baselined++
		e.log.Debug("empty baseline set", "feed_id", feedID, "destination", sub.Destination)
	}
	return res
}

func (e *Engine) dispatch(ctx context.Context, sub model.Subscription, item model.FeedItem) error {
	n := model.Notification{
		Destination: sub.Destination,
		Title:       item.Title,
		URL:         item.URL,
		Owner:       sub.Owner,
		Label:       sub.Label,
	}
	if err := e.notifier.Send(ctx, sub.Destination, FormatNotification(n)); err != nil {
		return fmt.Errorf("%w: %w", model.ErrNotifierFailed, err)
	}
	return nil
}

func (e *Engine) advance(ctx context.Context, sub model.Subscription, itemID string) {
	err := e.cursors.Advance(ctx, sub.FeedID, sub.Destination, itemID)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNotFound):
		e.log.Debug("subscription removed during sweep", "feed_id", sub.FeedID, "destination", sub.Destination)
	default:
		e.log.Error("advance cursor", "feed_id", sub.FeedID, "destination", sub.Destination, "item_id", itemID, "error", err)
	}
}

// FormatNotification renders a new-item announcement.
func FormatNotification(n model.Notification) string {
	var b strings.Builder
	b.WriteString("New video")
	if n.Label != "" {
		fmt.Fprintf(&b, " from %s", n.Label)
	}
	b.WriteString(": ")
	b.WriteString(n.Title)
	if n.URL != "" {
		b.WriteString("\n")
		b.WriteString(n.URL)
	}
	if n.Owner != "" {
		fmt.Fprintf(&b, "\n(watched by %s)", n.Owner)
	}
	return b.String()
}
