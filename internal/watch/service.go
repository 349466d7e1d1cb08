package watch

import (
	"context"
	"fmt"
	"log/slog"

	"channelwatch/internal/model"
)

// Resolver turns a user reference into a canonical feed ID.
type Resolver interface {
	Resolve(ctx context.Context, reference string) (model.FeedID, error)
}

// Fetcher retrieves the latest item of a feed; nil means the feed is empty.
type Fetcher interface {
	FetchLatest(ctx context.Context, feedID model.FeedID) (*model.FeedItem, error)
}

// Registry is the subset of the subscription registry the service needs.
type Registry interface {
	Advancer
	Upsert(ctx context.Context, sub model.Subscription, resetCursor bool) (model.Subscription, error)
	Remove(ctx context.Context, feedID model.FeedID, dest model.Destination) (bool, error)
	ForDestination(dest model.Destination) []model.Subscription
}

// Registration is the outcome of a successful Register call.
type Registration struct {
	Subscription model.Subscription
	// Latest is the feed's current latest item for an informational echo.
	// Nil when the feed is empty or the echo fetch failed.
	Latest *model.FeedItem
}

// Service implements the command-layer operations on subscriptions.
type Service struct {
	resolver Resolver
	fetcher  Fetcher
	registry Registry
	engine   *Engine
	log      *slog.Logger
}

// NewService wires a Service. The engine supplies the first-observation policy.
func NewService(resolver Resolver, fetcher Fetcher, registry Registry, engine *Engine, log *slog.Logger) *Service {
	return &Service{
		resolver: resolver,
		fetcher:  fetcher,
		registry: registry,
		engine:   engine,
		log:      log,
	}
}

// Register resolves reference and subscribes dest to the feed. Errors wrap
// model.ErrNotFound, model.ErrUpstreamUnavailable or model.ErrPersistence.
// Re-registering keeps the existing cursor. The latest item is fetched
// once for the echo; when the subscription has no cursor and silent
// baselining is active it also becomes the baseline.
func (s *Service) Register(ctx context.Context, reference string, dest model.Destination, owner string) (Registration, error) {
	feedID, err := s.resolver.Resolve(ctx, reference)
	if err != nil {
		return Registration{}, err
	}

	sub, err := s.registry.Upsert(ctx, model.Subscription{
		FeedID:      feedID,
		Destination: dest,
		Owner:       owner,
		Label:       reference,
	}, false)
	if err != nil {
		return Registration{}, fmt.Errorf("save subscription: %w", err)
	}
	s.log.Info("subscription registered", "feed_id", feedID, "destination", dest, "owner", owner)

	reg := Registration{Subscription: sub}

	latest, err := s.fetcher.FetchLatest(ctx, feedID)
	if err != nil {
		s.log.Warn("fetch latest for registration", "feed_id", feedID, "error", err)
		return reg, nil
	}
	reg.Latest = latest

	if sub.HasBaseline() {
		return reg, nil
	}
	cursor := model.EmptyFeedCursor
	if latest != nil {
		if s.engine.AnnounceFirst() {
			return reg, nil
		}
		cursor = latest.ID
	}
	if err := s.registry.Advance(ctx, feedID, dest, cursor); err != nil {
		s.log.Error("set registration baseline", "feed_id", feedID, "destination", dest, "error", err)
	} else {
		reg.Subscription.LastSeenItemID = cursor
	}
	return reg, nil
}

// Unregister removes dest's subscription to the feed named by reference.
// A reference matching a subscription's feed ID or registered label is used
// directly; anything else is resolved first. It fails with model.ErrNotFound
// when no such subscription exists.
func (s *Service) Unregister(ctx context.Context, reference string, dest model.Destination) (model.FeedID, error) {
	feedID, ok := s.localMatch(reference, dest)
	if !ok {
		resolved, err := s.resolver.Resolve(ctx, reference)
		if err != nil {
			return "", err
		}
		feedID = resolved
	}

	removed, err := s.registry.Remove(ctx, feedID, dest)
	if err != nil {
		return "", fmt.Errorf("remove subscription: %w", err)
	}
	if !removed {
		return "", fmt.Errorf("%s is not watched here: %w", reference, model.ErrNotFound)
	}
	s.log.Info("subscription removed", "feed_id", feedID, "destination", dest)
	return feedID, nil
}

// Subscriptions lists the subscriptions posting to dest.
func (s *Service) Subscriptions(dest model.Destination) []model.Subscription {
	return s.registry.ForDestination(dest)
}

func (s *Service) localMatch(reference string, dest model.Destination) (model.FeedID, bool) {
	for _, sub := range s.registry.ForDestination(dest) {
		if string(sub.FeedID) == reference || sub.Label == reference {
			return sub.FeedID, true
		}
	}
	return "", false
}
