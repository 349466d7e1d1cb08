// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"fmt"
	"strings"

	"channelwatch/internal/model"
)

// Storage is the durable backing store of the subscription registry.
type Storage interface {
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	// SaveSubscription inserts or fully overwrites the record keyed by
	// (FeedID, Destination).
	SaveSubscription(ctx context.Context, sub *model.Subscription) error
	// SetLastSeen updates only the dedup cursor of an existing record.
	SetLastSeen(ctx context.Context, feedID model.FeedID, dest model.Destination, itemID string) error
	DeleteSubscription(ctx context.Context, feedID model.FeedID, dest model.Destination) error

	Close() error
}

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
)

// Open returns the Storage implementation selected by driver.
func Open(driver, path string) (Storage, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite:
		return NewSQLite(path)
	case DriverJSON:
		return NewJSONFile(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
