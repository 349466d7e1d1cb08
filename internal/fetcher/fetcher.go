// Package fetcher retrieves the most recent item of a channel feed.
package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"channelwatch/internal/model"
	"channelwatch/internal/youtube"
)

// Fetcher retrieves the single most recently published item of a feed.
// A nil item with a nil error means the feed exists but is empty. Every
// failure wraps model.ErrUpstreamUnavailable.
type Fetcher interface {
	FetchLatest(ctx context.Context, feedID model.FeedID) (*model.FeedItem, error)
}

// Both upstream bindings share the contract.
var (
	_ Fetcher = (*FeedFetcher)(nil)
	_ Fetcher = (*youtube.Client)(nil)
)

// Supported upstream bindings.
const (
	SourceAPI = "api"
	SourceRSS = "rss"
)

// DefaultFeedURL is the syndication endpoint; the channel ID is appended.
const DefaultFeedURL = "https://www.youtube.com/feeds/videos.xml?channel_id="

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FeedFetcher reads a channel's Atom syndication document.
type FeedFetcher struct {
	client  HTTPClient
	baseURL string
	timeout time.Duration
}

// New creates a FeedFetcher with the given HTTP client.
func New(client HTTPClient) *FeedFetcher {
	return &FeedFetcher{
		client:  client,
		baseURL: DefaultFeedURL,
		timeout: 10 * time.Second,
	}
}

// SetBaseURL overrides the syndication endpoint prefix.
func (f *FeedFetcher) SetBaseURL(u string) {
	f.baseURL = u
}

// SetTimeout overrides the default 10-second request timeout.
func (f *FeedFetcher) SetTimeout(d time.Duration) {
	if d > 0 {
		f.timeout = d
	}
}

// FetchLatest returns the newest entry of the channel's feed.
func (f *FeedFetcher) FetchLatest(ctx context.Context, feedID model.FeedID) (*model.FeedItem, error) {
	feed, err := f.Fetch(ctx, f.baseURL+url.QueryEscape(string(feedID)))
	if err != nil {
		return nil, err
	}

	item := Latest(feed.Items)
	if item == nil {
		return nil, nil
	}

	fi := &model.FeedItem{
		ID:    ItemID(item),
		Title: item.Title,
		URL:   item.Link,
	}
	if videoID := extValue(item, "yt", "videoId"); videoID != "" {
		fi.URL = youtube.VideoURL(videoID)
	}
	if item.PublishedParsed != nil {
		fi.PublishedAt = item.PublishedParsed.UTC()
	}
	return fi, nil
}

// Fetch downloads and parses a feed document from the given URL.
func (f *FeedFetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "channelwatch/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get: %w", model.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", model.ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", model.ErrUpstreamUnavailable, err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed: %w", model.ErrUpstreamUnavailable, err)
	}
	return feed, nil
}

// Latest returns the item with the newest publish time. Items without a
// publish time lose to dated ones; ties keep document order.
func Latest(items []*gofeed.Item) *gofeed.Item {
	var best *gofeed.Item
	for _, item := range items {
		if item == nil {
			continue
		}
		if best == nil {
			best = item
			continue
		}
		if item.PublishedParsed == nil {
			continue
		}
		if best.PublishedParsed == nil || item.PublishedParsed.After(*best.PublishedParsed) {
			best = item
		}
	}
	return best
}

// ItemID returns the stable identifier of an entry: the video ID when the
// feed carries one, else the GUID without its "yt:video:" prefix, else a
// SHA-256 hash of title+link.
func ItemID(item *gofeed.Item) string {
	if v := extValue(item, "yt", "videoId"); v != "" {
		return v
	}
	if item.GUID != "" {
		return strings.TrimPrefix(item.GUID, "yt:video:")
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

func extValue(item *gofeed.Item, ns, name string) string {
	if item.Extensions == nil {
		return ""
	}
	exts := item.Extensions[ns][name]
	if len(exts) == 0 {
		return ""
	}
	return strings.TrimSpace(exts[0].Value)
}
