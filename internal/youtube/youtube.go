// Package youtube wraps the YouTube Data API: channel search for handle
// lookups and the uploads playlist for latest-video queries.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"channelwatch/internal/model"
)

const shortURL = "https://youtu.be/"

var channelIDPattern = regexp.MustCompile(`^UC[0-9A-Za-z_-]{22}$`)

// IsChannelID reports whether s has the form of a canonical channel ID.
func IsChannelID(s string) bool {
	return channelIDPattern.MatchString(s)
}

// VideoURL returns the canonical short link of a video.
func VideoURL(videoID string) string {
	return shortURL + videoID
}

// UploadsPlaylistID returns the playlist holding every public upload of a
// channel: the channel ID with its "UC" prefix replaced by "UU".
func UploadsPlaylistID(channelID model.FeedID) string {
	id := string(channelID)
	if strings.HasPrefix(id, "UC") {
		return "UU" + id[2:]
	}
	return id
}

// Client issues queries against the Data API. Every call carries the
// client's timeout and every failure wraps model.ErrUpstreamUnavailable.
type Client struct {
	svc     *yt.Service
	timeout time.Duration
}

// New creates a Client authenticated with apiKey. Extra options are appended,
// so tests can point the client at a local endpoint.
func New(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("youtube api key is required")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &Client{svc: svc, timeout: 10 * time.Second}, nil
}

// SetTimeout overrides the default 10-second per-call timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// SearchChannel looks up a channel by name and returns the ID of the single
// best match, or "" when nothing matches.
func (c *Client) SearchChannel(ctx context.Context, query string) (model.FeedID, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.svc.Search.List([]string{"snippet"}).
		Q(query).
		Type("channel").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", unavailable("search channel", err)
	}
	for _, item := range resp.Items {
		if item.Snippet != nil && item.Snippet.ChannelId != "" {
			return model.FeedID(item.Snippet.ChannelId), nil
		}
		if item.Id != nil && item.Id.ChannelId != "" {
			return model.FeedID(item.Id.ChannelId), nil
		}
	}
	return "", nil
}

// FetchLatest returns the most recently published video of a channel, or
// nil when the channel has none. It reads the uploads playlist, which costs
// one quota unit per call where a search costs a hundred.
func (c *Client) FetchLatest(ctx context.Context, feedID model.FeedID) (*model.FeedItem, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
		PlaylistId(UploadsPlaylistID(feedID)).
		MaxResults(latestWindow).
		Context(ctx).
		Do()
	if err != nil {
		// A channel that never uploaded has no uploads playlist.
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, unavailable("list uploads", err)
	}

	var best *model.FeedItem
	for _, item := range resp.Items {
		fi := playlistVideo(item)
		if fi == nil {
			continue
		}
		if best == nil || fi.PublishedAt.After(best.PublishedAt) {
			best = fi
		}
	}
	return best, nil
}

// latestWindow is how many playlist entries are compared by publish time.
// The playlist is usually newest first, but not for every channel.
const latestWindow = 5

func playlistVideo(item *yt.PlaylistItem) *model.FeedItem {
	var id, published string
	if cd := item.ContentDetails; cd != nil {
		id, published = cd.VideoId, cd.VideoPublishedAt
	}
	if sn := item.Snippet; sn != nil {
		if id == "" && sn.ResourceId != nil {
			id = sn.ResourceId.VideoId
		}
		if published == "" {
			published = sn.PublishedAt
		}
	}
	if id == "" {
		return nil
	}

	fi := &model.FeedItem{ID: id, URL: VideoURL(id)}
	if item.Snippet != nil {
		fi.Title = html.UnescapeString(item.Snippet.Title)
	}
	fi.PublishedAt, _ = time.Parse(time.RFC3339, published)
	return fi
}

func unavailable(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s: status %d: %s", model.ErrUpstreamUnavailable, op, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrUpstreamUnavailable, op, err)
}
