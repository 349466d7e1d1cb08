// Package resolver turns user-supplied channel references into canonical
// feed IDs.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"channelwatch/internal/model"
	"channelwatch/internal/youtube"
)

// Searcher looks up a channel by name. It returns "" when nothing matches.
type Searcher interface {
	SearchChannel(ctx context.Context, query string) (model.FeedID, error)
}

// Reference is a parsed channel reference: either a canonical ID or a
// handle that needs a lookup.
type Reference struct {
	ChannelID model.FeedID
	Handle    string
}

// ParseReference recognises raw channel IDs, channel URLs, handles
// ("@name"), handle/custom/user URLs and bare names. It fails with
// model.ErrNotFound for input that can never resolve.
func ParseReference(ref string) (Reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Reference{}, fmt.Errorf("empty reference: %w", model.ErrNotFound)
	}
	if youtube.IsChannelID(ref) {
		return Reference{ChannelID: model.FeedID(ref)}, nil
	}
	if strings.HasPrefix(ref, "@") {
		return handleRef(strings.TrimPrefix(ref, "@"))
	}
	if looksLikeURL(ref) {
		return parseURL(ref)
	}
	if strings.ContainsAny(ref, " /?#") {
		return Reference{}, fmt.Errorf("unrecognised reference %q: %w", ref, model.ErrNotFound)
	}
	return handleRef(ref)
}

func handleRef(h string) (Reference, error) {
	if h == "" {
		return Reference{}, fmt.Errorf("empty handle: %w", model.ErrNotFound)
	}
	return Reference{Handle: h}, nil
}

func looksLikeURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.Contains(lower, "youtube.com/")
}

func parseURL(raw string) (Reference, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("parse url %q: %w", raw, model.ErrNotFound)
	}

	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segs) == 0 {
		return Reference{}, fmt.Errorf("url %q names no channel: %w", raw, model.ErrNotFound)
	}

	switch {
	case segs[0] == "channel" && len(segs) > 1:
		if youtube.IsChannelID(segs[1]) {
			return Reference{ChannelID: model.FeedID(segs[1])}, nil
		}
		return Reference{}, fmt.Errorf("invalid channel id %q: %w", segs[1], model.ErrNotFound)
	case strings.HasPrefix(segs[0], "@"):
		return handleRef(strings.TrimPrefix(segs[0], "@"))
	case (segs[0] == "c" || segs[0] == "user") && len(segs) > 1:
		return handleRef(segs[1])
	case segs[0] == "watch" || segs[0] == "shorts" || segs[0] == "playlist":
		return Reference{}, fmt.Errorf("url %q is not a channel: %w", raw, model.ErrNotFound)
	default:
		return handleRef(segs[0])
	}
}

type cacheEntry struct {
	id      model.FeedID
	expires time.Time
}

// Resolver resolves references, calling the Searcher at most once per
// resolution. Successful lookups may be cached for a short TTL.
type Resolver struct {
	search Searcher
	log    *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates a Resolver without caching.
func New(search Searcher, log *slog.Logger) *Resolver {
	return &Resolver{
		search: search,
		log:    log,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

// SetCacheTTL enables caching of successful handle lookups. Zero disables it.
func (r *Resolver) SetCacheTTL(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttl = d
	if d <= 0 {
		r.cache = make(map[string]cacheEntry)
	}
}

// Resolve returns the canonical feed ID for reference. Direct-ID forms cost
// no network call. Errors wrap model.ErrNotFound or model.ErrUpstreamUnavailable.
func (r *Resolver) Resolve(ctx context.Context, reference string) (model.FeedID, error) {
	ref, err := ParseReference(reference)
	if err != nil {
		return "", err
	}
	if ref.ChannelID != "" {
		return ref.ChannelID, nil
	}

	cacheKey := strings.ToLower(ref.Handle)
	if id, ok := r.cached(cacheKey); ok {
		return id, nil
	}

	id, err := r.search.SearchChannel(ctx, ref.Handle)
	if err != nil {
		r.log.Warn("channel lookup failed", "handle", ref.Handle, "error", err)
		return "", fmt.Errorf("resolve %q: %w", ref.Handle, err)
	}
	if id == "" {
		return "", fmt.Errorf("no channel named %q: %w", ref.Handle, model.ErrNotFound)
	}

	r.store(cacheKey, id)
	r.log.Debug("channel resolved", "handle", ref.Handle, "feed_id", id)
	return id, nil
}

func (r *Resolver) cached(k string) (model.FeedID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[k]
	if !ok {
		return "", false
	}
	if r.now().After(e.expires) {
		delete(r.cache, k)
		return "", false
	}
	return e.id, true
}

func (r *Resolver) store(k string, id model.FeedID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ttl <= 0 {
		return
	}
	r.cache[k] = cacheEntry{id: id, expires: r.now().Add(r.ttl)}
}
