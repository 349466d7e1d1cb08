// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"channelwatch/internal/fetcher"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	YouTubeAPIKey    string
	DatabasePath     string
	StorageDriver    string
	LogLevel         string
	LogFormat        string
	AllowedUsers     []int64

	PollInterval     time.Duration
	PollSchedule     string
	FetchConcurrency int
	UpstreamTimeout  time.Duration
	UpstreamRPS      float64
	FeedSource       string
	AnnounceFirst    bool
	ResolveCacheTTL  time.Duration
	NotifyRPS        float64
}

// Load reads configuration from environment variables. When CONFIG_FILE
// names a YAML file its keys (snake_case variable names) fill in anything
// the environment leaves unset.
func Load() (*Config, error) {
	env := source{lookup: os.LookupEnv}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		values, err := readFile(path)
		if err != nil {
			return nil, err
		}
		env.file = values
	}
	return load(env)
}

func load(env source) (*Config, error) {
	token := env.get("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	apiKey := env.get("YOUTUBE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("YOUTUBE_API_KEY is required")
	}

	cfg := &Config{
		TelegramBotToken: token,
		YouTubeAPIKey:    apiKey,
		DatabasePath:     env.getOr("DATABASE_PATH", "./data/channelwatch.db"),
		StorageDriver:    strings.ToLower(env.getOr("STORAGE_DRIVER", "sqlite")),
		LogLevel:         env.getOr("LOG_LEVEL", "info"),
		LogFormat:        strings.ToLower(env.getOr("LOG_FORMAT", "text")),
		PollSchedule:     env.get("POLL_SCHEDULE"),
		FeedSource:       strings.ToLower(env.getOr("FEED_SOURCE", fetcher.SourceAPI)),
	}

	switch cfg.StorageDriver {
	case "sqlite", "json":
	default:
		return nil, fmt.Errorf("invalid STORAGE_DRIVER %q, use: sqlite, json", cfg.StorageDriver)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q, use: text, json", cfg.LogFormat)
	}
	switch cfg.FeedSource {
	case fetcher.SourceAPI, fetcher.SourceRSS:
	default:
		return nil, fmt.Errorf("invalid FEED_SOURCE %q, use: api, rss", cfg.FeedSource)
	}

	var err error
	if cfg.AllowedUsers, err = parseUserIDs(env.get("ALLOWED_USERS")); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = env.duration("POLL_INTERVAL", 30*time.Second, true); err != nil {
		return nil, err
	}
	if cfg.UpstreamTimeout, err = env.duration("UPSTREAM_TIMEOUT", 10*time.Second, true); err != nil {
		return nil, err
	}
	if cfg.ResolveCacheTTL, err = env.duration("RESOLVE_CACHE_TTL", 0, false); err != nil {
		return nil, err
	}
	if cfg.FetchConcurrency, err = env.integer("FETCH_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.UpstreamRPS, err = env.float("UPSTREAM_RPS", 5); err != nil {
		return nil, err
	}
	if cfg.NotifyRPS, err = env.float("NOTIFY_RPS", 20); err != nil {
		return nil, err
	}
	if cfg.AnnounceFirst, err = env.boolean("ANNOUNCE_FIRST", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func parseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}

// source resolves a variable from the environment, then the config file.
type source struct {
	lookup func(string) (string, bool)
	file   map[string]string
}

func (s source) get(key string) string {
	if v, ok := s.lookup(key); ok && v != "" {
		return v
	}
	return s.file[key]
}

func (s source) getOr(key, def string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return def
}

func (s source) duration(key string, def time.Duration, positive bool) (time.Duration, error) {
	raw := s.get(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d < 0 || (positive && d == 0) {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}

func (s source) integer(key string, def int) (int, error) {
	raw := s.get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, raw)
	}
	return n, nil
}

func (s source) float(key string, def float64) (float64, error) {
	raw := s.get(key)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative number", key, raw)
	}
	return f, nil
}

func (s source) boolean(key string, def bool) (bool, error) {
	raw := s.get(key)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return b, nil
}
