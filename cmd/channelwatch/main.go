package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"channelwatch/internal/bot"
	"channelwatch/internal/config"
	"channelwatch/internal/fetcher"
	"channelwatch/internal/model"
	"channelwatch/internal/notify"
	"channelwatch/internal/registry"
	"channelwatch/internal/resolver"
	"channelwatch/internal/scheduler"
	"channelwatch/internal/storage"
	"channelwatch/internal/watch"
	"channelwatch/internal/youtube"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel, cfg.LogFormat)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.Open(cfg.StorageDriver, cfg.DatabasePath)
	if err != nil {
		log.Error("open storage", "driver", cfg.StorageDriver, "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(store, log)
	if err := reg.Load(ctx); err != nil {
		log.Error("load registry", "error", err)
		os.Exit(1)
	}

	yt, err := youtube.New(ctx, cfg.YouTubeAPIKey)
	if err != nil {
		log.Error("create youtube client", "error", err)
		os.Exit(1)
	}
	yt.SetTimeout(cfg.UpstreamTimeout)

	res := resolver.New(yt, log)
	res.SetCacheTTL(cfg.ResolveCacheTTL)

	var feeds watch.Fetcher = yt
	if cfg.FeedSource == fetcher.SourceRSS {
		ff := fetcher.New(http.DefaultClient)
		ff.SetTimeout(cfg.UpstreamTimeout)
		feeds = ff
	}

	b, err := bot.New(ctx, cfg.TelegramBotToken, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}
	b.SetSendRate(cfg.NotifyRPS)

	webhook := notify.NewWebhook(http.DefaultClient, log)
	webhook.SetTimeout(cfg.UpstreamTimeout)

	mux := notify.NewMux()
	mux.Handle(model.SchemeTelegram, b)
	mux.Handle(model.SchemeWebhook, webhook)

	engine := watch.NewEngine(mux, reg, log)
	engine.SetAnnounceFirst(cfg.AnnounceFirst)

	svc := watch.NewService(res, feeds, reg, engine, log)

	sched := scheduler.New(reg, feeds, engine, log)
	sched.SetInterval(cfg.PollInterval)
	if cfg.PollSchedule != "" {
		if err := sched.SetSchedule(cfg.PollSchedule); err != nil {
			log.Error("invalid POLL_SCHEDULE", "error", err)
			os.Exit(1)
		}
	}
	sched.SetConcurrency(cfg.FetchConcurrency)
	sched.SetRateLimit(cfg.UpstreamRPS, max(1, int(cfg.UpstreamRPS)))

	b.SetWatcher(svc)
	b.SetSweeper(sched)

	log.Info("starting channelwatch",
		"storage", cfg.StorageDriver,
		"feed_source", cfg.FeedSource,
		"schedule", sched.Schedule(),
		"announce_first", cfg.AnnounceFirst,
	)

	err = serve(ctx,
		sched.Run,
		func(ctx context.Context) error {
			b.Run(ctx)
			return nil
		},
	)
	if err != nil {
		log.Error("run", "error", err)
		os.Exit(1)
	}

	log.Info("channelwatch stopped")
}

// serve runs every component until ctx is cancelled or one of them fails.
// A failure cancels the context passed to the others.
func serve(ctx context.Context, components ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, run := range components {
		g.Go(func() error { return run(gctx) })
	}
	return g.Wait()
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
