// Package scheduler runs periodic sweeps over every watched feed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"channelwatch/internal/model"
	"channelwatch/internal/watch"
)

// ErrSweepInProgress is returned by Sweep when another sweep is still running.
var ErrSweepInProgress = errors.New("sweep in progress")

const (
	DefaultInterval    = 30 * time.Second
	DefaultConcurrency = 4
)

// Registry is the read side of the subscription registry used by sweeps.
type Registry interface {
	DistinctFeedIDs() []model.FeedID
	Get(feedID model.FeedID) []model.Subscription
}

// Processor applies one fetched item to the subscriptions of its feed.
type Processor interface {
	Process(ctx context.Context, feedID model.FeedID, item model.FeedItem, subs []model.Subscription) watch.Result
	ProcessEmpty(ctx context.Context, feedID model.FeedID, subs []model.Subscription) watch.Result
}

// Stats summarizes one sweep.
type Stats struct {
	watch.Result

	Feeds       int
	Empty       int
	FetchErrors int
	Duration    time.Duration
}

// Scheduler fetches each distinct feed once per sweep and hands the latest
// item to the Processor.
type Scheduler struct {
	registry  Registry
	fetcher   watch.Fetcher
	processor Processor
	log       *slog.Logger

	parser      cron.Parser
	schedule    string
	concurrency int
	limiter     *rate.Limiter

	running atomic.Bool
}

// New creates a Scheduler that sweeps every DefaultInterval with no rate limit.
func New(reg Registry, f watch.Fetcher, p Processor, log *slog.Logger) *Scheduler {
	return &Scheduler{
		registry:    reg,
		fetcher:     f,
		processor:   p,
		log:         log,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		schedule:    every(DefaultInterval),
		concurrency: DefaultConcurrency,
		limiter:     rate.NewLimiter(rate.Inf, 1),
	}
}

// SetInterval sweeps every d. Cron rounds intervals below one second up.
func (s *Scheduler) SetInterval(d time.Duration) {
	s.schedule = every(d)
}

// SetSchedule sweeps on a standard five-field cron expression or a
// descriptor such as "@hourly" or "@every 2m".
func (s *Scheduler) SetSchedule(expr string) error {
	if _, err := s.parser.Parse(expr); err != nil {
		return fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	s.schedule = expr
	return nil
}

// Schedule returns the active schedule expression.
func (s *Scheduler) Schedule() string {
	return s.schedule
}

// SetConcurrency bounds the number of feeds fetched in parallel.
func (s *Scheduler) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.concurrency = n
}

// SetRateLimit caps upstream fetches at rps per second. Zero disables the cap.
func (s *Scheduler) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		s.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// Run sweeps once immediately and then on the configured schedule, blocking
// until ctx is cancelled. A tick that fires while a sweep is still running
// is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	s.log.Info("scheduler started", "schedule", s.schedule, "concurrency", s.concurrency)
	s.tick(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.Sweep(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSweepInProgress):
		s.log.Warn("sweep skipped, previous still running")
	case ctx.Err() != nil:
		s.log.Debug("sweep interrupted", "error", err)
	default:
		s.log.Error("sweep", "error", err)
	}
}

// Sweep fetches every distinct watched feed once and processes its latest
// item. A failing feed is logged and counted without affecting the others.
// Sweeps never overlap: a concurrent call returns ErrSweepInProgress.
func (s *Scheduler) Sweep(ctx context.Context) (Stats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Stats{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	ids := s.registry.DistinctFeedIDs()
	stats := Stats{Feeds: len(ids)}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			res, empty, err := s.sweepFeed(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.FetchErrors++
			case empty:
				stats.Empty++
			default:
				stats.Add(res)
			}
			return nil
		})
	}

	err := g.Wait()
	stats.Duration = time.Since(start)
	if err == nil {
		err = ctx.Err()
	}

	s.log.Debug("sweep done",
		"feeds", stats.Feeds,
		"notified", stats.Notified,
		"baselined", stats.Baselined,
		"failed", stats.Failed,
		"fetch_errors", stats.FetchErrors,
		"duration", stats.Duration,
	)
	if stats.Notified > 0 {
		s.log.Info("sent notifications", "count", stats.Notified)
	}
	return stats, err
}

func (s *Scheduler) sweepFeed(ctx context.Context, feedID model.FeedID) (watch.Result, bool, error) {
	s.log.Debug("checking feed", "feed_id", feedID)

	item, err := s.fetcher.FetchLatest(ctx, feedID)
	if err != nil {
		s.log.Error("fetch feed", "feed_id", feedID, "error", err)
		return watch.Result{}, false, err
	}

	// Re-read subscriptions after the fetch so removals during the fetch are honored.
	subs := s.registry.Get(feedID)
	if item == nil {
		return s.processor.ProcessEmpty(ctx, feedID, subs), true, nil
	}
	return s.processor.Process(ctx, feedID, *item, subs), false, nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
