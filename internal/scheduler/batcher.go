package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/i474232898/district-airquality/internal/weather"
)

// OutcomeObserver is notified of every fetch outcome as it completes.
type OutcomeObserver interface {
	ObserveOutcome(o weather.Outcome)
}

// Batcher fetches locations in consecutive fixed-size groups. Every group is
// fetched concurrently and joined before the next one starts, with a pause
// between groups to stay under the upstream rate limit.
type Batcher struct {
	fetcher  weather.Fetcher
	size     int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	observer OutcomeObserver
	logger   *slog.Logger
}

type BatcherOption func(*Batcher)

// WithSleep replaces the inter-group sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) BatcherOption {
	return func(b *Batcher) { b.sleep = fn }
}

func WithObserver(o OutcomeObserver) BatcherOption {
	return func(b *Batcher) { b.observer = o }
}

func WithLogger(l *slog.Logger) BatcherOption {
	return func(b *Batcher) { b.logger = l }
}

// NewBatcher builds a Batcher. A size below 1 is treated as 1.
func NewBatcher(f weather.Fetcher, size int, delay time.Duration, opts ...BatcherOption) *Batcher {
	if size < 1 {
		size = 1
	}
	b := &Batcher{
		fetcher: f,
		size:    size,
		delay:   delay,
		sleep:   sleepCtx,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run fetches all locations. Per-location failures are recorded as outcomes
// and never stop the run; only cancellation of ctx ends it early, in which
// case the outcomes gathered so far are returned with ctx's error.
func (b *Batcher) Run(ctx context.Context, locs []weather.Location) (weather.BatchResult, error) {
	var res weather.BatchResult

	for start := 0; start < len(locs); start += b.size {
		if start > 0 {
			b.logger.InfoContext(ctx, "waiting before next group", "delay", b.delay)
			res.Delays++
			if err := b.sleep(ctx, b.delay); err != nil {
				return res, err
			}
		}

		if r, ok := b.fetcher.(weather.BreakerResetter); ok {
			r.ResetBreaker()
		}

		end := min(start+b.size, len(locs))
		group := locs[start:end]
		res.Groups++
		b.logger.InfoContext(ctx, "fetching group",
			"group", res.Groups,
			"size", len(group),
		)
		res.Outcomes = append(res.Outcomes, b.runGroup(ctx, group)...)

		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	return res, nil
}

// runGroup fetches one group concurrently and returns outcomes in
// completion order.
func (b *Batcher) runGroup(ctx context.Context, group []weather.Location) []weather.Outcome {
	var (
		mu       sync.Mutex
		outcomes = make([]weather.Outcome, 0, len(group))
		g        errgroup.Group
	)

	for _, loc := range group {
		loc := loc
		g.Go(func() error {
			o := weather.Outcome{Location: loc}
			r, err := b.fetcher.Fetch(ctx, loc)
			if err != nil {
				o.Err = err
				b.logger.WarnContext(ctx, "location fetch failed",
					"district", loc.DistrictEN,
					"district_id", loc.ID,
					"stage", weather.StageOf(err),
					"kind", weather.KindOf(err),
					"error", err,
				)
			} else {
				o.Reading = &r
			}

			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()

			if b.observer != nil {
				b.observer.ObserveOutcome(o)
			}
			// Failures stay in the outcome; siblings keep running.
			return nil
		})
	}
	// The group is only a join barrier: every task returns nil and failures
	// travel in the outcomes.
	_ = g.Wait()
	return outcomes
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
