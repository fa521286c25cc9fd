package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/district-airquality/internal/weather"
)

// Runner executes one ingestion run.
type Runner interface {
	Run(ctx context.Context) (weather.RunReport, error)
}

// Scheduler periodically runs the ingestion pipeline.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler. A non-positive interval falls back to 15
// minutes.
func New(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the job and starts the underlying scheduler. The first
// run starts immediately. Runs never overlap: a tick that fires while a run
// is still going is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(s.tick)
	if err != nil {
		s.cancel()
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

func (s *Scheduler) tick() {
	s.logger.Info("scheduler: running ingestion job")
	report, err := s.runner.Run(s.ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.logger.Info("scheduler: run cancelled", "run_id", report.RunID)
			return
		}
		s.logger.Error("scheduler: run failed", "run_id", report.RunID, "error", err)
		return
	}
	s.logger.Info("scheduler: completed ingestion job",
		"run_id", report.RunID,
		"readings", report.Readings,
		"failures", report.Failures,
	)
}

// Stop cancels an in-flight run and stops the scheduler.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
