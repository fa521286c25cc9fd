package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyRegistry is returned when the registry loads without rows.
var ErrEmptyRegistry = errors.New("location registry is empty")

// RunReport summarizes one ingestion run.
type RunReport struct {
	RunID     string
	Started   time.Time
	Finished  time.Time
	Locations int
	Groups    int
	Delays    int
	Readings  int
	Failures  int
	// FailuresByKind counts failures per FailureKind.
	FailuresByKind map[FailureKind]int
	// Files lists the object keys written by this run.
	Files []string
}

// RunObserver receives the report of every finished run, successful or not.
type RunObserver interface {
	ObserveRun(report RunReport, err error)
}

// Pipeline orchestrates one ingestion run: load the registry, fetch every
// location in batches and append the readings to the dataset.
type Pipeline struct {
	registry RegistryLoader
	batches  Dispatcher
	writer   Writer
	observer RunObserver
	logger   *slog.Logger
	now      func() time.Time
	newRunID func() string
}

type PipelineOption func(*Pipeline)

func WithRunObserver(o RunObserver) PipelineOption {
	return func(p *Pipeline) { p.observer = o }
}

func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithRunID fixes the run ID generator, mainly for tests.
func WithRunID(fn func() string) PipelineOption {
	return func(p *Pipeline) { p.newRunID = fn }
}

// NewPipeline creates a new Pipeline.
func NewPipeline(registry RegistryLoader, batches Dispatcher, writer Writer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry: registry,
		batches:  batches,
		writer:   writer,
		logger:   slog.Default(),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one ingestion run. Registry and write failures fail the run;
// per-location fetch failures only show up in the report. A run that yields
// no readings writes nothing and still succeeds.
func (p *Pipeline) Run(ctx context.Context) (report RunReport, err error) {
	report = RunReport{
		RunID:          p.newRunID(),
		Started:        p.now().UTC(),
		FailuresByKind: make(map[FailureKind]int),
	}
	logger := p.logger.With("run_id", report.RunID)
	defer func() {
		report.Finished = p.now().UTC()
		if p.observer != nil {
			p.observer.ObserveRun(report, err)
		}
	}()

	locs, err := p.registry.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("load registry: %w", err)
	}
	if len(locs) == 0 {
		return report, ErrEmptyRegistry
	}
	report.Locations = len(locs)
	logger.InfoContext(ctx, "run started", "locations", len(locs))

	res, err := p.batches.Run(ctx, locs)
	report.Groups = res.Groups
	report.Delays = res.Delays
	for _, o := range res.Failures() {
		report.Failures++
		report.FailuresByKind[KindOf(o.Err)]++
	}
	readings := res.Readings()
	report.Readings = len(readings)
	if err != nil {
		return report, fmt.Errorf("fetch batches: %w", err)
	}

	if len(readings) == 0 {
		logger.WarnContext(ctx, "run produced no readings, skipping write",
			"groups", report.Groups,
			"failures", report.Failures,
		)
		return report, nil
	}

	files, err := p.writer.Append(ctx, report.RunID, readings)
	report.Files = files
	if err != nil {
		return report, fmt.Errorf("write readings: %w", err)
	}

	logger.InfoContext(ctx, "run finished",
		"groups", report.Groups,
		"delays", report.Delays,
		"readings", report.Readings,
		"failures", report.Failures,
		"files", len(files),
	)
	return report, nil
}
