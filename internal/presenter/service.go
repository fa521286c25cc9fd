// Package presenter turns the stored readings into choropleth frames of
// PM2.5 by province or district.
package presenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/i474232898/district-airquality/internal/dataset"
	"github.com/i474232898/district-airquality/internal/weather"
)

var (
	// ErrNoData means nothing is left to draw after filtering.
	ErrNoData = errors.New("no readings available for the map")
	// ErrUnknownSlot means the requested time is not one of the available slots.
	ErrUnknownSlot = errors.New("requested time is not an available slot")
)

// EmptyPolicy decides what an empty dataset renders as.
type EmptyPolicy string

const (
	// EmptyFail returns ErrNoData.
	EmptyFail EmptyPolicy = "fail"
	// EmptyRender returns a view without frames.
	EmptyRender EmptyPolicy = "render"
)

// Loader reads stored rows captured at or after since.
type Loader interface {
	Load(ctx context.Context, since time.Time) ([]dataset.Row, error)
}

// Observer receives presenter timings. metrics.Metrics satisfies it.
type Observer interface {
	ObserveCache(hit bool)
	ObserveRender(level string, d time.Duration)
}

// Options tune the presenter.
type Options struct {
	// DatasetKey identifies the dataset in cache keys, e.g. weather/main/weather.parquet.
	DatasetKey  string
	Cutoff      time.Time
	Window      time.Duration
	Slot        time.Duration
	Zone        *time.Location
	EmptyPolicy EmptyPolicy
}

// MapView is everything the page needs to draw one level.
type MapView struct {
	Level        Level       `json:"level"`
	Selected     *time.Time  `json:"selected,omitempty"`
	Slots        []time.Time `json:"slots"`
	Frames       []Frame     `json:"frames"`
	FeatureIDKey string      `json:"featureidkey"`
	Center       LatLon      `json:"center"`
	Zoom         float64     `json:"zoom"`
	RangeColor   [2]float64  `json:"range_color"`
	ColorScale   string      `json:"color_scale"`
	Breakpoints  []float64   `json:"aqi_breakpoints"`
	Labels       []string    `json:"aqi_labels"`
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Service builds map views from the dataset.
type Service struct {
	loader    Loader
	locations map[string]weather.Location
	cache     *Cache
	opts      Options
	observer  Observer
	logger    *slog.Logger
}

func NewService(loader Loader, locations map[string]weather.Location, cache *Cache, opts Options, observer Observer, logger *slog.Logger) *Service {
	if opts.Slot <= 0 {
		opts.Slot = 15 * time.Minute
	}
	if opts.Zone == nil {
		opts.Zone = time.UTC
	}
	if opts.EmptyPolicy == "" {
		opts.EmptyPolicy = EmptyFail
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		loader:    loader,
		locations: locations,
		cache:     cache,
		opts:      opts,
		observer:  observer,
		logger:    logger,
	}
}

// Slots lists the available local time slots in ascending order.
func (s *Service) Slots(ctx context.Context) ([]time.Time, error) {
	points, err := s.points(ctx)
	if err != nil {
		return nil, err
	}
	slots := slotsOf(points)
	if len(slots) == 0 && s.opts.EmptyPolicy == EmptyFail {
		return nil, ErrNoData
	}
	return slots, nil
}

// Map builds the view for level around at. A zero at selects the latest
// slot; otherwise at must name one of the available slots.
func (s *Service) Map(ctx context.Context, level Level, at time.Time) (MapView, error) {
	started := time.Now()
	view := MapView{
		Level:        level,
		FeatureIDKey: level.FeatureIDKey(),
		Center:       LatLon{Lat: 13.5, Lon: 100.5},
		Zoom:         5,
		RangeColor:   [2]float64{0, 100},
		ColorScale:   "YlOrRd",
		Breakpoints:  Breakpoints,
		Labels:       Labels,
		Slots:        []time.Time{},
		Frames:       []Frame{},
	}

	points, err := s.points(ctx)
	if err != nil {
		return MapView{}, err
	}
	slots := slotsOf(points)
	if len(slots) == 0 {
		if s.opts.EmptyPolicy == EmptyRender {
			return view, nil
		}
		return MapView{}, ErrNoData
	}
	view.Slots = slots

	selected := slots[len(slots)-1]
	if !at.IsZero() {
		want := floorSlot(at.In(s.opts.Zone), s.opts.Slot)
		found := false
		for _, sl := range slots {
			if sl.Equal(want) {
				selected, found = sl, true
				break
			}
		}
		if !found {
			return MapView{}, fmt.Errorf("%w: %s", ErrUnknownSlot, want.Format(time.RFC3339))
		}
	}
	view.Selected = &selected

	window := inWindow(points, selected, s.opts.Window)
	switch level {
	case LevelDistrict:
		view.Frames = districtFrames(window)
	default:
		view.Frames = provinceFrames(window)
	}

	if s.observer != nil {
		s.observer.ObserveRender(string(level), time.Since(started))
	}
	return view, nil
}

// Invalidate forces the next request to reload the dataset.
func (s *Service) Invalidate() {
	s.cache.Invalidate()
	s.logger.Info("map cache invalidated")
}

func (s *Service) cacheKey() string {
	return s.opts.DatasetKey + "|" + s.opts.Cutoff.UTC().Format(time.RFC3339)
}

func (s *Service) points(ctx context.Context) ([]point, error) {
	pts, hit, err := s.cache.get(ctx, s.cacheKey(), func(ctx context.Context) ([]point, error) {
		rows, err := s.loader.Load(ctx, s.opts.Cutoff)
		if err != nil {
			return nil, fmt.Errorf("load dataset: %w", err)
		}
		pts := prepare(rows, s.locations, s.opts.Cutoff, s.opts.Slot)
		s.logger.InfoContext(ctx, "dataset loaded", "rows", len(rows), "points", len(pts))
		return pts, nil
	})
	if s.observer != nil && err == nil {
		s.observer.ObserveCache(hit)
	}
	return pts, err
}
