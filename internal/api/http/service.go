package httpapi

import (
	"context"
	"time"

	"github.com/i474232898/district-airquality/internal/presenter"
)

// MapService is what the routes need from the presenter.
type MapService interface {
	Slots(ctx context.Context) ([]time.Time, error)
	Map(ctx context.Context, level presenter.Level, at time.Time) (presenter.MapView, error)
	Invalidate()
}
