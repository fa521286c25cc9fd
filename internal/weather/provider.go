package weather

import (
	"context"
	"errors"
	"fmt"
)

// Fetcher turns one Location into one Reading using the upstream providers.
type Fetcher interface {
	Fetch(ctx context.Context, loc Location) (Reading, error)
}

// BreakerResetter is implemented by fetchers that guard upstream calls with
// a circuit breaker. The breaker is reset before every group so failures in
// one group never reject calls made by a later one.
type BreakerResetter interface {
	ResetBreaker()
}

// Writer appends a run's readings to durable storage and returns the
// object keys it created.
type Writer interface {
	Append(ctx context.Context, runID string, readings []Reading) ([]string, error)
}

// RegistryLoader returns the monitored locations for a run.
type RegistryLoader interface {
	Load(ctx context.Context) ([]Location, error)
}

// Outcome is the tagged result of fetching one Location.
// Exactly one of Reading or Err is set.
type Outcome struct {
	Location Location
	Reading  *Reading
	Err      error
}

// OK reports whether the outcome carries a Reading.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Reading != nil
}

// Stage names the upstream call a fetch failed in.
type Stage string

const (
	StageWeather   Stage = "weather"
	StagePollution Stage = "pollution"
)

// FailureKind classifies a per-location fetch failure.
type FailureKind string

const (
	// FailureStatus means the upstream reported a non-success status.
	FailureStatus FailureKind = "status"
	// FailureMalformed means the payload was empty or missing required fields.
	FailureMalformed FailureKind = "malformed"
	// FailureTransport covers network errors and timeouts.
	FailureTransport FailureKind = "transport"
	// FailureBreaker means the provider circuit breaker rejected the call.
	FailureBreaker FailureKind = "breaker"
)

var (
	ErrBadStatus        = errors.New("upstream returned non-success status")
	ErrMalformedPayload = errors.New("malformed upstream payload")
	ErrEmptyPollution   = errors.New("pollution sample list is empty")
)

// FetchError is the error returned by a Fetcher for one Location.
type FetchError struct {
	LocationID string
	Stage      Stage
	Kind       FailureKind
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch for %s failed (%s): %v", e.Stage, e.LocationID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, or FailureTransport when
// err is not a FetchError.
func KindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FailureTransport
}

// BatchResult is what one pass over the registry produced. Outcomes keep
// group order; within a group they are in completion order.
type BatchResult struct {
	Groups   int
	Delays   int
	Outcomes []Outcome
}

// Readings returns the successful readings in outcome order.
func (r BatchResult) Readings() []Reading {
	out := make([]Reading, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.OK() {
			out = append(out, *o.Reading)
		}
	}
	return out
}

// Failures returns the outcomes that carry an error.
func (r BatchResult) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// Dispatcher fans a run's locations out to a Fetcher.
type Dispatcher interface {
	Run(ctx context.Context, locs []Location) (BatchResult, error)
}

// StageOf returns the stage carried by err, or "" when err is not a
// FetchError.
func StageOf(err error) Stage {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Stage
	}
	return ""
}
