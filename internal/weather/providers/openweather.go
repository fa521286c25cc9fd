package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/district-airquality/internal/weather"
)

const (
	defaultWeatherURL   = "https://api.openweathermap.org/data/2.5/weather"
	defaultPollutionURL = "https://api.openweathermap.org/data/2.5/air_pollution"
)

// OpenWeatherConfig configures the OpenWeatherMap weather + air pollution client.
type OpenWeatherConfig struct {
	APIKey       string
	WeatherURL   string
	PollutionURL string
	Units        string
	// Zone is used to derive the local timestamp of a reading.
	Zone *time.Location
	HTTP HTTPClientConfig
}

// OpenWeatherProvider fetches current weather and air pollution for a
// location and normalizes both into a single weather.Reading.
type OpenWeatherProvider struct {
	apiKey       string
	weatherURL   string
	pollutionURL string
	units        string
	zone         *time.Location
	httpCfg      HTTPClientConfig
	circuit      atomic.Pointer[gobreaker.CircuitBreaker]

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes an OpenWeatherProvider.
type Option func(*OpenWeatherProvider)

// WithClock overrides the capture clock.
func WithClock(now func() time.Time) Option {
	return func(p *OpenWeatherProvider) { p.now = now }
}

// WithSleep overrides the pause between calls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *OpenWeatherProvider) { p.sleep = sleep }
}

func NewOpenWeatherProvider(cfg OpenWeatherConfig, opts ...Option) *OpenWeatherProvider {
	p := &OpenWeatherProvider{
		apiKey:       cfg.APIKey,
		weatherURL:   cfg.WeatherURL,
		pollutionURL: cfg.PollutionURL,
		units:        cfg.Units,
		zone:         cfg.Zone,
		httpCfg:      cfg.HTTP,
		now:          time.Now,
		sleep:        pause,
	}
	if p.weatherURL == "" {
		p.weatherURL = defaultWeatherURL
	}
	if p.pollutionURL == "" {
		p.pollutionURL = defaultPollutionURL
	}
	if p.units == "" {
		p.units = "metric"
	}
	if p.zone == nil {
		p.zone = time.UTC
	}
	p.ResetBreaker()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ResetBreaker replaces the circuit breaker with a closed one. Calls already
// in flight finish against the breaker they started with.
func (p *OpenWeatherProvider) ResetBreaker() {
	p.circuit.Store(newBreaker("openweather", p.httpCfg.Breaker))
}

// Fetch performs the weather call and, only when it reports success, the
// pollution call. Each call is followed by the configured pause. The capture
// timestamp is taken after both calls succeed.
func (p *OpenWeatherProvider) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	if p.apiKey == "" {
		return weather.Reading{}, p.fail(loc, weather.StageWeather, errors.New("openweather api key is not configured"))
	}

	cb := p.circuit.Load()
	body, err := doRequest(ctx, p.httpCfg, cb, p.requestBuilder(p.weatherURL, loc))
	if err != nil {
		return weather.Reading{}, p.fail(loc, weather.StageWeather, err)
	}
	wp, err := decodeWeather(body)
	if err != nil {
		return weather.Reading{}, p.fail(loc, weather.StageWeather, err)
	}
	if err := p.sleep(ctx, p.httpCfg.PauseAfterCall); err != nil {
		return weather.Reading{}, p.fail(loc, weather.StageWeather, err)
	}

	body, err = doRequest(ctx, p.httpCfg, cb, p.requestBuilder(p.pollutionURL, loc))
	if err != nil {
		return weather.Reading{}, p.fail(loc, weather.StagePollution, err)
	}
	comps, err := decodePollution(body)
	if err != nil {
		return weather.Reading{}, p.fail(loc, weather.StagePollution, err)
	}
	if err := p.sleep(ctx, p.httpCfg.PauseAfterCall); err != nil {
		return weather.Reading{}, p.fail(loc, weather.StagePollution, err)
	}

	ts := p.now().UTC()
	return normalize(loc, ts, ts.In(p.zone), wp, comps), nil
}

func (p *OpenWeatherProvider) requestBuilder(base string, loc weather.Location) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
		values.Set("lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
		values.Set("appid", p.apiKey)
		values.Set("units", p.units)

		u := fmt.Sprintf("%s?%s", base, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}
}

func (p *OpenWeatherProvider) fail(loc weather.Location, stage weather.Stage, err error) error {
	return &weather.FetchError{
		LocationID: loc.ID,
		Stage:      stage,
		Kind:       classify(err),
		Err:        err,
	}
}

func classify(err error) weather.FailureKind {
	switch {
	case errors.Is(err, weather.ErrMalformedPayload):
		return weather.FailureMalformed
	case errors.Is(err, weather.ErrBadStatus), errors.Is(err, errRateLimited), errors.Is(err, errServerError):
		return weather.FailureStatus
	case errors.Is(err, errCircuitOpen):
		return weather.FailureBreaker
	default:
		return weather.FailureTransport
	}
}

// normalize flattens the two validated payloads into one Reading.
func normalize(loc weather.Location, ts, local time.Time, wp *weatherPayload, c *pollutionComponents) weather.Reading {
	cond := wp.Weather[0]
	return weather.Reading{
		Timestamp:          ts,
		LocalTime:          local,
		DistrictID:         loc.ID,
		District:           loc.DistrictEN,
		Province:           loc.ProvinceEN,
		WeatherMain:        *cond.Main,
		WeatherDescription: *cond.Description,
		Temp:               *wp.Main.Temp,
		TempMin:            *wp.Main.TempMin,
		TempMax:            *wp.Main.TempMax,
		FeelsLike:          *wp.Main.FeelsLike,
		Pressure:           *wp.Main.Pressure,
		Humidity:           *wp.Main.Humidity,
		Visibility:         wp.Visibility,
		WindSpeed:          *wp.Wind.Speed,
		WindDeg:            *wp.Wind.Deg,
		Components: weather.Components{
			CO:   *c.CO,
			NO:   *c.NO,
			NO2:  *c.NO2,
			O3:   *c.O3,
			SO2:  *c.SO2,
			PM25: *c.PM25,
			PM10: *c.PM10,
			NH3:  *c.NH3,
		},
	}
}
