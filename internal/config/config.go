package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Secret is a string that never prints its value.
type Secret string

const redacted = "***REDACTED***"

func (s Secret) String() string {
	return redacted
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the raw value for handing to a client library.
func (s Secret) Unmask() string {
	return string(s)
}

// Store backends.
const (
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Empty data policies for the map presenter.
const (
	EmptyPolicyFail   = "fail"
	EmptyPolicyRender = "render"
)

type AppConfig struct {
	AppEnv   string     `envconfig:"APP_ENV" default:"dev" validate:"oneof=dev staging prod"`
	LogLevel slog.Level `envconfig:"LOG_LEVEL" default:"INFO"`

	OpenWeather OpenWeatherConfig
	Batch       BatchConfig
	Store       StoreConfig
	Registry    RegistryConfig
	Presenter   PresenterConfig
	Server      ServerConfig
}

type OpenWeatherConfig struct {
	APIKey       Secret `envconfig:"OPENWEATHER_API_KEY"`
	WeatherURL   string `envconfig:"OPENWEATHER_WEATHER_URL" default:"https://api.openweathermap.org/data/2.5/weather" validate:"url"`
	PollutionURL string `envconfig:"OPENWEATHER_POLLUTION_URL" default:"https://api.openweathermap.org/data/2.5/air_pollution" validate:"url"`
	Units        string `envconfig:"OPENWEATHER_UNITS" default:"metric" validate:"oneof=metric imperial standard"`
	// Timeout bounds each upstream call.
	Timeout        time.Duration `envconfig:"HTTP_TIMEOUT" default:"60s" validate:"gt=0"`
	PauseAfterCall time.Duration `envconfig:"PAUSE_AFTER_CALL" default:"2s" validate:"gte=0"`
	// The breaker is reset before every group, so it only ever spans one.
	BreakerThreshold uint32        `envconfig:"BREAKER_THRESHOLD" default:"10" validate:"min=1"`
	BreakerTimeout   time.Duration `envconfig:"BREAKER_TIMEOUT" default:"30s" validate:"gt=0"`
}

type BatchConfig struct {
	Size  int           `envconfig:"BATCH_SIZE" default:"25" validate:"min=1"`
	Delay time.Duration `envconfig:"BATCH_DELAY" default:"70s" validate:"gte=0"`
	// Interval is the period between runs in scheduled mode.
	Interval time.Duration `envconfig:"FETCH_INTERVAL" default:"15m" validate:"gt=0"`
}

// StoreConfig addresses the lakeFS S3 gateway. The bucket is the
// repository and every key starts with the branch.
type StoreConfig struct {
	Backend   string `envconfig:"STORE_BACKEND" default:"s3" validate:"oneof=s3 memory"`
	Endpoint  string `envconfig:"LAKEFS_ENDPOINT" default:"http://lakefs-dev:8000/" validate:"omitempty,url"`
	AccessKey Secret `envconfig:"LAKEFS_ACCESS_KEY" validate:"required_if=Backend s3"`
	SecretKey Secret `envconfig:"LAKEFS_SECRET_KEY" validate:"required_if=Backend s3"`
	Repo      string `envconfig:"LAKEFS_REPO" default:"weather" validate:"required"`
	Branch    string `envconfig:"LAKEFS_BRANCH" default:"main" validate:"required"`
	Path      string `envconfig:"DATASET_PATH" default:"weather.parquet" validate:"required"`
	Region    string `envconfig:"STORE_REGION" default:"us-east-1"`
}

type RegistryConfig struct {
	Path string `envconfig:"REGISTRY_PATH" default:"districts.csv" validate:"required"`
}

type PresenterConfig struct {
	// Cutoff drops readings captured before it.
	Cutoff      time.Time     `envconfig:"MAP_CUTOFF" default:"2025-05-18T00:00:00Z"`
	CacheTTL    time.Duration `envconfig:"MAP_CACHE_TTL" default:"5m" validate:"gt=0"`
	CacheSize   int           `envconfig:"MAP_CACHE_SIZE" default:"8" validate:"min=1"`
	Window      time.Duration `envconfig:"MAP_WINDOW" default:"1h" validate:"gte=0"`
	Slot        time.Duration `envconfig:"MAP_SLOT" default:"15m" validate:"gt=0"`
	Timezone    string        `envconfig:"TIMEZONE" default:"Asia/Bangkok" validate:"timezone"`
	EmptyPolicy string        `envconfig:"EMPTY_POLICY" default:"fail" validate:"oneof=fail render"`

	ProvinceGeoJSON string `envconfig:"GEOJSON_PROVINCE" default:"geo/provinces.geojson"`
	DistrictGeoJSON string `envconfig:"GEOJSON_DISTRICT" default:"geo/districts.geojson"`
}

type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// MetricsPort serves /health and /metrics for the ingester in scheduled
	// mode. Empty disables it.
	MetricsPort string `envconfig:"METRICS_PORT"`
}

// ErrMissingAPIKey is returned by RequireIngest without an OpenWeather key.
var ErrMissingAPIKey = errors.New("OPENWEATHER_API_KEY is required")

// Load reads configuration from the environment, after merging a .env file
// when one exists, and validates it.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// RequireIngest checks the settings only the ingester needs.
func (c *AppConfig) RequireIngest() error {
	if c.OpenWeather.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Location loads the presenter time zone.
func (c PresenterConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
