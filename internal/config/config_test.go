package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("LAKEFS_ACCESS_KEY", "access")
	t.Setenv("LAKEFS_SECRET_KEY", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 25, cfg.Batch.Size)
	assert.Equal(t, 70*time.Second, cfg.Batch.Delay)
	assert.Equal(t, 15*time.Minute, cfg.Batch.Interval)
	assert.Equal(t, 60*time.Second, cfg.OpenWeather.Timeout)
	assert.Equal(t, 2*time.Second, cfg.OpenWeather.PauseAfterCall)
	assert.EqualValues(t, 10, cfg.OpenWeather.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.OpenWeather.BreakerTimeout)
	assert.Equal(t, "metric", cfg.OpenWeather.Units)
	assert.Equal(t, "http://lakefs-dev:8000/", cfg.Store.Endpoint)
	assert.Equal(t, "weather", cfg.Store.Repo)
	assert.Equal(t, "main", cfg.Store.Branch)
	assert.Equal(t, "weather.parquet", cfg.Store.Path)
	assert.Equal(t, time.Date(2025, 5, 18, 0, 0, 0, 0, time.UTC), cfg.Presenter.Cutoff.UTC())
	assert.Equal(t, 5*time.Minute, cfg.Presenter.CacheTTL)
	assert.Equal(t, EmptyPolicyFail, cfg.Presenter.EmptyPolicy)
	assert.Equal(t, "8080", cfg.Server.Port)

	loc, err := cfg.Presenter.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Bangkok", loc.String())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("BATCH_SIZE", "10")
	t.Setenv("BATCH_DELAY", "5s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MAP_CUTOFF", "2025-06-01T00:00:00Z")
	t.Setenv("EMPTY_POLICY", "render")
	t.Setenv("OPENWEATHER_API_KEY", "k")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Batch.Size)
	assert.Equal(t, 5*time.Second, cfg.Batch.Delay)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 2025, cfg.Presenter.Cutoff.Year())
	assert.Equal(t, time.June, cfg.Presenter.Cutoff.Month())
	assert.Equal(t, EmptyPolicyRender, cfg.Presenter.EmptyPolicy)
	assert.NoError(t, cfg.RequireIngest())
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"BATCH_SIZE":    "0",
		"EMPTY_POLICY":  "ignore",
		"TIMEZONE":      "Mars/Olympus",
		"STORE_BACKEND": "ftp",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_S3RequiresCredentials(t *testing.T) {
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_BACKEND", "memory")
	_, err = Load()
	assert.NoError(t, err)
}

func TestRequireIngest_MissingKey(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.RequireIngest(), ErrMissingAPIKey)
}

func TestSecret_Redacted(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, redacted, s.String())
	assert.Equal(t, redacted, fmt.Sprintf("%v", s))
	assert.Equal(t, "hunter2", s.Unmask())

	b, err := json.Marshal(struct{ Key Secret }{Key: s})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hunter2")
}
