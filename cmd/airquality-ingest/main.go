package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	httpapi "github.com/i474232898/district-airquality/internal/api/http"
	"github.com/i474232898/district-airquality/internal/config"
	"github.com/i474232898/district-airquality/internal/dataset"
	"github.com/i474232898/district-airquality/internal/logging"
	"github.com/i474232898/district-airquality/internal/metrics"
	"github.com/i474232898/district-airquality/internal/registry"
	"github.com/i474232898/district-airquality/internal/scheduler"
	"github.com/i474232898/district-airquality/internal/store"
	"github.com/i474232898/district-airquality/internal/weather"
	"github.com/i474232898/district-airquality/internal/weather/providers"
)

const appName = "airquality-ingest"

func main() {
	once := flag.Bool("once", false, "run a single ingestion and exit (default)")
	schedule := flag.Bool("schedule", false, "run every FETCH_INTERVAL until interrupted")
	flag.Parse()
	if *once && *schedule {
		log.Fatal("-once and -schedule are mutually exclusive")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.RequireIngest(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := logging.New(cfg, appName)
	slog.SetDefault(logger)

	zone, err := cfg.Presenter.Location()
	if err != nil {
		fatal(logger, "failed to load timezone", err)
	}

	objects, err := store.Open(cfg.Store.Backend, store.S3Config{
		Endpoint:  cfg.Store.Endpoint,
		AccessKey: cfg.Store.AccessKey.Unmask(),
		SecretKey: cfg.Store.SecretKey.Unmask(),
		Bucket:    cfg.Store.Repo,
		Region:    cfg.Store.Region,
	})
	if err != nil {
		fatal(logger, "failed to open store", err)
	}

	m := metrics.New()

	// Per-call deadlines come from HTTPClientConfig.Timeout.
	httpClient := &http.Client{}
	fetcher := providers.NewOpenWeatherProvider(providers.OpenWeatherConfig{
		APIKey:       cfg.OpenWeather.APIKey.Unmask(),
		WeatherURL:   cfg.OpenWeather.WeatherURL,
		PollutionURL: cfg.OpenWeather.PollutionURL,
		Units:        cfg.OpenWeather.Units,
		Zone:         zone,
		HTTP: providers.HTTPClientConfig{
			Client:         httpClient,
			Timeout:        cfg.OpenWeather.Timeout,
			PauseAfterCall: cfg.OpenWeather.PauseAfterCall,
			Breaker: providers.BreakerConfig{
				Threshold:   cfg.OpenWeather.BreakerThreshold,
				Timeout:     cfg.OpenWeather.BreakerTimeout,
				MaxRequests: uint32(cfg.Batch.Size),
			},
		},
	})

	batcher := scheduler.NewBatcher(fetcher, cfg.Batch.Size, cfg.Batch.Delay,
		scheduler.WithObserver(m),
		scheduler.WithLogger(logger),
	)
	writer := dataset.NewWriter(objects, dataset.Layout{Branch: cfg.Store.Branch, Path: cfg.Store.Path}, logger)
	pipeline := weather.NewPipeline(
		registry.NewCSVRegistry(cfg.Registry.Path),
		batcher,
		writer,
		weather.WithRunObserver(m),
		weather.WithPipelineLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*schedule {
		report, err := pipeline.Run(ctx)
		if err != nil {
			stop()
			fatal(logger, "ingestion run failed", err, "run_id", report.RunID)
		}
		return
	}

	sched := scheduler.New(pipeline, cfg.Batch.Interval, logger)
	if err := sched.Start(ctx); err != nil {
		stop()
		fatal(logger, "failed to start scheduler", err)
	}
	defer sched.Stop()

	var app *fiber.App
	if cfg.Server.MetricsPort != "" {
		app = httpapi.NewApp(appName)
		httpapi.RegisterMetrics(app, m.Handler())
		go func() {
			if err := app.Listen(":" + cfg.Server.MetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if app != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
	}
}

func fatal(logger *slog.Logger, msg string, err error, args ...any) {
	logger.Error(msg, append([]any{"error", err}, args...)...)
	os.Exit(1)
}
