package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	httpapi "github.com/i474232898/district-airquality/internal/api/http"
	"github.com/i474232898/district-airquality/internal/config"
	"github.com/i474232898/district-airquality/internal/dataset"
	"github.com/i474232898/district-airquality/internal/logging"
	"github.com/i474232898/district-airquality/internal/metrics"
	"github.com/i474232898/district-airquality/internal/presenter"
	"github.com/i474232898/district-airquality/internal/registry"
	"github.com/i474232898/district-airquality/internal/store"
)

const appName = "airquality-map"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
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

	// The registry is static, so it is read once at startup.
	locs, err := registry.NewCSVRegistry(cfg.Registry.Path).Load(context.Background())
	if err != nil {
		fatal(logger, "failed to load registry", err)
	}

	m := metrics.New()
	layout := dataset.Layout{Branch: cfg.Store.Branch, Path: cfg.Store.Path}
	reader := dataset.NewReader(objects, layout, zone, logger)
	svc := presenter.NewService(
		reader,
		registry.Index(locs),
		presenter.NewCache(cfg.Presenter.CacheSize, cfg.Presenter.CacheTTL),
		presenter.Options{
			DatasetKey:  path.Join(cfg.Store.Repo, layout.Prefix()),
			Cutoff:      cfg.Presenter.Cutoff,
			Window:      cfg.Presenter.Window,
			Slot:        cfg.Presenter.Slot,
			Zone:        zone,
			EmptyPolicy: presenter.EmptyPolicy(cfg.Presenter.EmptyPolicy),
		},
		m,
		logger,
	)

	app := httpapi.NewApp(appName)
	httpapi.RegisterMetrics(app, m.Handler())
	httpapi.RegisterRoutes(app, svc, httpapi.GeoJSONFiles{
		presenter.LevelProvince: cfg.Presenter.ProvinceGeoJSON,
		presenter.LevelDistrict: cfg.Presenter.DistrictGeoJSON,
	})

	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			logger.Error("fiber server stopped", "error", err)
		}
	}()
	logger.Info("map server listening", "port", cfg.Server.Port, "locations", len(locs))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
