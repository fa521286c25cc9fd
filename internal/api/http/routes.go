package httpapi

import (
	_ "embed"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/i474232898/district-airquality/internal/presenter"
)

var validate = validator.New()

//go:embed web/index.html
var indexHTML []byte

// NewApp builds a Fiber app with the shared error handler, middleware and
// the /health endpoint.
func NewApp(name string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": name,
		})
	})
	return app
}

// RegisterMetrics exposes a Prometheus handler at /metrics.
func RegisterMetrics(app *fiber.App, h http.Handler) {
	app.Get("/metrics", adaptor.HTTPHandler(h))
}

// GeoJSONFiles maps each level to the boundary file served for it.
type GeoJSONFiles map[presenter.Level]string

// RegisterRoutes wires the map page and its JSON API into the Fiber app.
func RegisterRoutes(app *fiber.App, service MapService, geo GeoJSONFiles) {
	app.Get("/", func(c *fiber.Ctx) error {
		c.Type("html", "utf-8")
		return c.Send(indexHTML)
	})

	app.Get("/geojson/:level", func(c *fiber.Ctx) error {
		level, err := presenter.ParseLevel(c.Params("level"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		path, ok := geo[level]
		if !ok || path == "" {
			return fiber.NewError(fiber.StatusNotFound, "no boundaries configured for "+string(level))
		}
		if _, err := os.Stat(path); err != nil {
			return fiber.NewError(fiber.StatusNotFound, "boundary file not available")
		}
		if err := c.SendFile(path); err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return nil
	})

	v1 := app.Group("/api/v1")

	v1.Get("/map/times", func(c *fiber.Ctx) error {
		slots, err := service.Slots(c.UserContext())
		if err != nil {
			return mapError(err)
		}
		return c.JSON(fiber.Map{"slots": slots})
	})

	v1.Get("/map", func(c *fiber.Ctx) error {
		var q mapQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		level, err := presenter.ParseLevel(q.Level)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		view, err := service.Map(c.UserContext(), level, q.At)
		if err != nil {
			return mapError(err)
		}
		return c.JSON(view)
	})

	v1.Post("/cache/invalidate", func(c *fiber.Ctx) error {
		service.Invalidate()
		return c.JSON(fiber.Map{"invalidated": true})
	})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, presenter.ErrNoData):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, presenter.ErrUnknownSlot):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "failed to build map")
	}
}

// mapQuery holds query parameters for the map endpoint.
type mapQuery struct {
	Level string `validate:"omitempty,oneof=province district"`
	At    time.Time
}

func (q *mapQuery) bind(c *fiber.Ctx) error {
	q.Level = c.Query("level")
	if s := c.Query("time"); s != "" {
		at, err := parseTime(s)
		if err != nil {
			return err
		}
		q.At = at
	}
	return validate.Struct(q)
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
