// Package registry loads the table of monitored district points.
package registry

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/i474232898/district-airquality/internal/weather"
)

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("registry: missing required column")

var requiredColumns = []string{"lat", "lon", "district_en", "province_en", "district_id"}

// CSVRegistry reads locations from a CSV file on every Load.
type CSVRegistry struct {
	path string
}

func NewCSVRegistry(path string) *CSVRegistry {
	return &CSVRegistry{path: path}
}

// Load implements weather.RegistryLoader.
func (r *CSVRegistry) Load(ctx context.Context) ([]weather.Location, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a registry CSV. Column order does not matter; extra columns
// are ignored.
func Parse(src io.Reader) ([]weather.Location, error) {
	r := csv.NewReader(src)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read registry header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		idx[name] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	get := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var locs []weather.Location
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("registry line %d: %w", line, err)
		}

		lat, err := strconv.ParseFloat(get(rec, "lat"), 64)
		if err != nil {
			return nil, fmt.Errorf("registry line %d: invalid lat: %w", line, err)
		}
		lon, err := strconv.ParseFloat(get(rec, "lon"), 64)
		if err != nil {
			return nil, fmt.Errorf("registry line %d: invalid lon: %w", line, err)
		}
		id := get(rec, "district_id")
		if id == "" {
			return nil, fmt.Errorf("registry line %d: empty district_id", line)
		}

		locs = append(locs, weather.Location{
			ID:         id,
			DistrictEN: get(rec, "district_en"),
			ProvinceEN: get(rec, "province_en"),
			DistrictTH: get(rec, "district_th"),
			ProvinceTH: get(rec, "province_th"),
			ProvinceID: get(rec, "province_id"),
			Lat:        lat,
			Lon:        lon,
		})
	}
	return locs, nil
}

// Index maps district_id to its Location.
func Index(locs []weather.Location) map[string]weather.Location {
	m := make(map[string]weather.Location, len(locs))
	for _, l := range locs {
		m[l.ID] = l
	}
	return m
}
