package weather

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Location is one monitored district point from the registry.
// It is immutable for the duration of a run.
type Location struct {
	ID         string  `json:"district_id"`
	DistrictEN string  `json:"district_en"`
	ProvinceEN string  `json:"province_en"`
	DistrictTH string  `json:"district_th,omitempty"`
	ProvinceTH string  `json:"province_th,omitempty"`
	ProvinceID string  `json:"province_id,omitempty"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// Reading is one normalized weather + pollution sample for a Location.
// A Reading only exists when both upstream responses were valid.
type Reading struct {
	Timestamp time.Time `json:"timestamp"` // always UTC
	LocalTime time.Time `json:"localtime"`

	DistrictID string `json:"district_id"`
	District   string `json:"district"`
	Province   string `json:"province"`

	WeatherMain        string   `json:"weather_main"`
	WeatherDescription string   `json:"weather_description"`
	Temp               float64  `json:"main.temp"`
	TempMin            float64  `json:"main.temp_min"`
	TempMax            float64  `json:"main.temp_max"`
	FeelsLike          float64  `json:"main.feels_like"`
	Pressure           float64  `json:"main.pressure"`
	Humidity           float64  `json:"main.humidity"`
	Visibility         *float64 `json:"visibility"`
	WindSpeed          float64  `json:"wind.speed"`
	WindDeg            float64  `json:"wind.deg"`

	Components Components `json:"components"`
}

// Minute is the minute-of-hour of the capture timestamp.
func (r Reading) Minute() int {
	return r.Timestamp.UTC().Minute()
}

// Partition returns the bucket this reading is persisted under.
func (r Reading) Partition() Partition {
	return PartitionOf(r.Timestamp)
}

// Components holds pollutant concentrations in μg/m3.
type Components struct {
	CO   float64 `json:"co"`
	NO   float64 `json:"no"`
	NO2  float64 `json:"no2"`
	O3   float64 `json:"o3"`
	SO2  float64 `json:"so2"`
	PM25 float64 `json:"pm2_5"`
	PM10 float64 `json:"pm10"`
	NH3  float64 `json:"nh3"`
}

// Partition is the hive-style (year, month, day, hour) bucket of a Reading.
type Partition struct {
	Year  int
	Month int
	Day   int
	Hour  int
}

// PartitionOf decomposes ts (in UTC) into its partition bucket.
func PartitionOf(ts time.Time) Partition {
	u := ts.UTC()
	return Partition{
		Year:  u.Year(),
		Month: int(u.Month()),
		Day:   u.Day(),
		Hour:  u.Hour(),
	}
}

// Path renders the partition as hive directories, e.g. year=2025/month=5/day=18/hour=7.
// Integers are not zero padded, matching the layout pyarrow produced for the
// existing dataset.
func (p Partition) Path() string {
	return fmt.Sprintf("year=%d/month=%d/day=%d/hour=%d", p.Year, p.Month, p.Day, p.Hour)
}

// Start is the first instant covered by the partition.
func (p Partition) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), p.Day, p.Hour, 0, 0, 0, time.UTC)
}

// ParsePartitionPath extracts the partition keys from an object key that
// contains hive segments. Unknown segments are ignored.
func ParsePartitionPath(key string) (Partition, error) {
	var (
		p    Partition
		seen int
	)
	for _, seg := range strings.Split(key, "/") {
		name, value, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return Partition{}, fmt.Errorf("partition segment %q: %w", seg, err)
		}
		switch name {
		case "year":
			p.Year = n
		case "month":
			p.Month = n
		case "day":
			p.Day = n
		case "hour":
			p.Hour = n
		default:
			continue
		}
		seen++
	}
	if seen != 4 {
		return Partition{}, fmt.Errorf("key %q does not contain year/month/day/hour partitions", key)
	}
	return p, nil
}
