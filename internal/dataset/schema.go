// Package dataset reads and writes the hive-partitioned parquet dataset of
// readings. Files live under {branch}/{path}/year=Y/month=M/day=D/hour=H/.
// Partition keys are encoded in the path only, not as columns.
package dataset

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	"github.com/i474232898/district-airquality/internal/weather"
)

// ErrSchemaMismatch is returned when a stored column cannot be read as the
// type the reader expects.
var ErrSchemaMismatch = errors.New("dataset schema mismatch")

// Column names shared by the writer and the reader.
const (
	ColTimestamp  = "timestamp"
	ColLocalTime  = "localtime"
	ColMinute     = "minute"
	ColDistrictID = "district_id"
	ColPM25       = "components_pm2_5"
)

// timestampNS is a zone-less nanosecond timestamp, the type pandas writes
// for naive datetimes.
var timestampNS = &arrow.TimestampType{Unit: arrow.Nanosecond}

// column binds one parquet column to the Reading field it is filled from.
type column struct {
	field  arrow.Field
	append func(b array.Builder, r weather.Reading)
}

func floatCol(name string, get func(r weather.Reading) float64) column {
	return column{
		field: arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64},
		append: func(b array.Builder, r weather.Reading) {
			b.(*array.Float64Builder).Append(get(r))
		},
	}
}

func stringCol(name string, get func(r weather.Reading) string) column {
	return column{
		field: arrow.Field{Name: name, Type: arrow.BinaryTypes.String},
		append: func(b array.Builder, r weather.Reading) {
			b.(*array.StringBuilder).Append(get(r))
		},
	}
}

// columns is the writer's column set, in file order.
var columns = []column{
	{
		field: arrow.Field{Name: ColTimestamp, Type: timestampNS},
		append: func(b array.Builder, r weather.Reading) {
			b.(*array.TimestampBuilder).Append(arrow.Timestamp(r.Timestamp.UTC().UnixNano()))
		},
	},
	{
		field: arrow.Field{Name: ColMinute, Type: arrow.PrimitiveTypes.Int64},
		append: func(b array.Builder, r weather.Reading) {
			b.(*array.Int64Builder).Append(int64(r.Minute()))
		},
	},
	stringCol(ColDistrictID, func(r weather.Reading) string { return r.DistrictID }),
	stringCol("district", func(r weather.Reading) string { return r.District }),
	stringCol("province", func(r weather.Reading) string { return r.Province }),
	{
		field: arrow.Field{Name: ColLocalTime, Type: timestampNS},
		append: func(b array.Builder, r weather.Reading) {
			b.(*array.TimestampBuilder).Append(arrow.Timestamp(wallClock(r.LocalTime).UnixNano()))
		},
	},
	stringCol("weather_main", func(r weather.Reading) string { return r.WeatherMain }),
	stringCol("weather_description", func(r weather.Reading) string { return r.WeatherDescription }),
	floatCol("main.temp", func(r weather.Reading) float64 { return r.Temp }),
	floatCol("main.temp_min", func(r weather.Reading) float64 { return r.TempMin }),
	floatCol("main.temp_max", func(r weather.Reading) float64 { return r.TempMax }),
	floatCol("main.feels_like", func(r weather.Reading) float64 { return r.FeelsLike }),
	floatCol("main.pressure", func(r weather.Reading) float64 { return r.Pressure }),
	floatCol("main.humidity", func(r weather.Reading) float64 { return r.Humidity }),
	{
		field: arrow.Field{Name: "visibility", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		append: func(b array.Builder, r weather.Reading) {
			fb := b.(*array.Float64Builder)
			if r.Visibility == nil {
				fb.AppendNull()
				return
			}
			fb.Append(*r.Visibility)
		},
	},
	floatCol("wind.speed", func(r weather.Reading) float64 { return r.WindSpeed }),
	floatCol("wind.deg", func(r weather.Reading) float64 { return r.WindDeg }),
	floatCol("components_co", func(r weather.Reading) float64 { return r.Components.CO }),
	floatCol("components_no", func(r weather.Reading) float64 { return r.Components.NO }),
	floatCol("components_no2", func(r weather.Reading) float64 { return r.Components.NO2 }),
	floatCol("components_o3", func(r weather.Reading) float64 { return r.Components.O3 }),
	floatCol("components_so2", func(r weather.Reading) float64 { return r.Components.SO2 }),
	floatCol(ColPM25, func(r weather.Reading) float64 { return r.Components.PM25 }),
	floatCol("components_pm10", func(r weather.Reading) float64 { return r.Components.PM10 }),
	floatCol("components_nh3", func(r weather.Reading) float64 { return r.Components.NH3 }),
}

// Schema is the arrow schema of every file the Writer produces.
var Schema = func() *arrow.Schema {
	fields := make([]arrow.Field, len(columns))
	for i, c := range columns {
		fields[i] = c.field
	}
	return arrow.NewSchema(fields, nil)
}()

// ReadSchema is the projection the presenter reads. Every field must exist
// in Schema with the same type.
var ReadSchema = arrow.NewSchema([]arrow.Field{
	{Name: ColTimestamp, Type: timestampNS, Nullable: true},
	{Name: ColLocalTime, Type: timestampNS, Nullable: true},
	{Name: ColMinute, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: ColDistrictID, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: ColPM25, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

// wallClock re-labels t's local wall-clock reading as UTC so it survives a
// zone-less timestamp column.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Layout addresses the dataset inside the store.
type Layout struct {
	Branch string
	Path   string
}

// Prefix is the key prefix every file of the dataset shares.
func (l Layout) Prefix() string {
	return strings.Trim(l.Branch, "/") + "/" + strings.Trim(l.Path, "/") + "/"
}

// FileKey names the n-th file a run writes into partition p.
func (l Layout) FileKey(p weather.Partition, runID string, n int) string {
	return fmt.Sprintf("%s%s/%s-%d.parquet", l.Prefix(), p.Path(), runID, n)
}
