package dataset

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"

	"github.com/i474232898/district-airquality/internal/store"
	"github.com/i474232898/district-airquality/internal/weather"
)

// Row is the projection of one stored reading used for rendering. Null
// cells surface as zero times, an empty DistrictID or a nil PM25.
type Row struct {
	Timestamp  time.Time // UTC
	LocalTime  time.Time // in the reader's zone
	Minute     int64
	DistrictID string
	PM25       *float64
	Partition  weather.Partition
}

// Reader loads ReadSchema columns from every partition file of the dataset.
type Reader struct {
	store  store.ObjectStore
	layout Layout
	zone   *time.Location
	mem    memory.Allocator
	logger *slog.Logger
}

func NewReader(s store.ObjectStore, layout Layout, zone *time.Location, logger *slog.Logger) *Reader {
	if zone == nil {
		zone = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		store:  s,
		layout: layout,
		zone:   zone,
		mem:    memory.NewGoAllocator(),
		logger: logger,
	}
}

// Load returns all rows from partitions that may hold data at or after
// since. A zero since loads everything. Files outside a complete
// year/month/day/hour path are skipped.
func (r *Reader) Load(ctx context.Context, since time.Time) ([]Row, error) {
	objs, err := r.store.List(ctx, r.layout.Prefix())
	if err != nil {
		return nil, fmt.Errorf("list dataset: %w", err)
	}

	var rows []Row
	for _, obj := range objs {
		if !strings.HasSuffix(obj.Key, ".parquet") {
			continue
		}
		part, err := weather.ParsePartitionPath(strings.TrimPrefix(obj.Key, r.layout.Prefix()))
		if err != nil {
			r.logger.WarnContext(ctx, "skipping object outside partition layout", "key", obj.Key, "error", err)
			continue
		}
		if !since.IsZero() && !part.Start().Add(time.Hour).After(since) {
			continue
		}

		data, err := r.store.Get(ctx, obj.Key)
		if err != nil {
			return nil, err
		}
		fileRows, err := r.decode(ctx, obj.Key, data, part)
		if err != nil {
			return nil, err
		}
		rows = append(rows, fileRows...)
	}
	return rows, nil
}

func (r *Reader) decode(ctx context.Context, key string, data []byte, part weather.Partition) ([]Row, error) {
	tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(data), parquet.NewReaderProperties(r.mem), pqarrow.ArrowReadProperties{}, r.mem)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", key, err)
	}
	defer tbl.Release()

	rows := make([]Row, tbl.NumRows())
	for i := range rows {
		rows[i].Partition = part
	}

	for _, field := range ReadSchema.Fields() {
		idx := tbl.Schema().FieldIndices(field.Name)
		if len(idx) == 0 {
			r.logger.WarnContext(ctx, "column missing, filling nulls", "key", key, "column", field.Name)
			continue
		}
		offset := 0
		for _, chunk := range tbl.Column(idx[0]).Data().Chunks() {
			if err := r.assign(field.Name, chunk, rows[offset:offset+chunk.Len()]); err != nil {
				return nil, fmt.Errorf("%s column %s: %w", key, field.Name, err)
			}
			offset += chunk.Len()
		}
	}
	return rows, nil
}

// assign copies one chunk into rows. It accepts the historical encodings
// found in older files: integer district ids and non-nanosecond timestamps.
func (r *Reader) assign(name string, chunk arrow.Array, rows []Row) error {
	mismatch := func() error {
		return fmt.Errorf("%w: got %s", ErrSchemaMismatch, chunk.DataType())
	}

	switch name {
	case ColTimestamp, ColLocalTime:
		arr, ok := chunk.(*array.Timestamp)
		if !ok {
			return mismatch()
		}
		typ := arr.DataType().(*arrow.TimestampType)
		for i := range rows {
			if arr.IsNull(i) {
				continue
			}
			t := arr.Value(i).ToTime(typ.Unit)
			if name == ColTimestamp {
				rows[i].Timestamp = t.UTC()
				continue
			}
			if typ.TimeZone != "" {
				rows[i].LocalTime = t.In(r.zone)
			} else {
				rows[i].LocalTime = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), r.zone)
			}
		}

	case ColMinute:
		switch arr := chunk.(type) {
		case *array.Int64:
			for i := range rows {
				if !arr.IsNull(i) {
					rows[i].Minute = arr.Value(i)
				}
			}
		case *array.Int32:
			for i := range rows {
				if !arr.IsNull(i) {
					rows[i].Minute = int64(arr.Value(i))
				}
			}
		default:
			return mismatch()
		}

	case ColDistrictID:
		switch arr := chunk.(type) {
		case *array.String:
			for i := range rows {
				if !arr.IsNull(i) {
					rows[i].DistrictID = arr.Value(i)
				}
			}
		case *array.LargeString:
			for i := range rows {
				if !arr.IsNull(i) {
					rows[i].DistrictID = arr.Value(i)
				}
			}
		case *array.Int64:
			for i := range rows {
				if !arr.IsNull(i) {
					rows[i].DistrictID = strconv.FormatInt(arr.Value(i), 10)
				}
			}
		default:
			return mismatch()
		}

	case ColPM25:
		switch arr := chunk.(type) {
		case *array.Float64:
			for i := range rows {
				if !arr.IsNull(i) {
					v := arr.Value(i)
					rows[i].PM25 = &v
				}
			}
		case *array.Float32:
			for i := range rows {
				if !arr.IsNull(i) {
					v := float64(arr.Value(i))
					rows[i].PM25 = &v
				}
			}
		default:
			return mismatch()
		}
	}
	return nil
}
