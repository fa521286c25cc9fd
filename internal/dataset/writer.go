package dataset

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"

	"github.com/i474232898/district-airquality/internal/store"
	"github.com/i474232898/district-airquality/internal/weather"
)

const parquetContentType = "application/vnd.apache.parquet"

// Writer appends readings to the partitioned dataset. It only ever creates
// new objects; existing partitions from other runs are left untouched.
type Writer struct {
	store  store.ObjectStore
	layout Layout
	mem    memory.Allocator
	logger *slog.Logger
}

func NewWriter(s store.ObjectStore, layout Layout, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:  s,
		layout: layout,
		mem:    memory.NewGoAllocator(),
		logger: logger,
	}
}

// Append writes one parquet file per partition touched by readings and
// returns the keys it created. A failure part way leaves earlier files in
// place.
func (w *Writer) Append(ctx context.Context, runID string, readings []weather.Reading) ([]string, error) {
	if len(readings) == 0 {
		return nil, nil
	}

	groups := make(map[weather.Partition][]weather.Reading)
	for _, r := range readings {
		p := r.Partition()
		groups[p] = append(groups[p], r)
	}
	parts := make([]weather.Partition, 0, len(groups))
	for p := range groups {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].Start().Before(parts[j].Start())
	})

	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		data, err := w.encode(groups[p])
		if err != nil {
			return keys, fmt.Errorf("encode partition %s: %w", p.Path(), err)
		}
		key := w.layout.FileKey(p, runID, 0)
		if err := w.store.Put(ctx, key, data, parquetContentType); err != nil {
			return keys, fmt.Errorf("write partition %s: %w", p.Path(), err)
		}
		w.logger.InfoContext(ctx, "partition written",
			"key", key,
			"rows", len(groups[p]),
			"bytes", len(data),
		)
		keys = append(keys, key)
	}
	return keys, nil
}

// encode serializes rows as a snappy-compressed parquet file.
func (w *Writer) encode(rows []weather.Reading) ([]byte, error) {
	b := array.NewRecordBuilder(w.mem, Schema)
	defer b.Release()

	for _, r := range rows {
		for i, c := range columns {
			c.append(b.Field(i), r)
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithAllocator(w.mem),
	)
	fw, err := pqarrow.NewFileWriter(Schema, &buf, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, err
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
