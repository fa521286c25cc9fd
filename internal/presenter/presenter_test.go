package presenter

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/district-airquality/internal/dataset"
	"github.com/i474232898/district-airquality/internal/weather"
)

var ict = time.FixedZone("ICT", 7*60*60)

func TestCategory(t *testing.T) {
	cases := []struct {
		pm25  float64
		label string
		ok    bool
	}{
		{0, "Good", true},
		{12, "Good", true},
		{12.01, "Moderate", true},
		{35.4, "Moderate", true},
		{35.5, "Unhealthy for Sensitive Groups", true},
		{55.4, "Unhealthy for Sensitive Groups", true},
		{100, "Unhealthy", true},
		{150.4, "Unhealthy", true},
		{200, "Very Unhealthy", true},
		{300, "Hazardous", true},
		{500.4, "Very Hazardous", true},
		{500.5, "", false},
		{-1, "", false},
		{math.NaN(), "", false},
	}
	for _, tc := range cases {
		label, ok := Category(tc.pm25)
		assert.Equal(t, tc.label, label, "pm25=%v", tc.pm25)
		assert.Equal(t, tc.ok, ok, "pm25=%v", tc.pm25)
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelProvince, l)
	assert.Equal(t, "properties.CC_1", l.FeatureIDKey())

	l, err = ParseLevel("district")
	require.NoError(t, err)
	assert.Equal(t, "properties.CC_2", l.FeatureIDKey())

	_, err = ParseLevel("country")
	assert.Error(t, err)
}

func TestFloorSlot(t *testing.T) {
	got := floorSlot(time.Date(2025, 5, 18, 14, 44, 59, 0, ict), 15*time.Minute)
	assert.Equal(t, time.Date(2025, 5, 18, 14, 30, 0, 0, ict), got)
	got = floorSlot(time.Date(2025, 5, 18, 14, 45, 0, 0, ict), 15*time.Minute)
	assert.Equal(t, time.Date(2025, 5, 18, 14, 45, 0, 0, ict), got)
}

func f(v float64) *float64 { return &v }

// row builds a stored row captured at the given UTC hour and minute on
// 2025-05-18.
func row(id string, hour, minute int, pm25 *float64) dataset.Row {
	ts := time.Date(2025, 5, 18, hour, minute, 0, 0, time.UTC)
	return dataset.Row{
		Timestamp:  ts,
		LocalTime:  ts.In(ict),
		Minute:     int64(minute),
		DistrictID: id,
		PM25:       pm25,
		Partition:  weather.PartitionOf(ts),
	}
}

var registryIndex = map[string]weather.Location{
	"1001": {ID: "1001", DistrictTH: "ปทุมวัน", ProvinceID: "10", ProvinceTH: "กรุงเทพมหานคร"},
	"1002": {ID: "1002", DistrictTH: "บางรัก", ProvinceID: "10", ProvinceTH: "กรุงเทพมหานคร"},
	"5001": {ID: "5001", DistrictTH: "เมืองเชียงใหม่", ProvinceID: "50", ProvinceTH: "เชียงใหม่"},
}

type fakeLoader struct {
	rows  []dataset.Row
	err   error
	calls atomic.Int32
	since time.Time
}

func (l *fakeLoader) Load(ctx context.Context, since time.Time) ([]dataset.Row, error) {
	l.calls.Add(1)
	l.since = since
	return l.rows, l.err
}

func newService(loader Loader, policy EmptyPolicy) *Service {
	return NewService(loader, registryIndex, NewCache(4, time.Minute), Options{
		DatasetKey:  "weather/main/weather.parquet",
		Cutoff:      time.Date(2025, 5, 18, 0, 0, 0, 0, time.UTC),
		Window:      time.Hour,
		Slot:        15 * time.Minute,
		Zone:        ict,
		EmptyPolicy: policy,
	}, nil, nil)
}

func TestService_ProvinceMean(t *testing.T) {
	loader := &fakeLoader{rows: []dataset.Row{
		row("1001", 7, 1, f(20)),
		row("1002", 7, 2, f(40)),
		row("5001", 7, 3, f(60)),
		row("5001", 7, 4, nil),
	}}
	svc := newService(loader, EmptyFail)

	view, err := svc.Map(context.Background(), LevelProvince, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, view.Selected)
	assert.Equal(t, time.Date(2025, 5, 18, 14, 0, 0, 0, ict), *view.Selected)
	require.Len(t, view.Frames, 1)

	regions := view.Frames[0].Regions
	require.Len(t, regions, 2)
	assert.Equal(t, "10", regions[0].ID)
	assert.InDelta(t, 30, regions[0].PM25, 1e-9)
	assert.Equal(t, "Moderate", regions[0].Category)
	assert.Equal(t, "50", regions[1].ID)
	assert.InDelta(t, 60, regions[1].PM25, 1e-9)
	assert.Equal(t, "Unhealthy", regions[1].Category)
	assert.Equal(t, "properties.CC_1", view.FeatureIDKey)
}

func TestService_DistrictKeepsEarliestPerSlot(t *testing.T) {
	loader := &fakeLoader{rows: []dataset.Row{
		row("1001", 7, 10, f(50)),
		row("1001", 7, 2, f(10)),
		row("1002", 7, 5, nil),
		row("1002", 7, 6, f(99)),
	}}
	svc := newService(loader, EmptyFail)

	view, err := svc.Map(context.Background(), LevelDistrict, time.Time{})
	require.NoError(t, err)
	require.Len(t, view.Frames, 1)

	regions := view.Frames[0].Regions
	require.Len(t, regions, 1, "1002's earliest reading has no PM2.5 and is dropped")
	assert.Equal(t, "1001", regions[0].ID)
	assert.Equal(t, "ปทุมวัน", regions[0].Name)
	assert.Equal(t, "กรุงเทพมหานคร", regions[0].Province)
	assert.InDelta(t, 10, regions[0].PM25, 1e-9)
}

func TestService_WindowAroundSelection(t *testing.T) {
	loader := &fakeLoader{rows: []dataset.Row{
		row("1001", 4, 0, f(5)),  // 11:00 local, outside
		row("1001", 5, 0, f(6)),  // 12:00 local, edge
		row("1001", 6, 0, f(7)),  // 13:00 local, selected
		row("1001", 7, 0, f(8)),  // 14:00 local, edge
		row("1001", 7, 15, f(9)), // 14:15 local, outside
	}}
	svc := newService(loader, EmptyFail)

	at := time.Date(2025, 5, 18, 13, 7, 0, 0, ict)
	view, err := svc.Map(context.Background(), LevelDistrict, at)
	require.NoError(t, err)
	assert.Len(t, view.Slots, 5)
	require.Len(t, view.Frames, 3)
	assert.Equal(t, time.Date(2025, 5, 18, 12, 0, 0, 0, ict), view.Frames[0].Slot)
	assert.Equal(t, time.Date(2025, 5, 18, 14, 0, 0, 0, ict), view.Frames[2].Slot)
}

func TestService_UnknownSlot(t *testing.T) {
	svc := newService(&fakeLoader{rows: []dataset.Row{row("1001", 7, 0, f(5))}}, EmptyFail)
	_, err := svc.Map(context.Background(), LevelProvince, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrUnknownSlot)
}

func TestService_CutoffAndNullDistrict(t *testing.T) {
	old := row("1001", 7, 0, f(5))
	old.Timestamp = time.Date(2025, 5, 17, 23, 0, 0, 0, time.UTC)
	old.LocalTime = old.Timestamp.In(ict)
	loader := &fakeLoader{rows: []dataset.Row{old, row("", 7, 0, f(5))}}

	svc := newService(loader, EmptyFail)
	_, err := svc.Map(context.Background(), LevelProvince, time.Time{})
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, time.Date(2025, 5, 18, 0, 0, 0, 0, time.UTC), loader.since)
}

func TestService_EmptyRenderPolicy(t *testing.T) {
	svc := newService(&fakeLoader{}, EmptyRender)

	view, err := svc.Map(context.Background(), LevelDistrict, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, view.Frames)
	assert.Empty(t, view.Slots)
	assert.Nil(t, view.Selected)

	slots, err := svc.Slots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestService_UnmatchedDistrictStaysOnDistrictLevel(t *testing.T) {
	svc := newService(&fakeLoader{rows: []dataset.Row{row("9999", 7, 0, f(15))}}, EmptyFail)

	view, err := svc.Map(context.Background(), LevelDistrict, time.Time{})
	require.NoError(t, err)
	require.Len(t, view.Frames, 1)
	assert.Equal(t, "9999", view.Frames[0].Regions[0].ID)

	view, err = svc.Map(context.Background(), LevelProvince, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, view.Frames)
}

func TestService_CachesUntilInvalidated(t *testing.T) {
	loader := &fakeLoader{rows: []dataset.Row{row("1001", 7, 0, f(5))}}
	svc := newService(loader, EmptyFail)
	ctx := context.Background()

	_, err := svc.Slots(ctx)
	require.NoError(t, err)
	_, err = svc.Map(ctx, LevelProvince, time.Time{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.calls.Load())

	svc.Invalidate()
	_, err = svc.Slots(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestService_LoadErrorNotCached(t *testing.T) {
	loader := &fakeLoader{err: errors.New("store down")}
	svc := newService(loader, EmptyFail)

	_, err := svc.Slots(context.Background())
	require.Error(t, err)
	_, err = svc.Slots(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestCache_Expires(t *testing.T) {
	c := NewCache(2, 20*time.Millisecond)
	var loads int
	load := func(context.Context) ([]point, error) {
		loads++
		return []point{{DistrictID: "1001"}}, nil
	}

	_, hit, err := c.get(context.Background(), "k", load)
	require.NoError(t, err)
	assert.False(t, hit)
	_, hit, err = c.get(context.Background(), "k", load)
	require.NoError(t, err)
	assert.True(t, hit)

	time.Sleep(60 * time.Millisecond)
	_, hit, err = c.get(context.Background(), "k", load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, loads)
}
