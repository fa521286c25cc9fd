package presenter

import (
	"fmt"
	"sort"
	"time"

	"github.com/i474232898/district-airquality/internal/dataset"
	"github.com/i474232898/district-airquality/internal/weather"
)

// Level is the administrative level a map is aggregated to.
type Level string

const (
	LevelProvince Level = "province"
	LevelDistrict Level = "district"
)

// ParseLevel accepts "province" or "district"; empty means province.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case "", LevelProvince:
		return LevelProvince, nil
	case LevelDistrict:
		return LevelDistrict, nil
	}
	return "", fmt.Errorf("unknown map level %q", s)
}

// FeatureIDKey is the GeoJSON property the region IDs match.
func (l Level) FeatureIDKey() string {
	if l == LevelDistrict {
		return "properties.CC_2"
	}
	return "properties.CC_1"
}

// point is one stored row after the cutoff filter, the registry join and
// slotting.
type point struct {
	Slot       time.Time
	Timestamp  time.Time
	DistrictID string
	DistrictTH string
	ProvinceID string
	ProvinceTH string
	PM25       *float64
}

// Region is one shaded area of a frame.
type Region struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Province string  `json:"province,omitempty"`
	PM25     float64 `json:"pm25"`
	Category string  `json:"aqi_level,omitempty"`
}

// Frame is the map state at one slot.
type Frame struct {
	Slot    time.Time `json:"slot"`
	Regions []Region  `json:"regions"`
}

// prepare drops rows before cutoff or without a district, joins the
// registry and assigns each row its local time slot. Rows whose district
// is not in the registry are kept without Thai names or province.
func prepare(rows []dataset.Row, locs map[string]weather.Location, cutoff time.Time, slot time.Duration) []point {
	points := make([]point, 0, len(rows))
	for _, r := range rows {
		if r.DistrictID == "" || r.Timestamp.IsZero() || r.LocalTime.IsZero() {
			continue
		}
		if r.Timestamp.Before(cutoff) {
			continue
		}
		p := point{
			Slot:       floorSlot(r.LocalTime, slot),
			Timestamp:  r.Timestamp,
			DistrictID: r.DistrictID,
			PM25:       r.PM25,
		}
		if loc, ok := locs[r.DistrictID]; ok {
			p.DistrictTH = loc.DistrictTH
			p.ProvinceID = loc.ProvinceID
			p.ProvinceTH = loc.ProvinceTH
		}
		points = append(points, p)
	}
	return points
}

// floorSlot rounds t down to a multiple of slot counted from local midnight.
func floorSlot(t time.Time, slot time.Duration) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	since := t.Sub(midnight)
	return midnight.Add(since - since%slot)
}

// slotsOf returns the distinct slots in ascending order.
func slotsOf(points []point) []time.Time {
	seen := make(map[time.Time]struct{})
	var slots []time.Time
	for _, p := range points {
		if _, ok := seen[p.Slot]; ok {
			continue
		}
		seen[p.Slot] = struct{}{}
		slots = append(slots, p.Slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots
}

// inWindow keeps points whose slot lies in [at-w, at+w].
func inWindow(points []point, at time.Time, w time.Duration) []point {
	start, end := at.Add(-w), at.Add(w)
	var out []point
	for _, p := range points {
		if p.Slot.Before(start) || p.Slot.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// provinceFrames averages PM2.5 per (slot, province). Points without a
// province or a PM2.5 value do not contribute.
func provinceFrames(points []point) []Frame {
	type key struct {
		slot time.Time
		id   string
		name string
	}
	type acc struct {
		sum float64
		n   int
	}
	groups := make(map[key]*acc)
	for _, p := range points {
		if p.ProvinceID == "" || p.PM25 == nil {
			continue
		}
		k := key{slot: p.Slot, id: p.ProvinceID, name: p.ProvinceTH}
		a := groups[k]
		if a == nil {
			a = &acc{}
			groups[k] = a
		}
		a.sum += *p.PM25
		a.n++
	}

	bySlot := make(map[time.Time][]Region)
	for k, a := range groups {
		bySlot[k.slot] = append(bySlot[k.slot], newRegion(k.id, k.name, "", a.sum/float64(a.n)))
	}
	return toFrames(bySlot)
}

// districtFrames keeps the earliest captured reading per (slot, district)
// and then drops regions without PM2.5.
func districtFrames(points []point) []Frame {
	sorted := make([]point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	type key struct {
		slot time.Time
		id   string
	}
	seen := make(map[key]struct{})
	bySlot := make(map[time.Time][]Region)
	for _, p := range sorted {
		k := key{slot: p.Slot, id: p.DistrictID}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		if p.PM25 == nil {
			continue
		}
		bySlot[p.Slot] = append(bySlot[p.Slot], newRegion(p.DistrictID, p.DistrictTH, p.ProvinceTH, *p.PM25))
	}
	return toFrames(bySlot)
}

func newRegion(id, name, province string, pm25 float64) Region {
	cat, _ := Category(pm25)
	return Region{ID: id, Name: name, Province: province, PM25: pm25, Category: cat}
}

func toFrames(bySlot map[time.Time][]Region) []Frame {
	frames := make([]Frame, 0, len(bySlot))
	for slot, regions := range bySlot {
		sort.Slice(regions, func(i, j int) bool { return regions[i].ID < regions[j].ID })
		frames = append(frames, Frame{Slot: slot, Regions: regions})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Slot.Before(frames[j].Slot) })
	return frames
}
