// Package view derives what the map and the device list render from the
// point history and the motion classifier. Everything here is a pure read.
package view

import (
	"sort"
	"time"

	"herd-monitor/dashboard/internal/domain"
	"herd-monitor/dashboard/internal/motion"
)

// Source is the read side of the merge store.
type Source interface {
	History(deviceID string) []domain.LivePoint
	DeviceIDs() []string
}

// Classifier labels a history at a point in time.
type Classifier interface {
	Classify(history []domain.LivePoint, now time.Time) domain.MotionState
}

// SummaryRow is one line of the device list.
type SummaryRow struct {
	DeviceID string             `json:"deviceId"`
	Name     string             `json:"name,omitempty"`
	Motion   domain.MotionState `json:"motion"`
	Points   int                `json:"points"`

	LastSeen     *time.Time `json:"lastSeen,omitempty"`
	Lat          *float64   `json:"lat,omitempty"`
	Lon          *float64   `json:"lon,omitempty"`
	BatteryPct   *float64   `json:"batteryPct,omitempty"`
	BatteryV     *float64   `json:"batteryV,omitempty"`
	RSSI         *float64   `json:"rssi,omitempty"`
	SNR          *float64   `json:"snr,omitempty"`
	TemperatureC *float64   `json:"temperatureC,omitempty"`
	AltitudeM    *float64   `json:"altitudeM,omitempty"`
	FrameCounter *int64     `json:"frameCounter,omitempty"`
}

type Projector struct {
	src        Source
	classifier Classifier
	fallback   domain.Coordinate
	now        func() time.Time
}

func NewProjector(src Source, classifier Classifier, fallback domain.Coordinate) *Projector {
	return &Projector{
		src:        src,
		classifier: classifier,
		fallback:   fallback,
		now:        time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (p *Projector) WithClock(now func() time.Time) *Projector {
	p.now = now
	return p
}

// MapCenter returns the coordinate of the freshest point with a fix, across
// all devices or only the focused one when focus is non-empty.
func (p *Projector) MapCenter(focus string) domain.Coordinate {
	ids := p.src.DeviceIDs()
	if focus != "" {
		ids = []string{focus}
	}

	var (
		best  domain.LivePoint
		found bool
	)
	for _, id := range ids {
		h := p.src.History(id)
		for i := len(h) - 1; i >= 0; i-- {
			if !h[i].HasFix() {
				continue
			}
			if !found || h[i].Timestamp() > best.Timestamp() {
				best, found = h[i], true
			}
			break
		}
	}
	if !found {
		return p.fallback
	}
	return domain.Coordinate{Lat: *best.Lat, Lon: *best.Lon}
}

// Route returns the polyline of a device in time order. Points without a
// fix are skipped; fewer than two usable points yields nil.
func (p *Projector) Route(deviceID string) []domain.Coordinate {
	h := p.src.History(deviceID)
	route := make([]domain.Coordinate, 0, len(h))
	for _, pt := range h {
		if pt.HasFix() {
			route = append(route, domain.Coordinate{Lat: *pt.Lat, Lon: *pt.Lon})
		}
	}
	if len(route) < 2 {
		return nil
	}
	return route
}

// Motion classifies one device now.
func (p *Projector) Motion(deviceID string) domain.MotionState {
	return p.classifier.Classify(p.src.History(deviceID), p.now())
}

// SummaryRow reports telemetry of the last point plus the motion label.
// The marker position is the last point with a fix, which may be older than
// the last telemetry sample.
func (p *Projector) SummaryRow(deviceID string) SummaryRow {
	h := p.src.History(deviceID)
	row := SummaryRow{
		DeviceID: deviceID,
		Motion:   p.classifier.Classify(h, p.now()),
		Points:   len(h),
	}
	if len(h) == 0 {
		return row
	}

	last := h[len(h)-1]
	seen := last.Time()
	row.LastSeen = &seen
	row.BatteryPct = last.BatteryPct
	row.BatteryV = last.BatteryV
	row.RSSI = last.RSSI
	row.SNR = last.SNR
	row.TemperatureC = last.TemperatureC
	row.AltitudeM = last.AltitudeM
	row.FrameCounter = last.FrameCounter

	for i := len(h) - 1; i >= 0; i-- {
		if h[i].HasFix() {
			row.Lat, row.Lon = h[i].Lat, h[i].Lon
			break
		}
	}
	return row
}

// Summaries returns one row per device seen in the store or listed in
// registry, sorted by device id. Registry names are attached when known.
func (p *Projector) Summaries(registry []domain.Device) []SummaryRow {
	names := make(map[string]string, len(registry))
	ids := make(map[string]struct{})
	for _, d := range registry {
		names[d.ID] = d.Name
		ids[d.ID] = struct{}{}
	}
	for _, id := range p.src.DeviceIDs() {
		ids[id] = struct{}{}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	rows := make([]SummaryRow, 0, len(sorted))
	for _, id := range sorted {
		row := p.SummaryRow(id)
		row.Name = names[id]
		rows = append(rows, row)
	}
	return rows
}

// MotionCounts tallies rows by label.
func MotionCounts(rows []SummaryRow) map[domain.MotionState]int {
	counts := make(map[domain.MotionState]int, len(domain.MotionStates))
	for _, s := range domain.MotionStates {
		counts[s] = 0
	}
	for _, r := range rows {
		counts[r.Motion]++
	}
	return counts
}

var _ Classifier = (*motion.Classifier)(nil)
