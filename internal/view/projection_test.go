package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herd-monitor/dashboard/internal/domain"
	"herd-monitor/dashboard/internal/geo"
	"herd-monitor/dashboard/internal/history"
	"herd-monitor/dashboard/internal/motion"
)

var (
	now      = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	fallback = domain.Coordinate{Lat: -27.5, Lon: 153.0}
)

func at(device string, age time.Duration, lat, lon *float64) domain.LivePoint {
	return domain.LivePoint{DeviceID: device, TS: domain.FromTime(now.Add(-age)), Lat: lat, Lon: lon}
}

func newProjector(store *history.Store) *Projector {
	return NewProjector(store, motion.New(motion.DefaultConfig()), fallback).
		WithClock(func() time.Time { return now })
}

func TestMapCenterFallsBackWithoutPoints(t *testing.T) {
	p := newProjector(history.NewStore(10))
	assert.Equal(t, fallback, p.MapCenter(""))
	assert.Equal(t, fallback, p.MapCenter("c1"))
}

func TestMapCenterPicksFreshestFix(t *testing.T) {
	store := history.NewStore(10)
	store.MergeBatch("c1", []domain.LivePoint{at("c1", 5*time.Minute, domain.Float(-27.1), domain.Float(152.1))})
	store.MergeBatch("c2", []domain.LivePoint{
		at("c2", 3*time.Minute, domain.Float(-27.2), domain.Float(152.2)),
		at("c2", time.Minute, nil, nil),
	})
	p := newProjector(store)

	assert.Equal(t, domain.Coordinate{Lat: -27.2, Lon: 152.2}, p.MapCenter(""))
	assert.Equal(t, domain.Coordinate{Lat: -27.1, Lon: 152.1}, p.MapCenter("c1"))
	assert.Equal(t, fallback, p.MapCenter("nobody"))
}

func TestRouteSkipsPointsWithoutFix(t *testing.T) {
	store := history.NewStore(10)
	store.MergeBatch("c1", []domain.LivePoint{
		at("c1", 3*time.Minute, domain.Float(1), domain.Float(1)),
		at("c1", 2*time.Minute, nil, nil),
		at("c1", time.Minute, domain.Float(2), domain.Float(2)),
	})
	store.MergeBatch("c2", []domain.LivePoint{
		at("c2", 2*time.Minute, domain.Float(1), domain.Float(1)),
		at("c2", time.Minute, domain.Float(1), nil),
	})
	p := newProjector(store)

	assert.Equal(t, []domain.Coordinate{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}, p.Route("c1"))
	assert.Nil(t, p.Route("c2"))
	assert.Nil(t, p.Route("missing"))
}

func TestSummaryRow(t *testing.T) {
	store := history.NewStore(10)
	lat, lon := -27.2, 152.8
	var points []domain.LivePoint
	for i := 0; i < 3; i++ {
		points = append(points, at("c1", time.Duration(3-i)*time.Minute, domain.Float(lat), domain.Float(lon)))
		lat, lon = geo.Offset(lat, lon, 40, 0)
	}
	telemetryOnly := at("c1", 30*time.Second, nil, nil)
	telemetryOnly.BatteryPct = domain.Float(63)
	telemetryOnly.RSSI = domain.Float(-112)
	points = append(points, telemetryOnly)
	store.MergeBatch("c1", points)

	p := newProjector(store)
	row := p.SummaryRow("c1")
	assert.Equal(t, "c1", row.DeviceID)
	assert.Equal(t, 4, row.Points)
	require.NotNil(t, row.LastSeen)
	assert.Equal(t, now.Add(-30*time.Second), *row.LastSeen)
	assert.Equal(t, 63.0, *row.BatteryPct)
	assert.Equal(t, -112.0, *row.RSSI)
	require.NotNil(t, row.Lat)
	assert.Equal(t, *points[2].Lat, *row.Lat)
	// the newest point lacks a fix, so the last three cannot show movement
	assert.Equal(t, domain.MotionStationary, row.Motion)
}

func TestSummariesIncludeRegisteredDevices(t *testing.T) {
	store := history.NewStore(10)
	store.MergeBatch("c2", []domain.LivePoint{at("c2", time.Minute, domain.Float(1), domain.Float(1))})
	p := newProjector(store)

	rows := p.Summaries([]domain.Device{{ID: "c1", Name: "Daisy"}, {ID: "c2", Name: "Bess"}})
	require.Len(t, rows, 2)
	assert.Equal(t, "c1", rows[0].DeviceID)
	assert.Equal(t, "Daisy", rows[0].Name)
	assert.Equal(t, domain.MotionUnknown, rows[0].Motion)
	assert.Nil(t, rows[0].LastSeen)
	assert.Equal(t, "Bess", rows[1].Name)

	counts := MotionCounts(rows)
	assert.Equal(t, 2, counts[domain.MotionUnknown])
	assert.Equal(t, 0, counts[domain.MotionMoving])
}

func TestMotion(t *testing.T) {
	store := history.NewStore(10)
	lat, lon := -27.2, 152.8
	for i := 0; i < 3; i++ {
		store.MergeBatch("c1", []domain.LivePoint{at("c1", time.Duration(2-i)*time.Minute, domain.Float(lat), domain.Float(lon))})
		lat, lon = geo.Offset(lat, lon, 40, 0)
	}
	assert.Equal(t, domain.MotionMoving, newProjector(store).Motion("c1"))
}
