package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampSources(t *testing.T) {
	ref := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want int64
	}{
		{"rfc3339 ts", `{"deviceId":"c1","ts":"2026-03-01T06:30:00Z"}`, ref.UnixMilli()},
		{"receivedAt fallback", `{"deviceId":"c1","receivedAt":"2026-03-01T06:30:00Z"}`, ref.UnixMilli()},
		{"ts wins over receivedAt", `{"deviceId":"c1","ts":"2026-03-01T06:30:00Z","receivedAt":"2026-03-01T07:00:00Z"}`, ref.UnixMilli()},
		{"epoch millis", `{"deviceId":"c1","ts":1772346600000}`, ref.UnixMilli()},
		{"epoch seconds", `{"deviceId":"c1","ts":1772346600}`, ref.UnixMilli()},
		{"zoneless", `{"deviceId":"c1","ts":"2026-03-01T06:30:00"}`, ref.UnixMilli()},
		{"missing", `{"deviceId":"c1"}`, 0},
		{"garbage", `{"deviceId":"c1","ts":"last tuesday"}`, 0},
		{"null", `{"deviceId":"c1","ts":null}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePoint([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Timestamp())
		})
	}
}

func TestIdentity(t *testing.T) {
	a := LivePoint{DeviceID: "c1", TS: "2026-03-01T06:30:00Z", Lat: Float(-27.1), Lon: Float(152.9), FrameCounter: Int(7)}
	b := a
	b.BatteryPct = Float(88)
	assert.Equal(t, a.Identity(), b.Identity(), "telemetry fields are not part of identity")

	c := a
	c.Lon = Float(152.91)
	assert.NotEqual(t, a.Identity(), c.Identity())

	d := a
	d.FrameCounter = nil
	assert.NotEqual(t, a.Identity(), d.Identity())
	assert.Equal(t, "", d.Identity().FrameCounter)

	e := a
	e.TS = "1772346600000"
	assert.Equal(t, a.Identity(), e.Identity(), "same instant in a different format")
}

func TestIdentityLessIsTotal(t *testing.T) {
	a := Identity{Timestamp: 1, Lat: "1", Lon: "1"}
	b := Identity{Timestamp: 1, Lat: "1", Lon: "2"}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

func TestHasFix(t *testing.T) {
	assert.True(t, LivePoint{Lat: Float(0), Lon: Float(0)}.HasFix())
	assert.False(t, LivePoint{Lat: Float(1)}.HasFix())
	assert.False(t, LivePoint{}.HasFix())
}

func TestDecodePointsSkipsBadElements(t *testing.T) {
	raw := `[
		{"deviceId":"c1","ts":"2026-03-01T06:30:00Z","lat":-27.1,"lon":152.9},
		{"deviceId":"c1","lat":"north"},
		{"lat":1,"lon":2},
		{"deviceId":"c2","receivedAt":1772346600000,"batteryPct":71}
	]`
	points, skipped, err := DecodePoints([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, points, 2)
	assert.Equal(t, "c1", points[0].DeviceID)
	assert.Equal(t, "c2", points[1].DeviceID)
	assert.Equal(t, 71.0, *points[1].BatteryPct)

	_, _, err = DecodePoints([]byte(`{"not":"an array"}`))
	assert.Error(t, err)
}

func TestFrameCounterForms(t *testing.T) {
	tests := []struct {
		raw  string
		want *int64
	}{
		{`12`, Int(12)},
		{`12.0`, Int(12)},
		{`1.2e1`, Int(12)},
		{`12.5`, nil},
		{`null`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p, err := DecodePoint([]byte(`{"deviceId":"c1","ts":"2026-03-01T06:30:00Z","lat":-27.1,"lon":152.9,"batteryPct":80,"frameCounter":` + tt.raw + `}`))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.FrameCounter)
			assert.True(t, p.HasFix())
			assert.Equal(t, 80.0, *p.BatteryPct)
		})
	}
}

func TestIdentityNegativeZero(t *testing.T) {
	a, err := DecodePoint([]byte(`{"deviceId":"c1","ts":1772346600000,"lat":0,"lon":-0}`))
	require.NoError(t, err)
	b, err := DecodePoint([]byte(`{"deviceId":"c1","ts":1772346600000,"lat":-0,"lon":0}`))
	require.NoError(t, err)
	assert.Equal(t, a.Identity(), b.Identity())
	assert.Equal(t, "0", a.Identity().Lon)
}

func TestRawTimeMarshalKeepsForm(t *testing.T) {
	p := LivePoint{DeviceID: "c1", TS: "1772346600000", ReceivedAt: "2026-03-01T06:30:00Z"}
	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"ts":1772346600000`)
	assert.Contains(t, string(out), `"receivedAt":"2026-03-01T06:30:00Z"`)
}

func TestDecodeAlert(t *testing.T) {
	a, err := DecodeAlert([]byte(`{"deviceId":"c9","type":"GEOFENCE_EXIT","createdAt":"2026-03-01T06:30:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, SeverityInfo, a.Severity)
	assert.Equal(t, "c9:GEOFENCE_EXIT:2026-03-01T06:30:00Z", a.DedupKey())
	assert.NotEmpty(t, a.Raw)

	a, err = DecodeAlert([]byte(`{"id":"al-1","deviceId":"c9","type":"LOW_BATTERY","severity":"WARNING"}`))
	require.NoError(t, err)
	assert.Equal(t, "id:al-1", a.DedupKey())

	_, err = DecodeAlert([]byte(`{"type":"LOW_BATTERY"}`))
	assert.ErrorIs(t, err, ErrMissingDeviceID)
}
