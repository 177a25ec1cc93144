package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// LivePoint is one telemetry sample reported by a tracking collar.
// Values are read-only once decoded; the merge store replaces whole
// histories instead of editing points.
type LivePoint struct {
	DeviceID string `json:"deviceId"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	TS         RawTime `json:"ts,omitempty"`
	ReceivedAt RawTime `json:"receivedAt,omitempty"`

	BatteryPct   *float64 `json:"batteryPct,omitempty"`
	BatteryV     *float64 `json:"batteryV,omitempty"`
	RSSI         *float64 `json:"rssi,omitempty"`
	SNR          *float64 `json:"snr,omitempty"`
	TemperatureC *float64 `json:"temperatureC,omitempty"`
	AltitudeM    *float64 `json:"altitudeM,omitempty"`
	FrameCounter *int64   `json:"frameCounter,omitempty"`
}

// Identity is the deduplication key of a point. Two points with equal
// identity are the same observation.
type Identity struct {
	Timestamp    int64
	Lat          string
	Lon          string
	FrameCounter string
}

var ErrMissingDeviceID = errors.New("point has no deviceId")

// Timestamp returns the point time in unix milliseconds, preferring ts over
// receivedAt. Missing or unparseable values yield 0.
func (p LivePoint) Timestamp() int64 {
	raw := p.TS
	if raw.IsZero() {
		raw = p.ReceivedAt
	}
	ms, ok := raw.Millis()
	if !ok {
		return 0
	}
	return ms
}

// Time is Timestamp as a time.Time. The zero timestamp maps to the unix epoch.
func (p LivePoint) Time() time.Time {
	return time.UnixMilli(p.Timestamp()).UTC()
}

// HasFix reports whether the point carries a usable coordinate pair.
func (p LivePoint) HasFix() bool {
	if p.Lat == nil || p.Lon == nil {
		return false
	}
	return isFinite(*p.Lat) && isFinite(*p.Lon)
}

func (p LivePoint) Identity() Identity {
	id := Identity{
		Timestamp: p.Timestamp(),
		Lat:       formatOptional(p.Lat),
		Lon:       formatOptional(p.Lon),
	}
	if p.FrameCounter != nil {
		id.FrameCounter = strconv.FormatInt(*p.FrameCounter, 10)
	}
	return id
}

// Less orders identities by timestamp and then by the remaining components,
// giving a total order that does not depend on arrival.
func (a Identity) Less(b Identity) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	if a.Lat != b.Lat {
		return a.Lat < b.Lat
	}
	if a.Lon != b.Lon {
		return a.Lon < b.Lon
	}
	return a.FrameCounter < b.FrameCounter
}

func (p LivePoint) Validate() error {
	if strings.TrimSpace(p.DeviceID) == "" {
		return ErrMissingDeviceID
	}
	return nil
}

// UnmarshalJSON accepts the frame counter in any JSON number form. A counter
// that is not a whole number is dropped and the rest of the point kept.
func (p *LivePoint) UnmarshalJSON(data []byte) error {
	type plain LivePoint
	var aux struct {
		plain
		FrameCounter json.Number `json:"frameCounter,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = LivePoint(aux.plain)
	p.FrameCounter = wholeNumber(aux.FrameCounter)
	return nil
}

func wholeNumber(n json.Number) *int64 {
	if n == "" {
		return nil
	}
	if i, err := n.Int64(); err == nil {
		return &i
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
		return nil
	}
	i := int64(f)
	return &i
}

// DecodePoint parses a single point payload.
func DecodePoint(data []byte) (LivePoint, error) {
	var p LivePoint
	if err := json.Unmarshal(data, &p); err != nil {
		return LivePoint{}, fmt.Errorf("decode point: %w", err)
	}
	if err := p.Validate(); err != nil {
		return LivePoint{}, err
	}
	return p, nil
}

// DecodePoints parses a JSON array of points. Elements that fail to decode
// are skipped and counted so one bad sample does not discard the batch.
func DecodePoints(data []byte) ([]LivePoint, int, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, 0, fmt.Errorf("decode point batch: %w", err)
	}

	points := make([]LivePoint, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		p, err := DecodePoint(raw)
		if err != nil {
			skipped++
			continue
		}
		points = append(points, p)
	}
	return points, skipped, nil
}

// RawTime keeps a timestamp exactly as it arrived, either an RFC 3339 string
// or a unix epoch number, and parses it on demand.
type RawTime string

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// epochSecondsLimit separates epoch seconds from epoch milliseconds.
// 1e11 seconds is far in the future; 1e11 milliseconds is early 1973.
const epochSecondsLimit = 1e11

func (t RawTime) IsZero() bool { return strings.TrimSpace(string(t)) == "" }

// Millis parses the value into unix milliseconds.
func (t RawTime) Millis() (int64, bool) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if !isFinite(f) || f < 0 {
			return 0, false
		}
		if f < epochSecondsLimit {
			return int64(f * 1000), true
		}
		return int64(f), true
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UnixMilli(), true
		}
	}
	return 0, false
}

func (t *RawTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = RawTime(s)
		return nil
	}
	// bare JSON number
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	*t = RawTime(data)
	return nil
}

func (t RawTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(string(t), 64); err == nil {
		return []byte(t), nil
	}
	return json.Marshal(string(t))
}

// FromTime builds a RawTime in RFC 3339 form.
func FromTime(ts time.Time) RawTime {
	return RawTime(ts.UTC().Format(time.RFC3339Nano))
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	f := *v
	if f == 0 {
		f = 0 // -0
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Float returns a pointer to f, for building points in code.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to n.
func Int(n int64) *int64 { return &n }
