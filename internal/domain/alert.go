package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type AlertType string

const (
	AlertGeofenceExit  AlertType = "GEOFENCE_EXIT"
	AlertGeofenceEnter AlertType = "GEOFENCE_ENTER"
	AlertLowBattery    AlertType = "LOW_BATTERY"
	AlertNoSignal      AlertType = "NO_SIGNAL"
)

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// AlertRecord is an alert pushed by the backend. The dashboard only relays
// it; evaluation happens server side.
type AlertRecord struct {
	ID         string        `json:"id,omitempty"`
	DeviceID   string        `json:"deviceId"`
	Type       AlertType     `json:"type"`
	Severity   AlertSeverity `json:"severity,omitempty"`
	Message    string        `json:"message,omitempty"`
	GeofenceID string        `json:"geofenceId,omitempty"`
	Lat        *float64      `json:"lat,omitempty"`
	Lon        *float64      `json:"lon,omitempty"`
	CreatedAt  RawTime       `json:"createdAt,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// DedupKey identifies an alert across redeliveries. Backend ids win; without
// one the device, type and creation time stand in.
func (a AlertRecord) DedupKey() string {
	if a.ID != "" {
		return "id:" + a.ID
	}
	return fmt.Sprintf("%s:%s:%s", a.DeviceID, a.Type, strings.TrimSpace(string(a.CreatedAt)))
}

func DecodeAlert(data []byte) (AlertRecord, error) {
	var a AlertRecord
	if err := json.Unmarshal(data, &a); err != nil {
		return AlertRecord{}, fmt.Errorf("decode alert: %w", err)
	}
	if strings.TrimSpace(a.DeviceID) == "" {
		return AlertRecord{}, fmt.Errorf("decode alert: %w", ErrMissingDeviceID)
	}
	if a.Severity == "" {
		a.Severity = SeverityInfo
	}
	a.Raw = append(json.RawMessage(nil), data...)
	return a, nil
}
