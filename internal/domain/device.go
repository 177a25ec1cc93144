package domain

// MotionState is the qualitative motion label of a device.
type MotionState string

const (
	MotionMoving     MotionState = "moving"
	MotionStationary MotionState = "stationary"
	MotionUnknown    MotionState = "unknown"
)

var MotionStates = []MotionState{MotionMoving, MotionStationary, MotionUnknown}

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Device is a registered tracking collar as listed by the backend.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	AnimalID string `json:"animalId,omitempty"`
	Enabled  bool   `json:"enabled"`
}

type GeofenceKind string

const (
	GeofenceCircle  GeofenceKind = "circle"
	GeofencePolygon GeofenceKind = "polygon"
)

// Geofence is display data only; alerting on it runs in the backend.
type Geofence struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Kind    GeofenceKind `json:"kind"`
	Center  *Coordinate  `json:"center,omitempty"`
	RadiusM *float64     `json:"radiusM,omitempty"`
	Polygon []Coordinate `json:"polygon,omitempty"`
}
