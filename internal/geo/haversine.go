// Package geo holds great-circle helpers used by the motion classifier.
package geo

import (
	"math"

	"herd-monitor/dashboard/internal/domain"
)

// EarthRadiusM is the mean earth radius in meters.
const EarthRadiusM = 6371000.0

// Distance returns the haversine distance in meters between two coordinates
// given in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := lat1*math.Pi/180, lat2*math.Pi/180
	dPhi, dLambda := (lat2-lat1)*math.Pi/180, (lon2-lon1)*math.Pi/180
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Between is Distance for two points. ok is false when either point has no fix.
func Between(a, b domain.LivePoint) (meters float64, ok bool) {
	if !a.HasFix() || !b.HasFix() {
		return 0, false
	}
	return Distance(*a.Lat, *a.Lon, *b.Lat, *b.Lon), true
}

// Offset moves a coordinate north and east by the given meters using a local
// flat-earth approximation. Good enough for synthetic tracks of a few km.
func Offset(lat, lon, northM, eastM float64) (float64, float64) {
	dLat := northM / EarthRadiusM * 180 / math.Pi
	dLon := eastM / (EarthRadiusM * math.Cos(lat*math.Pi/180)) * 180 / math.Pi
	return lat + dLat, lon + dLon
}
