package routing

import "math"

const (
	DefaultCarSpeedMS = 13.9
	EarthRadiusKM     = 6371.0
)

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// HaversineDistance returns the great-circle distance in metres. Selection
// never uses it; it only labels assignments for display.
func HaversineDistance(a, b Coordinate) float64 {
	phi1 := toRadians(a.Lat)
	phi2 := toRadians(b.Lat)
	deltaPhi := toRadians(b.Lat - a.Lat)
	deltaLambda := toRadians(b.Lng - a.Lng)

	h := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKM * c * 1000
}

// EstimateDriveSeconds is a straight-line travel time at DefaultCarSpeedMS,
// used until OSRM has rendered the real route.
func EstimateDriveSeconds(meters float64) float64 {
	if meters <= 0 {
		return 0
	}
	return meters / DefaultCarSpeedMS
}
