package spatial

import (
	"github.com/golang/geo/s2"
)

// Constants
const (
	EarthRadiusMeters = 6371000.0 // Earth's mean radius in meters
	EarthRadiusKm     = 6371.0    // Earth's mean radius in kilometers
)

// HaversineDistance calculates the great-circle distance between two points in meters
// using the Haversine formula
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// PathLength calculates the total great-circle length of an ordered point
// sequence in meters
func PathLength(lats, lngs []float64) float64 {
	if len(lats) < 2 || len(lats) != len(lngs) {
		return 0
	}

	total := 0.0
	prev := s2.LatLngFromDegrees(lats[0], lngs[0])
	for i := 1; i < len(lats); i++ {
		cur := s2.LatLngFromDegrees(lats[i], lngs[i])
		total += prev.Distance(cur).Radians() * EarthRadiusMeters
		prev = cur
	}
	return total
}
