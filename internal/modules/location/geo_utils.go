// Package location — geo_utils contains pure geographic computation helpers.
package location

import (
	"math"

	"tripflow/internal/types"
)

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DistanceKm is the great-circle distance between a and b.
func DistanceKm(a, b types.Point) float64 {
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

// DistanceMeters is DistanceKm scaled to metres, the unit geofences use.
func DistanceMeters(a, b types.Point) float64 {
	return DistanceKm(a, b) * 1000
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// degreeSpan returns the half-extent in degrees (lat, lng) of a box that
// fully contains a circle of radiusKm around center.
func degreeSpan(center types.Point, radiusKm float64) (float64, float64) {
	dLat := radiusKm / earthRadiusKm * 180.0 / math.Pi
	cosLat := math.Cos(degreesToRadians(center.Lat))
	if cosLat < 1e-6 {
		return dLat, 180
	}
	dLng := dLat / cosLat
	if dLng > 180 {
		dLng = 180
	}
	return dLat, dLng
}

// geohashPrecision picks the longest geohash whose cell is still at least
// as wide as the query radius, so the center cell plus its neighbours cover
// the whole circle.
func geohashPrecision(radiusKm float64) uint {
	// Approximate cell widths (km) for precision 1..10.
	widths := []float64{5000, 1250, 156, 39.1, 4.89, 1.22, 0.153, 0.0382, 0.00477, 0.0012}
	for i := len(widths) - 1; i >= 0; i-- {
		if widths[i] >= radiusKm {
			return uint(i + 1)
		}
	}
	return 1
}

// sortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
