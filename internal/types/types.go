// README: Common value objects shared across modules.
package types

import "fmt"

// ID identifies a passenger or driver account.
type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is a usable coordinate.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Pair returns the point as a [lat, lng] array, the layout used by the
// realtime store records.
func (p Point) Pair() [2]float64 {
	return [2]float64{p.Lat, p.Lng}
}

// PointFromPair is the inverse of Pair.
func PointFromPair(v [2]float64) Point {
	return Point{Lat: v[0], Lng: v[1]}
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", p.Lat, p.Lng)
}
