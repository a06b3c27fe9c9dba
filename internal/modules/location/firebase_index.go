// Package location: firebase_index stores driver positions in Firebase RTDB
// using the GeoFire layout the mobile clients read directly.
package location

import (
	"context"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"
	"github.com/mmcloughlin/geohash"

	"tripflow/internal/types"
)

const (
	driverLocationsNode = "driver-locations"
	// geohashChars matches the precision GeoFire writes.
	geohashChars = 10
)

// geoFireEntry mirrors a single driver entry under /driver-locations.
type geoFireEntry struct {
	Geohash   string     `json:"g"`
	Location  [2]float64 `json:"l"`
	Timestamp int64      `json:"t,omitempty"`
}

type FirebaseIndex struct {
	dbClient *db.Client
	now      func() time.Time
}

func NewFirebaseIndex(dbClient *db.Client) *FirebaseIndex {
	return &FirebaseIndex{dbClient: dbClient, now: time.Now}
}

func (s *FirebaseIndex) RecordLocation(ctx context.Context, driverID types.ID, p types.Point) error {
	entry := geoFireEntry{
		Geohash:   geohash.EncodeWithPrecision(p.Lat, p.Lng, geohashChars),
		Location:  p.Pair(),
		Timestamp: s.now().UnixMilli(),
	}
	if err := s.dbClient.NewRef(driverLocationsNode).Child(string(driverID)).Set(ctx, entry); err != nil {
		return fmt.Errorf("%w: writing location for %s: %v", ErrRemoteUnavailable, driverID, err)
	}
	return nil
}

func (s *FirebaseIndex) Remove(ctx context.Context, driverID types.ID) error {
	if err := s.dbClient.NewRef(driverLocationsNode).Child(string(driverID)).Delete(ctx); err != nil {
		return fmt.Errorf("%w: removing location for %s: %v", ErrRemoteUnavailable, driverID, err)
	}
	return nil
}

// Nearby scans the geohash cell containing center and its eight neighbours,
// then filters candidates by great-circle distance.
func (s *FirebaseIndex) Nearby(ctx context.Context, center types.Point, radiusKm float64) ([]DriverLocation, error) {
	cells := queryCells(center, radiusKm)
	ref := s.dbClient.NewRef(driverLocationsNode)

	seen := make(map[string]struct{})
	var result []DriverLocation
	for _, cell := range cells {
		var data map[string]geoFireEntry
		if err := ref.OrderByChild("g").StartAt(cell).EndAt(cell+"~").Get(ctx, &data); err != nil {
			return nil, fmt.Errorf("%w: querying cell %s: %v", ErrRemoteUnavailable, cell, err)
		}
		for driverID, entry := range data {
			if _, dup := seen[driverID]; dup {
				continue
			}
			seen[driverID] = struct{}{}

			pos := types.PointFromPair(entry.Location)
			dist := DistanceKm(center, pos)
			if dist > radiusKm {
				continue
			}
			loc := DriverLocation{DriverID: types.ID(driverID), Position: pos, Distance: dist}
			if entry.Timestamp > 0 {
				loc.UpdatedAt = time.UnixMilli(entry.Timestamp)
			}
			result = append(result, loc)
		}
	}

	sortByDistance(result, func(d DriverLocation) float64 { return d.Distance })
	return result, nil
}

// queryCells returns the distinct geohash prefixes covering the circle.
func queryCells(center types.Point, radiusKm float64) []string {
	base := geohash.EncodeWithPrecision(center.Lat, center.Lng, geohashPrecision(radiusKm))
	cells := append([]string{base}, geohash.Neighbors(base)...)

	seen := make(map[string]struct{}, len(cells))
	out := cells[:0]
	for _, c := range cells {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
