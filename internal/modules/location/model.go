// README: Driver location records and proximity sightings.
package location

import (
	"context"
	"errors"
	"time"

	"tripflow/internal/types"
)

// ErrRemoteUnavailable wraps failures of the backing geo store.
var ErrRemoteUnavailable = errors.New("geo index unavailable")

// DriverLocation is the last recorded position of one driver.
type DriverLocation struct {
	DriverID  types.ID
	Position  types.Point
	UpdatedAt time.Time
	Distance  float64 // km from the queried origin; zero outside queries
}

// Index maintains current driver positions and answers radius queries.
// RecordLocation is an upsert: one entry per driver, latest write wins.
type Index interface {
	RecordLocation(ctx context.Context, driverID types.ID, p types.Point) error
	Remove(ctx context.Context, driverID types.ID) error
	Nearby(ctx context.Context, center types.Point, radiusKm float64) ([]DriverLocation, error)
}

// Notifier is implemented by indexes that can wake a Query as soon as a
// location changes instead of waiting for the next poll.
type Notifier interface {
	Changes() (<-chan struct{}, func())
}

type SightingKind int

const (
	Entered SightingKind = iota
	Exited
	Moved
)

func (k SightingKind) String() string {
	switch k {
	case Exited:
		return "exited"
	case Moved:
		return "moved"
	}
	return "entered"
}

// Sighting is one keyed enter/move/exit event emitted by a Query.
type Sighting struct {
	Kind   SightingKind
	Driver DriverLocation
	Err    error
}
