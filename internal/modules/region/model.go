// README: Circular geofences around the pickup and destination points.
package region

import (
	"errors"

	"tripflow/internal/types"
)

// DefaultRadiusMeters is the fixed geofence radius for both trip regions.
const DefaultRadiusMeters = 25.0

// ErrPermissionDenied is reported when the platform refuses region monitoring.
var ErrPermissionDenied = errors.New("region monitoring permission denied")

type Type int

const (
	Pickup Type = iota
	Destination
)

func (t Type) String() string {
	switch t {
	case Pickup:
		return "pickup"
	case Destination:
		return "destination"
	default:
		return "unknown"
	}
}

type Region struct {
	Type   Type
	Center types.Point
	Radius float64 // metres
}

// New builds a region with the default radius.
func New(t Type, center types.Point) Region {
	return Region{Type: t, Center: center, Radius: DefaultRadiusMeters}
}

type EventKind int

const (
	EventEntered EventKind = iota
	EventExited
	EventPermissionDenied
)

func (k EventKind) String() string {
	switch k {
	case EventEntered:
		return "entered"
	case EventExited:
		return "exited"
	case EventPermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind     EventKind
	Region   Region
	Position types.Point
	Err      error
}

// Authorizer reports whether the platform allows region monitoring.
type Authorizer interface {
	MonitoringAuthorized() bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func() bool

func (f AuthorizerFunc) MonitoringAuthorized() bool { return f() }

// AlwaysAuthorized is the Authorizer for hosts without a permission model.
var AlwaysAuthorized Authorizer = AuthorizerFunc(func() bool { return true })
