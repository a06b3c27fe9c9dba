// README: Trip aggregate, state enumeration, and the persisted record layout.
package trip

import (
	"fmt"

	"tripflow/internal/types"
)

// State is persisted as its integer value; the numbering is part of the
// storage format and must not change.
type State int

const (
	StateRequested State = iota
	StateDenied
	StateAccepted
	StateDriverArrived
	StateInProgress
	StateArrivedAtDestination
	StateCompleted
)

// InitialState is the state every new trip is created in.
const InitialState = StateRequested

var stateNames = map[State]string{
	StateRequested:            "requested",
	StateDenied:               "denied",
	StateAccepted:             "accepted",
	StateDriverArrived:        "driverArrived",
	StateInProgress:           "inProgress",
	StateArrivedAtDestination: "arrivedAtDestination",
	StateCompleted:            "completed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Valid reports whether s is one of the seven known states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Terminal reports whether the trip is waiting only for acknowledgement.
func (s State) Terminal() bool {
	return s == StateDenied || s == StateCompleted
}

type Trip struct {
	PassengerID types.ID
	DriverID    types.ID
	Pickup      types.Point
	Destination types.Point
	State       State
}

// HasDriver reports whether a driver has accepted the trip.
func (t Trip) HasDriver() bool {
	return t.DriverID != ""
}

// record mirrors a single trip entry in the realtime store, keyed by
// passenger ID.
type record struct {
	PickupCoordinates      [2]float64 `json:"pickupCoordinates"`
	DestinationCoordinates [2]float64 `json:"destinationCoordinates"`
	DriverUID              string     `json:"driverUid,omitempty"`
	State                  int        `json:"state"`
}

func toRecord(t Trip) record {
	return record{
		PickupCoordinates:      t.Pickup.Pair(),
		DestinationCoordinates: t.Destination.Pair(),
		DriverUID:              string(t.DriverID),
		State:                  int(t.State),
	}
}

func (r record) toTrip(passengerID types.ID) (Trip, error) {
	s := State(r.State)
	if !s.Valid() {
		return Trip{}, fmt.Errorf("trip %s: unknown state %d", passengerID, r.State)
	}
	return Trip{
		PassengerID: passengerID,
		DriverID:    types.ID(r.DriverUID),
		Pickup:      types.PointFromPair(r.PickupCoordinates),
		Destination: types.PointFromPair(r.DestinationCoordinates),
		State:       s,
	}, nil
}

// Fields is a partial update. Nil members are left untouched. A non-nil
// ExpectState makes the update conditional on the stored state.
type Fields struct {
	State       *State
	DriverID    *types.ID
	ExpectState *State
}

func (f Fields) apply(t Trip) Trip {
	if f.State != nil {
		t.State = *f.State
	}
	if f.DriverID != nil {
		t.DriverID = *f.DriverID
	}
	return t
}

func statePtr(s State) *State { return &s }

func idPtr(id types.ID) *types.ID { return &id }
