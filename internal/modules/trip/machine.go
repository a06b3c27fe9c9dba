// README: Trip state machine. Apply is pure; callers execute the returned effects.
package trip

import (
	"fmt"

	"tripflow/internal/modules/region"
	"tripflow/internal/types"
)

type EventKind int

const (
	EventRequestRide EventKind = iota
	EventAccept
	EventDeny
	EventEnterPickup
	EventConfirmPickup
	EventEnterDestination
	EventConfirmDropoff
	EventAcknowledge
	EventCancel
)

var eventNames = map[EventKind]string{
	EventRequestRide:      "request_ride",
	EventAccept:           "accept",
	EventDeny:             "deny",
	EventEnterPickup:      "enter_pickup",
	EventConfirmPickup:    "confirm_pickup",
	EventEnterDestination: "enter_destination",
	EventConfirmDropoff:   "confirm_dropoff",
	EventAcknowledge:      "acknowledge",
	EventCancel:           "cancel",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one input to the state machine. Only the fields relevant to Kind
// are read.
type Event struct {
	Kind        EventKind
	PassengerID types.ID
	DriverID    types.ID
	Pickup      types.Point
	Destination types.Point
	Reason      string
}

func RequestRide(passengerID types.ID, pickup, destination types.Point) Event {
	return Event{Kind: EventRequestRide, PassengerID: passengerID, Pickup: pickup, Destination: destination}
}

func Accept(driverID types.ID) Event { return Event{Kind: EventAccept, DriverID: driverID} }

// Deny covers both "no driver found" and "passenger withdraws".
func Deny(reason string) Event { return Event{Kind: EventDeny, Reason: reason} }

func EnterPickup() Event      { return Event{Kind: EventEnterPickup} }
func ConfirmPickup() Event    { return Event{Kind: EventConfirmPickup} }
func EnterDestination() Event { return Event{Kind: EventEnterDestination} }
func ConfirmDropoff() Event   { return Event{Kind: EventConfirmDropoff} }
func Acknowledge() Event      { return Event{Kind: EventAcknowledge} }
func Cancel(reason string) Event {
	return Event{Kind: EventCancel, Reason: reason}
}

type EffectKind int

const (
	EffectCreateRecord EffectKind = iota
	EffectUpdateRecord
	EffectDeleteRecord
	EffectStartMonitoring
	EffectStopMonitoring
	EffectStopAllMonitoring
	EffectRecordHistory
	EffectNotifyRemoved
)

var effectNames = map[EffectKind]string{
	EffectCreateRecord:      "create_record",
	EffectUpdateRecord:      "update_record",
	EffectDeleteRecord:      "delete_record",
	EffectStartMonitoring:   "start_monitoring",
	EffectStopMonitoring:    "stop_monitoring",
	EffectStopAllMonitoring: "stop_all_monitoring",
	EffectRecordHistory:     "record_history",
	EffectNotifyRemoved:     "notify_removed",
}

func (k EffectKind) String() string {
	if n, ok := effectNames[k]; ok {
		return n
	}
	return fmt.Sprintf("EffectKind(%d)", int(k))
}

// Effect is a side effect the caller must perform, in order.
type Effect struct {
	Kind       EffectKind
	Trip       Trip          // create_record
	Fields     Fields        // update_record
	Region     region.Region // start_monitoring
	RegionType region.Type   // stop_monitoring
	Transition Transition    // record_history
}

// Transition describes one applied event for the audit log. From is nil for
// creation; To is nil when the record is removed.
type Transition struct {
	PassengerID types.ID
	DriverID    types.ID
	Event       EventKind
	From        *State
	To          *State
	Reason      string
}

type step struct {
	next   State
	remove bool
}

// transitions is the complete state flow as code. Any (state, event) pair
// missing here is an invalid transition.
var transitions = map[State]map[EventKind]step{
	StateRequested: {
		EventAccept: {next: StateAccepted},
		EventDeny:   {next: StateDenied},
	},
	StateDenied: {
		EventAcknowledge: {remove: true},
	},
	StateAccepted: {
		EventEnterPickup: {next: StateDriverArrived},
		EventCancel:      {remove: true},
	},
	StateDriverArrived: {
		EventConfirmPickup: {next: StateInProgress},
		EventCancel:        {remove: true},
	},
	StateInProgress: {
		EventEnterDestination: {next: StateArrivedAtDestination},
	},
	StateArrivedAtDestination: {
		EventConfirmDropoff: {next: StateCompleted},
	},
	StateCompleted: {
		EventAcknowledge: {remove: true},
	},
}

// CanApply reports whether ev is listed for the current trip. A nil trip
// accepts only EventRequestRide.
func CanApply(cur *Trip, ev EventKind) bool {
	if cur == nil {
		return ev == EventRequestRide
	}
	_, ok := transitions[cur.State][ev]
	return ok
}

// Apply maps (current trip, event) to the next trip and the side effects
// needed to get there. cur == nil means the passenger has no trip. An event
// not listed for the current state returns cur unchanged, no effects, and an
// error matching ErrInvalidTransition.
func Apply(cur *Trip, ev Event) (Trip, []Effect, error) {
	if ev.Kind == EventRequestRide {
		if cur != nil {
			return *cur, nil, invalid(cur, ev.Kind)
		}
		return applyRequest(ev)
	}
	if cur == nil {
		return Trip{}, nil, invalid(nil, ev.Kind)
	}

	st, ok := transitions[cur.State][ev.Kind]
	if !ok {
		return *cur, nil, invalid(cur, ev.Kind)
	}

	from := cur.State
	if st.remove {
		return *cur, []Effect{
			{Kind: EffectStopAllMonitoring},
			{Kind: EffectDeleteRecord},
			historyEffect(*cur, ev, &from, nil),
			{Kind: EffectNotifyRemoved},
		}, nil
	}

	next := *cur
	next.State = st.next
	update := Fields{State: statePtr(st.next), ExpectState: statePtr(from)}

	var effects []Effect
	switch ev.Kind {
	case EventAccept:
		if ev.DriverID == "" {
			return *cur, nil, fmt.Errorf("%w: accept without driver", ErrBadRequest)
		}
		next.DriverID = ev.DriverID
		update.DriverID = idPtr(ev.DriverID)
		effects = []Effect{
			{Kind: EffectUpdateRecord, Fields: update},
			{Kind: EffectStartMonitoring, Region: region.New(region.Pickup, next.Pickup)},
		}
	case EventEnterPickup:
		effects = []Effect{
			{Kind: EffectUpdateRecord, Fields: update},
			{Kind: EffectStopMonitoring, RegionType: region.Pickup},
		}
	case EventConfirmPickup:
		effects = []Effect{
			{Kind: EffectUpdateRecord, Fields: update},
			{Kind: EffectStartMonitoring, Region: region.New(region.Destination, next.Destination)},
		}
	case EventEnterDestination:
		effects = []Effect{
			{Kind: EffectUpdateRecord, Fields: update},
			{Kind: EffectStopMonitoring, RegionType: region.Destination},
		}
	default:
		effects = []Effect{{Kind: EffectUpdateRecord, Fields: update}}
	}

	effects = append(effects, historyEffect(next, ev, &from, statePtr(next.State)))
	return next, effects, nil
}

func applyRequest(ev Event) (Trip, []Effect, error) {
	if ev.PassengerID == "" {
		return Trip{}, nil, fmt.Errorf("%w: missing passenger", ErrBadRequest)
	}
	if !ev.Pickup.Valid() || !ev.Destination.Valid() {
		return Trip{}, nil, fmt.Errorf("%w: invalid coordinates", ErrBadRequest)
	}
	t := Trip{
		PassengerID: ev.PassengerID,
		Pickup:      ev.Pickup,
		Destination: ev.Destination,
		State:       InitialState,
	}
	return t, []Effect{
		{Kind: EffectCreateRecord, Trip: t},
		historyEffect(t, ev, nil, statePtr(t.State)),
	}, nil
}

func historyEffect(t Trip, ev Event, from, to *State) Effect {
	return Effect{
		Kind: EffectRecordHistory,
		Transition: Transition{
			PassengerID: t.PassengerID,
			DriverID:    t.DriverID,
			Event:       ev.Kind,
			From:        from,
			To:          to,
			Reason:      ev.Reason,
		},
	}
}

func invalid(cur *Trip, ev EventKind) error {
	if cur == nil {
		return fmt.Errorf("%w: %s with no active trip", ErrInvalidTransition, ev)
	}
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev, cur.State)
}
