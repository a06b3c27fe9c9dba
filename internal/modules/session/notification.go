// README: Notifications produced by sessions for UI and gateway consumers.
package session

import (
	"time"

	"tripflow/internal/modules/location"
	"tripflow/internal/modules/trip"
)

type NotificationKind int

const (
	NotifyTripStateChanged NotificationKind = iota
	NotifyPresentPickup
	NotifyTripDenied
	NotifyTripCompleted
	NotifyTripCancelled
	NotifyTripRemoved
	NotifyDriverSighted
	NotifyDriverLeft
	NotifyDriverMoved
	NotifyPermissionDenied
	NotifyError
)

var notificationNames = map[NotificationKind]string{
	NotifyTripStateChanged: "trip_state_changed",
	NotifyPresentPickup:    "present_pickup",
	NotifyTripDenied:       "trip_denied",
	NotifyTripCompleted:    "trip_completed",
	NotifyTripCancelled:    "trip_cancelled",
	NotifyTripRemoved:      "trip_removed",
	NotifyDriverSighted:    "driver_sighted",
	NotifyDriverLeft:       "driver_left",
	NotifyDriverMoved:      "driver_moved",
	NotifyPermissionDenied: "permission_denied",
	NotifyError:            "error",
}

func (k NotificationKind) String() string {
	if n, ok := notificationNames[k]; ok {
		return n
	}
	return "unknown"
}

func (k NotificationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Notification is one signal for the session's consumer. Trip is set for
// trip kinds, Driver for sighting kinds, Err for error kinds.
type Notification struct {
	Kind   NotificationKind
	Trip   *trip.Trip
	Driver *location.DriverLocation
	Err    error
	At     time.Time
}
