// README: Base handler utilities (JSON helpers, views, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tripflow/internal/modules/location"
	"tripflow/internal/modules/session"
	"tripflow/internal/modules/trip"
	"tripflow/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts Firebase-style UIDs: alphanumerics, at most 128 chars.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeTripError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, trip.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, trip.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, trip.ErrAlreadyExists),
		errors.Is(err, trip.ErrInvalidTransition),
		errors.Is(err, trip.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, trip.ErrRemoteUnavailable),
		errors.Is(err, location.ErrRemoteUnavailable),
		errors.Is(err, session.ErrClosed):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

type pointBody struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

// point is only called after binding, so both members are set.
func (p pointBody) point() types.Point {
	return types.Point{Lat: *p.Lat, Lng: *p.Lng}
}

// tripView mirrors the stored record plus the passenger key.
type tripView struct {
	PassengerID string     `json:"passengerId"`
	DriverID    string     `json:"driverUid,omitempty"`
	Pickup      [2]float64 `json:"pickupCoordinates"`
	Destination [2]float64 `json:"destinationCoordinates"`
	State       int        `json:"state"`
	StateName   string     `json:"stateName"`
}

func viewTrip(t trip.Trip) tripView {
	return tripView{
		PassengerID: string(t.PassengerID),
		DriverID:    string(t.DriverID),
		Pickup:      t.Pickup.Pair(),
		Destination: t.Destination.Pair(),
		State:       int(t.State),
		StateName:   t.State.String(),
	}
}

type driverView struct {
	DriverID   string     `json:"driverId"`
	Position   [2]float64 `json:"position"`
	DistanceKm float64    `json:"distanceKm"`
	UpdatedAt  int64      `json:"updatedAt"`
}

func viewDriver(d location.DriverLocation) driverView {
	return driverView{
		DriverID:   string(d.DriverID),
		Position:   d.Position.Pair(),
		DistanceKm: d.Distance,
		UpdatedAt:  d.UpdatedAt.Unix(),
	}
}
