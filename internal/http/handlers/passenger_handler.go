// README: Passenger handlers (request, cancel, acknowledge, watch drivers).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tripflow/internal/http/middleware"
	"tripflow/internal/modules/session"
	"tripflow/internal/types"
)

type PassengerHandler struct {
	sessions *session.Registry
}

func NewPassengerHandler(sessions *session.Registry) *PassengerHandler {
	return &PassengerHandler{sessions: sessions}
}

type requestRideReq struct {
	Pickup      pointBody `json:"pickup"`
	Destination pointBody `json:"destination"`
}

func (h *PassengerHandler) session(c *gin.Context) *session.PassengerSession {
	return h.sessions.Passenger(types.ID(middleware.CallerUID(c)))
}

func (h *PassengerHandler) RequestRide(c *gin.Context) {
	var req requestRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := h.session(c).RequestRide(c.Request.Context(), req.Pickup.point(), req.Destination.point())
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, viewTrip(t))
}

func (h *PassengerHandler) Get(c *gin.Context) {
	t, err := h.session(c).Trip(c.Request.Context())
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewTrip(t))
}

func (h *PassengerHandler) Cancel(c *gin.Context) {
	if err := h.session(c).Cancel(c.Request.Context()); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "removed"})
}

func (h *PassengerHandler) Acknowledge(c *gin.Context) {
	if err := h.session(c).Acknowledge(c.Request.Context()); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "removed"})
}

func (h *PassengerHandler) WatchDrivers(c *gin.Context) {
	var req pointBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.session(c).WatchDrivers(c.Request.Context(), req.point()); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, map[string]any{"status": "watching"})
}

func (h *PassengerHandler) Drivers(c *gin.Context) {
	drivers, err := h.session(c).Drivers(c.Request.Context())
	if err != nil {
		writeTripError(c, err)
		return
	}
	out := make([]driverView, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, viewDriver(d))
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": out})
}
