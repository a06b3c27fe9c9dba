// README: Driver handlers for accept, pickup, dropoff, cancel and acknowledge.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"tripflow/internal/http/middleware"
	"tripflow/internal/modules/session"
	"tripflow/internal/modules/trip"
	"tripflow/internal/types"
)

type DriverHandler struct {
	sessions *session.Registry
}

func NewDriverHandler(sessions *session.Registry) *DriverHandler {
	return &DriverHandler{sessions: sessions}
}

func (h *DriverHandler) session(c *gin.Context) *session.DriverSession {
	return h.sessions.Driver(types.ID(middleware.CallerUID(c)))
}

func (h *DriverHandler) Accept(c *gin.Context) {
	passengerID := c.Param("passengerId")
	if !isValidID(passengerID) {
		writeError(c, http.StatusBadRequest, "invalid passenger id")
		return
	}
	t, err := h.session(c).Accept(c.Request.Context(), types.ID(passengerID))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewTrip(t))
}

func (h *DriverHandler) Get(c *gin.Context) {
	t, err := h.session(c).Trip(c.Request.Context())
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewTrip(t))
}

func (h *DriverHandler) ConfirmPickup(c *gin.Context) {
	h.advance(c, h.session(c).ConfirmPickup)
}

func (h *DriverHandler) ConfirmDropoff(c *gin.Context) {
	h.advance(c, h.session(c).ConfirmDropoff)
}

func (h *DriverHandler) Cancel(c *gin.Context) {
	if err := h.session(c).Cancel(c.Request.Context()); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "removed"})
}

func (h *DriverHandler) Acknowledge(c *gin.Context) {
	if err := h.session(c).Acknowledge(c.Request.Context()); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "removed"})
}

func (h *DriverHandler) advance(c *gin.Context, fn func(ctx context.Context) (trip.Trip, error)) {
	t, err := fn(c.Request.Context())
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewTrip(t))
}
