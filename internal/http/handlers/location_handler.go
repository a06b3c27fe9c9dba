// README: Driver location handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tripflow/internal/http/middleware"
	"tripflow/internal/modules/session"
	"tripflow/internal/types"
)

type LocationHandler struct {
	sessions *session.Registry
}

func NewLocationHandler(sessions *session.Registry) *LocationHandler {
	return &LocationHandler{sessions: sessions}
}

// Update records the authenticated driver's position and feeds its geofences.
func (h *LocationHandler) Update(c *gin.Context) {
	var req pointBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	s := h.sessions.Driver(types.ID(middleware.CallerUID(c)))
	if err := s.UpdateLocation(c.Request.Context(), req.point()); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *LocationHandler) Offline(c *gin.Context) {
	s := h.sessions.Driver(types.ID(middleware.CallerUID(c)))
	if err := s.GoOffline(c.Request.Context()); err != nil {
		writeTripError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
