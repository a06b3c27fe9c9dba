// README: Trip history handler; lists the caller's recorded transitions.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tripflow/internal/http/middleware"
	"tripflow/internal/modules/trip"
	"tripflow/internal/types"
)

const maxHistoryLimit = 500

// HistoryLister reads a passenger's stored transitions, oldest first.
type HistoryLister interface {
	List(ctx context.Context, passengerID types.ID, limit int) ([]trip.HistoryEntry, error)
}

type HistoryHandler struct {
	history HistoryLister // nil when no database is configured
}

func NewHistoryHandler(history HistoryLister) *HistoryHandler {
	return &HistoryHandler{history: history}
}

type historyView struct {
	ID        string  `json:"id"`
	DriverID  string  `json:"driverUid,omitempty"`
	Event     string  `json:"event"`
	From      *string `json:"fromState,omitempty"`
	To        *string `json:"toState,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	CreatedAt int64   `json:"createdAt"`
}

func stateName(s *trip.State) *string {
	if s == nil {
		return nil
	}
	n := s.String()
	return &n
}

// List handles GET /api/passenger/trip/history?limit=N.
func (h *HistoryHandler) List(c *gin.Context) {
	if h.history == nil {
		writeError(c, http.StatusServiceUnavailable, "trip history not configured")
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.history.List(c.Request.Context(), types.ID(middleware.CallerUID(c)), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]historyView, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyView{
			ID:        e.ID.String(),
			DriverID:  string(e.Transition.DriverID),
			Event:     e.Transition.Event.String(),
			From:      stateName(e.Transition.From),
			To:        stateName(e.Transition.To),
			Reason:    e.Transition.Reason,
			CreatedAt: e.CreatedAt.UnixMilli(),
		})
	}
	writeJSON(c, http.StatusOK, map[string]any{"events": out})
}
