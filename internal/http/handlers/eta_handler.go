// README: Route estimate handler backed by Google Maps Directions.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tripflow/internal/maps"
	"tripflow/internal/types"
)

// Estimator resolves a driving estimate between two points.
type Estimator interface {
	Estimate(ctx context.Context, origin, destination types.Point) (maps.Estimate, error)
}

type ETAHandler struct {
	routes Estimator // nil when no Maps API key is configured
}

func NewETAHandler(routes Estimator) *ETAHandler {
	return &ETAHandler{routes: routes}
}

// Get handles GET /api/trips/eta?from=lat,lng&to=lat,lng.
func (h *ETAHandler) Get(c *gin.Context) {
	if h.routes == nil {
		writeError(c, http.StatusServiceUnavailable, "route estimates not configured")
		return
	}
	from, ok := parsePoint(c.Query("from"))
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid from")
		return
	}
	to, ok := parsePoint(c.Query("to"))
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid to")
		return
	}

	est, err := h.routes.Estimate(c.Request.Context(), from, to)
	if errors.Is(err, maps.ErrNoRoute) {
		writeError(c, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(c, http.StatusBadGateway, "route estimate failed")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"durationSeconds": int64(est.Duration.Seconds()),
		"distanceMeters":  est.DistanceMeter,
		"distanceText":    est.DistanceText,
	})
}

func parsePoint(v string) (types.Point, bool) {
	latS, lngS, ok := strings.Cut(v, ",")
	if !ok {
		return types.Point{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return types.Point{}, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngS), 64)
	if err != nil {
		return types.Point{}, false
	}
	p := types.Point{Lat: lat, Lng: lng}
	return p, p.Valid()
}
