// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"tripflow/internal/http/handlers"
	"tripflow/internal/http/middleware"
	"tripflow/internal/infra"
	"tripflow/internal/modules/session"
)

// RouterDeps are the collaborators the routes delegate to. Routes is nil
// when no Maps API key is configured, History when no database is.
type RouterDeps struct {
	Sessions *session.Registry
	Verifier infra.TokenVerifier
	Routes   handlers.Estimator
	History  handlers.HistoryLister
	Log      *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	passengerHandler := handlers.NewPassengerHandler(deps.Sessions)
	passenger := api.Group("/passenger")
	passenger.POST("/trip", passengerHandler.RequestRide)
	passenger.GET("/trip", passengerHandler.Get)
	passenger.POST("/trip/cancel", passengerHandler.Cancel)
	passenger.POST("/trip/ack", passengerHandler.Acknowledge)
	passenger.POST("/drivers/watch", passengerHandler.WatchDrivers)
	passenger.GET("/drivers", passengerHandler.Drivers)
	passenger.GET("/trip/history", handlers.NewHistoryHandler(deps.History).List)

	driverHandler := handlers.NewDriverHandler(deps.Sessions)
	locationHandler := handlers.NewLocationHandler(deps.Sessions)
	driver := api.Group("/driver", middleware.RequireRole(middleware.RoleDriver))
	driver.POST("/trips/:passengerId/accept", driverHandler.Accept)
	driver.GET("/trip", driverHandler.Get)
	driver.POST("/trip/pickup", driverHandler.ConfirmPickup)
	driver.POST("/trip/dropoff", driverHandler.ConfirmDropoff)
	driver.POST("/trip/cancel", driverHandler.Cancel)
	driver.POST("/trip/ack", driverHandler.Acknowledge)
	driver.PUT("/location", locationHandler.Update)
	driver.DELETE("/location", locationHandler.Offline)

	etaHandler := handlers.NewETAHandler(deps.Routes)
	api.GET("/trips/eta", etaHandler.Get)

	streamHandler := handlers.NewStreamHandler(deps.Sessions, deps.Log)
	r.GET("/ws", middleware.Auth(deps.Verifier), streamHandler.Serve)

	return r
}
