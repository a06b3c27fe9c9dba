// README: Entry point; loads config, wires backends and sessions, starts the HTTP server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tripflow/internal/app"
	"tripflow/internal/config"
	httptransport "tripflow/internal/http"
	"tripflow/internal/infra"
	"tripflow/internal/maps"
	"tripflow/internal/modules/push"
	"tripflow/internal/modules/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := infra.NewLogger(os.Stdout, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("TRIPFLOW_FIREBASE_PROJECT_ID is required")
	}
	fb, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
	if err != nil {
		log.Fatalf("firebase init: %v", err)
	}

	b, err := app.OpenBackends(ctx, cfg, fb, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer b.Close()

	var pusher session.Pusher
	if fb.DB != nil {
		pusher = push.NewFCMPusher(fb.Messaging, push.NewRTDBTokens(fb.DB), logger)
	}

	deps := httptransport.RouterDeps{Verifier: fb.Verifier, Log: logger}
	if b.Transitions != nil {
		deps.History = b.Transitions
	}
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatal(err)
		}
		deps.Routes = routes
	}

	sessions := session.NewRegistry(session.RegistryConfig{
		Store:              b.Store,
		Index:              b.Index,
		History:            b.History,
		Pusher:             pusher,
		Log:                logger,
		RequestTimeout:     cfg.Trip.RequestTimeout,
		WatchRadiusKm:      cfg.Geo.RadiusKm,
		PollInterval:       cfg.Geo.PollInterval,
		RegionRadiusMeters: cfg.Region.RadiusMeters,
	})
	defer sessions.Close()
	deps.Sessions = sessions

	server := httptransport.NewServer(cfg.HTTP.Addr, deps)
	if err := server.Run(ctx); err != nil {
		log.Fatal(err)
	}
	logger.Info("shutdown complete")
}
