// README: Trip simulator; drives one passenger and one driver through a full trip against the configured backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"tripflow/internal/app"
	"tripflow/internal/config"
	"tripflow/internal/infra"
	"tripflow/internal/modules/session"
	"tripflow/internal/modules/trip"
	"tripflow/internal/types"
)

type options struct {
	passenger string
	driver    string
	step      time.Duration
	timeout   time.Duration
	verbose   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.passenger, "passenger", "sim-passenger", "passenger UID")
	flag.StringVar(&opts.driver, "driver", "sim-driver", "driver UID")
	flag.DurationVar(&opts.step, "wait", 10*time.Second, "max wait per step")
	flag.DurationVar(&opts.timeout, "timeout", time.Minute, "overall timeout")
	flag.BoolVar(&opts.verbose, "v", false, "log session internals to stderr")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var logOut io.Writer = io.Discard
	if opts.verbose {
		logOut = os.Stderr
	}
	logger := infra.NewLogger(logOut, cfg.Log.Level)

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	var fb *infra.Firebase
	if cfg.UsesFirebase() {
		if fb, err = infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL); err != nil {
			fmt.Fprintf(os.Stderr, "firebase init: %v\n", err)
			os.Exit(1)
		}
	}
	b, err := app.OpenBackends(ctx, cfg, fb, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer b.Close()

	reg := session.NewRegistry(session.RegistryConfig{
		Store:              b.Store,
		Index:              b.Index,
		History:            b.History,
		Log:                logger,
		WatchRadiusKm:      cfg.Geo.RadiusKm,
		PollInterval:       cfg.Geo.PollInterval,
		RegionRadiusMeters: cfg.Region.RadiusMeters,
	})
	defer reg.Close()

	sim := &simulation{
		opts:      opts,
		passenger: reg.Passenger(types.ID(opts.passenger)),
		driver:    reg.Driver(types.ID(opts.driver)),
	}
	if err := sim.run(ctx); err != nil {
		fmt.Printf("FAIL %v\n", err)
		os.Exit(1)
	}
	fmt.Println("PASS trip completed and removed")
}

type simulation struct {
	opts      options
	passenger *session.PassengerSession
	driver    *session.DriverSession
}

var (
	pickup      = types.Point{Lat: 30.0444, Lng: 31.2357}
	destination = types.Point{Lat: 30.0626, Lng: 31.2497}
	driverStart = types.Point{Lat: 30.0450, Lng: 31.2365}
)

func (s *simulation) run(ctx context.Context) error {
	if err := s.driver.UpdateLocation(ctx, driverStart); err != nil {
		return fmt.Errorf("driver online: %w", err)
	}
	if _, err := s.passenger.RequestRide(ctx, pickup, destination); err != nil {
		return fmt.Errorf("request ride: %w", err)
	}
	if err := s.await(ctx, "driver", session.NotifyPresentPickup, nil); err != nil {
		return err
	}
	if _, err := s.driver.Accept(ctx, types.ID(s.opts.passenger)); err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	if err := s.await(ctx, "passenger", session.NotifyTripStateChanged, inState(trip.StateAccepted)); err != nil {
		return err
	}

	if err := s.driver.UpdateLocation(ctx, pickup); err != nil {
		return fmt.Errorf("arrive at pickup: %w", err)
	}
	if err := s.await(ctx, "driver", session.NotifyTripStateChanged, inState(trip.StateDriverArrived)); err != nil {
		return err
	}
	if _, err := s.driver.ConfirmPickup(ctx); err != nil {
		return fmt.Errorf("confirm pickup: %w", err)
	}

	if err := s.driver.UpdateLocation(ctx, destination); err != nil {
		return fmt.Errorf("arrive at destination: %w", err)
	}
	if err := s.await(ctx, "driver", session.NotifyTripStateChanged, inState(trip.StateArrivedAtDestination)); err != nil {
		return err
	}
	if _, err := s.driver.ConfirmDropoff(ctx); err != nil {
		return fmt.Errorf("confirm dropoff: %w", err)
	}
	if err := s.await(ctx, "passenger", session.NotifyTripCompleted, nil); err != nil {
		return err
	}

	if err := s.passenger.Acknowledge(ctx); err != nil {
		return fmt.Errorf("acknowledge: %w", err)
	}
	if err := s.await(ctx, "driver", session.NotifyTripRemoved, nil); err != nil {
		return err
	}
	return s.driver.GoOffline(ctx)
}

func inState(st trip.State) func(session.Notification) bool {
	return func(n session.Notification) bool { return n.Trip != nil && n.Trip.State == st }
}

// await prints every notification from both sessions until who receives
// one of kind k that satisfies match.
func (s *simulation) await(ctx context.Context, who string, k session.NotificationKind, match func(session.Notification) bool) error {
	deadline := time.NewTimer(s.opts.step)
	defer deadline.Stop()
	for {
		var (
			n    session.Notification
			from string
			ok   bool
		)
		select {
		case n, ok = <-s.passenger.Notifications():
			from = "passenger"
		case n, ok = <-s.driver.Notifications():
			from = "driver"
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for %s %s", who, k)
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			return fmt.Errorf("%s session closed", from)
		}
		fmt.Println(describe(from, n))
		if from == who && n.Kind == k && (match == nil || match(n)) {
			return nil
		}
	}
}

func describe(from string, n session.Notification) string {
	line := fmt.Sprintf("%s %-10s %s", n.At.Format("15:04:05.000"), from, n.Kind)
	if n.Trip != nil {
		line += fmt.Sprintf(" trip=%s state=%s", n.Trip.PassengerID, n.Trip.State)
	}
	if n.Driver != nil {
		line += fmt.Sprintf(" driver=%s at %s", n.Driver.DriverID, n.Driver.Position)
	}
	if n.Err != nil {
		line += " err=" + n.Err.Error()
	}
	return line
}
