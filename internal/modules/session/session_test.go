package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"tripflow/internal/modules/location"
	"tripflow/internal/modules/region"
	"tripflow/internal/modules/trip"
	"tripflow/internal/types"
)

const waitTimeout = 3 * time.Second

var (
	pickup      = types.Point{Lat: 30.0, Lng: 31.0}
	destination = types.Point{Lat: 30.1, Lng: 31.2}
	driverStart = types.Point{Lat: 30.0005, Lng: 31.0005}
	farAway     = types.Point{Lat: 31.0, Lng: 32.0}
)

type harness struct {
	store     *trip.MemoryStore
	index     *location.MemoryIndex
	passenger *PassengerSession
	driver    *DriverSession
}

func newHarness(t *testing.T, pcfg PassengerConfig, dcfg DriverConfig) *harness {
	t.Helper()
	mem := trip.NewMemoryStore()
	return newHarnessOn(t, mem, mem, pcfg, dcfg)
}

// newHarnessOn runs the driver against driverStore, which must be backed
// by mem.
func newHarnessOn(t *testing.T, mem *trip.MemoryStore, driverStore trip.Store, pcfg PassengerConfig, dcfg DriverConfig) *harness {
	t.Helper()
	h := &harness{store: mem, index: location.NewMemoryIndex()}

	pcfg.PassengerID, pcfg.Store, pcfg.Index = "p1", h.store, h.index
	dcfg.DriverID, dcfg.Store, dcfg.Index = "d1", driverStore, h.index
	h.passenger = NewPassengerSession(pcfg)
	h.driver = NewDriverSession(dcfg)

	ctx, cancel := context.WithCancel(context.Background())
	go h.passenger.Run(ctx)
	go h.driver.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.passenger.Done()
		<-h.driver.Done()
	})
	return h
}

// waitFor reads notifications until one of kind k satisfies match.
func waitFor(t *testing.T, ch <-chan Notification, k NotificationKind, match func(Notification) bool) Notification {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatalf("notifications closed while waiting for %s", k)
			}
			if n.Kind == k && (match == nil || match(n)) {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", k)
		}
	}
}

func inState(s trip.State) func(Notification) bool {
	return func(n Notification) bool { return n.Trip != nil && n.Trip.State == s }
}

func storedState(t *testing.T, s trip.Store, pid types.ID) trip.State {
	t.Helper()
	tr, err := s.Get(context.Background(), pid)
	if err != nil {
		t.Fatalf("get %s: %v", pid, err)
	}
	return tr.State
}

// TestEndToEndTrip walks one trip from request to acknowledgement.
func TestEndToEndTrip(t *testing.T) {
	h := newHarness(t, PassengerConfig{}, DriverConfig{})
	ctx := context.Background()

	if err := h.driver.UpdateLocation(ctx, driverStart); err != nil {
		t.Fatalf("initial location: %v", err)
	}

	requested, err := h.passenger.RequestRide(ctx, pickup, destination)
	if err != nil {
		t.Fatalf("request ride: %v", err)
	}
	if requested.State != trip.StateRequested || requested.HasDriver() {
		t.Fatalf("unexpected requested trip: %+v", requested)
	}
	if got := storedState(t, h.store, "p1"); got != trip.StateRequested {
		t.Fatalf("stored state = %s", got)
	}

	presented := waitFor(t, h.driver.Notifications(), NotifyPresentPickup, nil)
	if presented.Trip.PassengerID != "p1" || presented.Trip.Pickup != pickup {
		t.Fatalf("unexpected pickup presented: %+v", presented.Trip)
	}

	accepted, err := h.driver.Accept(ctx, "p1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.State != trip.StateAccepted || accepted.DriverID != "d1" {
		t.Fatalf("unexpected accepted trip: %+v", accepted)
	}
	stored, _ := h.store.Get(ctx, "p1")
	if stored.DriverID != "d1" || stored.State != trip.StateAccepted {
		t.Fatalf("unexpected stored trip after accept: %+v", stored)
	}

	if err := h.driver.UpdateLocation(ctx, pickup); err != nil {
		t.Fatalf("location at pickup: %v", err)
	}
	waitFor(t, h.driver.Notifications(), NotifyTripStateChanged, inState(trip.StateDriverArrived))
	if got := storedState(t, h.store, "p1"); got != trip.StateDriverArrived {
		t.Fatalf("stored state = %s, want driverArrived", got)
	}

	if tr, err := h.driver.ConfirmPickup(ctx); err != nil || tr.State != trip.StateInProgress {
		t.Fatalf("confirm pickup: %+v %v", tr, err)
	}

	if err := h.driver.UpdateLocation(ctx, destination); err != nil {
		t.Fatalf("location at destination: %v", err)
	}
	waitFor(t, h.driver.Notifications(), NotifyTripStateChanged, inState(trip.StateArrivedAtDestination))

	if tr, err := h.driver.ConfirmDropoff(ctx); err != nil || tr.State != trip.StateCompleted {
		t.Fatalf("confirm dropoff: %+v %v", tr, err)
	}

	// The passenger observed every state in order.
	var seen []trip.State
	for len(seen) < 6 {
		n := waitFor(t, h.passenger.Notifications(), NotifyTripStateChanged, nil)
		seen = append(seen, n.Trip.State)
	}
	want := []trip.State{
		trip.StateRequested, trip.StateAccepted, trip.StateDriverArrived,
		trip.StateInProgress, trip.StateArrivedAtDestination, trip.StateCompleted,
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("passenger saw %v, want %v", seen, want)
		}
	}
	waitFor(t, h.passenger.Notifications(), NotifyTripCompleted, nil)

	rem, err := h.store.SubscribeRemoval(ctx, "p1")
	if err != nil {
		t.Fatalf("subscribe removal: %v", err)
	}
	defer rem.Cancel()

	if err := h.passenger.Acknowledge(ctx); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	fired := 0
	timeout := time.After(waitTimeout)
drain:
	for {
		select {
		case _, ok := <-rem.C():
			if !ok {
				break drain
			}
			fired++
		case <-timeout:
			t.Fatal("removal stream did not close")
		}
	}
	if fired != 1 {
		t.Fatalf("removal fired %d times", fired)
	}
	if _, err := h.store.Get(ctx, "p1"); !errors.Is(err, trip.ErrNotFound) {
		t.Fatalf("record still present: %v", err)
	}

	waitFor(t, h.driver.Notifications(), NotifyTripRemoved, nil)
	if _, err := h.driver.Trip(ctx); !errors.Is(err, trip.ErrNotFound) {
		t.Fatalf("driver still bound: %v", err)
	}
	if h.driver.cfg.Monitor.Monitoring(region.Pickup) || h.driver.cfg.Monitor.Monitoring(region.Destination) {
		t.Fatal("regions still monitored after removal")
	}
}

func TestDriver_PickupEnteredTwice(t *testing.T) {
	h := newHarness(t, PassengerConfig{}, DriverConfig{})
	ctx := context.Background()

	if _, err := h.passenger.RequestRide(ctx, pickup, destination); err != nil {
		t.Fatalf("request ride: %v", err)
	}
	if _, err := h.driver.Accept(ctx, "p1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	_ = h.driver.UpdateLocation(ctx, pickup)
	waitFor(t, h.driver.Notifications(), NotifyTripStateChanged, inState(trip.StateDriverArrived))

	_ = h.driver.UpdateLocation(ctx, driverStart)
	_ = h.driver.UpdateLocation(ctx, pickup)

	tr, err := h.driver.Trip(ctx)
	if err != nil || tr.State != trip.StateDriverArrived {
		t.Fatalf("trip = %+v, %v", tr, err)
	}
	if got := storedState(t, h.store, "p1"); got != trip.StateDriverArrived {
		t.Fatalf("stored state = %s", got)
	}
}

func TestDriver_AcceptAlreadyAccepted(t *testing.T) {
	h := newHarness(t, PassengerConfig{}, DriverConfig{})
	ctx := context.Background()

	other := NewDriverSession(DriverConfig{DriverID: "d2", Store: h.store})
	octx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		<-other.Done()
	}()
	go other.Run(octx)

	if _, err := h.passenger.RequestRide(ctx, pickup, destination); err != nil {
		t.Fatalf("request ride: %v", err)
	}
	if _, err := h.driver.Accept(ctx, "p1"); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if _, err := other.Accept(ctx, "p1"); !errors.Is(err, trip.ErrInvalidTransition) {
		t.Fatalf("second accept: expected ErrInvalidTransition, got %v", err)
	}
	stored, _ := h.store.Get(ctx, "p1")
	if stored.DriverID != "d1" {
		t.Fatalf("driver overwritten: %+v", stored)
	}
}

func TestPassenger_DuplicateRequest(t *testing.T) {
	h := newHarness(t, PassengerConfig{}, DriverConfig{})
	ctx := context.Background()

	if _, err := h.passenger.RequestRide(ctx, pickup, destination); err != nil {
		t.Fatalf("request ride: %v", err)
	}
	if _, err := h.passenger.RequestRide(ctx, pickup, destination); !errors.Is(err, trip.ErrInvalidTransition) {
		t.Fatalf("second request: expected ErrInvalidTransition, got %v", err)
	}
}

func TestPassenger_WithdrawPendingRequest(t *testing.T) {
	h := newHarness(t, PassengerConfig{}, DriverConfig{})
	ctx := context.Background()

	if _, err := h.passenger.RequestRide(ctx, pickup, destination); err != nil {
		t.Fatalf("request ride: %v", err)
	}
	if err := h.passenger.Cancel(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitFor(t, h.passenger.Notifications(), NotifyTripDenied, nil)
	waitFor(t, h.passenger.Notifications(), NotifyTripRemoved, nil)
	if _, err := h.store.Get(ctx, "p1"); !errors.Is(err, trip.ErrNotFound) {
		t.Fatalf("record still present: %v", err)
	}
}

func TestPassenger_CancelAcceptedTrip(t *testing.T) {
	h := newHarness(t, PassengerConfig{}, DriverConfig{})
	ctx := context.Background()

	if _, err := h.passenger.RequestRide(ctx, pickup, destination); err != nil {
		t.Fatalf("request ride: %v", err)
	}
	if _, err := h.driver.Accept(ctx, "p1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	waitFor(t, h.passenger.Notifications(), NotifyTripStateChanged, inState(trip.StateAccepted))

	if err := h.passenger.Cancel(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	n := waitFor(t, h.driver.Notifications(), NotifyTripCancelled, nil)
	if n.Trip == nil || n.Trip.PassengerID != "p1" {
		t.Fatalf("unexpected cancellation: %+v", n)
	}
	if h.driver.cfg.Monitor.Monitoring(region.Pickup) {
		t.Fatal("pickup still monitored after cancellation")
	}
}

func TestPassenger_CancelWithoutTrip(t *testing.T) {
	h := newHarness(t, PassengerConfig{}, DriverConfig{})
	if err := h.passenger.Cancel(context.Background()); !errors.Is(err, trip.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPassenger_RequestTimeoutDenies(t *testing.T) {
	h := newHarness(t, PassengerConfig{RequestTimeout: 50 * time.Millisecond}, DriverConfig{})
	ctx := context.Background()

	if _, err := h.passenger.RequestRide(ctx, pickup, destination); err != nil {
		t.Fatalf("request ride: %v", err)
	}
	waitFor(t, h.passenger.Notifications(), NotifyTripDenied, nil)
	if got := storedState(t, h.store, "p1"); got != trip.StateDenied {
		t.Fatalf("stored state = %s, want denied", got)
	}

	if err := h.passenger.Acknowledge(ctx); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
}

func TestPassenger_ResumesExistingTrip(t *testing.T) {
	store := trip.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := store.Create(ctx, "p9", pickup, destination); err != nil {
		t.Fatalf("create: %v", err)
	}
	ps := NewPassengerSession(PassengerConfig{PassengerID: "p9", Store: store})
	go ps.Run(ctx)

	n := waitFor(t, ps.Notifications(), NotifyTripStateChanged, nil)
	if n.Trip.State != trip.StateRequested {
		t.Fatalf("resumed state = %s", n.Trip.State)
	}
	tr, err := ps.Trip(ctx)
	if err != nil || tr.PassengerID != "p9" {
		t.Fatalf("trip = %+v, %v", tr, err)
	}
}

func TestPassenger_WatchDriversDeduplicates(t *testing.T) {
	h := newHarness(t, PassengerConfig{PollInterval: 20 * time.Millisecond}, DriverConfig{})
	ctx := context.Background()

	if err := h.driver.UpdateLocation(ctx, driverStart); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if err := h.passenger.WatchDrivers(ctx, pickup); err != nil {
		t.Fatalf("watch drivers: %v", err)
	}
	n := waitFor(t, h.passenger.Notifications(), NotifyDriverSighted, nil)
	if n.Driver.DriverID != "d1" {
		t.Fatalf("sighted %s", n.Driver.DriverID)
	}

	moved := types.Point{Lat: 30.001, Lng: 31.001}
	if err := h.driver.UpdateLocation(ctx, moved); err != nil {
		t.Fatalf("update location: %v", err)
	}
	mv := waitFor(t, h.passenger.Notifications(), NotifyDriverMoved, nil)
	if mv.Driver.DriverID != "d1" || mv.Driver.Position != moved {
		t.Fatalf("unexpected move: %+v", mv.Driver)
	}
	drivers, err := h.passenger.Drivers(ctx)
	if err != nil || len(drivers) != 1 {
		t.Fatalf("drivers = %v, %v", drivers, err)
	}
	if drivers[0].Position != moved {
		t.Fatalf("roster position = %s, want %s", drivers[0].Position, moved)
	}

	if err := h.driver.UpdateLocation(ctx, farAway); err != nil {
		t.Fatalf("update location: %v", err)
	}
	left := waitFor(t, h.passenger.Notifications(), NotifyDriverLeft, nil)
	if left.Driver.DriverID != "d1" {
		t.Fatalf("left %s", left.Driver.DriverID)
	}
	if drivers, _ := h.passenger.Drivers(ctx); len(drivers) != 0 {
		t.Fatalf("roster not emptied: %v", drivers)
	}
}

func TestDriver_PermissionDenied(t *testing.T) {
	denied := region.NewMonitor(region.AuthorizerFunc(func() bool { return false }), nil)
	h := newHarness(t, PassengerConfig{}, DriverConfig{Monitor: denied})
	ctx := context.Background()

	if _, err := h.passenger.RequestRide(ctx, pickup, destination); err != nil {
		t.Fatalf("request ride: %v", err)
	}
	if _, err := h.driver.Accept(ctx, "p1"); err != nil {
		t.Fatalf("accept must still succeed: %v", err)
	}
	n := waitFor(t, h.driver.Notifications(), NotifyPermissionDenied, nil)
	if !errors.Is(n.Err, region.ErrPermissionDenied) {
		t.Fatalf("unexpected error: %v", n.Err)
	}

	// Without geofences the trip waits for the driver.
	_ = h.driver.UpdateLocation(ctx, pickup)
	if tr, _ := h.driver.Trip(ctx); tr.State != trip.StateAccepted {
		t.Fatalf("state advanced without monitoring: %s", tr.State)
	}
}

type recordingPusher struct {
	got chan trip.Trip
}

func (p *recordingPusher) NotifyNewTrip(_ context.Context, _ types.ID, t trip.Trip) error {
	p.got <- t
	return nil
}

func TestDriver_PushesNewTrips(t *testing.T) {
	pusher := &recordingPusher{got: make(chan trip.Trip, 1)}
	h := newHarness(t, PassengerConfig{}, DriverConfig{Pusher: pusher})

	if _, err := h.passenger.RequestRide(context.Background(), pickup, destination); err != nil {
		t.Fatalf("request ride: %v", err)
	}
	select {
	case tr := <-pusher.got:
		if tr.PassengerID != "p1" {
			t.Fatalf("pushed %+v", tr)
		}
	case <-time.After(waitTimeout):
		t.Fatal("no push for new trip")
	}
}

func TestRegistry_ReusesSessions(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Store: trip.NewMemoryStore(), Index: location.NewMemoryIndex()})

	p := reg.Passenger("p1")
	if reg.Passenger("p1") != p {
		t.Fatal("passenger session not reused")
	}
	d := reg.Driver("d1")
	if reg.Driver("d1") != d {
		t.Fatal("driver session not reused")
	}

	reg.Close()
	select {
	case <-p.Done():
	case <-time.After(waitTimeout):
		t.Fatal("passenger session still running")
	}
	if _, err := p.Trip(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestLoop_NotificationBacklogIsBounded(t *testing.T) {
	l := newLoop(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < notificationBacklog*2; i++ {
		l.notify(Notification{Kind: NotifyPresentPickup})
	}
	l.notify(Notification{Kind: NotifyTripRemoved})
	l.finish()

	var got []Notification
	for n := range l.Notifications() {
		got = append(got, n)
	}
	if len(got) > notificationBacklog+1 {
		t.Fatalf("kept %d notifications, backlog is %d", len(got), notificationBacklog)
	}
	if last := got[len(got)-1]; last.Kind != NotifyTripRemoved {
		t.Fatalf("newest notification lost, last = %s", last.Kind)
	}
}
