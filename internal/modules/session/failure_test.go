package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"tripflow/internal/modules/region"
	"tripflow/internal/modules/trip"
	"tripflow/internal/types"
)

// flakyStore fails the next failUpdates calls to Update as if the backend
// were unreachable.
type flakyStore struct {
	*trip.MemoryStore
	failUpdates atomic.Int32
}

func (f *flakyStore) Update(ctx context.Context, passengerID types.ID, fields trip.Fields) (trip.Trip, error) {
	if f.failUpdates.Add(-1) >= 0 {
		return trip.Trip{}, fmt.Errorf("%w: connection reset", trip.ErrRemoteUnavailable)
	}
	f.failUpdates.Store(0)
	return f.MemoryStore.Update(ctx, passengerID, fields)
}

func newFlakyHarness(t *testing.T) (*harness, *flakyStore, *region.Monitor) {
	t.Helper()
	mon := region.NewMonitor(region.AlwaysAuthorized, nil)
	flaky := &flakyStore{MemoryStore: trip.NewMemoryStore()}
	h := newHarnessOn(t, flaky.MemoryStore, flaky, PassengerConfig{}, DriverConfig{Monitor: mon})
	return h, flaky, mon
}

func isRemoteError(n Notification) bool {
	return errors.Is(n.Err, trip.ErrRemoteUnavailable)
}

func TestDriver_AcceptStoreFailure(t *testing.T) {
	h, flaky, mon := newFlakyHarness(t)
	ctx := context.Background()

	_ = h.driver.UpdateLocation(ctx, driverStart)
	if _, err := h.passenger.RequestRide(ctx, pickup, destination); err != nil {
		t.Fatalf("request ride: %v", err)
	}

	flaky.failUpdates.Store(1)
	if _, err := h.driver.Accept(ctx, "p1"); !errors.Is(err, trip.ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
	if _, err := h.driver.Trip(ctx); !errors.Is(err, trip.ErrNotFound) {
		t.Fatalf("driver bound after failed accept: %v", err)
	}
	if mon.Monitoring(region.Pickup) {
		t.Fatal("pickup monitored after failed accept")
	}
	if got := storedState(t, h.store, "p1"); got != trip.StateRequested {
		t.Fatalf("stored state = %s", got)
	}

	// The driver can re-issue the accept once the store is back.
	if tr, err := h.driver.Accept(ctx, "p1"); err != nil || tr.State != trip.StateAccepted {
		t.Fatalf("retry accept: %+v %v", tr, err)
	}
	if !mon.Monitoring(region.Pickup) {
		t.Fatal("pickup not monitored after accept")
	}
}

func TestDriver_EnterPickupStoreFailure(t *testing.T) {
	h, flaky, mon := newFlakyHarness(t)
	ctx := context.Background()

	_ = h.driver.UpdateLocation(ctx, driverStart)
	if _, err := h.passenger.RequestRide(ctx, pickup, destination); err != nil {
		t.Fatalf("request ride: %v", err)
	}
	if _, err := h.driver.Accept(ctx, "p1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	flaky.failUpdates.Store(1)
	_ = h.driver.UpdateLocation(ctx, pickup)
	waitFor(t, h.driver.Notifications(), NotifyError, isRemoteError)

	if !mon.Monitoring(region.Pickup) {
		t.Fatal("pickup region released after failed write")
	}
	if got := storedState(t, h.store, "p1"); got != trip.StateAccepted {
		t.Fatalf("stored state = %s, want accepted", got)
	}
	if tr, _ := h.driver.Trip(ctx); tr.State != trip.StateAccepted {
		t.Fatalf("session state = %s, want accepted", tr.State)
	}

	// Leaving and coming back retries the entry.
	_ = h.driver.UpdateLocation(ctx, driverStart)
	_ = h.driver.UpdateLocation(ctx, pickup)
	waitFor(t, h.driver.Notifications(), NotifyTripStateChanged, inState(trip.StateDriverArrived))
	if got := storedState(t, h.store, "p1"); got != trip.StateDriverArrived {
		t.Fatalf("stored state after re-entering = %s", got)
	}
	if mon.Monitoring(region.Pickup) {
		t.Fatal("pickup still monitored after arrival")
	}
}

func TestDriver_EnterPickupRetriesOnNextUpdate(t *testing.T) {
	h, flaky, _ := newFlakyHarness(t)
	ctx := context.Background()

	if _, err := h.passenger.RequestRide(ctx, pickup, destination); err != nil {
		t.Fatalf("request ride: %v", err)
	}
	if _, err := h.driver.Accept(ctx, "p1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	flaky.failUpdates.Store(1)
	_ = h.driver.UpdateLocation(ctx, pickup)
	waitFor(t, h.driver.Notifications(), NotifyError, isRemoteError)

	// Idling at the pickup point: the next fix inside the region retries.
	_ = h.driver.UpdateLocation(ctx, pickup)
	waitFor(t, h.driver.Notifications(), NotifyTripStateChanged, inState(trip.StateDriverArrived))
}

func TestDriver_ConfirmPickupStoreFailure(t *testing.T) {
	h, flaky, mon := newFlakyHarness(t)
	ctx := context.Background()

	if _, err := h.passenger.RequestRide(ctx, pickup, destination); err != nil {
		t.Fatalf("request ride: %v", err)
	}
	if _, err := h.driver.Accept(ctx, "p1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_ = h.driver.UpdateLocation(ctx, pickup)
	waitFor(t, h.driver.Notifications(), NotifyTripStateChanged, inState(trip.StateDriverArrived))

	flaky.failUpdates.Store(1)
	if _, err := h.driver.ConfirmPickup(ctx); !errors.Is(err, trip.ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
	if tr, _ := h.driver.Trip(ctx); tr.State != trip.StateDriverArrived {
		t.Fatalf("session state = %s, want driverArrived", tr.State)
	}
	if mon.Monitoring(region.Destination) {
		t.Fatal("destination monitored after failed confirm")
	}

	tr, err := h.driver.ConfirmPickup(ctx)
	if err != nil || tr.State != trip.StateInProgress {
		t.Fatalf("retry confirm pickup: %+v %v", tr, err)
	}
	if !mon.Monitoring(region.Destination) {
		t.Fatal("destination not monitored after confirm")
	}
}
