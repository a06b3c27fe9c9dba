// README: Driver session: sees new requests, accepts one, and advances it via geofences.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tripflow/internal/modules/location"
	"tripflow/internal/modules/region"
	"tripflow/internal/modules/trip"
	"tripflow/internal/types"
)

// ReasonDriverCancelled is recorded when the driver abandons an accepted trip.
const ReasonDriverCancelled = "driver_cancelled"

// Pusher delivers an out-of-band alert about a new trip to a driver device.
type Pusher interface {
	NotifyNewTrip(ctx context.Context, driverID types.ID, t trip.Trip) error
}

type DriverConfig struct {
	DriverID types.ID
	Store    trip.Store
	Index    location.Index
	Monitor  *region.Monitor
	History  trip.History
	Pusher   Pusher // optional
	Log      *slog.Logger

	// RegionRadiusMeters overrides region.DefaultRadiusMeters when > 0.
	RegionRadiusMeters float64
}

type DriverSession struct {
	loop
	cfg  DriverConfig
	exec executor

	// owned by Run
	ctx      context.Context
	tracker  tracker
	newTrips *trip.Subscription[trip.Change]
	changes  *trip.Subscription[trip.Change]
	removal  *trip.Subscription[trip.Removal]
}

func NewDriverSession(cfg DriverConfig) *DriverSession {
	l := newLoop(cfg.Log)
	l.log = l.log.With("driver_id", string(cfg.DriverID))
	if cfg.Monitor == nil {
		cfg.Monitor = region.NewMonitor(region.AlwaysAuthorized, l.log)
	}
	return &DriverSession{
		loop: l,
		cfg:  cfg,
		exec: executor{
			store:   cfg.Store,
			monitor: cfg.Monitor,
			history: cfg.History,
			radius:  cfg.RegionRadiusMeters,
			log:     l.log,
		},
	}
}

// Run drives the session until ctx is cancelled.
func (s *DriverSession) Run(ctx context.Context) error {
	defer s.finish()
	s.ctx = ctx
	defer s.teardown()

	sub, err := s.cfg.Store.SubscribeNewTrips(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to new trips: %w", err)
	}
	s.newTrips = sub

	events := s.cfg.Monitor.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-s.actions:
			s.serve(a)
		case c, ok := <-changesC(s.newTrips):
			if !ok {
				s.newTrips = nil
				continue
			}
			s.onNewTrip(c)
		case c, ok := <-changesC(s.changes):
			if !ok {
				s.changes = nil
				continue
			}
			s.onChange(c)
		case r, ok := <-removalC(s.removal):
			if !ok {
				s.removal = nil
				continue
			}
			s.onRemoval(r)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.onRegion(ev)
		}
	}
}

// Accept claims a requested trip. Losing a race to another driver returns
// trip.ErrConflict.
func (s *DriverSession) Accept(ctx context.Context, passengerID types.ID) (trip.Trip, error) {
	var out trip.Trip
	err := s.do(ctx, func(ctx context.Context) error {
		if s.tracker.current != nil {
			return s.fail("accept", fmt.Errorf("%w: driver already has a trip", trip.ErrConflict))
		}
		cur, err := s.cfg.Store.Get(ctx, passengerID)
		if err != nil {
			return s.fail("accept", err)
		}
		res, err := s.exec.apply(ctx, passengerID, &cur, trip.Accept(s.cfg.DriverID))
		if err != nil {
			return s.fail("accept", err)
		}
		s.tracker.wrote(res.trip)
		if err := s.bind(passengerID); err != nil {
			return s.fail("accept", err)
		}
		s.announce(res.trip)
		out = res.trip
		return nil
	})
	return out, err
}

// ConfirmPickup starts the ride once the driver has arrived.
func (s *DriverSession) ConfirmPickup(ctx context.Context) (trip.Trip, error) {
	return s.advance(ctx, trip.ConfirmPickup())
}

// ConfirmDropoff completes the ride at the destination.
func (s *DriverSession) ConfirmDropoff(ctx context.Context) (trip.Trip, error) {
	return s.advance(ctx, trip.ConfirmDropoff())
}

// Cancel abandons an accepted trip before pickup. The record is removed.
func (s *DriverSession) Cancel(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.remove(ctx, trip.Cancel(ReasonDriverCancelled))
	})
}

// Acknowledge dismisses the completed trip and removes the record.
func (s *DriverSession) Acknowledge(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.remove(ctx, trip.Acknowledge())
	})
}

// UpdateLocation records the device position in the index and feeds the
// region monitor.
func (s *DriverSession) UpdateLocation(ctx context.Context, p types.Point) error {
	return s.do(ctx, func(ctx context.Context) error {
		if !p.Valid() {
			return s.fail("update_location", fmt.Errorf("%w: invalid position", trip.ErrBadRequest))
		}
		if s.cfg.Index != nil {
			if err := s.cfg.Index.RecordLocation(ctx, s.cfg.DriverID, p); err != nil {
				_ = s.fail("update_location", err)
			}
		}
		s.cfg.Monitor.Observe(p)
		return nil
	})
}

// GoOffline removes the driver from the location index.
func (s *DriverSession) GoOffline(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		if s.cfg.Index == nil {
			return nil
		}
		if err := s.cfg.Index.Remove(ctx, s.cfg.DriverID); err != nil {
			return s.fail("go_offline", err)
		}
		return nil
	})
}

// Trip returns the trip the driver is bound to.
func (s *DriverSession) Trip(ctx context.Context) (trip.Trip, error) {
	var out trip.Trip
	err := s.do(ctx, func(context.Context) error {
		if s.tracker.current == nil {
			return trip.ErrNotFound
		}
		out = *s.tracker.current
		return nil
	})
	return out, err
}

func (s *DriverSession) advance(ctx context.Context, ev trip.Event) (trip.Trip, error) {
	var out trip.Trip
	err := s.do(ctx, func(ctx context.Context) error {
		res, err := s.step(ctx, ev)
		if err != nil {
			return s.fail(ev.Kind.String(), err)
		}
		out = res
		return nil
	})
	return out, err
}

// step applies a forward event to the bound trip.
func (s *DriverSession) step(ctx context.Context, ev trip.Event) (trip.Trip, error) {
	cur := s.tracker.current
	if cur == nil {
		return trip.Trip{}, fmt.Errorf("%w: no active trip", trip.ErrNotFound)
	}
	res, err := s.exec.apply(ctx, cur.PassengerID, cur, ev)
	if err != nil {
		return trip.Trip{}, err
	}
	s.tracker.wrote(res.trip)
	s.announce(res.trip)
	return res.trip, nil
}

func (s *DriverSession) remove(ctx context.Context, ev trip.Event) error {
	cur := s.tracker.current
	if cur == nil {
		return s.fail(ev.Kind.String(), fmt.Errorf("%w: no active trip", trip.ErrNotFound))
	}
	res, err := s.exec.apply(ctx, cur.PassengerID, cur, ev)
	if err != nil {
		return s.fail(ev.Kind.String(), err)
	}
	s.unbind()
	last := res.trip
	s.notify(Notification{Kind: NotifyTripRemoved, Trip: &last})
	return nil
}

func (s *DriverSession) onNewTrip(c trip.Change) {
	if c.Err != nil {
		s.notify(Notification{Kind: NotifyError, Err: c.Err})
		return
	}
	if c.Trip.State != trip.StateRequested || s.tracker.current != nil {
		return
	}
	t := c.Trip
	s.notify(Notification{Kind: NotifyPresentPickup, Trip: &t})

	if s.cfg.Pusher != nil {
		go func() {
			if err := s.cfg.Pusher.NotifyNewTrip(s.ctx, s.cfg.DriverID, t); err != nil {
				s.log.Warn("new trip push failed", "passenger_id", string(t.PassengerID), "error", err)
			}
		}()
	}
}

func (s *DriverSession) onChange(c trip.Change) {
	if c.Err != nil {
		s.notify(Notification{Kind: NotifyError, Err: c.Err})
		return
	}
	if !s.tracker.observe(c.Trip) {
		return
	}
	s.announce(c.Trip)
}

func (s *DriverSession) onRemoval(r trip.Removal) {
	if r.Err != nil {
		s.notify(Notification{Kind: NotifyError, Err: r.Err})
		return
	}
	last := s.tracker.current
	s.unbind()
	kind := NotifyTripRemoved
	if last != nil && !last.State.Terminal() {
		kind = NotifyTripCancelled
	}
	s.notify(Notification{Kind: kind, Trip: last})
}

func (s *DriverSession) onRegion(ev region.Event) {
	var tev trip.Event
	switch ev.Kind {
	case region.EventPermissionDenied:
		s.notify(Notification{Kind: NotifyPermissionDenied, Err: ev.Err})
		return
	case region.EventExited:
		s.log.Debug("left region", "region", ev.Region.Type.String())
		return
	case region.EventEntered:
		if ev.Region.Type == region.Pickup {
			tev = trip.EnterPickup()
		} else {
			tev = trip.EnterDestination()
		}
	default:
		return
	}
	if s.tracker.current == nil {
		s.log.Debug("region event without a trip", "region", ev.Region.Type.String())
		return
	}
	if _, err := s.step(s.ctx, tev); err != nil {
		if !errors.Is(err, trip.ErrInvalidTransition) {
			s.cfg.Monitor.Rearm(ev.Region.Type)
		}
		_ = s.fail(tev.Kind.String(), err)
	}
}

func (s *DriverSession) bind(passengerID types.ID) error {
	s.unsubscribe()
	changes, err := s.cfg.Store.SubscribeChanges(s.ctx, passengerID)
	if err != nil {
		return err
	}
	removal, err := s.cfg.Store.SubscribeRemoval(s.ctx, passengerID)
	if err != nil {
		changes.Cancel()
		return err
	}
	s.changes, s.removal = changes, removal
	return nil
}

func (s *DriverSession) unbind() {
	s.unsubscribe()
	s.cfg.Monitor.StopAll()
	s.tracker.reset()
}

func (s *DriverSession) unsubscribe() {
	if s.changes != nil {
		s.changes.Cancel()
		s.changes = nil
	}
	if s.removal != nil {
		s.removal.Cancel()
		s.removal = nil
	}
}

func (s *DriverSession) teardown() {
	s.unbind()
	if s.newTrips != nil {
		s.newTrips.Cancel()
		s.newTrips = nil
	}
	s.cfg.Monitor.Close()
}
