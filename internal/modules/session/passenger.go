// README: Passenger session: requests, withdraws, cancels and watches drivers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tripflow/internal/modules/location"
	"tripflow/internal/modules/trip"
	"tripflow/internal/types"
)

const (
	defaultWatchRadiusKm = 50.0

	ReasonNoDriver           = "no_driver"
	ReasonPassengerWithdrew  = "passenger_withdrew"
	ReasonPassengerCancelled = "passenger_cancelled"
)

type PassengerConfig struct {
	PassengerID types.ID
	Store       trip.Store
	Index       location.Index // required for WatchDrivers
	History     trip.History
	Log         *slog.Logger

	// RequestTimeout denies a trip nobody accepted. Zero disables it.
	RequestTimeout time.Duration
	WatchRadiusKm  float64
	PollInterval   time.Duration
}

type PassengerSession struct {
	loop
	cfg  PassengerConfig
	exec executor

	// owned by Run
	ctx     context.Context
	tracker tracker
	changes *trip.Subscription[trip.Change]
	removal *trip.Subscription[trip.Removal]
	query   *location.Query
	roster  *location.Roster
	timer   *time.Timer
	expired chan struct{}
}

func NewPassengerSession(cfg PassengerConfig) *PassengerSession {
	if cfg.WatchRadiusKm <= 0 {
		cfg.WatchRadiusKm = defaultWatchRadiusKm
	}
	l := newLoop(cfg.Log)
	l.log = l.log.With("passenger_id", string(cfg.PassengerID))
	return &PassengerSession{
		loop:    l,
		cfg:     cfg,
		exec:    executor{store: cfg.Store, history: cfg.History, log: l.log},
		roster:  location.NewRoster(),
		expired: make(chan struct{}, 1),
	}
}

// Run drives the session until ctx is cancelled. It resumes a trip the
// passenger already has in the store.
func (s *PassengerSession) Run(ctx context.Context) error {
	defer s.finish()
	s.ctx = ctx
	defer s.teardown()

	if t, err := s.cfg.Store.Get(ctx, s.cfg.PassengerID); err == nil {
		s.tracker.observe(t)
		if err := s.bind(); err != nil {
			s.notify(Notification{Kind: NotifyError, Err: err})
		}
		s.announce(t)
	} else if !errors.Is(err, trip.ErrNotFound) {
		s.notify(Notification{Kind: NotifyError, Err: err})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-s.actions:
			s.serve(a)
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
		case sg, ok := <-queryC(s.query):
			if !ok {
				s.query = nil
				continue
			}
			s.onSighting(sg)
		case <-s.expired:
			s.onTimeout()
		}
	}
}

// RequestRide creates the passenger's trip in the requested state.
func (s *PassengerSession) RequestRide(ctx context.Context, pickup, destination types.Point) (trip.Trip, error) {
	var out trip.Trip
	err := s.do(ctx, func(ctx context.Context) error {
		res, err := s.exec.apply(ctx, s.cfg.PassengerID, s.tracker.current, trip.RequestRide(s.cfg.PassengerID, pickup, destination))
		if err != nil {
			return s.fail("request_ride", err)
		}
		s.tracker.wrote(res.trip)
		if err := s.bind(); err != nil {
			return s.fail("request_ride", err)
		}
		s.armTimer()
		s.announce(res.trip)
		out = res.trip
		return nil
	})
	return out, err
}

// Cancel withdraws a pending request, or cancels an accepted trip before
// pickup. Either way the record is removed.
func (s *PassengerSession) Cancel(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		cur := s.tracker.current
		if cur == nil {
			return s.fail("cancel", fmt.Errorf("%w: no active trip", trip.ErrNotFound))
		}
		if cur.State == trip.StateRequested {
			res, err := s.exec.apply(ctx, s.cfg.PassengerID, cur, trip.Deny(ReasonPassengerWithdrew))
			if err != nil {
				return s.fail("cancel", err)
			}
			s.tracker.wrote(res.trip)
			s.announce(res.trip)
			return s.remove(ctx, trip.Acknowledge())
		}
		return s.remove(ctx, trip.Cancel(ReasonPassengerCancelled))
	})
}

// Acknowledge dismisses a denied or completed trip and removes the record.
func (s *PassengerSession) Acknowledge(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.remove(ctx, trip.Acknowledge())
	})
}

// Trip returns the trip the session is bound to.
func (s *PassengerSession) Trip(ctx context.Context) (trip.Trip, error) {
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

// WatchDrivers streams drivers within the configured radius of center as
// DriverSighted/DriverLeft notifications, replacing any previous watch.
func (s *PassengerSession) WatchDrivers(ctx context.Context, center types.Point) error {
	return s.do(ctx, func(context.Context) error {
		if s.cfg.Index == nil {
			return s.fail("watch_drivers", errors.New("no location index configured"))
		}
		if !center.Valid() {
			return s.fail("watch_drivers", fmt.Errorf("%w: invalid center", trip.ErrBadRequest))
		}
		s.stopWatching()
		s.query = location.NewQuery(s.ctx, s.cfg.Index, center, s.cfg.WatchRadiusKm, location.QueryOptions{PollInterval: s.cfg.PollInterval})
		return nil
	})
}

// Drivers lists the drivers currently in view, nearest first.
func (s *PassengerSession) Drivers(ctx context.Context) ([]location.DriverLocation, error) {
	var out []location.DriverLocation
	err := s.do(ctx, func(context.Context) error {
		out = s.roster.List()
		return nil
	})
	return out, err
}

func (s *PassengerSession) remove(ctx context.Context, ev trip.Event) error {
	res, err := s.exec.apply(ctx, s.cfg.PassengerID, s.tracker.current, ev)
	if err != nil {
		return s.fail(ev.Kind.String(), err)
	}
	s.unbind()
	last := res.trip
	s.notify(Notification{Kind: NotifyTripRemoved, Trip: &last})
	return nil
}

func (s *PassengerSession) onChange(c trip.Change) {
	if c.Err != nil {
		s.notify(Notification{Kind: NotifyError, Err: c.Err})
		return
	}
	if !s.tracker.observe(c.Trip) {
		return
	}
	if c.Trip.State != trip.StateRequested {
		s.stopTimer()
	}
	s.announce(c.Trip)
}

func (s *PassengerSession) onRemoval(r trip.Removal) {
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

func (s *PassengerSession) onSighting(sg location.Sighting) {
	if sg.Err != nil {
		s.notify(Notification{Kind: NotifyError, Err: sg.Err})
		return
	}
	d := sg.Driver
	switch sg.Kind {
	case location.Entered:
		s.roster.Upsert(d)
		s.notify(Notification{Kind: NotifyDriverSighted, Driver: &d})
	case location.Moved:
		s.roster.Upsert(d)
		s.notify(Notification{Kind: NotifyDriverMoved, Driver: &d})
	case location.Exited:
		s.roster.Remove(d.DriverID)
		s.notify(Notification{Kind: NotifyDriverLeft, Driver: &d})
	}
}

func (s *PassengerSession) onTimeout() {
	cur := s.tracker.current
	if cur == nil || cur.State != trip.StateRequested {
		return
	}
	res, err := s.exec.apply(s.ctx, s.cfg.PassengerID, cur, trip.Deny(ReasonNoDriver))
	if err != nil {
		// A driver may have accepted in the meantime.
		if errors.Is(err, trip.ErrConflict) {
			s.log.Info("request timeout lost to accept")
			return
		}
		_ = s.fail("request_timeout", err)
		return
	}
	s.tracker.wrote(res.trip)
	s.announce(res.trip)
}

// bind subscribes to the bound trip's changes and removal.
func (s *PassengerSession) bind() error {
	s.unsubscribe()
	changes, err := s.cfg.Store.SubscribeChanges(s.ctx, s.cfg.PassengerID)
	if err != nil {
		return err
	}
	removal, err := s.cfg.Store.SubscribeRemoval(s.ctx, s.cfg.PassengerID)
	if err != nil {
		changes.Cancel()
		return err
	}
	s.changes, s.removal = changes, removal
	return nil
}

func (s *PassengerSession) unbind() {
	s.unsubscribe()
	s.stopTimer()
	s.tracker.reset()
}

func (s *PassengerSession) unsubscribe() {
	if s.changes != nil {
		s.changes.Cancel()
		s.changes = nil
	}
	if s.removal != nil {
		s.removal.Cancel()
		s.removal = nil
	}
}

func (s *PassengerSession) armTimer() {
	s.stopTimer()
	if s.cfg.RequestTimeout <= 0 {
		return
	}
	s.timer = time.AfterFunc(s.cfg.RequestTimeout, func() {
		select {
		case s.expired <- struct{}{}:
		default:
		}
	})
}

func (s *PassengerSession) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	select {
	case <-s.expired:
	default:
	}
}

func (s *PassengerSession) stopWatching() {
	if s.query != nil {
		s.query.Cancel()
		s.query = nil
	}
	s.roster = location.NewRoster()
}

func (s *PassengerSession) teardown() {
	s.unbind()
	s.stopWatching()
}

func changesC(sub *trip.Subscription[trip.Change]) <-chan trip.Change {
	if sub == nil {
		return nil
	}
	return sub.C()
}

func removalC(sub *trip.Subscription[trip.Removal]) <-chan trip.Removal {
	if sub == nil {
		return nil
	}
	return sub.C()
}

func queryC(q *location.Query) <-chan location.Sighting {
	if q == nil {
		return nil
	}
	return q.C()
}
