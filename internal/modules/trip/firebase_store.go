// README: Trip store backed by Firebase RTDB under /trips/{passengerId}.
package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"

	"tripflow/internal/types"
)

const (
	tripsNode               = "trips"
	defaultFirebasePollRate = time.Second
)

// FirebaseStore keeps trips in the same node layout the mobile clients
// observe. The Admin SDK has no realtime listeners, so subscriptions poll.
type FirebaseStore struct {
	dbClient *db.Client
	interval time.Duration
}

func NewFirebaseStore(dbClient *db.Client, pollInterval time.Duration) *FirebaseStore {
	if pollInterval <= 0 {
		pollInterval = defaultFirebasePollRate
	}
	return &FirebaseStore{dbClient: dbClient, interval: pollInterval}
}

func (s *FirebaseStore) ref(passengerID types.ID) *db.Ref {
	return s.dbClient.NewRef(tripsNode).Child(string(passengerID))
}

func (s *FirebaseStore) Create(ctx context.Context, passengerID types.ID, pickup, destination types.Point) (Trip, error) {
	t := Trip{PassengerID: passengerID, Pickup: pickup, Destination: destination, State: InitialState}
	err := s.ref(passengerID).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var existing *record
		if err := node.Unmarshal(&existing); err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrAlreadyExists
		}
		return toRecord(t), nil
	})
	if err != nil {
		return Trip{}, storeErr("creating trip", err)
	}
	return t, nil
}

func (s *FirebaseStore) Get(ctx context.Context, passengerID types.ID) (Trip, error) {
	rec, err := s.read(ctx, passengerID)
	if err != nil {
		return Trip{}, err
	}
	if rec == nil {
		return Trip{}, ErrNotFound
	}
	return rec.toTrip(passengerID)
}

func (s *FirebaseStore) Update(ctx context.Context, passengerID types.ID, f Fields) (Trip, error) {
	var updated Trip
	err := s.ref(passengerID).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var cur *record
		if err := node.Unmarshal(&cur); err != nil {
			return nil, err
		}
		if cur == nil {
			return nil, ErrNotFound
		}
		t, err := cur.toTrip(passengerID)
		if err != nil {
			return nil, err
		}
		if f.ExpectState != nil && t.State != *f.ExpectState {
			return nil, ErrConflict
		}
		updated = f.apply(t)
		return toRecord(updated), nil
	})
	if err != nil {
		return Trip{}, storeErr("updating trip", err)
	}
	return updated, nil
}

func (s *FirebaseStore) Delete(ctx context.Context, passengerID types.ID) error {
	if err := s.ref(passengerID).Delete(ctx); err != nil {
		return storeErr("deleting trip", err)
	}
	return nil
}

func (s *FirebaseStore) SubscribeChanges(ctx context.Context, passengerID types.ID) (*Subscription[Change], error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := newSubscription[Change](cancel)

	go func() {
		var last *record
		s.every(ctx, func() {
			rec, err := s.read(ctx, passengerID)
			if err != nil {
				sub.push(Change{Err: err})
				return
			}
			if rec == nil || (last != nil && *last == *rec) {
				last = rec
				return
			}
			last = rec
			t, err := rec.toTrip(passengerID)
			if err != nil {
				sub.push(Change{Err: err})
				return
			}
			sub.push(Change{Trip: t})
		})
	}()
	return sub, nil
}

func (s *FirebaseStore) SubscribeNewTrips(ctx context.Context) (*Subscription[Change], error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := newSubscription[Change](cancel)

	go func() {
		known := make(map[string]struct{})
		s.every(ctx, func() {
			var all map[string]record
			if err := s.dbClient.NewRef(tripsNode).Get(ctx, &all); err != nil {
				sub.push(Change{Err: storeErr("listing trips", err)})
				return
			}
			for id := range known {
				if _, ok := all[id]; !ok {
					delete(known, id)
				}
			}
			for id, rec := range all {
				if _, ok := known[id]; ok {
					continue
				}
				known[id] = struct{}{}
				t, err := rec.toTrip(types.ID(id))
				if err != nil {
					sub.push(Change{Err: err})
					continue
				}
				sub.push(Change{Trip: t})
			}
		})
	}()
	return sub, nil
}

func (s *FirebaseStore) SubscribeRemoval(ctx context.Context, passengerID types.ID) (*Subscription[Removal], error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := newSubscription[Removal](cancel)

	go func() {
		// A record missing on the first read was deleted before we looked.
		s.every(ctx, func() {
			rec, err := s.read(ctx, passengerID)
			if err != nil || rec != nil {
				return
			}
			sub.fire(Removal{PassengerID: passengerID})
			cancel()
		})
	}()
	return sub, nil
}

func (s *FirebaseStore) read(ctx context.Context, passengerID types.ID) (*record, error) {
	var rec *record
	if err := s.ref(passengerID).Get(ctx, &rec); err != nil {
		return nil, storeErr("reading trip", err)
	}
	return rec, nil
}

// every runs fn immediately and then on each tick until ctx is done.
func (s *FirebaseStore) every(ctx context.Context, fn func()) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		fn()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func storeErr(op string, err error) error {
	for _, sentinel := range []error{ErrAlreadyExists, ErrNotFound, ErrConflict} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, op, err)
}
