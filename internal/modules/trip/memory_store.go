// README: In-process trip store with channel-based subscriptions.
package trip

import (
	"context"
	"sync"

	"tripflow/internal/types"
)

type MemoryStore struct {
	mu       sync.Mutex
	records  map[types.ID]Trip
	nextID   int
	changes  map[types.ID]map[int]*Subscription[Change]
	newTrips map[int]*Subscription[Change]
	removals map[types.ID]map[int]*Subscription[Removal]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[types.ID]Trip),
		changes:  make(map[types.ID]map[int]*Subscription[Change]),
		newTrips: make(map[int]*Subscription[Change]),
		removals: make(map[types.ID]map[int]*Subscription[Removal]),
	}
}

func (s *MemoryStore) Create(_ context.Context, passengerID types.ID, pickup, destination types.Point) (Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[passengerID]; ok {
		return Trip{}, ErrAlreadyExists
	}
	t := Trip{
		PassengerID: passengerID,
		Pickup:      pickup,
		Destination: destination,
		State:       InitialState,
	}
	s.records[passengerID] = t

	for _, sub := range s.newTrips {
		sub.push(Change{Trip: t})
	}
	for _, sub := range s.changes[passengerID] {
		sub.push(Change{Trip: t})
	}
	return t, nil
}

func (s *MemoryStore) Get(_ context.Context, passengerID types.ID) (Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.records[passengerID]
	if !ok {
		return Trip{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) Update(_ context.Context, passengerID types.ID, f Fields) (Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.records[passengerID]
	if !ok {
		return Trip{}, ErrNotFound
	}
	if f.ExpectState != nil && t.State != *f.ExpectState {
		return Trip{}, ErrConflict
	}
	t = f.apply(t)
	s.records[passengerID] = t

	for _, sub := range s.changes[passengerID] {
		sub.push(Change{Trip: t})
	}
	return t, nil
}

func (s *MemoryStore) Delete(_ context.Context, passengerID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[passengerID]; !ok {
		return nil
	}
	delete(s.records, passengerID)

	for id, sub := range s.removals[passengerID] {
		sub.fire(Removal{PassengerID: passengerID})
		delete(s.removals[passengerID], id)
	}
	return nil
}

func (s *MemoryStore) SubscribeChanges(_ context.Context, passengerID types.ID) (*Subscription[Change], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	sub := newSubscription[Change](func() {
		s.mu.Lock()
		delete(s.changes[passengerID], id)
		s.mu.Unlock()
	})
	if s.changes[passengerID] == nil {
		s.changes[passengerID] = make(map[int]*Subscription[Change])
	}
	s.changes[passengerID][id] = sub

	if t, ok := s.records[passengerID]; ok {
		sub.push(Change{Trip: t})
	}
	return sub, nil
}

func (s *MemoryStore) SubscribeNewTrips(_ context.Context) (*Subscription[Change], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	sub := newSubscription[Change](func() {
		s.mu.Lock()
		delete(s.newTrips, id)
		s.mu.Unlock()
	})
	s.newTrips[id] = sub

	// Records that already exist are "added" from the subscriber's view.
	for _, t := range s.records {
		sub.push(Change{Trip: t})
	}
	return sub, nil
}

func (s *MemoryStore) SubscribeRemoval(_ context.Context, passengerID types.ID) (*Subscription[Removal], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	sub := newSubscription[Removal](func() {
		s.mu.Lock()
		delete(s.removals[passengerID], id)
		s.mu.Unlock()
	})
	if _, ok := s.records[passengerID]; !ok {
		// Already gone.
		sub.fire(Removal{PassengerID: passengerID})
		return sub, nil
	}
	if s.removals[passengerID] == nil {
		s.removals[passengerID] = make(map[int]*Subscription[Removal])
	}
	s.removals[passengerID][id] = sub
	return sub, nil
}
