// README: Trip store contract and the subscription handle shared by all backends.
package trip

import (
	"context"
	"sync"

	"tripflow/internal/stream"
	"tripflow/internal/types"
)

// Store persists one active trip per passenger and streams its changes.
type Store interface {
	// Create writes a new record in the initial state. It fails with
	// ErrAlreadyExists if the passenger already has one.
	Create(ctx context.Context, passengerID types.ID, pickup, destination types.Point) (Trip, error)
	Get(ctx context.Context, passengerID types.ID) (Trip, error)
	// Update merges f into the stored record and returns the result. It fails
	// with ErrNotFound when there is no record and ErrConflict when
	// f.ExpectState does not match.
	Update(ctx context.Context, passengerID types.ID, f Fields) (Trip, error)
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, passengerID types.ID) error

	// SubscribeChanges streams the current value followed by every update of
	// one passenger's record, in write order.
	SubscribeChanges(ctx context.Context, passengerID types.ID) (*Subscription[Change], error)
	// SubscribeNewTrips streams every newly created record.
	SubscribeNewTrips(ctx context.Context) (*Subscription[Change], error)
	// SubscribeRemoval fires once when the passenger's record is deleted,
	// then closes. A record that is already missing fires at once.
	SubscribeRemoval(ctx context.Context, passengerID types.ID) (*Subscription[Removal], error)
}

// Change carries either a trip value or a stream failure.
type Change struct {
	Trip Trip
	Err  error
}

// Removal signals that a passenger's record was deleted.
type Removal struct {
	PassengerID types.ID
	Err         error
}

// Subscription is a long-lived stream. Cancel must be called when the
// consumer is done with it.
type Subscription[T any] struct {
	mb       *stream.Mailbox[T]
	once     sync.Once
	onCancel func()
}

func newSubscription[T any](onCancel func()) *Subscription[T] {
	return &Subscription[T]{mb: stream.NewMailbox[T](), onCancel: onCancel}
}

// C delivers values in order. It is closed after Cancel, or after a
// single-fire subscription has fired.
func (s *Subscription[T]) C() <-chan T {
	return s.mb.C()
}

func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		if s.onCancel != nil {
			s.onCancel()
		}
		s.mb.Stop()
	})
}

func (s *Subscription[T]) push(v T) bool {
	return s.mb.Push(v)
}

// fire delivers v and closes the stream after it.
func (s *Subscription[T]) fire(v T) {
	if s.mb.Push(v) {
		s.mb.Seal()
	}
}

func (s *Subscription[T]) done() <-chan struct{} {
	return s.mb.Done()
}
