// README: Shared event-loop plumbing for passenger and driver sessions.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tripflow/internal/modules/trip"
	"tripflow/internal/stream"
)

// ErrClosed is returned by actions issued after the session stopped.
var ErrClosed = errors.New("session closed")

// maxEchoes bounds the writes a session remembers while waiting for them
// to come back on its change stream.
const maxEchoes = 8

// notificationBacklog bounds the notifications a session keeps for a
// consumer that is not reading. Older ones are discarded first.
const notificationBacklog = 256

type action struct {
	ctx   context.Context
	fn    func(ctx context.Context) error
	reply chan error
}

// loop owns the goroutine a session runs on. Every user action is funneled
// through actions so session state is only touched from Run.
type loop struct {
	actions chan action
	notes   *stream.Mailbox[Notification]
	done    chan struct{}
	started chan struct{}
	log     *slog.Logger
	now     func() time.Time
}

func newLoop(log *slog.Logger) loop {
	if log == nil {
		log = slog.Default()
	}
	return loop{
		actions: make(chan action),
		notes:   stream.NewBoundedMailbox[Notification](notificationBacklog),
		done:    make(chan struct{}),
		started: make(chan struct{}),
		log:     log,
		now:     time.Now,
	}
}

// Notifications delivers the session's signals in order. It closes after
// Run returns and everything queued has been read. Only the newest
// notificationBacklog undelivered signals are kept.
func (l *loop) Notifications() <-chan Notification {
	return l.notes.C()
}

// Done is closed when Run returns.
func (l *loop) Done() <-chan struct{} {
	return l.done
}

// do runs fn on the session goroutine and waits for its result.
func (l *loop) do(ctx context.Context, fn func(ctx context.Context) error) error {
	a := action{ctx: ctx, fn: fn, reply: make(chan error, 1)}
	select {
	case l.actions <- a:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
	select {
	case err := <-a.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
}

func (l *loop) serve(a action) {
	a.reply <- a.fn(a.ctx)
}

func (l *loop) finish() {
	l.notes.Seal()
	close(l.done)
}

func (l *loop) notify(n Notification) {
	n.At = l.now()
	before := l.notes.Dropped()
	l.notes.Push(n)
	if before == 0 && l.notes.Dropped() > 0 {
		l.log.Warn("notification backlog full, dropping oldest", "backlog", notificationBacklog)
	}
}

// announce publishes the notifications that follow a trip reaching t.
func (l *loop) announce(t trip.Trip) {
	l.notify(Notification{Kind: NotifyTripStateChanged, Trip: &t})
	switch t.State {
	case trip.StateDenied:
		l.notify(Notification{Kind: NotifyTripDenied, Trip: &t})
	case trip.StateCompleted:
		l.notify(Notification{Kind: NotifyTripCompleted, Trip: &t})
	}
}

// fail reports an action error. Invalid transitions are a no-op for the
// consumer and are only logged.
func (l *loop) fail(op string, err error) error {
	if errors.Is(err, trip.ErrInvalidTransition) {
		l.log.Warn("ignored event", "op", op, "error", err)
		return err
	}
	l.log.Error("session action failed", "op", op, "error", err)
	l.notify(Notification{Kind: NotifyError, Err: err})
	return err
}

// tracker holds the trip a session is bound to and recognises its own
// writes when they are echoed back on the change stream.
type tracker struct {
	current *trip.Trip
	echoes  []trip.Trip
}

func (t *tracker) wrote(tr trip.Trip) {
	t.current = &tr
	t.echoes = append(t.echoes, tr)
	if len(t.echoes) > maxEchoes {
		t.echoes = t.echoes[len(t.echoes)-maxEchoes:]
	}
}

// observe records a value read from the store and reports whether it is
// news to the session.
func (t *tracker) observe(tr trip.Trip) bool {
	for i, e := range t.echoes {
		if e == tr {
			t.echoes = t.echoes[i+1:]
			return false
		}
	}
	if t.current != nil && *t.current == tr {
		return false
	}
	t.current = &tr
	return true
}

func (t *tracker) reset() {
	t.current = nil
	t.echoes = nil
}
