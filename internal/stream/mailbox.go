// Package stream provides an ordered single-consumer channel used for every
// long-lived subscription in the module. Mailboxes are unbounded unless
// built with NewBoundedMailbox.
package stream

import "sync"

// Mailbox buffers pushed values and delivers them in push order on C().
// Push never blocks the producer. The output channel is closed after Stop,
// or after Seal once the queue has drained.
type Mailbox[T any] struct {
	mu      sync.Mutex
	queue   []T
	limit   int // 0 means unbounded
	dropped uint64
	sealed  bool
	stopped bool

	wake chan struct{}
	done chan struct{}
	out  chan T
	once sync.Once
}

func NewMailbox[T any]() *Mailbox[T] {
	return NewBoundedMailbox[T](0)
}

// NewBoundedMailbox keeps at most limit undelivered values; pushing into a
// full mailbox discards the oldest one. A limit <= 0 is unbounded.
func NewBoundedMailbox[T any](limit int) *Mailbox[T] {
	if limit < 0 {
		limit = 0
	}
	m := &Mailbox[T]{
		limit: limit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		out:   make(chan T),
	}
	go m.pump()
	return m
}

// C returns the delivery channel.
func (m *Mailbox[T]) C() <-chan T {
	return m.out
}

// Push enqueues v. It reports false when the mailbox no longer accepts values.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	if m.sealed || m.stopped {
		m.mu.Unlock()
		return false
	}
	if m.limit > 0 && len(m.queue) >= m.limit {
		var zero T
		m.queue[0] = zero
		m.queue = m.queue[1:]
		m.dropped++
	}
	m.queue = append(m.queue, v)
	m.mu.Unlock()
	m.nudge()
	return true
}

// Dropped reports how many values a bounded mailbox has discarded.
func (m *Mailbox[T]) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Seal rejects further pushes; C() closes once queued values are delivered.
func (m *Mailbox[T]) Seal() {
	m.mu.Lock()
	m.sealed = true
	m.mu.Unlock()
	m.nudge()
}

// Stop discards anything queued and closes C(). Safe to call more than once.
func (m *Mailbox[T]) Stop() {
	m.once.Do(func() {
		m.mu.Lock()
		m.stopped = true
		m.queue = nil
		m.mu.Unlock()
		close(m.done)
	})
}

// Done is closed once Stop has been called.
func (m *Mailbox[T]) Done() <-chan struct{} {
	return m.done
}

func (m *Mailbox[T]) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Mailbox[T]) pump() {
	defer close(m.out)
	var zero T
	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		if len(m.queue) == 0 {
			sealed := m.sealed
			m.mu.Unlock()
			if sealed {
				return
			}
			select {
			case <-m.wake:
				continue
			case <-m.done:
				return
			}
		}
		v := m.queue[0]
		m.queue[0] = zero
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- v:
		case <-m.done:
			return
		}
	}
}
