// README: Region monitor evaluates device positions against active geofences.
package region

import (
	"log/slog"
	"sync"

	"tripflow/internal/modules/location"
	"tripflow/internal/stream"
	"tripflow/internal/types"
)

type registration struct {
	region Region
	inside bool
	fired  bool
}

// Monitor watches at most one region per Type. An enter event fires at most
// once per registration; stopping the region after entry is the caller's job.
type Monitor struct {
	mu     sync.Mutex
	active map[Type]*registration
	last   *types.Point
	denied bool
	auth   Authorizer
	log    *slog.Logger
	events *stream.Mailbox[Event]
}

func NewMonitor(auth Authorizer, log *slog.Logger) *Monitor {
	if auth == nil {
		auth = AlwaysAuthorized
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		active: make(map[Type]*registration),
		auth:   auth,
		log:    log,
		events: stream.NewMailbox[Event](),
	}
}

// Events delivers enter/exit/permission events in order.
func (m *Monitor) Events() <-chan Event {
	return m.events.C()
}

// Start registers r, replacing any region of the same type. If the last
// observed position is already inside r the enter event fires immediately.
func (m *Monitor) Start(r Region) {
	if r.Radius <= 0 {
		r.Radius = DefaultRadiusMeters
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.auth.MonitoringAuthorized() {
		m.log.Warn("region monitoring denied", "region", r.Type.String())
		if !m.denied {
			m.denied = true
			m.events.Push(Event{Kind: EventPermissionDenied, Region: r, Err: ErrPermissionDenied})
		}
		return
	}

	reg := &registration{region: r}
	m.active[r.Type] = reg
	m.log.Debug("region monitoring started", "region", r.Type.String(), "center", r.Center.String(), "radius_m", r.Radius)

	if m.last != nil {
		m.evaluate(reg, *m.last)
	}
}

// Stop deregisters the region of type t. Idempotent.
func (m *Monitor) Stop(t Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[t]; ok {
		delete(m.active, t)
		m.log.Debug("region monitoring stopped", "region", t.String())
	}
}

// StopAll deregisters every region.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t := range m.active {
		delete(m.active, t)
	}
}

// Monitoring reports whether a region of type t is registered.
func (m *Monitor) Monitoring(t Type) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[t]
	return ok
}

// Observe feeds one device position.
func (m *Monitor) Observe(p types.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = &p
	for _, t := range []Type{Pickup, Destination} {
		if reg, ok := m.active[t]; ok {
			m.evaluate(reg, p)
		}
	}
}

// Rearm lets a registered region of type t fire its enter event again on
// the next position inside it. Used when the transition an entry triggered
// could not be persisted.
func (m *Monitor) Rearm(t Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.active[t]; ok {
		reg.fired = false
		reg.inside = false
	}
}

// Close stops delivery on Events.
func (m *Monitor) Close() {
	m.events.Stop()
}

func (m *Monitor) evaluate(reg *registration, p types.Point) {
	in := location.DistanceMeters(reg.region.Center, p) <= reg.region.Radius
	switch {
	case in && !reg.inside:
		reg.inside = true
		if !reg.fired {
			reg.fired = true
			m.events.Push(Event{Kind: EventEntered, Region: reg.region, Position: p})
		}
	case !in && reg.inside:
		reg.inside = false
		m.events.Push(Event{Kind: EventExited, Region: reg.region, Position: p})
	}
}
