// README: Radius query turning index snapshots into keyed enter/exit events.
package location

import (
	"context"
	"time"

	"tripflow/internal/stream"
	"tripflow/internal/types"
)

const defaultPollInterval = 2 * time.Second

// Query is a long-lived radius subscription. Every driver inside the radius
// is emitted once as Entered (including drivers already inside when the
// query starts), then as Moved each time its position changes while it
// stays inside. A driver that leaves is emitted as Exited and may enter
// again later.
type Query struct {
	mb     *stream.Mailbox[Sighting]
	cancel context.CancelFunc
}

// QueryOptions tunes a Query. A zero value polls every two seconds.
type QueryOptions struct {
	PollInterval time.Duration
}

// NewQuery starts watching idx around center. Call Cancel to release it.
func NewQuery(ctx context.Context, idx Index, center types.Point, radiusKm float64, opts QueryOptions) *Query {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	q := &Query{mb: stream.NewMailbox[Sighting](), cancel: cancel}
	go q.run(ctx, idx, center, radiusKm, interval)
	return q
}

// C delivers sightings in the order they were observed.
func (q *Query) C() <-chan Sighting {
	return q.mb.C()
}

// Cancel stops the query and closes C().
func (q *Query) Cancel() {
	q.cancel()
	q.mb.Stop()
}

func (q *Query) run(ctx context.Context, idx Index, center types.Point, radiusKm float64, interval time.Duration) {
	var wake <-chan struct{}
	if n, ok := idx.(Notifier); ok {
		ch, release := n.Changes()
		defer release()
		wake = ch
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	inside := make(map[types.ID]DriverLocation)
	q.refresh(ctx, idx, center, radiusKm, inside)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.mb.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
		q.refresh(ctx, idx, center, radiusKm, inside)
	}
}

func (q *Query) refresh(ctx context.Context, idx Index, center types.Point, radiusKm float64, inside map[types.ID]DriverLocation) {
	found, err := idx.Nearby(ctx, center, radiusKm)
	if err != nil {
		if ctx.Err() == nil {
			q.mb.Push(Sighting{Err: err})
		}
		return
	}

	seen := make(map[types.ID]struct{}, len(found))
	for _, d := range found {
		seen[d.DriverID] = struct{}{}
		prev, ok := inside[d.DriverID]
		switch {
		case !ok:
			q.mb.Push(Sighting{Kind: Entered, Driver: d})
		case prev.Position != d.Position:
			q.mb.Push(Sighting{Kind: Moved, Driver: d})
		}
		inside[d.DriverID] = d
	}
	for id, d := range inside {
		if _, ok := seen[id]; !ok {
			delete(inside, id)
			q.mb.Push(Sighting{Kind: Exited, Driver: d})
		}
	}
}

// Roster is the consumer-side view of nearby drivers: one entry per driver,
// updated in place when the same driver is reported again.
type Roster struct {
	drivers map[types.ID]DriverLocation
}

func NewRoster() *Roster {
	return &Roster{drivers: make(map[types.ID]DriverLocation)}
}

// Upsert records d and reports whether the driver was not known before.
func (r *Roster) Upsert(d DriverLocation) bool {
	_, known := r.drivers[d.DriverID]
	r.drivers[d.DriverID] = d
	return !known
}

// Remove forgets a driver and reports whether it was present.
func (r *Roster) Remove(id types.ID) bool {
	_, ok := r.drivers[id]
	delete(r.drivers, id)
	return ok
}

func (r *Roster) Get(id types.ID) (DriverLocation, bool) {
	d, ok := r.drivers[id]
	return d, ok
}

func (r *Roster) Len() int {
	return len(r.drivers)
}

// List returns the drivers sorted by their last reported distance.
func (r *Roster) List() []DriverLocation {
	out := make([]DriverLocation, 0, len(r.drivers))
	for _, d := range r.drivers {
		out = append(out, d)
	}
	sortByDistance(out, func(d DriverLocation) float64 { return d.Distance })
	return out
}
