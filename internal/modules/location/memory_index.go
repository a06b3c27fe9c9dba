// README: In-process geo index (R-tree prefilter + haversine), used by tests and the simulator.
package location

import (
	"context"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"

	"tripflow/internal/types"
)

// spatialEntry adapts a driver location to rtreego.Spatial. Points are stored
// as (lat, lng) with a tiny tolerance box.
type spatialEntry struct {
	loc  DriverLocation
	rect rtreego.Rect
}

func (e *spatialEntry) Bounds() rtreego.Rect {
	return e.rect
}

const entryTolerance = 1e-7

type MemoryIndex struct {
	mu      sync.RWMutex
	tree    *rtreego.Rtree
	entries map[types.ID]*spatialEntry
	now     func() time.Time

	subsMu sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		tree:    rtreego.NewTree(2, 25, 50),
		entries: make(map[types.ID]*spatialEntry),
		now:     time.Now,
		subs:    make(map[int]chan struct{}),
	}
}

func (m *MemoryIndex) RecordLocation(_ context.Context, driverID types.ID, p types.Point) error {
	e := &spatialEntry{
		loc:  DriverLocation{DriverID: driverID, Position: p, UpdatedAt: m.now()},
		rect: rtreego.Point{p.Lat, p.Lng}.ToRect(entryTolerance),
	}

	m.mu.Lock()
	if old, ok := m.entries[driverID]; ok {
		m.tree.Delete(old)
	}
	m.entries[driverID] = e
	m.tree.Insert(e)
	m.mu.Unlock()

	m.broadcast()
	return nil
}

func (m *MemoryIndex) Remove(_ context.Context, driverID types.ID) error {
	m.mu.Lock()
	old, ok := m.entries[driverID]
	if ok {
		m.tree.Delete(old)
		delete(m.entries, driverID)
	}
	m.mu.Unlock()

	if ok {
		m.broadcast()
	}
	return nil
}

func (m *MemoryIndex) Nearby(_ context.Context, center types.Point, radiusKm float64) ([]DriverLocation, error) {
	dLat, dLng := degreeSpan(center, radiusKm)
	box, err := rtreego.NewRectFromPoints(
		rtreego.Point{center.Lat - dLat, center.Lng - dLng},
		rtreego.Point{center.Lat + dLat, center.Lng + dLng},
	)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	candidates := m.tree.SearchIntersect(box)
	m.mu.RUnlock()

	var result []DriverLocation
	for _, c := range candidates {
		loc := c.(*spatialEntry).loc
		dist := DistanceKm(center, loc.Position)
		if dist <= radiusKm {
			loc.Distance = dist
			result = append(result, loc)
		}
	}
	sortByDistance(result, func(d DriverLocation) float64 { return d.Distance })
	return result, nil
}

// Len returns the number of drivers currently indexed.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Changes implements Notifier.
func (m *MemoryIndex) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subsMu.Unlock()

	return ch, func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

func (m *MemoryIndex) broadcast() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
