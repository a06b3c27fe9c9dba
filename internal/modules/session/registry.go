// README: Lazily started sessions keyed by caller UID.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tripflow/internal/modules/location"
	"tripflow/internal/modules/region"
	"tripflow/internal/modules/trip"
	"tripflow/internal/types"
)

// RegistryConfig carries the shared backends every session is built from.
type RegistryConfig struct {
	Store   trip.Store
	Index   location.Index
	History trip.History
	Pusher  Pusher
	Log     *slog.Logger

	RequestTimeout     time.Duration
	WatchRadiusKm      float64
	PollInterval       time.Duration
	RegionRadiusMeters float64
}

// Registry owns one running session per UID. Sessions live until Close.
type Registry struct {
	cfg    RegistryConfig
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	passengers map[types.ID]*PassengerSession
	drivers    map[types.ID]*DriverSession
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		passengers: make(map[types.ID]*PassengerSession),
		drivers:    make(map[types.ID]*DriverSession),
	}
}

func (r *Registry) Passenger(id types.ID) *PassengerSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.passengers[id]; ok {
		return s
	}
	s := NewPassengerSession(PassengerConfig{
		PassengerID:    id,
		Store:          r.cfg.Store,
		Index:          r.cfg.Index,
		History:        r.cfg.History,
		Log:            r.cfg.Log,
		RequestTimeout: r.cfg.RequestTimeout,
		WatchRadiusKm:  r.cfg.WatchRadiusKm,
		PollInterval:   r.cfg.PollInterval,
	})
	r.passengers[id] = s
	r.start(string(id), s.Run, func() {
		r.mu.Lock()
		if r.passengers[id] == s {
			delete(r.passengers, id)
		}
		r.mu.Unlock()
	})
	return s
}

func (r *Registry) Driver(id types.ID) *DriverSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.drivers[id]; ok {
		return s
	}
	s := NewDriverSession(DriverConfig{
		DriverID:           id,
		Store:              r.cfg.Store,
		Index:              r.cfg.Index,
		Monitor:            region.NewMonitor(region.AlwaysAuthorized, r.cfg.Log),
		History:            r.cfg.History,
		Pusher:             r.cfg.Pusher,
		Log:                r.cfg.Log,
		RegionRadiusMeters: r.cfg.RegionRadiusMeters,
	})
	r.drivers[id] = s
	r.start(string(id), s.Run, func() {
		r.mu.Lock()
		if r.drivers[id] == s {
			delete(r.drivers, id)
		}
		r.mu.Unlock()
	})
	return s
}

// Close stops every session and waits for them to exit.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Registry) start(uid string, run func(context.Context) error, forget func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer forget()
		if err := run(r.ctx); err != nil && r.ctx.Err() == nil {
			r.cfg.Log.Error("session stopped", "uid", uid, "error", err)
		}
	}()
}
