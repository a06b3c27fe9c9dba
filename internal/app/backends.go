// README: Builds the trip store, location index and history from config.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"tripflow/internal/config"
	"tripflow/internal/infra"
	"tripflow/internal/modules/location"
	"tripflow/internal/modules/trip"
)

// Backends are the shared stores every session reads and writes. History
// and Transitions are nil when no database is configured; both point at
// the same store.
type Backends struct {
	Store       trip.Store
	Index       location.Index
	History     trip.History
	Transitions *trip.HistoryStore

	redis *redis.Client
	db    *pgxpool.Pool
}

// OpenBackends connects whatever cfg selects. fb may be nil when no
// backend is served by Firebase.
func OpenBackends(ctx context.Context, cfg config.Config, fb *infra.Firebase, log *slog.Logger) (*Backends, error) {
	b := &Backends{}
	if cfg.UsesRedis() {
		client, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, err
		}
		b.redis = client
	}
	if (cfg.Store.Backend == config.BackendFirebase || cfg.Geo.Backend == config.BackendFirebase) && (fb == nil || fb.DB == nil) {
		b.Close()
		return nil, fmt.Errorf("firebase backend selected but no realtime database client")
	}

	switch cfg.Store.Backend {
	case config.BackendRedis:
		b.Store = trip.NewRedisStore(b.redis)
	case config.BackendFirebase:
		b.Store = trip.NewFirebaseStore(fb.DB, cfg.Store.PollInterval)
	default:
		b.Store = trip.NewMemoryStore()
	}

	switch cfg.Geo.Backend {
	case config.BackendRedis:
		b.Index = location.NewRedisIndex(b.redis)
	case config.BackendFirebase:
		b.Index = location.NewFirebaseIndex(fb.DB)
	default:
		b.Index = location.NewMemoryIndex()
	}

	if cfg.DB.DSN != "" {
		if err := infra.Migrate(cfg.DB.DSN); err != nil {
			b.Close()
			return nil, err
		}
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.db = pool
		b.Transitions = trip.NewHistoryStore(pool)
		b.History = b.Transitions
	}

	log.Info("backends ready",
		"store", cfg.Store.Backend,
		"geo", cfg.Geo.Backend,
		"history", b.History != nil,
	)
	return b, nil
}

func (b *Backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		b.db.Close()
	}
}
