// README: Geo index backed by Redis GEO plus a hash of update timestamps.
package location

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tripflow/internal/types"
)

const (
	driverGeoKey     = "geo:drivers"
	driverUpdatedKey = "geo:drivers:updated_at"
)

type RedisIndex struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRedisIndex(redis *redis.Client) *RedisIndex {
	return &RedisIndex{redis: redis, now: time.Now}
}

func (s *RedisIndex) RecordLocation(ctx context.Context, driverID types.ID, p types.Point) error {
	pipe := s.redis.TxPipeline()
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	})
	pipe.HSet(ctx, driverUpdatedKey, string(driverID), s.now().UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: recording driver %s: %v", ErrRemoteUnavailable, driverID, err)
	}
	return nil
}

func (s *RedisIndex) Remove(ctx context.Context, driverID types.ID) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, driverGeoKey, string(driverID))
	pipe.HDel(ctx, driverUpdatedKey, string(driverID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: removing driver %s: %v", ErrRemoteUnavailable, driverID, err)
	}
	return nil
}

func (s *RedisIndex) Nearby(ctx context.Context, center types.Point, radiusKm float64) ([]DriverLocation, error) {
	results, err := s.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: geo search: %v", ErrRemoteUnavailable, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	stamps, err := s.redis.HMGet(ctx, driverUpdatedKey, names...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: reading update times: %v", ErrRemoteUnavailable, err)
	}

	out := make([]DriverLocation, len(results))
	for i, r := range results {
		out[i] = DriverLocation{
			DriverID: types.ID(r.Name),
			Position: types.Point{Lat: r.Latitude, Lng: r.Longitude},
			Distance: r.Dist,
		}
		if str, ok := stamps[i].(string); ok {
			if ms, err := strconv.ParseInt(str, 10, 64); err == nil {
				out[i].UpdatedAt = time.UnixMilli(ms)
			}
		}
	}
	return out, nil
}
