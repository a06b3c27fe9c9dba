// README: Trip store backed by Redis values with pub/sub change streams.
package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tripflow/internal/types"
)

const (
	tripKeyPrefix     = "trip:%s"
	changesChanPrefix = "trip:%s:changes"
	removedChanPrefix = "trip:%s:removed"
	newTripsChan      = "trips:new"
	maxUpdateRetries  = 3
	defaultTripTTL    = 7 * 24 * time.Hour
)

// envelope is the pub/sub payload: the record plus its key.
type envelope struct {
	PassengerID string `json:"passengerId"`
	record
}

type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(redis *redis.Client) *RedisStore {
	return &RedisStore{redis: redis, ttl: defaultTripTTL}
}

func (s *RedisStore) Create(ctx context.Context, passengerID types.ID, pickup, destination types.Point) (Trip, error) {
	t := Trip{PassengerID: passengerID, Pickup: pickup, Destination: destination, State: InitialState}
	payload, err := json.Marshal(toRecord(t))
	if err != nil {
		return Trip{}, err
	}

	ok, err := s.redis.SetNX(ctx, tripKey(passengerID), payload, s.ttl).Result()
	if err != nil {
		return Trip{}, remote("creating trip", err)
	}
	if !ok {
		return Trip{}, ErrAlreadyExists
	}

	msg, _ := json.Marshal(envelope{PassengerID: string(passengerID), record: toRecord(t)})
	pipe := s.redis.Pipeline()
	pipe.Publish(ctx, newTripsChan, msg)
	pipe.Publish(ctx, changesChan(passengerID), msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return t, remote("publishing new trip", err)
	}
	return t, nil
}

func (s *RedisStore) Get(ctx context.Context, passengerID types.ID) (Trip, error) {
	val, err := s.redis.Get(ctx, tripKey(passengerID)).Bytes()
	if err == redis.Nil {
		return Trip{}, ErrNotFound
	}
	if err != nil {
		return Trip{}, remote("reading trip", err)
	}
	return decodeRecord(passengerID, val)
}

// Update runs an optimistic WATCH/MULTI transaction so that ExpectState is
// checked and the write applied atomically.
func (s *RedisStore) Update(ctx context.Context, passengerID types.ID, f Fields) (Trip, error) {
	key := tripKey(passengerID)
	var updated Trip

	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decodeRecord(passengerID, val)
		if err != nil {
			return err
		}
		if f.ExpectState != nil && cur.State != *f.ExpectState {
			return ErrConflict
		}
		updated = f.apply(cur)

		rec := toRecord(updated)
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		msg, err := json.Marshal(envelope{PassengerID: string(passengerID), record: rec})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			pipe.Publish(ctx, changesChan(passengerID), msg)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			// Someone else wrote between WATCH and EXEC; re-read and retry so
			// ExpectState is evaluated against the fresh value.
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
			return Trip{}, err
		default:
			return Trip{}, remote("updating trip", err)
		}
	}
	return Trip{}, ErrConflict
}

func (s *RedisStore) Delete(ctx context.Context, passengerID types.ID) error {
	n, err := s.redis.Del(ctx, tripKey(passengerID)).Result()
	if err != nil {
		return remote("deleting trip", err)
	}
	if n == 0 {
		return nil
	}
	if err := s.redis.Publish(ctx, removedChan(passengerID), string(passengerID)).Err(); err != nil {
		return remote("publishing removal", err)
	}
	return nil
}

func (s *RedisStore) SubscribeChanges(ctx context.Context, passengerID types.ID) (*Subscription[Change], error) {
	ps := s.redis.Subscribe(ctx, changesChan(passengerID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, remote("subscribing to trip changes", err)
	}

	sub := newSubscription[Change](func() { _ = ps.Close() })
	if t, err := s.Get(ctx, passengerID); err == nil {
		sub.push(Change{Trip: t})
	} else if !errors.Is(err, ErrNotFound) {
		sub.push(Change{Err: err})
	}
	go pumpChanges(ps, sub)
	return sub, nil
}

func (s *RedisStore) SubscribeNewTrips(ctx context.Context) (*Subscription[Change], error) {
	ps := s.redis.Subscribe(ctx, newTripsChan)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, remote("subscribing to new trips", err)
	}
	sub := newSubscription[Change](func() { _ = ps.Close() })
	go pumpChanges(ps, sub)
	return sub, nil
}

func (s *RedisStore) SubscribeRemoval(ctx context.Context, passengerID types.ID) (*Subscription[Removal], error) {
	ps := s.redis.Subscribe(ctx, removedChan(passengerID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, remote("subscribing to trip removal", err)
	}
	sub := newSubscription[Removal](func() { _ = ps.Close() })

	// Deletes that landed before the subscription was live never publish.
	n, err := s.redis.Exists(ctx, tripKey(passengerID)).Result()
	if err != nil {
		sub.Cancel()
		return nil, remote("checking trip before removal watch", err)
	}
	if n == 0 {
		_ = ps.Close()
		sub.fire(Removal{PassengerID: passengerID})
		return sub, nil
	}

	go func() {
		defer ps.Close()
		select {
		case _, ok := <-ps.Channel():
			if ok {
				sub.fire(Removal{PassengerID: passengerID})
			}
		case <-sub.done():
		}
	}()
	return sub, nil
}

func pumpChanges(ps *redis.PubSub, sub *Subscription[Change]) {
	ch := ps.Channel()
	for {
		select {
		case <-sub.done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				sub.push(Change{Err: fmt.Errorf("decoding trip change: %w", err)})
				continue
			}
			t, err := env.record.toTrip(types.ID(env.PassengerID))
			if err != nil {
				sub.push(Change{Err: err})
				continue
			}
			sub.push(Change{Trip: t})
		}
	}
}

func decodeRecord(passengerID types.ID, val []byte) (Trip, error) {
	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Trip{}, fmt.Errorf("decoding trip %s: %w", passengerID, err)
	}
	return rec.toTrip(passengerID)
}

func remote(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, op, err)
}

func tripKey(id types.ID) string     { return fmt.Sprintf(tripKeyPrefix, string(id)) }
func changesChan(id types.ID) string { return fmt.Sprintf(changesChanPrefix, string(id)) }
func removedChan(id types.ID) string { return fmt.Sprintf(removedChanPrefix, string(id)) }
