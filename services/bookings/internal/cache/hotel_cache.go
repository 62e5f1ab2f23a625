// Package cache keeps hotel listings in Redis so detail views and quotes do
// not hit Postgres on every keystroke.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/diagnosis/staybook/services/bookings/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var ErrMiss = errors.New("cache miss")

// Store is the byte-level backend the hotel cache sits on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Loader fetches a hotel from the source of truth. It returns nil, nil when
// the hotel does not exist.
type Loader func(ctx context.Context, id int64) (*domain.Hotel, error)

type HotelCache interface {
	Get(ctx context.Context, id int64) (*domain.Hotel, error)
	Invalidate(ctx context.Context, id int64) error
}

type hotelCache struct {
	store Store
	ttl   time.Duration
	load  Loader
	group singleflight.Group
}

func NewHotelCache(store Store, ttl time.Duration, load Loader) HotelCache {
	return &hotelCache{store: store, ttl: ttl, load: load}
}

func hotelKey(id int64) string {
	return "hotel:" + strconv.FormatInt(id, 10)
}

// Get serves from the store and falls back to the loader. Concurrent misses
// for the same hotel share one load. Store failures degrade to the loader.
func (c *hotelCache) Get(ctx context.Context, id int64) (*domain.Hotel, error) {
	key := hotelKey(id)

	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var h domain.Hotel
		if err := json.Unmarshal(raw, &h); err == nil {
			return &h, nil
		}
		logger.WarnContext(ctx, "Discarding corrupt cache entry", "key", key)
	case !errors.Is(err, ErrMiss):
		logger.WarnContext(ctx, "Hotel cache read failed", "key", key, "error", err)
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		h, err := c.load(ctx, id)
		if err != nil || h == nil {
			return h, err
		}

		if payload, err := json.Marshal(h); err == nil {
			if err := c.store.Set(ctx, key, payload, c.ttl); err != nil {
				logger.WarnContext(ctx, "Hotel cache write failed", "key", key, "error", err)
			}
		}
		return h, nil
	})
	if err != nil {
		return nil, err
	}

	h, _ := v.(*domain.Hotel)
	if h == nil {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (c *hotelCache) Invalidate(ctx context.Context, id int64) error {
	return c.store.Del(ctx, hotelKey(id))
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.rdb.Del(ctx, keys...).Err()
}

// NopStore always misses. Used when Redis is not configured.
type NopStore struct{}

func (NopStore) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (NopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NopStore) Del(context.Context, ...string) error { return nil }
