package repository

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RateLimitRepository interface {
	// CheckRateLimit counts a hit against key and reports whether it is still
	// within requests per window.
	CheckRateLimit(ctx context.Context, key string, requests int, window time.Duration) (bool, error)
}

type rateLimitRepository struct {
	rdb *redis.Client
}

// NewRateLimitRepository keeps fixed-window counters in Redis.
func NewRateLimitRepository(rdb *redis.Client) RateLimitRepository {
	return &rateLimitRepository{rdb: rdb}
}

func (r *rateLimitRepository) CheckRateLimit(ctx context.Context, key string, requests int, window time.Duration) (bool, error) {
	// Hash the key for privacy
	hashedKey := fmt.Sprintf("ratelimit:%x", sha256.Sum256([]byte(key)))

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, hashedKey)
		pipe.ExpireNX(ctx, hashedKey, window)
		return nil
	})
	if err != nil {
		return true, err
	}
	return incr.Val() <= int64(requests), nil
}

// NoRateLimit allows everything. Used when Redis is not configured.
type NoRateLimit struct{}

func (NoRateLimit) CheckRateLimit(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}
