package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyTTL is how long a key keeps mapping to its booking.
const IdempotencyTTL = 24 * time.Hour

type IdempotencyRepository interface {
	// Lookup returns the booking recorded for key, or 0. Keys are stored by
	// BookingRepository.CreateIfAvailable.
	Lookup(ctx context.Context, scope, key string) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type idempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) IdempotencyRepository {
	return &idempotencyRepository{pool: pool}
}

// HashKey scopes key to the caller so two callers can never share a record.
func HashKey(scope, key string) string {
	sum := sha256.Sum256([]byte(scope + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

func (r *idempotencyRepository) Lookup(ctx context.Context, scope, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var bookingID int64
	err := r.pool.QueryRow(ctx,
		`SELECT booking_id FROM booking_idempotency WHERE key_hash=$1 AND expires_at > now()`,
		HashKey(scope, key),
	).Scan(&bookingID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return bookingID, err
}

func (r *idempotencyRepository) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, `DELETE FROM booking_idempotency WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
