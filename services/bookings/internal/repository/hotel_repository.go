package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/staybook/services/bookings/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type HotelRepository interface {
	Create(ctx context.Context, ownerID int64, in domain.HotelInput) (*domain.Hotel, error)
	GetByID(ctx context.Context, id int64) (*domain.Hotel, error)
	Update(ctx context.Context, id int64, in domain.HotelInput) (*domain.Hotel, error)
	Delete(ctx context.Context, id int64) (bool, error)
	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]domain.Hotel, error)
	Search(ctx context.Context, f domain.HotelFilter) ([]domain.Hotel, error)
	Count(ctx context.Context) (int64, error)
}

type hotelRepository struct {
	pool *pgxpool.Pool
}

func NewHotelRepository(pool *pgxpool.Pool) HotelRepository {
	return &hotelRepository{pool: pool}
}

const hotelCols = `id, owner_id, name, city, address, description, star_rating,
amenities, room_types, tax_rate, created_at, updated_at`

func scanHotel(row pgx.Row) (*domain.Hotel, error) {
	var h domain.Hotel
	err := row.Scan(
		&h.ID, &h.OwnerID, &h.Name, &h.City, &h.Address, &h.Description, &h.StarRating,
		&h.Amenities, &h.RoomTypes, &h.TaxRateOverride, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if h.Amenities == nil {
		h.Amenities = []string{}
	}
	return &h, nil
}

func (r *hotelRepository) Create(ctx context.Context, ownerID int64, in domain.HotelInput) (*domain.Hotel, error) {
	const q = `INSERT INTO hotels (
		owner_id, name, city, address, description, star_rating, amenities, room_types, tax_rate
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	RETURNING ` + hotelCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	h, err := scanHotel(r.pool.QueryRow(ctx, q, ownerID,
		in.Name, in.City, in.Address, in.Description, in.StarRating,
		nonNil(in.Amenities), in.RoomTypes, in.TaxRate,
	))
	if err != nil {
		return nil, fmt.Errorf("insert hotel: %w", err)
	}
	return h, nil
}

func (r *hotelRepository) GetByID(ctx context.Context, id int64) (*domain.Hotel, error) {
	const q = `SELECT ` + hotelCols + ` FROM hotels WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	h, err := scanHotel(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

func (r *hotelRepository) Update(ctx context.Context, id int64, in domain.HotelInput) (*domain.Hotel, error) {
	const q = `UPDATE hotels SET
		name=$2, city=$3, address=$4, description=$5, star_rating=$6,
		amenities=$7, room_types=$8, tax_rate=$9, updated_at=now()
	WHERE id=$1
	RETURNING ` + hotelCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	h, err := scanHotel(r.pool.QueryRow(ctx, q, id,
		in.Name, in.City, in.Address, in.Description, in.StarRating,
		nonNil(in.Amenities), in.RoomTypes, in.TaxRate,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

func (r *hotelRepository) Delete(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM hotels WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *hotelRepository) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]domain.Hotel, error) {
	limit, offset = clampPage(limit, offset)
	const q = `SELECT ` + hotelCols + ` FROM hotels WHERE owner_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rows, err := r.pool.Query(ctx, q, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectHotels(rows)
}

// Search filters on city and on room types that fit the party within the
// price band. Date availability is checked by the caller.
func (r *hotelRepository) Search(ctx context.Context, f domain.HotelFilter) ([]domain.Hotel, error) {
	limit, offset := clampPage(f.Limit, f.Offset)

	q := `SELECT ` + hotelCols + ` FROM hotels h WHERE ($1::text = '' OR lower(h.city) = lower($1::text))
	AND EXISTS (
		SELECT 1 FROM jsonb_array_elements(h.room_types) rt
		WHERE (rt->>'max_guests')::int >= $2::int
		AND (rt->>'nightly_rate')::float8 >= $3::float8
		AND ($4::float8 <= 0 OR (rt->>'nightly_rate')::float8 <= $4::float8)
	)
	ORDER BY h.star_rating DESC, h.id ASC LIMIT $5 OFFSET $6`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rows, err := r.pool.Query(ctx, q, f.City, max(f.Guests, 1), f.MinPrice, f.MaxPrice, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectHotels(rows)
}

func (r *hotelRepository) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var n int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM hotels`).Scan(&n)
	return n, err
}

func collectHotels(rows pgx.Rows) ([]domain.Hotel, error) {
	defer rows.Close()

	hotels := []domain.Hotel{}
	for rows.Next() {
		h, err := scanHotel(rows)
		if err != nil {
			return nil, err
		}
		hotels = append(hotels, *h)
	}
	return hotels, rows.Err()
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
