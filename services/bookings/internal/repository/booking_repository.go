package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/staybook/pkg/pricing"
	"github.com/diagnosis/staybook/services/bookings/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BookingRepository interface {
	// CreateIfAvailable inserts b unless inventory rooms of its type are
	// already taken for an overlapping night, in which case it returns
	// domain.ErrRoomUnavailable. A non-empty keyHash is claimed in the same
	// transaction; if it already maps to a booking the insert is rolled back
	// and *domain.DuplicateRequestError is returned.
	CreateIfAvailable(ctx context.Context, b *domain.Booking, inventory int, keyHash string) (*domain.Booking, error)
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	GetByIDWithToken(ctx context.Context, id int64, token string) (*domain.Booking, error)
	ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]domain.Booking, error)
	ListByEmail(ctx context.Context, email string, limit, offset int) ([]domain.Booking, error)
	ListByHotel(ctx context.Context, hotelID int64, limit, offset int, status *domain.BookingStatus) ([]domain.Booking, error)
	CountOverlapping(ctx context.Context, hotelID int64, roomType string, stay pricing.StayRange) (int, error)
	Cancel(ctx context.Context, id int64) (*domain.Booking, error)
}

type bookingRepository struct {
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepository{pool: pool}
}

const bookingCols = `id, manage_token, hotel_id, room_type, user_id,
check_in, check_out, guests,
guest_name, guest_email, guest_phone, special_requests,
nightly_rate, nights, subtotal, tax_rate, taxes, total,
status, created_at, updated_at`

const overlapCond = `hotel_id=$1 AND lower(room_type)=lower($2) AND status <> 'canceled'
AND check_in < $4 AND $3 < check_out`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.ManageToken, &b.HotelID, &b.RoomType, &b.UserID,
		&b.CheckIn, &b.CheckOut, &b.Guests,
		&b.Guest.Name, &b.Guest.Email, &b.Guest.Phone, &b.Guest.SpecialRequests,
		&b.NightlyRate, &b.Nights, &b.Subtotal, &b.TaxRate, &b.Taxes, &b.Total,
		&b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *bookingRepository) CreateIfAvailable(ctx context.Context, b *domain.Booking, inventory int, keyHash string) (*domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize bookings per hotel so the count below stays accurate.
	if _, err := tx.Exec(ctx, `SELECT id FROM hotels WHERE id=$1 FOR UPDATE`, b.HotelID); err != nil {
		return nil, fmt.Errorf("lock hotel: %w", err)
	}

	if keyHash != "" {
		if id, err := claimedBy(ctx, tx, keyHash); err != nil || id > 0 {
			return nil, duplicateOr(id, err)
		}
	}

	var taken int
	err = tx.QueryRow(ctx, `SELECT count(*) FROM bookings WHERE `+overlapCond,
		b.HotelID, b.RoomType, b.CheckIn, b.CheckOut,
	).Scan(&taken)
	if err != nil {
		return nil, fmt.Errorf("count overlapping: %w", err)
	}
	if taken >= inventory {
		return nil, domain.ErrRoomUnavailable
	}

	const q = `INSERT INTO bookings (
		manage_token, hotel_id, room_type, user_id,
		check_in, check_out, guests,
		guest_name, guest_email, guest_phone, special_requests,
		nightly_rate, nights, subtotal, tax_rate, taxes, total, status
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,'confirmed')
	RETURNING ` + bookingCols

	created, err := scanBooking(tx.QueryRow(ctx, q,
		uuid.NewString(), b.HotelID, b.RoomType, b.UserID,
		b.CheckIn, b.CheckOut, b.Guests,
		b.Guest.Name, b.Guest.Email, b.Guest.Phone, b.Guest.SpecialRequests,
		b.NightlyRate, b.Nights, b.Subtotal, b.TaxRate, b.Taxes, b.Total,
	))
	if err != nil {
		return nil, fmt.Errorf("insert booking: %w", err)
	}

	if keyHash != "" {
		// Requests for other hotels are not serialized by the lock above; the
		// primary key settles those races.
		tag, err := tx.Exec(ctx, `
			INSERT INTO booking_idempotency (key_hash, booking_id, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key_hash) DO UPDATE
			SET booking_id = EXCLUDED.booking_id, expires_at = EXCLUDED.expires_at
			WHERE booking_idempotency.expires_at <= now()`,
			keyHash, created.ID, time.Now().Add(IdempotencyTTL),
		)
		if err != nil {
			return nil, fmt.Errorf("store idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			id, err := claimedBy(ctx, tx, keyHash)
			return nil, duplicateOr(id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit booking: %w", err)
	}
	return created, nil
}

func claimedBy(ctx context.Context, tx pgx.Tx, keyHash string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		`SELECT booking_id FROM booking_idempotency WHERE key_hash=$1 AND expires_at > now()`,
		keyHash,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("check idempotency key: %w", err)
	}
	return id, nil
}

func duplicateOr(id int64, err error) error {
	if err != nil {
		return err
	}
	return &domain.DuplicateRequestError{BookingID: id}
}

func (r *bookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBooking(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (r *bookingRepository) GetByIDWithToken(ctx context.Context, id int64, token string) (*domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE id=$1 AND manage_token=$2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBooking(r.pool.QueryRow(ctx, q, id, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (r *bookingRepository) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]domain.Booking, error) {
	limit, offset = clampPage(limit, offset)
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE user_id=$1 ORDER BY check_in DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, q, userID, limit, offset)
}

func (r *bookingRepository) ListByEmail(ctx context.Context, email string, limit, offset int) ([]domain.Booking, error) {
	limit, offset = clampPage(limit, offset)
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE lower(guest_email)=lower($1) ORDER BY check_in DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, q, email, limit, offset)
}

func (r *bookingRepository) ListByHotel(ctx context.Context, hotelID int64, limit, offset int, status *domain.BookingStatus) ([]domain.Booking, error) {
	limit, offset = clampPage(limit, offset)

	q := `SELECT ` + bookingCols + ` FROM bookings WHERE hotel_id=$1`
	args := []any{hotelID}
	if status != nil {
		q += ` AND status=$2 ORDER BY check_in ASC LIMIT $3 OFFSET $4`
		args = append(args, *status, limit, offset)
	} else {
		q += ` ORDER BY check_in ASC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}
	return r.list(ctx, q, args...)
}

func (r *bookingRepository) CountOverlapping(ctx context.Context, hotelID int64, roomType string, stay pricing.StayRange) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM bookings WHERE `+overlapCond,
		hotelID, roomType, stay.CheckIn, stay.CheckOut,
	).Scan(&n)
	return n, err
}

func (r *bookingRepository) Cancel(ctx context.Context, id int64) (*domain.Booking, error) {
	const q = `UPDATE bookings SET status='canceled', updated_at=now()
	WHERE id=$1 AND status='confirmed'
	RETURNING ` + bookingCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBooking(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (r *bookingRepository) list(ctx context.Context, q string, args ...any) ([]domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := []domain.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}
