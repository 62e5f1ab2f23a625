package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/diagnosis/staybook/pkg/pricing"
	"github.com/diagnosis/staybook/services/bookings/internal/domain"
	"github.com/diagnosis/staybook/services/bookings/internal/repository"
)

type mockHotelRepo struct {
	mu     sync.Mutex
	hotels map[int64]*domain.Hotel
	nextID int64
}

func newMockHotelRepo() *mockHotelRepo {
	return &mockHotelRepo{hotels: map[int64]*domain.Hotel{}}
}

func (m *mockHotelRepo) Create(ctx context.Context, ownerID int64, in domain.HotelInput) (*domain.Hotel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	h := &domain.Hotel{
		ID:              m.nextID,
		OwnerID:         ownerID,
		Name:            in.Name,
		City:            in.City,
		StarRating:      in.StarRating,
		Amenities:       in.Amenities,
		RoomTypes:       in.RoomTypes,
		TaxRateOverride: in.TaxRate,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	m.hotels[h.ID] = h
	cp := *h
	return &cp, nil
}

func (m *mockHotelRepo) GetByID(ctx context.Context, id int64) (*domain.Hotel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hotels[id]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (m *mockHotelRepo) Update(ctx context.Context, id int64, in domain.HotelInput) (*domain.Hotel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hotels[id]
	if !ok {
		return nil, nil
	}
	h.Name, h.City, h.StarRating = in.Name, in.City, in.StarRating
	h.Amenities, h.RoomTypes, h.TaxRateOverride = in.Amenities, in.RoomTypes, in.TaxRate
	h.UpdatedAt = time.Now()
	cp := *h
	return &cp, nil
}

func (m *mockHotelRepo) Delete(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.hotels[id]
	delete(m.hotels, id)
	return ok, nil
}

func (m *mockHotelRepo) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]domain.Hotel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Hotel
	for _, h := range m.hotels {
		if h.OwnerID == ownerID {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (m *mockHotelRepo) Search(ctx context.Context, f domain.HotelFilter) ([]domain.Hotel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Hotel
	for id := int64(1); id <= m.nextID; id++ {
		h, ok := m.hotels[id]
		if !ok {
			continue
		}
		if f.City != "" && !strings.EqualFold(h.City, f.City) {
			continue
		}
		out = append(out, *h)
	}
	return out, nil
}

func (m *mockHotelRepo) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.hotels)), nil
}

type mockBookingRepo struct {
	mu       sync.Mutex
	bookings []*domain.Booking
	keys     map[string]int64
}

func (m *mockBookingRepo) overlapping(hotelID int64, roomType string, stay pricing.StayRange) int {
	n := 0
	for _, b := range m.bookings {
		if b.HotelID == hotelID && strings.EqualFold(b.RoomType, roomType) &&
			b.Status != domain.BookingCanceled && b.Stay().Overlaps(stay) {
			n++
		}
	}
	return n
}

func (m *mockBookingRepo) CreateIfAvailable(ctx context.Context, b *domain.Booking, inventory int, keyHash string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.keys[keyHash]; keyHash != "" && ok {
		return nil, &domain.DuplicateRequestError{BookingID: id}
	}
	if m.overlapping(b.HotelID, b.RoomType, b.Stay()) >= inventory {
		return nil, domain.ErrRoomUnavailable
	}
	cp := *b
	cp.ID = int64(len(m.bookings) + 1)
	cp.ManageToken = fmt.Sprintf("token-%d", cp.ID)
	cp.Status = domain.BookingConfirmed
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.bookings = append(m.bookings, &cp)
	if keyHash != "" {
		if m.keys == nil {
			m.keys = map[string]int64{}
		}
		m.keys[keyHash] = cp.ID
	}
	out := cp
	return &out, nil
}

func (m *mockBookingRepo) find(pred func(b *domain.Booking) bool) *domain.Booking {
	for _, b := range m.bookings {
		if pred(b) {
			cp := *b
			return &cp
		}
	}
	return nil
}

func (m *mockBookingRepo) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(b *domain.Booking) bool { return b.ID == id }), nil
}

func (m *mockBookingRepo) GetByIDWithToken(ctx context.Context, id int64, token string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(b *domain.Booking) bool { return b.ID == id && b.ManageToken == token }), nil
}

func (m *mockBookingRepo) filter(pred func(b *domain.Booking) bool) []domain.Booking {
	out := []domain.Booking{}
	for _, b := range m.bookings {
		if pred(b) {
			out = append(out, *b)
		}
	}
	return out
}

func (m *mockBookingRepo) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(b *domain.Booking) bool { return b.IsUserOwner(userID) }), nil
}

func (m *mockBookingRepo) ListByEmail(ctx context.Context, email string, limit, offset int) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(b *domain.Booking) bool { return b.IsGuestOwner(email) }), nil
}

func (m *mockBookingRepo) ListByHotel(ctx context.Context, hotelID int64, limit, offset int, status *domain.BookingStatus) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(b *domain.Booking) bool {
		return b.HotelID == hotelID && (status == nil || b.Status == *status)
	}), nil
}

func (m *mockBookingRepo) CountOverlapping(ctx context.Context, hotelID int64, roomType string, stay pricing.StayRange) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlapping(hotelID, roomType, stay), nil
}

func (m *mockBookingRepo) Cancel(ctx context.Context, id int64) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.ID == id && b.Status == domain.BookingConfirmed {
			b.Status = domain.BookingCanceled
			b.UpdatedAt = time.Now()
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

// mockIdempotencyRepo reads the keys mockBookingRepo claims on insert.
type mockIdempotencyRepo struct {
	bookings *mockBookingRepo
	// misses makes Lookup report nothing, as when requests race past it.
	misses bool
}

func (m *mockIdempotencyRepo) Lookup(ctx context.Context, scope, key string) (int64, error) {
	if m.misses {
		return 0, nil
	}
	m.bookings.mu.Lock()
	defer m.bookings.mu.Unlock()
	return m.bookings.keys[repository.HashKey(scope, key)], nil
}

func (m *mockIdempotencyRepo) CleanupExpired(ctx context.Context) (int64, error) {
	return 0, nil
}
