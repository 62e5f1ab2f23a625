package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/diagnosis/staybook/pkg/pricing"
	"github.com/diagnosis/staybook/services/bookings/internal/domain"
	"github.com/diagnosis/staybook/services/bookings/internal/repository"
)

type BookingService interface {
	// CreateBooking returns the booking and whether it was replayed from an
	// earlier request with the same idempotency key.
	CreateBooking(ctx context.Context, caller *auth.Claims, req *domain.CreateBookingReq, idempotencyKey string) (*domain.Booking, bool, error)
	ListMyBookings(ctx context.Context, caller *auth.Claims, limit, offset int) ([]domain.Booking, error)
	GetBooking(ctx context.Context, caller *auth.Claims, id int64, token string) (*domain.Booking, error)
	CancelBooking(ctx context.Context, caller *auth.Claims, id int64, token, reason string) (*domain.Booking, error)
}

type bookingService struct {
	bookingRepo     repository.BookingRepository
	idempotencyRepo repository.IdempotencyRepository
	hotels          HotelService
	publisher       events.Publisher
	config          *config.Config
	now             func() time.Time
}

func NewBookingService(
	bookingRepo repository.BookingRepository,
	idempotencyRepo repository.IdempotencyRepository,
	hotels HotelService,
	publisher events.Publisher,
	config *config.Config,
) BookingService {
	return &bookingService{
		bookingRepo:     bookingRepo,
		idempotencyRepo: idempotencyRepo,
		hotels:          hotels,
		publisher:       publisher,
		config:          config,
		now:             time.Now,
	}
}

func (s *bookingService) CreateBooking(ctx context.Context, caller *auth.Claims, req *domain.CreateBookingReq, idempotencyKey string) (*domain.Booking, bool, error) {
	// Signed-in callers may omit guest details
	if req.GuestDetails.Email == "" {
		req.GuestDetails.Email = caller.Email
	}
	if req.GuestDetails.Name == "" {
		req.GuestDetails.Name = caller.Name
	}

	stay, err := req.Validate(s.now())
	if err != nil {
		return nil, false, err
	}

	// Check idempotency if key provided
	if idempotencyKey != "" {
		existingID, err := s.idempotencyRepo.Lookup(ctx, caller.Principal(), idempotencyKey)
		if err != nil {
			return nil, false, fmt.Errorf("idempotency check failed: %w", err)
		}
		if existingID > 0 {
			existing, err := s.bookingRepo.GetByID(ctx, existingID)
			if err != nil {
				return nil, false, fmt.Errorf("failed to load replayed booking: %w", err)
			}
			if existing != nil {
				return existing, true, nil
			}
		}
	}

	hotel, err := s.hotels.Get(ctx, req.HotelID)
	if err != nil {
		return nil, false, err
	}
	room, ok := hotel.Room(req.RoomType)
	if !ok {
		v := &domain.ValidationError{}
		v.Add("room_type", "unknown room type")
		return nil, false, v
	}
	if req.Guests > room.MaxGuests {
		v := &domain.ValidationError{}
		v.Add("guests", fmt.Sprintf("%s sleeps at most %d guests", room.Name, room.MaxGuests))
		return nil, false, v
	}

	// Price server side; client totals are never trusted
	quote := pricing.Quote(room.NightlyRate, stay, hotel.TaxRate)
	if quote.Invalid {
		v := &domain.ValidationError{}
		v.Add("check_out", quote.Message)
		return nil, false, v
	}

	booking := &domain.Booking{
		HotelID:  hotel.ID,
		RoomType: room.Code,
		CheckIn:  stay.CheckIn,
		CheckOut: stay.CheckOut,
		Guests:   req.Guests,
		Guest: domain.GuestDetails{
			Name:            strings.TrimSpace(req.GuestDetails.Name),
			Email:           strings.ToLower(strings.TrimSpace(req.GuestDetails.Email)),
			Phone:           strings.TrimSpace(req.GuestDetails.Phone),
			SpecialRequests: strings.TrimSpace(req.GuestDetails.SpecialRequests),
		},
	}
	if caller.Role != auth.RoleGuest && caller.Sub > 0 {
		userID := caller.Sub
		booking.UserID = &userID
	}
	booking.ApplyQuote(quote)

	// Create booking; the key is claimed in the same transaction
	var keyHash string
	if idempotencyKey != "" {
		keyHash = repository.HashKey(caller.Principal(), idempotencyKey)
	}
	created, err := s.bookingRepo.CreateIfAvailable(ctx, booking, room.Inventory, keyHash)
	if err != nil {
		var dup *domain.DuplicateRequestError
		switch {
		case errors.As(err, &dup):
			existing, err := s.bookingRepo.GetByID(ctx, dup.BookingID)
			if err != nil {
				return nil, false, fmt.Errorf("failed to load replayed booking: %w", err)
			}
			if existing == nil {
				return nil, false, fmt.Errorf("replayed booking %d not found", dup.BookingID)
			}
			logger.InfoContext(ctx, "Concurrent duplicate request replayed", "booking_id", existing.ID)
			return existing, true, nil
		case errors.Is(err, domain.ErrRoomUnavailable):
			return nil, false, err
		}
		return nil, false, fmt.Errorf("failed to create booking: %w", err)
	}

	event := events.BookingConfirmedEvent{
		BookingID:   created.ID,
		ManageToken: created.ManageToken,
		HotelID:     hotel.ID,
		HotelName:   hotel.Name,
		RoomType:    room.Name,
		GuestName:   created.Guest.Name,
		GuestEmail:  created.Guest.Email,
		CheckIn:     created.CheckIn.Format(pricing.DateLayout),
		CheckOut:    created.CheckOut.Format(pricing.DateLayout),
		Nights:      created.Nights,
		Guests:      created.Guests,
		Subtotal:    created.Subtotal,
		Taxes:       created.Taxes,
		Total:       created.Total,
		Currency:    s.config.Pricing.Currency,
		CreatedAt:   created.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, events.BookingConfirmed, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish booking confirmed event", "error", err, "booking_id", created.ID)
	}

	logger.InfoContext(ctx, "Booking confirmed",
		"booking_id", created.ID,
		"hotel_id", hotel.ID,
		"room_type", room.Code,
		"nights", created.Nights,
		"total", created.Total,
	)
	return created, false, nil
}

func (s *bookingService) ListMyBookings(ctx context.Context, caller *auth.Claims, limit, offset int) ([]domain.Booking, error) {
	if caller.Role == auth.RoleGuest || caller.Sub == 0 {
		return s.bookingRepo.ListByEmail(ctx, caller.Email, limit, offset)
	}
	return s.bookingRepo.ListByUserID(ctx, caller.Sub, limit, offset)
}

// GetBooking returns a booking to whoever holds its manage token, the user or
// guest who made it, the hotel owner, or an admin. Anyone else gets
// ErrBookingNotFound.
func (s *bookingService) GetBooking(ctx context.Context, caller *auth.Claims, id int64, token string) (*domain.Booking, error) {
	if token != "" {
		b, err := s.bookingRepo.GetByIDWithToken(ctx, id, token)
		if err != nil {
			return nil, fmt.Errorf("failed to get booking: %w", err)
		}
		if b == nil {
			return nil, domain.ErrBookingNotFound
		}
		return b, nil
	}

	b, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if b == nil || caller == nil {
		return nil, domain.ErrBookingNotFound
	}
	if s.canSee(ctx, caller, b) {
		return b, nil
	}
	return nil, domain.ErrBookingNotFound
}

func (s *bookingService) canSee(ctx context.Context, caller *auth.Claims, b *domain.Booking) bool {
	switch {
	case caller.Role == auth.RoleAdmin:
		return true
	case caller.Role == auth.RoleGuest:
		return b.IsGuestOwner(caller.Email)
	case b.IsUserOwner(caller.Sub):
		return true
	case caller.Role == auth.RoleOwner:
		h, err := s.hotels.Get(ctx, b.HotelID)
		return err == nil && h.IsOwnedBy(caller.Sub)
	}
	return false
}

func (s *bookingService) CancelBooking(ctx context.Context, caller *auth.Claims, id int64, token, reason string) (*domain.Booking, error) {
	existing, err := s.GetBooking(ctx, caller, id, token)
	if err != nil {
		return nil, err
	}
	if !existing.CanCancel(s.now()) {
		return nil, domain.ErrCancelClosed
	}

	canceled, err := s.bookingRepo.Cancel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	if canceled == nil {
		// lost a race with another cancel
		return nil, domain.ErrCancelClosed
	}

	hotelName := ""
	if h, err := s.hotels.Get(ctx, canceled.HotelID); err == nil {
		hotelName = h.Name
	}

	event := events.BookingCanceledEvent{
		BookingID:  canceled.ID,
		HotelID:    canceled.HotelID,
		HotelName:  hotelName,
		GuestName:  canceled.Guest.Name,
		GuestEmail: canceled.Guest.Email,
		CheckIn:    canceled.CheckIn.Format(pricing.DateLayout),
		Reason:     reason,
		CanceledAt: canceled.UpdatedAt,
	}
	if err := s.publisher.Publish(ctx, events.BookingCanceled, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish booking canceled event", "error", err, "booking_id", canceled.ID)
	}

	return canceled, nil
}
