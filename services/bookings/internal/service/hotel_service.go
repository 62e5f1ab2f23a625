package service

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/diagnosis/staybook/pkg/pricing"
	"github.com/diagnosis/staybook/services/bookings/internal/cache"
	"github.com/diagnosis/staybook/services/bookings/internal/domain"
	"github.com/diagnosis/staybook/services/bookings/internal/repository"
	"golang.org/x/sync/errgroup"
)

type HotelService interface {
	Search(ctx context.Context, f domain.HotelFilter) ([]domain.Hotel, error)
	Get(ctx context.Context, id int64) (*domain.Hotel, error)
	Quote(ctx context.Context, hotelID int64, roomType, checkIn, checkOut string) (*pricing.PriceQuote, error)
	Create(ctx context.Context, caller *auth.Claims, in domain.HotelInput) (*domain.Hotel, error)
	Update(ctx context.Context, caller *auth.Claims, id int64, patch domain.HotelPatch) (*domain.Hotel, error)
	Delete(ctx context.Context, caller *auth.Claims, id int64) error
	ListOwned(ctx context.Context, caller *auth.Claims, limit, offset int) ([]domain.Hotel, error)
	ListBookings(ctx context.Context, caller *auth.Claims, hotelID int64, limit, offset int, status *domain.BookingStatus) ([]domain.Booking, error)
}

type hotelService struct {
	hotelRepo   repository.HotelRepository
	bookingRepo repository.BookingRepository
	cache       cache.HotelCache
	publisher   events.Publisher
	config      *config.Config
}

func NewHotelService(
	hotelRepo repository.HotelRepository,
	bookingRepo repository.BookingRepository,
	hotelCache cache.HotelCache,
	publisher events.Publisher,
	config *config.Config,
) HotelService {
	return &hotelService{
		hotelRepo:   hotelRepo,
		bookingRepo: bookingRepo,
		cache:       hotelCache,
		publisher:   publisher,
		config:      config,
	}
}

// Search narrows the repository result to hotels that still have a fitting
// room for the requested stay, when one is given.
func (s *hotelService) Search(ctx context.Context, f domain.HotelFilter) ([]domain.Hotel, error) {
	var (
		stay    pricing.StayRange
		hasStay bool
	)
	if f.CheckIn != "" || f.CheckOut != "" {
		v := &domain.ValidationError{}
		parsed, err := domain.ValidateStay(f.CheckIn, f.CheckOut, time.Now(), v)
		if err != nil {
			return nil, err
		}
		stay, hasStay = parsed, true
	}

	hotels, err := s.hotelRepo.Search(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("search hotels: %w", err)
	}
	for i := range hotels {
		hotels[i].ApplyTaxRate(s.config.Pricing.TaxRate)
	}
	if !hasStay {
		return hotels, nil
	}

	available := make([]bool, len(hotels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range hotels {
		i := i
		g.Go(func() error {
			ok, err := s.hasFreeRoom(gctx, &hotels[i], f, stay)
			available[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}

	result := make([]domain.Hotel, 0, len(hotels))
	for i, h := range hotels {
		if available[i] {
			result = append(result, h)
		}
	}
	return result, nil
}

func (s *hotelService) hasFreeRoom(ctx context.Context, h *domain.Hotel, f domain.HotelFilter, stay pricing.StayRange) (bool, error) {
	for _, rt := range h.RoomTypes {
		if rt.MaxGuests < f.Guests || rt.NightlyRate < f.MinPrice {
			continue
		}
		if f.MaxPrice > 0 && rt.NightlyRate > f.MaxPrice {
			continue
		}
		taken, err := s.bookingRepo.CountOverlapping(ctx, h.ID, rt.Code, stay)
		if err != nil {
			return false, err
		}
		if taken < rt.Inventory {
			return true, nil
		}
	}
	return false, nil
}

func (s *hotelService) Get(ctx context.Context, id int64) (*domain.Hotel, error) {
	h, err := s.cache.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get hotel: %w", err)
	}
	if h == nil {
		return nil, domain.ErrHotelNotFound
	}
	h.ApplyTaxRate(s.config.Pricing.TaxRate)
	return h, nil
}

// Quote prices a stay the same way CreateBooking will. A reversed or empty
// range still yields a quote, flagged invalid.
func (s *hotelService) Quote(ctx context.Context, hotelID int64, roomType, checkIn, checkOut string) (*pricing.PriceQuote, error) {
	stay, err := pricing.ParseStay(checkIn, checkOut)
	if err != nil {
		v := &domain.ValidationError{}
		v.Add("dates", "check_in and check_out must be YYYY-MM-DD dates")
		return nil, v
	}

	h, err := s.Get(ctx, hotelID)
	if err != nil {
		return nil, err
	}
	room, ok := h.Room(roomType)
	if !ok {
		v := &domain.ValidationError{}
		v.Add("room_type", "unknown room type")
		return nil, v
	}

	q := pricing.Quote(room.NightlyRate, stay, h.TaxRate)
	return &q, nil
}

func (s *hotelService) Create(ctx context.Context, caller *auth.Claims, in domain.HotelInput) (*domain.Hotel, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	h, err := s.hotelRepo.Create(ctx, caller.Sub, in)
	if err != nil {
		return nil, fmt.Errorf("failed to create hotel: %w", err)
	}
	h.ApplyTaxRate(s.config.Pricing.TaxRate)

	s.publishHotelUpdated(ctx, h, "created")
	return h, nil
}

func (s *hotelService) Update(ctx context.Context, caller *auth.Claims, id int64, patch domain.HotelPatch) (*domain.Hotel, error) {
	existing, err := s.owned(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	in := patch.Apply(existing)
	if err := in.Validate(); err != nil {
		return nil, err
	}

	updated, err := s.hotelRepo.Update(ctx, id, in)
	if err != nil {
		return nil, fmt.Errorf("failed to update hotel: %w", err)
	}
	if updated == nil {
		return nil, domain.ErrHotelNotFound
	}
	updated.ApplyTaxRate(s.config.Pricing.TaxRate)

	s.invalidate(ctx, id)
	s.publishHotelUpdated(ctx, updated, "updated")
	return updated, nil
}

func (s *hotelService) Delete(ctx context.Context, caller *auth.Claims, id int64) error {
	existing, err := s.owned(ctx, caller, id)
	if err != nil {
		return err
	}

	deleted, err := s.hotelRepo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete hotel: %w", err)
	}
	if !deleted {
		return domain.ErrHotelNotFound
	}

	s.invalidate(ctx, id)
	s.publishHotelUpdated(ctx, existing, "deleted")
	return nil
}

func (s *hotelService) ListOwned(ctx context.Context, caller *auth.Claims, limit, offset int) ([]domain.Hotel, error) {
	hotels, err := s.hotelRepo.ListByOwner(ctx, caller.Sub, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range hotels {
		hotels[i].ApplyTaxRate(s.config.Pricing.TaxRate)
	}
	return hotels, nil
}

func (s *hotelService) ListBookings(ctx context.Context, caller *auth.Claims, hotelID int64, limit, offset int, status *domain.BookingStatus) ([]domain.Booking, error) {
	if _, err := s.owned(ctx, caller, hotelID); err != nil {
		return nil, err
	}
	return s.bookingRepo.ListByHotel(ctx, hotelID, limit, offset, status)
}

// owned loads a hotel from the database, bypassing the cache, and checks the
// caller may manage it.
func (s *hotelService) owned(ctx context.Context, caller *auth.Claims, id int64) (*domain.Hotel, error) {
	h, err := s.hotelRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get hotel: %w", err)
	}
	if h == nil {
		return nil, domain.ErrHotelNotFound
	}
	if caller.Role != auth.RoleAdmin && !h.IsOwnedBy(caller.Sub) {
		return nil, domain.ErrForbidden
	}
	return h, nil
}

func (s *hotelService) invalidate(ctx context.Context, id int64) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		logger.WarnContext(ctx, "Failed to invalidate hotel cache", "error", err, "hotel_id", id)
	}
}

func (s *hotelService) publishHotelUpdated(ctx context.Context, h *domain.Hotel, action string) {
	event := events.HotelUpdatedEvent{
		HotelID: h.ID,
		OwnerID: h.OwnerID,
		Action:  action,
		At:      time.Now(),
	}
	if err := s.publisher.Publish(ctx, events.HotelUpdated, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish hotel updated event", "error", err, "hotel_id", h.ID)
	}
}
