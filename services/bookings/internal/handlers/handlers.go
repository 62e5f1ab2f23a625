package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/httpx"
	"github.com/diagnosis/staybook/pkg/logger"
	mw "github.com/diagnosis/staybook/pkg/middleware"
	"github.com/diagnosis/staybook/services/bookings/internal/domain"
	"github.com/diagnosis/staybook/services/bookings/internal/service"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	hotelService   service.HotelService
	bookingService service.BookingService
	jwtSecret      string
}

func New(hotelService service.HotelService, bookingService service.BookingService, jwtSecret string) *Handlers {
	return &Handlers{
		hotelService:   hotelService,
		bookingService: bookingService,
		jwtSecret:      jwtSecret,
	}
}

// Routes mounts the public, customer and owner APIs.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/hotels", func(r chi.Router) {
		r.Get("/", h.SearchHotels)
		r.Get("/{id}", h.GetHotel)
		r.Get("/{id}/quote", h.QuoteStay)
	})

	r.Route("/bookings", func(r chi.Router) {
		r.With(mw.RequireJWT(h.jwtSecret)).Post("/", h.CreateBooking)
		r.With(mw.RequireJWT(h.jwtSecret)).Get("/", h.ListMyBookings)
		r.With(mw.OptionalJWT(h.jwtSecret)).Get("/{id}", h.GetBooking)
		r.With(mw.OptionalJWT(h.jwtSecret)).Post("/{id}/cancel", h.CancelBooking)
	})

	r.Route("/owner/hotels", func(r chi.Router) {
		r.Use(mw.RequireJWT(h.jwtSecret, auth.RoleOwner))
		r.Get("/", h.ListOwnedHotels)
		r.Post("/", h.CreateHotel)
		r.Patch("/{id}", h.UpdateHotel)
		r.Delete("/{id}", h.DeleteHotel)
		r.Get("/{id}/bookings", h.ListHotelBookings)
	})

	return r
}

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// writeServiceError maps service errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteValidation(w, http.StatusBadRequest, "Validation failed", verr.Fields)
	case errors.Is(err, domain.ErrHotelNotFound):
		httpx.NotFound(w, "Hotel not found")
	case errors.Is(err, domain.ErrBookingNotFound):
		httpx.NotFound(w, "Booking not found")
	case errors.Is(err, domain.ErrForbidden):
		httpx.Forbidden(w, "You do not manage this hotel")
	case errors.Is(err, domain.ErrRoomUnavailable):
		httpx.Conflict(w, "That room type is sold out for the selected dates", httpx.CodeUnavailable)
	case errors.Is(err, domain.ErrCancelClosed):
		httpx.Conflict(w, "This booking can no longer be canceled", httpx.CodeBookingImmutable)
	default:
		logger.ErrorContext(r.Context(), fallback, "error", err)
		httpx.InternalError(w, fallback)
	}
}
