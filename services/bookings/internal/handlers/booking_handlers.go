package handlers

import (
	"net/http"

	"github.com/diagnosis/staybook/pkg/httpx"
	mw "github.com/diagnosis/staybook/pkg/middleware"
	"github.com/diagnosis/staybook/services/bookings/internal/domain"
)

// CreateBooking handles POST /bookings
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBookingReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.BadRequest(w, "Invalid JSON format")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	booking, replayed, err := h.bookingService.CreateBooking(r.Context(), mw.ClaimsFrom(r.Context()), &req, idempotencyKey)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create booking")
		return
	}

	statusCode := http.StatusCreated
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		statusCode = http.StatusOK
	}
	httpx.WriteJSON(w, statusCode, booking.ToDTO(true))
}

// ListMyBookings handles GET /bookings
func (h *Handlers) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	limit, offset := httpx.Pagination(r)

	bookings, err := h.bookingService.ListMyBookings(r.Context(), mw.ClaimsFrom(r.Context()), limit, offset)
	if err != nil {
		writeServiceError(w, r, err, "Failed to retrieve bookings")
		return
	}

	// Convert to DTOs (excluding manage_token for security)
	dtos := make([]domain.BookingDTO, 0, len(bookings))
	for _, b := range bookings {
		dtos = append(dtos, b.ToDTO(false))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"bookings": dtos,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetBooking handles GET /bookings/{id}, authorized by token or manage_token
func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httpx.BadRequest(w, "Invalid booking ID")
		return
	}

	claims := mw.ClaimsFrom(r.Context())
	token := r.URL.Query().Get("manage_token")
	if claims == nil && token == "" {
		httpx.Unauthorized(w, "Sign in or provide a manage_token")
		return
	}

	booking, err := h.bookingService.GetBooking(r.Context(), claims, id, token)
	if err != nil {
		writeServiceError(w, r, err, "Failed to retrieve booking")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, booking.ToDTO(false))
}

type cancelRequest struct {
	ManageToken string `json:"manage_token,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// CancelBooking handles POST /bookings/{id}/cancel
func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httpx.BadRequest(w, "Invalid booking ID")
		return
	}

	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			httpx.BadRequest(w, "Invalid JSON format")
			return
		}
	}

	claims := mw.ClaimsFrom(r.Context())
	if claims == nil && req.ManageToken == "" {
		httpx.Unauthorized(w, "Sign in or provide a manage_token")
		return
	}

	booking, err := h.bookingService.CancelBooking(r.Context(), claims, id, req.ManageToken, req.Reason)
	if err != nil {
		writeServiceError(w, r, err, "Failed to cancel booking")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, booking.ToDTO(false))
}
