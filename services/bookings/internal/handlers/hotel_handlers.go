package handlers

import (
	"net/http"
	"strconv"

	"github.com/diagnosis/staybook/pkg/httpx"
	mw "github.com/diagnosis/staybook/pkg/middleware"
	"github.com/diagnosis/staybook/services/bookings/internal/domain"
)

// SearchHotels handles GET /hotels
func (h *Handlers) SearchHotels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := httpx.Pagination(r)

	filter := domain.HotelFilter{
		City:     q.Get("city"),
		CheckIn:  q.Get("check_in"),
		CheckOut: q.Get("check_out"),
		Limit:    limit,
		Offset:   offset,
	}

	var err error
	if filter.Guests, err = intParam(q.Get("guests")); err != nil {
		httpx.BadRequest(w, "Invalid guests parameter")
		return
	}
	if filter.MinPrice, err = floatParam(q.Get("min_price")); err != nil {
		httpx.BadRequest(w, "Invalid min_price parameter")
		return
	}
	if filter.MaxPrice, err = floatParam(q.Get("max_price")); err != nil {
		httpx.BadRequest(w, "Invalid max_price parameter")
		return
	}

	hotels, err := h.hotelService.Search(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err, "Failed to search hotels")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"hotels": hotels,
		"limit":  limit,
		"offset": offset,
	})
}

// GetHotel handles GET /hotels/{id}
func (h *Handlers) GetHotel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httpx.BadRequest(w, "Invalid hotel ID")
		return
	}

	hotel, err := h.hotelService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "Failed to retrieve hotel")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, hotel)
}

// QuoteStay handles GET /hotels/{id}/quote?room_type=&check_in=&check_out=
func (h *Handlers) QuoteStay(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httpx.BadRequest(w, "Invalid hotel ID")
		return
	}

	q := r.URL.Query()
	quote, err := h.hotelService.Quote(r.Context(), id, q.Get("room_type"), q.Get("check_in"), q.Get("check_out"))
	if err != nil {
		writeServiceError(w, r, err, "Failed to quote stay")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, quote)
}

// ListOwnedHotels handles GET /owner/hotels
func (h *Handlers) ListOwnedHotels(w http.ResponseWriter, r *http.Request) {
	claims := mw.ClaimsFrom(r.Context())
	limit, offset := httpx.Pagination(r)

	hotels, err := h.hotelService.ListOwned(r.Context(), claims, limit, offset)
	if err != nil {
		writeServiceError(w, r, err, "Failed to retrieve hotels")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"hotels": hotels,
		"limit":  limit,
		"offset": offset,
	})
}

// CreateHotel handles POST /owner/hotels
func (h *Handlers) CreateHotel(w http.ResponseWriter, r *http.Request) {
	var in domain.HotelInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.BadRequest(w, "Invalid JSON format")
		return
	}

	hotel, err := h.hotelService.Create(r.Context(), mw.ClaimsFrom(r.Context()), in)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create hotel")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, hotel)
}

// UpdateHotel handles PATCH /owner/hotels/{id}
func (h *Handlers) UpdateHotel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httpx.BadRequest(w, "Invalid hotel ID")
		return
	}

	var patch domain.HotelPatch
	if err := httpx.DecodeJSON(w, r, &patch); err != nil {
		httpx.BadRequest(w, "Invalid JSON format")
		return
	}

	hotel, err := h.hotelService.Update(r.Context(), mw.ClaimsFrom(r.Context()), id, patch)
	if err != nil {
		writeServiceError(w, r, err, "Failed to update hotel")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, hotel)
}

// DeleteHotel handles DELETE /owner/hotels/{id}
func (h *Handlers) DeleteHotel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httpx.BadRequest(w, "Invalid hotel ID")
		return
	}

	if err := h.hotelService.Delete(r.Context(), mw.ClaimsFrom(r.Context()), id); err != nil {
		writeServiceError(w, r, err, "Failed to delete hotel")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListHotelBookings handles GET /owner/hotels/{id}/bookings
func (h *Handlers) ListHotelBookings(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httpx.BadRequest(w, "Invalid hotel ID")
		return
	}
	limit, offset := httpx.Pagination(r)

	var statusPtr *domain.BookingStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := domain.ParseBookingStatus(raw)
		if !ok {
			httpx.BadRequest(w, "Invalid status parameter")
			return
		}
		statusPtr = &st
	}

	bookings, err := h.hotelService.ListBookings(r.Context(), mw.ClaimsFrom(r.Context()), id, limit, offset, statusPtr)
	if err != nil {
		writeServiceError(w, r, err, "Failed to retrieve bookings")
		return
	}

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

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func floatParam(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}
