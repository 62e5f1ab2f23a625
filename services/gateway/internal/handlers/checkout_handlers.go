package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/bookingclient"
	"github.com/diagnosis/staybook/pkg/checkout"
	"github.com/diagnosis/staybook/pkg/httpx"
	"github.com/diagnosis/staybook/pkg/logger"
	mw "github.com/diagnosis/staybook/pkg/middleware"
	"github.com/diagnosis/staybook/services/gateway/internal/session"
	"github.com/go-chi/chi/v5"
)

// MsgCheckoutUpdated carries a checkout snapshot after every change.
const MsgCheckoutUpdated = "checkout.updated"

type startCheckoutRequest struct {
	HotelID  int64  `json:"hotel_id"`
	RoomType string `json:"room_type"`
	CheckIn  string `json:"check_in,omitempty"`
	CheckOut string `json:"check_out,omitempty"`
	Guests   int    `json:"guests,omitempty"`
}

type guestDetailsPatch struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone"`
	SpecialRequests *string `json:"special_requests"`
}

type updateCheckoutRequest struct {
	CheckIn      *string            `json:"check_in"`
	CheckOut     *string            `json:"check_out"`
	Guests       *int               `json:"guests"`
	GuestDetails *guestDetailsPatch `json:"guest_details"`
}

// checkoutResponse is a snapshot plus the problems that would block a submit.
type checkoutResponse struct {
	checkout.Booking
	Errors map[string][]string `json:"errors,omitempty"`
}

func respond(l *checkout.Lifecycle) checkoutResponse {
	resp := checkoutResponse{Booking: l.Snapshot()}
	if resp.Status == checkout.StatusDraft {
		if inputErr := l.Validate(); inputErr != nil {
			resp.Errors = inputErr.Fields
		}
	}
	return resp
}

func (h *Handlers) StartCheckout(w http.ResponseWriter, r *http.Request) {
	claims := mw.ClaimsFrom(r.Context())

	var req startCheckoutRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.BadRequest(w, "Invalid request body")
		return
	}
	if req.HotelID <= 0 || req.RoomType == "" {
		httpx.WriteValidation(w, http.StatusBadRequest, "Validation failed", map[string][]string{
			"hotel_id": {"hotel_id and room_type are required"},
		})
		return
	}

	hotel, err := h.bookings.GetHotel(r.Context(), req.HotelID)
	if err != nil {
		if bookingclient.IsNotFound(err) {
			httpx.NotFound(w, "Hotel not found")
			return
		}
		logger.ErrorContext(r.Context(), "Failed to load hotel for checkout", "error", err, "hotel_id", req.HotelID)
		httpx.WriteError(w, http.StatusBadGateway, "Hotel information is unavailable right now", httpx.CodeUpstream)
		return
	}

	room, ok := hotel.Room(req.RoomType)
	if !ok {
		httpx.WriteValidation(w, http.StatusBadRequest, "Validation failed", map[string][]string{
			"room_type": {"unknown room type"},
		})
		return
	}

	form := checkout.Form{
		HotelID:     hotel.ID,
		HotelName:   hotel.Name,
		RoomType:    room.Code,
		NightlyRate: room.NightlyRate,
		TaxRate:     hotel.TaxRate,
		MaxGuests:   room.MaxGuests,
		CheckIn:     req.CheckIn,
		CheckOut:    req.CheckOut,
		Guests:      req.Guests,
		Guest: checkout.GuestDetails{
			Name:  claims.Name,
			Email: claims.Email,
		},
	}

	// Submissions run with the caller's own token
	l := checkout.New(form, h.bookings.Submitter(mw.BearerToken(r)))
	h.watch(claims, l)
	h.sessions.Add(claims.Principal(), l)

	logger.InfoContext(r.Context(), "Checkout started", "checkout_id", l.ID(), "hotel_id", hotel.ID, "room_type", room.Code)
	httpx.WriteJSON(w, http.StatusCreated, respond(l))
}

// watch forwards every change of l to the owner's live connections.
func (h *Handlers) watch(claims *auth.Claims, l *checkout.Lifecycle) {
	principal := claims.Principal()
	l.OnChange(func(b checkout.Booking) {
		if err := h.notifier.SendTypedMessage(principal, MsgCheckoutUpdated, b); err != nil {
			logger.Error("Failed to push checkout update", "error", err, "checkout_id", b.ID)
		}
		switch b.Status {
		case checkout.StatusConfirmed:
			logger.Info("Checkout confirmed", "checkout_id", b.ID, "booking_id", b.Confirmation.BookingID)
		case checkout.StatusFailed:
			logger.Warn("Checkout failed", "checkout_id", b.ID, "error", b.Error, "attempts", b.Attempts)
		}
	})
}

func (h *Handlers) lifecycle(w http.ResponseWriter, r *http.Request) (*checkout.Lifecycle, bool) {
	claims := mw.ClaimsFrom(r.Context())
	l, err := h.sessions.Get(claims.Principal(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.NotFound(w, "Checkout session not found")
		return nil, false
	}
	return l, true
}

func (h *Handlers) GetCheckout(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lifecycle(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, respond(l))
}

func (h *Handlers) UpdateCheckout(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lifecycle(w, r)
	if !ok {
		return
	}

	var req updateCheckoutRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.BadRequest(w, "Invalid request body")
		return
	}

	err := l.Update(func(f *checkout.Form) {
		if req.CheckIn != nil {
			f.CheckIn = *req.CheckIn
		}
		if req.CheckOut != nil {
			f.CheckOut = *req.CheckOut
		}
		if req.Guests != nil {
			f.Guests = *req.Guests
		}
		if g := req.GuestDetails; g != nil {
			if g.Name != nil {
				f.Guest.Name = *g.Name
			}
			if g.Email != nil {
				f.Guest.Email = *g.Email
			}
			if g.Phone != nil {
				f.Guest.Phone = *g.Phone
			}
			if g.SpecialRequests != nil {
				f.Guest.SpecialRequests = *g.SpecialRequests
			}
		}
	})
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, respond(l))
}

// SubmitCheckout starts the submission and answers at once; the outcome
// arrives over the websocket or by polling GetCheckout.
func (h *Handlers) SubmitCheckout(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lifecycle(w, r)
	if !ok {
		return
	}

	// The attempt outlives this request
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.submitTimeout)
	done, err := l.SubmitAsync(ctx)
	if err != nil {
		cancel()
		writeCheckoutError(w, r, err)
		return
	}
	go func() {
		<-done
		cancel()
	}()

	httpx.WriteJSON(w, http.StatusAccepted, respond(l))
}

func (h *Handlers) RetryCheckout(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lifecycle(w, r)
	if !ok {
		return
	}
	if err := l.Retry(); err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, respond(l))
}

func (h *Handlers) AbandonCheckout(w http.ResponseWriter, r *http.Request) {
	claims := mw.ClaimsFrom(r.Context())
	err := h.sessions.Remove(claims.Principal(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, session.ErrNotFound):
		httpx.NotFound(w, "Checkout session not found")
	case errors.Is(err, session.ErrBusy):
		httpx.Conflict(w, "Booking is being submitted", httpx.CodeSubmitInFlight)
	case err != nil:
		httpx.InternalError(w, "Failed to abandon checkout")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var inputErr *checkout.InputError
	switch {
	case errors.As(err, &inputErr):
		httpx.WriteValidation(w, http.StatusUnprocessableEntity, "Please fix the highlighted fields", inputErr.Fields)
	case errors.Is(err, checkout.ErrSubmitInFlight):
		httpx.Conflict(w, "Booking is already being submitted", httpx.CodeSubmitInFlight)
	case errors.Is(err, checkout.ErrFrozen):
		httpx.Conflict(w, "Booking cannot be edited while it is being submitted", httpx.CodeSubmitInFlight)
	case errors.Is(err, checkout.ErrImmutable):
		httpx.Conflict(w, "Booking is confirmed and can no longer change", httpx.CodeBookingImmutable)
	case errors.Is(err, checkout.ErrInvalidTransition):
		httpx.Conflict(w, err.Error(), httpx.CodeConflict)
	default:
		logger.ErrorContext(r.Context(), "Checkout operation failed", "error", err)
		httpx.InternalError(w, "Checkout operation failed")
	}
}
