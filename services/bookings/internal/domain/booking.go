package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/diagnosis/staybook/pkg/pricing"
)

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCanceled  BookingStatus = "canceled"
)

func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch BookingStatus(s) {
	case BookingConfirmed, BookingCanceled:
		return BookingStatus(s), true
	default:
		return "", false
	}
}

// Business rules
const (
	MinGuests = 1
	MaxGuests = 10
	MaxNights = pricing.MaxNights
)

// DuplicateRequestError reports that an idempotency key already belongs to
// BookingID.
type DuplicateRequestError struct {
	BookingID int64
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("idempotency key already used by booking %d", e.BookingID)
}

type GuestDetails struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone,omitempty"`
	SpecialRequests string `json:"special_requests,omitempty"`
}

type Booking struct {
	ID          int64
	ManageToken string
	HotelID     int64
	RoomType    string
	UserID      *int64
	CheckIn     time.Time
	CheckOut    time.Time
	Guests      int
	Guest       GuestDetails
	NightlyRate float64
	Nights      int
	Subtotal    float64
	TaxRate     float64
	Taxes       float64
	Total       float64
	Status      BookingStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (b *Booking) Stay() pricing.StayRange {
	return pricing.NewStayRange(b.CheckIn, b.CheckOut)
}

// ApplyQuote copies the priced amounts onto the booking.
func (b *Booking) ApplyQuote(q pricing.PriceQuote) {
	b.NightlyRate = q.NightlyRate
	b.Nights = q.Nights
	b.Subtotal = q.Subtotal
	b.TaxRate = q.TaxRate
	b.Taxes = q.Taxes
	b.Total = q.Total
}

// CanCancel allows cancellation up to the day before check-in.
func (b *Booking) CanCancel(now time.Time) bool {
	if b.Status != BookingConfirmed {
		return false
	}
	return pricing.CalendarDate(now).Before(pricing.CalendarDate(b.CheckIn))
}

// IsUserOwner checks if the given user ID owns this booking
func (b *Booking) IsUserOwner(userID int64) bool {
	return b.UserID != nil && *b.UserID == userID
}

// IsGuestOwner checks if the given email made this booking
func (b *Booking) IsGuestOwner(email string) bool {
	return email != "" && strings.EqualFold(b.Guest.Email, email)
}

type BookingDTO struct {
	ID           int64        `json:"id"`
	ManageToken  string       `json:"manage_token,omitempty"`
	HotelID      int64        `json:"hotel_id"`
	HotelName    string       `json:"hotel_name,omitempty"`
	RoomType     string       `json:"room_type"`
	CheckIn      string       `json:"check_in"`
	CheckOut     string       `json:"check_out"`
	Guests       int          `json:"guests"`
	GuestDetails GuestDetails `json:"guest_details"`
	NightlyRate  float64      `json:"nightly_rate"`
	Nights       int          `json:"nights"`
	Subtotal     float64      `json:"subtotal"`
	TaxRate      float64      `json:"tax_rate"`
	Taxes        float64      `json:"taxes"`
	Total        float64      `json:"total"`
	Status       string       `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ToDTO renders b for API responses. The manage token is only included when
// withToken is set.
func (b *Booking) ToDTO(withToken bool) BookingDTO {
	dto := BookingDTO{
		ID:           b.ID,
		HotelID:      b.HotelID,
		RoomType:     b.RoomType,
		CheckIn:      b.CheckIn.Format(pricing.DateLayout),
		CheckOut:     b.CheckOut.Format(pricing.DateLayout),
		Guests:       b.Guests,
		GuestDetails: b.Guest,
		NightlyRate:  b.NightlyRate,
		Nights:       b.Nights,
		Subtotal:     b.Subtotal,
		TaxRate:      b.TaxRate,
		Taxes:        b.Taxes,
		Total:        b.Total,
		Status:       string(b.Status),
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
	if withToken {
		dto.ManageToken = b.ManageToken
	}
	return dto
}

// CreateBookingReq is the body of POST /bookings.
type CreateBookingReq struct {
	HotelID      int64        `json:"hotel_id"`
	RoomType     string       `json:"room_type"`
	CheckIn      string       `json:"check_in"`
	CheckOut     string       `json:"check_out"`
	Guests       int          `json:"guests"`
	GuestDetails GuestDetails `json:"guest_details"`
}

// Validate checks the request shape and returns the parsed stay.
func (r *CreateBookingReq) Validate(now time.Time) (pricing.StayRange, error) {
	v := &ValidationError{}

	if r.HotelID <= 0 {
		v.Add("hotel_id", "hotel_id is required")
	}
	if strings.TrimSpace(r.RoomType) == "" {
		v.Add("room_type", "room_type is required")
	}
	if r.Guests < MinGuests || r.Guests > MaxGuests {
		v.Add("guests", "guests must be between 1 and 10")
	}
	if strings.TrimSpace(r.GuestDetails.Name) == "" {
		v.Add("guest_details.name", "name is required")
	}
	if _, err := mail.ParseAddress(r.GuestDetails.Email); err != nil {
		v.Add("guest_details.email", "a valid email is required")
	}

	stay, _ := ValidateStay(r.CheckIn, r.CheckOut, now, v)
	if err := v.OrNil(); err != nil {
		return pricing.StayRange{}, err
	}
	return stay, nil
}

// ValidateStay parses a date pair and records problems on v.
func ValidateStay(checkIn, checkOut string, now time.Time, v *ValidationError) (pricing.StayRange, error) {
	stay, err := pricing.ParseStay(checkIn, checkOut)
	if err != nil {
		v.Add("dates", "check_in and check_out must be YYYY-MM-DD dates")
		return pricing.StayRange{}, v.OrNil()
	}

	nights, ok := stay.Nights()
	switch {
	case !ok:
		v.Add("check_out", "check-out must be after check-in")
	case nights > MaxNights:
		v.Add("check_out", fmt.Sprintf("stays are limited to %d nights", MaxNights))
	}
	if stay.CheckIn.Before(pricing.CalendarDate(now)) {
		v.Add("check_in", "check-in cannot be in the past")
	}

	return stay, v.OrNil()
}
