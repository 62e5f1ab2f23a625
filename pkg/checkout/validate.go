package checkout

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/diagnosis/staybook/pkg/pricing"
)

func validate(f Form, now time.Time) *InputError {
	e := &InputError{}

	if f.HotelID <= 0 {
		e.add("hotel_id", "hotel is required")
	}
	if strings.TrimSpace(f.RoomType) == "" {
		e.add("room_type", "choose a room type")
	}

	checkIn, inErr := time.Parse(pricing.DateLayout, f.CheckIn)
	switch {
	case f.CheckIn == "":
		e.add("check_in", "check-in date is required")
	case inErr != nil:
		e.add("check_in", "use the YYYY-MM-DD format")
	case checkIn.Before(pricing.CalendarDate(now)):
		e.add("check_in", "check-in cannot be in the past")
	}

	checkOut, outErr := time.Parse(pricing.DateLayout, f.CheckOut)
	switch {
	case f.CheckOut == "":
		e.add("check_out", "check-out date is required")
	case outErr != nil:
		e.add("check_out", "use the YYYY-MM-DD format")
	case inErr == nil:
		nights, ok := pricing.NewStayRange(checkIn, checkOut).Nights()
		if !ok {
			e.add("check_out", "check-out must be after check-in")
		} else if nights > pricing.MaxNights {
			e.add("check_out", fmt.Sprintf("stays are limited to %d nights", pricing.MaxNights))
		}
	}

	switch {
	case f.NightlyRate < 0:
		e.add("nightly_rate", "nightly rate cannot be negative")
	case !pricing.IsWholeAmount(f.NightlyRate):
		e.add("nightly_rate", "nightly rate must be a whole amount")
	}
	if f.TaxRate < 0 {
		e.add("tax_rate", "tax rate cannot be negative")
	}

	limit := MaxGuests
	if f.MaxGuests > 0 && f.MaxGuests < limit {
		limit = f.MaxGuests
	}
	switch {
	case f.Guests < 1:
		e.add("guests", "at least one guest is required")
	case f.Guests > limit:
		e.add("guests", "too many guests for this room")
	}

	if strings.TrimSpace(f.Guest.Name) == "" {
		e.add("guest_details.name", "name is required")
	}
	if f.Guest.Email == "" {
		e.add("guest_details.email", "email is required")
	} else if _, err := mail.ParseAddress(f.Guest.Email); err != nil {
		e.add("guest_details.email", "enter a valid email address")
	}

	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
