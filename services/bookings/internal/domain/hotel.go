package domain

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/diagnosis/staybook/pkg/pricing"
)

var (
	ErrHotelNotFound   = errors.New("hotel not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrRoomUnavailable = errors.New("room type is not available for these dates")
	ErrForbidden       = errors.New("not allowed")
	ErrCancelClosed    = errors.New("booking can no longer be canceled")
)

type RoomType struct {
	Code        string  `json:"code" yaml:"code"`
	Name        string  `json:"name" yaml:"name"`
	NightlyRate float64 `json:"nightly_rate" yaml:"nightly_rate"`
	MaxGuests   int     `json:"max_guests" yaml:"max_guests"`
	Inventory   int     `json:"inventory" yaml:"inventory"`
}

// Hotel is a listing. TaxRateOverride is the hotel's own rate when set;
// TaxRate is the rate quotes actually use.
type Hotel struct {
	ID              int64      `json:"id"`
	OwnerID         int64      `json:"owner_id"`
	Name            string     `json:"name"`
	City            string     `json:"city"`
	Address         string     `json:"address"`
	Description     string     `json:"description"`
	StarRating      int        `json:"star_rating"`
	Amenities       []string   `json:"amenities"`
	RoomTypes       []RoomType `json:"room_types"`
	TaxRateOverride *float64   `json:"tax_rate_override,omitempty"`
	TaxRate         float64    `json:"tax_rate"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Room finds a room type by code.
func (h *Hotel) Room(code string) (RoomType, bool) {
	for _, rt := range h.RoomTypes {
		if strings.EqualFold(rt.Code, code) {
			return rt, true
		}
	}
	return RoomType{}, false
}

// ApplyTaxRate sets TaxRate from the override or the deployment default.
func (h *Hotel) ApplyTaxRate(defaultRate float64) {
	if h.TaxRateOverride != nil {
		h.TaxRate = *h.TaxRateOverride
		return
	}
	h.TaxRate = defaultRate
}

// FromPrice is the cheapest nightly rate among rooms that fit guests.
func (h *Hotel) FromPrice(guests int) (float64, bool) {
	found := false
	var lowest float64
	for _, rt := range h.RoomTypes {
		if guests > 0 && rt.MaxGuests < guests {
			continue
		}
		if !found || rt.NightlyRate < lowest {
			lowest = rt.NightlyRate
			found = true
		}
	}
	return lowest, found
}

// IsOwnedBy reports whether userID manages this listing.
func (h *Hotel) IsOwnedBy(userID int64) bool {
	return h.OwnerID == userID
}

type HotelInput struct {
	Name        string     `json:"name" yaml:"name"`
	City        string     `json:"city" yaml:"city"`
	Address     string     `json:"address" yaml:"address"`
	Description string     `json:"description" yaml:"description"`
	StarRating  int        `json:"star_rating" yaml:"star_rating"`
	Amenities   []string   `json:"amenities" yaml:"amenities"`
	RoomTypes   []RoomType `json:"room_types" yaml:"room_types"`
	TaxRate     *float64   `json:"tax_rate,omitempty" yaml:"tax_rate,omitempty"`
}

type HotelPatch struct {
	Name        *string     `json:"name,omitempty"`
	City        *string     `json:"city,omitempty"`
	Address     *string     `json:"address,omitempty"`
	Description *string     `json:"description,omitempty"`
	StarRating  *int        `json:"star_rating,omitempty"`
	Amenities   *[]string   `json:"amenities,omitempty"`
	RoomTypes   *[]RoomType `json:"room_types,omitempty"`
	TaxRate     *float64    `json:"tax_rate,omitempty"`
}

// Apply returns the input that results from patching h.
func (p HotelPatch) Apply(h *Hotel) HotelInput {
	in := HotelInput{
		Name:        h.Name,
		City:        h.City,
		Address:     h.Address,
		Description: h.Description,
		StarRating:  h.StarRating,
		Amenities:   h.Amenities,
		RoomTypes:   h.RoomTypes,
		TaxRate:     h.TaxRateOverride,
	}
	if p.Name != nil {
		in.Name = *p.Name
	}
	if p.City != nil {
		in.City = *p.City
	}
	if p.Address != nil {
		in.Address = *p.Address
	}
	if p.Description != nil {
		in.Description = *p.Description
	}
	if p.StarRating != nil {
		in.StarRating = *p.StarRating
	}
	if p.Amenities != nil {
		in.Amenities = *p.Amenities
	}
	if p.RoomTypes != nil {
		in.RoomTypes = *p.RoomTypes
	}
	if p.TaxRate != nil {
		in.TaxRate = p.TaxRate
	}
	return in
}

// Validate checks listing fields an owner controls.
func (in HotelInput) Validate() error {
	v := &ValidationError{}

	if strings.TrimSpace(in.Name) == "" {
		v.Add("name", "name is required")
	}
	if strings.TrimSpace(in.City) == "" {
		v.Add("city", "city is required")
	}
	if in.StarRating < 0 || in.StarRating > 5 {
		v.Add("star_rating", "must be between 0 and 5")
	}
	if in.TaxRate != nil && (*in.TaxRate < 0 || *in.TaxRate > 1) {
		v.Add("tax_rate", "must be between 0 and 1")
	}
	if len(in.RoomTypes) == 0 {
		v.Add("room_types", "at least one room type is required")
	}

	seen := map[string]bool{}
	for _, rt := range in.RoomTypes {
		code := strings.ToLower(strings.TrimSpace(rt.Code))
		switch {
		case code == "":
			v.Add("room_types", "room type code is required")
		case seen[code]:
			v.Add("room_types", "duplicate room type "+rt.Code)
		}
		seen[code] = true

		switch {
		case rt.NightlyRate < 0:
			v.Add("room_types", rt.Code+": nightly rate cannot be negative")
		case !pricing.IsWholeAmount(rt.NightlyRate):
			v.Add("room_types", rt.Code+": nightly rate must be a whole amount")
		}
		if rt.MaxGuests < 1 {
			v.Add("room_types", rt.Code+": max guests must be at least 1")
		}
		if rt.Inventory < 0 {
			v.Add("room_types", rt.Code+": inventory cannot be negative")
		}
	}

	return v.OrNil()
}

type HotelFilter struct {
	City     string
	Guests   int
	MinPrice float64
	MaxPrice float64
	CheckIn  string
	CheckOut string
	Limit    int
	Offset   int
}

// ValidationError carries field level messages.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// OrNil returns nil when no field failed so callers can return it as error.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
