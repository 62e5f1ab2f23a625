// Package pricing computes itemized stay quotes. Everything here is pure and
// cheap enough to run on every input change.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultTaxRate applies when neither the hotel nor the deployment sets one.
const DefaultTaxRate = 0.12

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// MaxNights bounds a single stay.
const MaxNights = 30

const day = 24 * time.Hour

var ErrInvalidDate = errors.New("invalid date")

// StayRange is a check-in/check-out pair of calendar dates. Times of day and
// locations are ignored.
type StayRange struct {
	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
}

// NewStayRange normalizes both ends to midnight UTC of their calendar date.
func NewStayRange(checkIn, checkOut time.Time) StayRange {
	return StayRange{CheckIn: CalendarDate(checkIn), CheckOut: CalendarDate(checkOut)}
}

// ParseStay builds a StayRange from two YYYY-MM-DD strings.
func ParseStay(checkIn, checkOut string) (StayRange, error) {
	in, err := time.Parse(DateLayout, checkIn)
	if err != nil {
		return StayRange{}, fmt.Errorf("check_in %q: %w", checkIn, ErrInvalidDate)
	}
	out, err := time.Parse(DateLayout, checkOut)
	if err != nil {
		return StayRange{}, fmt.Errorf("check_out %q: %w", checkOut, ErrInvalidDate)
	}
	return NewStayRange(in, out), nil
}

// CalendarDate drops the clock part of t while keeping its calendar date in
// t's own location.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Nights returns the whole calendar-day difference. ok is false when the range
// is empty or reversed, in which case nights is reported as 1.
func (s StayRange) Nights() (nights int, ok bool) {
	diff := CalendarDate(s.CheckOut).Sub(CalendarDate(s.CheckIn))
	n := int(diff / day)
	if n < 1 {
		return 1, false
	}
	return n, true
}

// Overlaps reports whether two stays share at least one night. A check-out on
// the other stay's check-in day is not an overlap.
func (s StayRange) Overlaps(other StayRange) bool {
	return CalendarDate(s.CheckIn).Before(CalendarDate(other.CheckOut)) &&
		CalendarDate(other.CheckIn).Before(CalendarDate(s.CheckOut))
}

func (s StayRange) String() string {
	return s.CheckIn.Format(DateLayout) + ".." + s.CheckOut.Format(DateLayout)
}

// PriceQuote is the itemized price of a stay. Invalid is set, with Message
// explaining why, when the inputs had to be corrected to produce a quote.
type PriceQuote struct {
	NightlyRate float64 `json:"nightly_rate"`
	Nights      int     `json:"nights"`
	Subtotal    float64 `json:"subtotal"`
	TaxRate     float64 `json:"tax_rate"`
	Taxes       float64 `json:"taxes"`
	Total       float64 `json:"total"`
	Invalid     bool    `json:"invalid,omitempty"`
	Message     string  `json:"message,omitempty"`
}

const (
	msgBadRange   = "check-out must be after check-in"
	msgNegRate    = "nightly rate cannot be negative"
	msgFracRate   = "nightly rate must be a whole amount"
	msgNegTaxRate = "tax rate cannot be negative"
)

// Quote prices a stay. It never fails: a reversed or empty range is priced as
// one night, a negative rate or tax rate as zero and a fractional rate at the
// nearest whole amount, with Invalid set. Subtotal and Taxes are therefore
// always whole currency units.
func Quote(nightlyRate float64, stay StayRange, taxRate float64) PriceQuote {
	q := PriceQuote{}

	switch {
	case nightlyRate < 0 || math.IsNaN(nightlyRate) || math.IsInf(nightlyRate, 0):
		nightlyRate = 0
		q.flag(msgNegRate)
	case !IsWholeAmount(nightlyRate):
		nightlyRate = RoundHalfUp(nightlyRate)
		q.flag(msgFracRate)
	}
	if taxRate < 0 || math.IsNaN(taxRate) || math.IsInf(taxRate, 0) {
		taxRate = 0
		q.flag(msgNegTaxRate)
	}

	nights, ok := stay.Nights()
	if !ok {
		q.flag(msgBadRange)
	}

	q.NightlyRate = nightlyRate
	q.Nights = nights
	q.TaxRate = taxRate
	q.Subtotal = nightlyRate * float64(nights)
	q.Taxes = RoundHalfUp(q.Subtotal * taxRate)
	q.Total = q.Subtotal + q.Taxes

	return q
}

// QuoteDefault prices a stay at DefaultTaxRate.
func QuoteDefault(nightlyRate float64, stay StayRange) PriceQuote {
	return Quote(nightlyRate, stay, DefaultTaxRate)
}

func (q *PriceQuote) flag(msg string) {
	q.Invalid = true
	if q.Message == "" {
		q.Message = msg
		return
	}
	q.Message += "; " + msg
}

// DisplaySubtotal, DisplayTaxes and DisplayTotal return whole currency units.
func (q PriceQuote) DisplaySubtotal() int64 { return int64(RoundHalfUp(q.Subtotal)) }

func (q PriceQuote) DisplayTaxes() int64 { return int64(q.Taxes) }

func (q PriceQuote) DisplayTotal() int64 { return int64(RoundHalfUp(q.Total)) }

// IsWholeAmount reports whether v is a finite whole number of currency units.
func IsWholeAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v == math.Trunc(v)
}

// RoundHalfUp rounds to the nearest integer, halves away from zero. Inputs are
// first snapped to 1e-9 so values like 107.5 computed as 107.49999999999999
// still round up.
func RoundHalfUp(v float64) float64 {
	snapped := math.Round(v*1e9) / 1e9
	return math.Round(snapped)
}
