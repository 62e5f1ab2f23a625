package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/pricing"
	"github.com/diagnosis/staybook/services/notify/internal/mailer"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Formatter renders amounts and dates for one locale.
type Formatter struct {
	printer *message.Printer
}

func NewFormatter(locale string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.AmericanEnglish
	}
	return &Formatter{printer: message.NewPrinter(tag)}
}

// Money formats amount with two decimals and the currency symbol. Unknown
// currency codes are appended as is.
func (f *Formatter) Money(amount float64, code string) string {
	amt := f.printer.Sprint(number.Decimal(amount, number.Scale(2)))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return strings.TrimSpace(amt + " " + code)
	}
	return f.printer.Sprint(currency.Symbol(unit)) + amt
}

func (f *Formatter) Date(day string) string {
	t, err := time.Parse(pricing.DateLayout, day)
	if err != nil {
		return day
	}
	return t.Format("Mon, Jan 2, 2006")
}

func (f *Formatter) Count(n int) string {
	return f.printer.Sprint(number.Decimal(n))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func (f *Formatter) ConfirmationEmail(e events.BookingConfirmedEvent) mailer.Message {
	subject := fmt.Sprintf("Booking confirmed: %s", e.HotelName)

	nights := fmt.Sprintf("%s %s", f.Count(e.Nights), plural(e.Nights, "night", "nights"))
	guests := fmt.Sprintf("%s %s", f.Count(e.Guests), plural(e.Guests, "guest", "guests"))

	text := fmt.Sprintf(`Hi %s,

Your booking at %s is confirmed.

Booking number: %d
Room: %s
Check-in: %s
Check-out: %s
%s, %s

Subtotal: %s
Taxes: %s
Total: %s

Manage your booking with this code: %s
`,
		e.GuestName, e.HotelName, e.BookingID, e.RoomType,
		f.Date(e.CheckIn), f.Date(e.CheckOut), nights, guests,
		f.Money(e.Subtotal, e.Currency), f.Money(e.Taxes, e.Currency), f.Money(e.Total, e.Currency),
		e.ManageToken)

	htmlBody := fmt.Sprintf(`
		<h2>Your booking is confirmed</h2>
		<p>Hi %s,</p>
		<p>We look forward to welcoming you at <strong>%s</strong>.</p>
		<table>
			<tr><td>Booking number</td><td>%d</td></tr>
			<tr><td>Room</td><td>%s</td></tr>
			<tr><td>Check-in</td><td>%s</td></tr>
			<tr><td>Check-out</td><td>%s</td></tr>
			<tr><td>Stay</td><td>%s, %s</td></tr>
			<tr><td>Subtotal</td><td>%s</td></tr>
			<tr><td>Taxes</td><td>%s</td></tr>
			<tr><td><strong>Total</strong></td><td><strong>%s</strong></td></tr>
		</table>
		<p>Manage your booking with this code: <code>%s</code></p>
	`,
		html.EscapeString(e.GuestName), html.EscapeString(e.HotelName), e.BookingID, html.EscapeString(e.RoomType),
		f.Date(e.CheckIn), f.Date(e.CheckOut), nights, guests,
		f.Money(e.Subtotal, e.Currency), f.Money(e.Taxes, e.Currency), f.Money(e.Total, e.Currency),
		html.EscapeString(e.ManageToken))

	return mailer.Message{
		ToEmail: e.GuestEmail,
		ToName:  e.GuestName,
		Subject: subject,
		Text:    text,
		HTML:    htmlBody,
	}
}

func (f *Formatter) CancellationEmail(e events.BookingCanceledEvent) mailer.Message {
	subject := fmt.Sprintf("Booking canceled: %s", e.HotelName)

	reason := e.Reason
	if reason == "" {
		reason = "canceled at your request"
	}

	text := fmt.Sprintf(`Hi %s,

Your booking %d at %s for %s has been canceled (%s).
`, e.GuestName, e.BookingID, e.HotelName, f.Date(e.CheckIn), reason)

	htmlBody := fmt.Sprintf(`
		<h2>Your booking was canceled</h2>
		<p>Hi %s,</p>
		<p>Booking %d at <strong>%s</strong> for %s has been canceled (%s).</p>
	`, html.EscapeString(e.GuestName), e.BookingID, html.EscapeString(e.HotelName), f.Date(e.CheckIn), html.EscapeString(reason))

	return mailer.Message{
		ToEmail: e.GuestEmail,
		ToName:  e.GuestName,
		Subject: subject,
		Text:    text,
		HTML:    htmlBody,
	}
}
