// Package notifier turns booking events into guest emails.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/diagnosis/staybook/services/notify/internal/mailer"
)

// QueueGroup spreads events over notify replicas so each email goes out once.
const QueueGroup = "notify"

const (
	sendAttempts = 3
	sendTimeout  = 30 * time.Second
)

type Notifier struct {
	mailer  mailer.Mailer
	format  *Formatter
	backoff time.Duration
}

func New(m mailer.Mailer, locale string) *Notifier {
	return &Notifier{
		mailer:  m,
		format:  NewFormatter(locale),
		backoff: time.Second,
	}
}

// Subscribe registers the booking event handlers on sub.
func (n *Notifier) Subscribe(sub events.Subscriber) error {
	if err := sub.QueueSubscribe(events.BookingConfirmed, QueueGroup, n.handleConfirmed); err != nil {
		return fmt.Errorf("subscribe %s: %w", events.BookingConfirmed, err)
	}
	if err := sub.QueueSubscribe(events.BookingCanceled, QueueGroup, n.handleCanceled); err != nil {
		return fmt.Errorf("subscribe %s: %w", events.BookingCanceled, err)
	}
	return nil
}

func (n *Notifier) handleConfirmed(msg *events.Message) {
	var e events.BookingConfirmedEvent
	if err := msg.Decode(&e); err != nil {
		logger.Error("Dropping malformed event", "subject", msg.Subject, "error", err)
		return
	}
	if e.GuestEmail == "" {
		logger.Warn("Booking has no guest email, skipping confirmation", "booking_id", e.BookingID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := n.send(ctx, n.format.ConfirmationEmail(e)); err != nil {
		logger.Error("Failed to send booking confirmation", "booking_id", e.BookingID, "error", err)
		return
	}
	logger.Info("Booking confirmation sent", "booking_id", e.BookingID, "hotel_id", e.HotelID)
}

func (n *Notifier) handleCanceled(msg *events.Message) {
	var e events.BookingCanceledEvent
	if err := msg.Decode(&e); err != nil {
		logger.Error("Dropping malformed event", "subject", msg.Subject, "error", err)
		return
	}
	if e.GuestEmail == "" {
		logger.Warn("Booking has no guest email, skipping cancellation notice", "booking_id", e.BookingID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := n.send(ctx, n.format.CancellationEmail(e)); err != nil {
		logger.Error("Failed to send cancellation notice", "booking_id", e.BookingID, "error", err)
		return
	}
	logger.Info("Cancellation notice sent", "booking_id", e.BookingID, "hotel_id", e.HotelID)
}

// send retries transient mailer failures with a doubling backoff.
func (n *Notifier) send(ctx context.Context, msg mailer.Message) error {
	var err error
	wait := n.backoff
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err = n.mailer.Send(ctx, msg); err == nil {
			return nil
		}
		if attempt == sendAttempts {
			break
		}
		logger.Warn("Email send failed, retrying", "attempt", attempt, "to", msg.ToEmail, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("after %d attempts: %w", sendAttempts, err)
}
