package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Subject, err)
	}
	return nil
}

// New connects the bus selected by cfg.Driver.
func New(ctx context.Context, cfg config.EventsConfig) (EventBus, error) {
	switch cfg.Driver {
	case "nats", "":
		return NewNATSEventBus(cfg.NATSURL)
	case "amqp":
		return NewAMQPEventBus(ctx, cfg.AMQPURL, cfg.Exchange)
	case "memory":
		return NewMemoryBus(), nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("staybook"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(newMessage(msg.Subject, msg.Data))
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(newMessage(msg.Subject, msg.Data))
	})
	return err
}

func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

func newMessage(subject string, data []byte) *Message {
	now := time.Now()
	return &Message{
		Subject:   subject,
		Data:      data,
		Timestamp: now,
		ID:        fmt.Sprintf("%d", now.UnixNano()),
	}
}

// Event types and subjects
const (
	BookingConfirmed = "booking.confirmed"
	BookingCanceled  = "booking.canceled"
	HotelUpdated     = "hotel.updated"
)

// Event payloads
type BookingConfirmedEvent struct {
	BookingID   int64     `json:"booking_id"`
	ManageToken string    `json:"manage_token"`
	HotelID     int64     `json:"hotel_id"`
	HotelName   string    `json:"hotel_name"`
	RoomType    string    `json:"room_type"`
	GuestName   string    `json:"guest_name"`
	GuestEmail  string    `json:"guest_email"`
	CheckIn     string    `json:"check_in"`
	CheckOut    string    `json:"check_out"`
	Nights      int       `json:"nights"`
	Guests      int       `json:"guests"`
	Subtotal    float64   `json:"subtotal"`
	Taxes       float64   `json:"taxes"`
	Total       float64   `json:"total"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

type BookingCanceledEvent struct {
	BookingID  int64     `json:"booking_id"`
	HotelID    int64     `json:"hotel_id"`
	HotelName  string    `json:"hotel_name"`
	GuestName  string    `json:"guest_name"`
	GuestEmail string    `json:"guest_email"`
	CheckIn    string    `json:"check_in"`
	Reason     string    `json:"reason"`
	CanceledAt time.Time `json:"canceled_at"`
}

type HotelUpdatedEvent struct {
	HotelID int64     `json:"hotel_id"`
	OwnerID int64     `json:"owner_id"`
	Action  string    `json:"action"` // created, updated, deleted
	At      time.Time `json:"at"`
}
