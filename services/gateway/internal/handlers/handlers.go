package handlers

import (
	"context"
	"time"

	"github.com/diagnosis/staybook/pkg/bookingclient"
	"github.com/diagnosis/staybook/pkg/checkout"
	mw "github.com/diagnosis/staybook/pkg/middleware"
	"github.com/diagnosis/staybook/services/gateway/internal/proxy"
	"github.com/diagnosis/staybook/services/gateway/internal/session"
	"github.com/go-chi/chi/v5"
)

// BookingsClient is the part of the bookings API checkout sessions need.
type BookingsClient interface {
	GetHotel(ctx context.Context, id int64) (*bookingclient.Hotel, error)
	Submitter(token string) checkout.Submitter
}

// Notifier delivers messages to a principal's live connections.
type Notifier interface {
	SendTypedMessage(principal, msgType string, data interface{}) error
}

type Handlers struct {
	authProxy     *proxy.ServiceProxy
	bookingsProxy *proxy.ServiceProxy
	bookings      BookingsClient
	sessions      *session.Store
	notifier      Notifier
	jwtSecret     string
	submitTimeout time.Duration
}

func New(
	authProxy, bookingsProxy *proxy.ServiceProxy,
	bookings BookingsClient,
	sessions *session.Store,
	notifier Notifier,
	jwtSecret string,
	submitTimeout time.Duration,
) *Handlers {
	return &Handlers{
		authProxy:     authProxy,
		bookingsProxy: bookingsProxy,
		bookings:      bookings,
		sessions:      sessions,
		notifier:      notifier,
		jwtSecret:     jwtSecret,
		submitTimeout: submitTimeout,
	}
}

// Routes serves the public /v1 API.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	// Auth routes (routed to auth service)
	r.Handle("/auth", h.authProxy.Forward("/v1/auth"))
	r.Handle("/auth/*", h.authProxy.Forward("/v1/auth"))

	// Catalogue and booking routes (routed to bookings service)
	for _, prefix := range []string{"/hotels", "/bookings", "/owner"} {
		r.Handle(prefix, h.bookingsProxy.Forward("/v1"))
		r.Handle(prefix+"/*", h.bookingsProxy.Forward("/v1"))
	}

	// Checkout sessions hosted by the gateway
	r.Route("/checkout", func(r chi.Router) {
		r.Use(mw.RequireJWT(h.jwtSecret))
		r.Post("/", h.StartCheckout)
		r.Get("/{id}", h.GetCheckout)
		r.Patch("/{id}", h.UpdateCheckout)
		r.Delete("/{id}", h.AbandonCheckout)
		r.Post("/{id}/submit", h.SubmitCheckout)
		r.Post("/{id}/retry", h.RetryCheckout)
	})

	return r
}
