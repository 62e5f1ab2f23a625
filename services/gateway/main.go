package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/bookingclient"
	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/logger"
	mw "github.com/diagnosis/staybook/pkg/middleware"
	"github.com/diagnosis/staybook/services/gateway/internal/handlers"
	"github.com/diagnosis/staybook/services/gateway/internal/proxy"
	"github.com/diagnosis/staybook/services/gateway/internal/session"
	"github.com/diagnosis/staybook/services/gateway/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize service proxies
	authProxy := proxy.NewServiceProxy("auth", cfg.Services.AuthURL)
	bookingsProxy := proxy.NewServiceProxy("bookings", cfg.Services.BookingsURL)
	bookings := bookingclient.New(cfg.Services.BookingsURL)

	// Checkout sessions and their live updates
	sessions := session.NewStore(cfg.Checkout.SessionTTL)
	go sessions.Run(ctx, cfg.Checkout.SweepInterval)

	hub := ws.NewHub(func(token string) (string, string, error) {
		claims, err := auth.Parse(token, cfg.Auth.JWTSecret)
		if err != nil {
			return "", "", err
		}
		return claims.Principal(), claims.Role, nil
	}, cfg.Server.AllowedOrigins)
	go hub.Run(ctx)

	h := handlers.New(authProxy, bookingsProxy, bookings, sessions, hub, cfg.Auth.JWTSecret, cfg.Checkout.SubmitTimeout)

	// Setup router
	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("gateway"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-ID", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(mw.Health)

	r.Get("/v1/ws", hub.ServeWS)
	r.Mount("/v1", h.Routes())

	srv := &http.Server{
		Addr:         ":" + port(cfg, "8080"),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down gateway service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Gateway shutdown error", "error", err)
		}
	}()

	logger.Info("Starting gateway service", "addr", srv.Addr, "auth", cfg.Services.AuthURL, "bookings", cfg.Services.BookingsURL)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Gateway server error", "error", err)
		os.Exit(1)
	}
}

// port prefers GATEWAY_PORT so several services can share one .env file.
func port(cfg *config.Config, fallback string) string {
	if p := os.Getenv("GATEWAY_PORT"); p != "" {
		return p
	}
	if os.Getenv("PORT") != "" {
		return cfg.Server.Port
	}
	return fallback
}
