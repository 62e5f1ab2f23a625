package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/database"
	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
	mw "github.com/diagnosis/staybook/pkg/middleware"
	"github.com/diagnosis/staybook/services/bookings/internal/cache"
	"github.com/diagnosis/staybook/services/bookings/internal/handlers"
	"github.com/diagnosis/staybook/services/bookings/internal/repository"
	"github.com/diagnosis/staybook/services/bookings/internal/seed"
	"github.com/diagnosis/staybook/services/bookings/internal/service"
	"github.com/go-chi/chi/v5"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Error("Failed to apply schema", "error", err)
		os.Exit(1)
	}

	// Connect to event bus
	eventBus, err := events.New(ctx, cfg.Events)
	if err != nil {
		logger.Error("Failed to connect to event bus", "driver", cfg.Events.Driver, "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Hotel cache, degraded to pass-through without Redis
	var store cache.Store = cache.NopStore{}
	if cfg.Redis.URL != "" {
		rdb, err := database.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, hotel cache disabled", "error", err)
		} else {
			defer rdb.Close()
			store = cache.NewRedisStore(rdb)
		}
	}

	// Initialize repositories
	hotelRepo := repository.NewHotelRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)
	idempotencyRepo := repository.NewIdempotencyRepository(pool)

	if cfg.Services.SeedFile != "" {
		if _, err := seed.Load(ctx, hotelRepo, cfg.Services.SeedFile); err != nil {
			logger.Error("Failed to seed hotels", "error", err)
			os.Exit(1)
		}
	}

	hotelCache := cache.NewHotelCache(store, cfg.Redis.HotelTTL, hotelRepo.GetByID)

	// Initialize services
	hotelService := service.NewHotelService(hotelRepo, bookingRepo, hotelCache, eventBus, cfg)
	bookingService := service.NewBookingService(bookingRepo, idempotencyRepo, hotelService, eventBus, cfg)

	h := handlers.New(hotelService, bookingService, cfg.Auth.JWTSecret)

	// Setup router
	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("bookings"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(mw.Health)
	r.Mount("/", h.Routes())

	go cleanupIdempotency(ctx, idempotencyRepo)

	srv := &http.Server{
		Addr:         ":" + port(cfg, "8082"),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down bookings service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Bookings service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting bookings service", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Bookings service error", "error", err)
		os.Exit(1)
	}
}

func cleanupIdempotency(ctx context.Context, repo repository.IdempotencyRepository) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanupExpired(ctx)
			if err != nil {
				logger.Error("Idempotency cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("Removed expired idempotency keys", "count", n)
			}
		}
	}
}

// port prefers BOOKINGS_PORT so several services can share one .env file.
func port(cfg *config.Config, fallback string) string {
	if p := os.Getenv("BOOKINGS_PORT"); p != "" {
		return p
	}
	if os.Getenv("PORT") != "" {
		return cfg.Server.Port
	}
	return fallback
}
