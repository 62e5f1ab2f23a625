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
	"github.com/diagnosis/staybook/pkg/logger"
	mw "github.com/diagnosis/staybook/pkg/middleware"
	"github.com/diagnosis/staybook/services/auth/internal/handlers"
	"github.com/diagnosis/staybook/services/auth/internal/repository"
	"github.com/diagnosis/staybook/services/auth/internal/service"
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

	// Rate limiting needs Redis; without it guest sessions are unthrottled
	var rateLimitRepo repository.RateLimitRepository = repository.NoRateLimit{}
	if cfg.Redis.URL != "" {
		rdb, err := database.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, guest rate limiting disabled", "error", err)
		} else {
			defer rdb.Close()
			rateLimitRepo = repository.NewRateLimitRepository(rdb)
		}
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(pool)

	// Initialize services
	authService := service.NewAuthService(userRepo, cfg)
	guestService := service.NewGuestService(userRepo, cfg)

	h := handlers.New(authService, guestService, rateLimitRepo, cfg.Auth.JWTSecret)

	// Setup router
	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("auth"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(mw.Health)
	r.Mount("/", h.Routes())

	srv := &http.Server{
		Addr:         ":" + port(cfg, "8081"),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down auth service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Auth service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting auth service", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Auth service error", "error", err)
		os.Exit(1)
	}
}

func port(cfg *config.Config, fallback string) string {
	if p := os.Getenv("AUTH_PORT"); p != "" {
		return p
	}
	if os.Getenv("PORT") != "" {
		return cfg.Server.Port
	}
	return fallback
}
