package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
	mw "github.com/diagnosis/staybook/pkg/middleware"
	"github.com/diagnosis/staybook/services/notify/internal/mailer"
	"github.com/diagnosis/staybook/services/notify/internal/notifier"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to event bus
	eventBus, err := events.New(ctx, cfg.Events)
	if err != nil {
		logger.Error("Failed to connect to event bus", "driver", cfg.Events.Driver, "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	n := notifier.New(mailer.New(cfg.Email), cfg.Email.Locale)
	if err := n.Subscribe(eventBus); err != nil {
		logger.Error("Failed to subscribe to booking events", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("notify"))
	r.Use(mw.Recover)
	r.Use(mw.Health)

	srv := &http.Server{
		Addr:         ":" + port(cfg, "8086"),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting notify service", "addr", srv.Addr, "events", cfg.Events.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down notify service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Notify service error", "error", err)
		os.Exit(1)
	}
}

// port prefers NOTIFY_PORT so several services can share one .env file.
func port(cfg *config.Config, fallback string) string {
	if p := os.Getenv("NOTIFY_PORT"); p != "" {
		return p
	}
	if os.Getenv("PORT") != "" {
		return cfg.Server.Port
	}
	return fallback
}
