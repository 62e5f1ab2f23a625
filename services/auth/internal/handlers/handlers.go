package handlers

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/httpx"
	"github.com/diagnosis/staybook/pkg/logger"
	mw "github.com/diagnosis/staybook/pkg/middleware"
	"github.com/diagnosis/staybook/services/auth/internal/domain"
	"github.com/diagnosis/staybook/services/auth/internal/repository"
	"github.com/diagnosis/staybook/services/auth/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	guestSessionLimit  = 5
	guestSessionWindow = time.Minute
)

type Handlers struct {
	authService   service.AuthService
	guestService  service.GuestService
	rateLimitRepo repository.RateLimitRepository
	jwtSecret     string
}

func New(
	authService service.AuthService,
	guestService service.GuestService,
	rateLimitRepo repository.RateLimitRepository,
	jwtSecret string,
) *Handlers {
	return &Handlers{
		authService:   authService,
		guestService:  guestService,
		rateLimitRepo: rateLimitRepo,
		jwtSecret:     jwtSecret,
	}
}

func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.With(h.GuestSessionRateLimit).Post("/guest/session", h.GuestSession)
	r.With(mw.RequireJWT(h.jwtSecret)).Get("/me", h.Me)

	// Admin routes
	r.Route("/admin", func(r chi.Router) {
		r.Use(mw.RequireJWT(h.jwtSecret, auth.RoleAdmin))
		r.Get("/users", h.ListUsers)
		r.Patch("/users/{id}/role", h.UpdateUserRole)
	})

	return r
}

// GuestSessionRateLimit throttles guest token requests per client IP.
func (h *Handlers) GuestSessionRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "guest_session:" + getClientIP(r)

		allowed, err := h.rateLimitRepo.CheckRateLimit(r.Context(), key, guestSessionLimit, guestSessionWindow)
		if err != nil {
			// fail open
			logger.ErrorContext(r.Context(), "Rate limit check failed", "error", err)
		} else if !allowed {
			httpx.WriteError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.", httpx.CodeRateLimited)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteValidation(w, http.StatusBadRequest, "Validation failed", verr.Fields)
	case errors.Is(err, domain.ErrEmailTaken):
		httpx.Conflict(w, err.Error(), httpx.CodeConflict)
	case errors.Is(err, domain.ErrRegisteredEmail):
		httpx.Conflict(w, err.Error(), httpx.CodeConflict)
	case errors.Is(err, domain.ErrInvalidCredentials):
		httpx.Unauthorized(w, err.Error())
	case errors.Is(err, domain.ErrUserNotFound):
		httpx.NotFound(w, "User not found")
	default:
		logger.ErrorContext(r.Context(), fallback, "error", err)
		httpx.InternalError(w, fallback)
	}
}
