package service

import (
	"context"
	"fmt"

	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/diagnosis/staybook/services/auth/internal/domain"
	"github.com/diagnosis/staybook/services/auth/internal/repository"
)

type GuestService interface {
	// StartSession issues a guest token scoped to an email address so a
	// visitor can check out without an account.
	StartSession(ctx context.Context, req *domain.GuestSessionRequest) (*domain.TokenResponse, error)
}

type guestService struct {
	userRepo repository.UserRepository
	config   *config.Config
}

func NewGuestService(userRepo repository.UserRepository, config *config.Config) GuestService {
	return &guestService{userRepo: userRepo, config: config}
}

func (s *guestService) StartSession(ctx context.Context, req *domain.GuestSessionRequest) (*domain.TokenResponse, error) {
	// Normalize and validate
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Check if this email belongs to a registered user
	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to check for existing user", "error", err)
	}
	if user != nil {
		return nil, domain.ErrRegisteredEmail
	}

	// Generate guest session token
	token, err := auth.NewGuestSession(req.Email, req.Name, s.config.Auth.JWTSecret, s.config.Auth.GuestSessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create guest session: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.config.Auth.GuestSessionTTL.Seconds()),
		User:        &domain.UserInfo{Email: req.Email, Name: req.Name, Role: auth.RoleGuest},
	}, nil
}
