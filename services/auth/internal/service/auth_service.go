package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/diagnosis/staybook/services/auth/internal/domain"
	"github.com/diagnosis/staybook/services/auth/internal/repository"
)

type AuthService interface {
	Register(ctx context.Context, req *domain.RegisterRequest) (*domain.TokenResponse, error)
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.TokenResponse, error)
	Me(ctx context.Context, caller *auth.Claims) (*domain.UserInfo, error)
	ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error)
	UpdateUserRole(ctx context.Context, userID int64, role string) error
}

type authService struct {
	userRepo repository.UserRepository
	config   *config.Config
	params   *argon2id.Params
}

func NewAuthService(userRepo repository.UserRepository, config *config.Config) AuthService {
	return &authService{
		userRepo: userRepo,
		config:   config,
		params:   argon2id.DefaultParams,
	}
}

func (s *authService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.TokenResponse, error) {
	// Normalize and validate
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Check if user already exists
	existing, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrEmailTaken
	}

	// Hash password
	passwordHash, err := argon2id.CreateHash(req.Password, s.params)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// Create user
	user, err := s.userRepo.Create(ctx, req, passwordHash)
	if err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	// Link bookings made earlier as a guest
	if n, err := s.userRepo.LinkGuestBookings(ctx, user.ID, user.Email); err != nil {
		logger.WarnContext(ctx, "Failed to link guest bookings", "error", err, "user_id", user.ID)
	} else if n > 0 {
		logger.InfoContext(ctx, "Linked guest bookings", "user_id", user.ID, "count", n)
	}

	logger.InfoContext(ctx, "User registered", "user_id", user.ID, "role", user.Role)
	return s.issue(user)
}

func (s *authService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.TokenResponse, error) {
	// Normalize and validate
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Find user
	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrInvalidCredentials
	}

	// Verify password
	valid, err := argon2id.ComparePasswordAndHash(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, domain.ErrInvalidCredentials
	}

	return s.issue(user)
}

func (s *authService) Me(ctx context.Context, caller *auth.Claims) (*domain.UserInfo, error) {
	if caller.Role == auth.RoleGuest {
		return &domain.UserInfo{Email: caller.Email, Name: caller.Name, Role: caller.Role}, nil
	}

	user, err := s.userRepo.FindByID(ctx, caller.Sub)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return user.ToUserInfo(), nil
}

func (s *authService) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	users, err := s.userRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *authService) UpdateUserRole(ctx context.Context, userID int64, role string) error {
	if !domain.IsAssignableRole(role) {
		v := &domain.ValidationError{}
		v.Add("role", "unknown role")
		return v
	}
	return s.userRepo.UpdateRole(ctx, userID, role)
}

func (s *authService) issue(user *domain.User) (*domain.TokenResponse, error) {
	token, err := auth.NewAccessToken(
		user.ID,
		user.Email,
		user.Name,
		user.Role,
		s.config.Auth.JWTSecret,
		s.config.Auth.AccessTokenTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.config.Auth.AccessTokenTTL.Seconds()),
		User:        user.ToUserInfo(),
	}, nil
}
