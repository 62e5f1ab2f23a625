package domain

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/diagnosis/staybook/pkg/auth"
)

var (
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")

	// ErrRegisteredEmail refuses guest sessions for emails that have an account.
	ErrRegisteredEmail = errors.New("this email belongs to an account, please sign in")
)

const MinPasswordLength = 8

type User struct {
	ID           int64     `json:"id"`
	Role         string    `json:"role"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GuestSessionRequest asks for a short-lived token to book without an account.
type GuestSessionRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	User        *UserInfo `json:"user"`
}

type UserInfo struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type UpdateUserRoleRequest struct {
	Role string `json:"role"`
}

// Roles a user may pick at registration. Admins are promoted by an admin.
var selfServiceRoles = map[string]bool{
	auth.RoleCustomer: true,
	auth.RoleOwner:    true,
}

var assignableRoles = map[string]bool{
	auth.RoleCustomer: true,
	auth.RoleOwner:    true,
	auth.RoleAdmin:    true,
}

func IsAssignableRole(role string) bool {
	return assignableRoles[role]
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func isValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

func (r *RegisterRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Name = strings.TrimSpace(r.Name)
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	if r.Role == "" {
		r.Role = auth.RoleCustomer
	}
}

func (r *RegisterRequest) Validate() error {
	v := &ValidationError{}
	if r.Email == "" {
		v.Add("email", "email is required")
	} else if !isValidEmail(r.Email) {
		v.Add("email", "invalid email format")
	}
	if len(r.Password) < MinPasswordLength {
		v.Add("password", "password must be at least 8 characters")
	}
	if r.Name == "" {
		v.Add("name", "name is required")
	}
	if !selfServiceRoles[r.Role] {
		v.Add("role", "role must be customer or owner")
	}
	return v.OrNil()
}

func (r *LoginRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

func (r *LoginRequest) Validate() error {
	v := &ValidationError{}
	if !isValidEmail(r.Email) {
		v.Add("email", "a valid email is required")
	}
	if r.Password == "" {
		v.Add("password", "password is required")
	}
	return v.OrNil()
}

func (r *GuestSessionRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Name = strings.TrimSpace(r.Name)
}

func (r *GuestSessionRequest) Validate() error {
	v := &ValidationError{}
	if !isValidEmail(r.Email) {
		v.Add("email", "a valid email is required")
	}
	return v.OrNil()
}

// ToUserInfo converts User to UserInfo (without sensitive data)
func (u *User) ToUserInfo() *UserInfo {
	return &UserInfo{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
	}
}

type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
