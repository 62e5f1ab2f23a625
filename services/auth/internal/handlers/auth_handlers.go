package handlers

import (
	"net/http"
	"strconv"

	"github.com/diagnosis/staybook/pkg/httpx"
	mw "github.com/diagnosis/staybook/pkg/middleware"
	"github.com/diagnosis/staybook/services/auth/internal/domain"
	"github.com/go-chi/chi/v5"
)

// Register handles POST /register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.BadRequest(w, "Invalid JSON format")
		return
	}

	resp, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err, "Registration failed")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

// Login handles POST /login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.BadRequest(w, "Invalid JSON format")
		return
	}

	resp, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err, "Login failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Me handles GET /me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	info, err := h.authService.Me(r.Context(), mw.ClaimsFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, "Failed to load user")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, info)
}

// ListUsers handles GET /admin/users
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := httpx.Pagination(r)

	users, err := h.authService.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list users")
		return
	}

	// Convert to user info (without sensitive data)
	infos := make([]*domain.UserInfo, len(users))
	for i := range users {
		infos[i] = users[i].ToUserInfo()
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users":  infos,
		"limit":  limit,
		"offset": offset,
	})
}

// UpdateUserRole handles PATCH /admin/users/{id}/role
func (h *Handlers) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.BadRequest(w, "Invalid user ID")
		return
	}

	var req domain.UpdateUserRoleRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.BadRequest(w, "Invalid JSON format")
		return
	}

	if err := h.authService.UpdateUserRole(r.Context(), id, req.Role); err != nil {
		writeServiceError(w, r, err, "Failed to update role")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "User role updated successfully",
	})
}
