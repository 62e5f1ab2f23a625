package handlers

import (
	"net/http"

	"github.com/diagnosis/staybook/pkg/httpx"
	"github.com/diagnosis/staybook/services/auth/internal/domain"
)

// GuestSession handles POST /guest/session
func (h *Handlers) GuestSession(w http.ResponseWriter, r *http.Request) {
	var req domain.GuestSessionRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.BadRequest(w, "Invalid JSON format")
		return
	}

	resp, err := h.guestService.StartSession(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err, "Failed to start guest session")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}
