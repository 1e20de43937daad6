package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/codecollab/codecollab/internal/api/middleware"
)

// UserProfile represents the public profile response.
type UserProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	JoinedAt string `json:"joined_at"`
}

// GetUser handles public profile lookup.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return
	}

	user, err := h.db.GetUserByID(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.JSON(w, http.StatusOK, UserProfile{
		ID:       user.ID.String(),
		Name:     user.Name,
		JoinedAt: user.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}

// MeResponse is the signed-in user's own profile.
type MeResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	JoinedAt string `json:"joined_at"`
}

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	h.JSON(w, http.StatusOK, MeResponse{
		ID:       user.ID.String(),
		Email:    user.Email,
		Name:     user.Name,
		JoinedAt: user.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}
