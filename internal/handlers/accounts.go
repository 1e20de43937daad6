package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/codecollab/codecollab/internal/crypto"
	"github.com/codecollab/codecollab/internal/metrics"
	"github.com/codecollab/codecollab/internal/store"
)

const minPasswordLength = 8

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
}

// RegisterResponse represents the registration response.
type RegisterResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        string `json:"user"`
}

// Register handles new user registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		h.Error(w, http.StatusBadRequest, "email is required")
		return
	}
	if !isValidEmail(email) {
		h.Error(w, http.StatusBadRequest, "invalid email format")
		return
	}

	existing, err := h.db.GetUserByEmail(r.Context(), email)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if existing != nil {
		h.Error(w, http.StatusConflict, "user is already registered")
		return
	}

	var passwordHash string
	if req.Password != "" {
		if len(req.Password) < minPasswordLength {
			h.Error(w, http.StatusBadRequest, "password must be at least 8 characters")
			return
		}
		passwordHash, err = crypto.HashPassword(req.Password)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to hash password")
			return
		}
	}

	// The display name defaults to the email
	name := sanitizeName(req.Name)
	if name == "" {
		name = email
	}

	user, err := h.db.CreateUser(r.Context(), email, name, passwordHash)
	if errors.Is(err, store.ErrDuplicateEmail) {
		// lost a race with a concurrent registration
		h.Error(w, http.StatusConflict, "user is already registered")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	metrics.UsersRegistered.Inc()

	h.JSON(w, http.StatusCreated, RegisterResponse{OK: true, ID: user.ID.String()})
}

// Login exchanges credentials for a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := h.db.GetUserByEmail(r.Context(), email)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		metrics.LoginsTotal.WithLabelValues("denied").Inc()
		h.Error(w, http.StatusUnauthorized, "no account for this email")
		return
	}
	if user.HasPassword() && !crypto.CheckPassword(user.PasswordHash, req.Password) {
		metrics.LoginsTotal.WithLabelValues("denied").Inc()
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(user.ID.String(), user.Email, user.Name)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	metrics.LoginsTotal.WithLabelValues("ok").Inc()

	h.JSON(w, http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		User:        user.Name,
	})
}
