package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/codecollab/codecollab/internal/crypto"
	"github.com/codecollab/codecollab/internal/models"
	"github.com/codecollab/codecollab/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware handles bearer token verification for authenticated endpoints.
type AuthMiddleware struct {
	users  store.DataStore
	tokens *crypto.TokenIssuer
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(users store.DataStore, tokens *crypto.TokenIssuer) *AuthMiddleware {
	return &AuthMiddleware{users: users, tokens: tokens}
}

// RequireAuth middleware verifies the session token and loads its user.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := m.tokens.Verify(token)
		if err != nil {
			if err == crypto.ErrTokenExpired {
				jsonError(w, http.StatusUnauthorized, "token expired")
				return
			}
			jsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid token subject")
			return
		}

		// The account must still exist
		user, err := m.users.GetUserByID(r.Context(), userID)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "database error")
			return
		}
		if user == nil {
			jsonError(w, http.StatusUnauthorized, "user not found")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
