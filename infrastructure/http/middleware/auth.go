package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/triago/triago/infrastructure/http/response"
	"github.com/triago/triago/infrastructure/service/token"
)

type contextKey string

const AuthSubjectKey contextKey = "auth_subject"

type AuthMiddleware struct {
	tokenService *token.JWTService
}

func NewAuthMiddleware(tokenService *token.JWTService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

// RequireAuth rejects requests without a valid bearer token.
func (m *AuthMiddleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Unauthorized(w, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(w, "Invalid authorization header format")
			return
		}

		claims, err := m.tokenService.ValidateAccessToken(parts[1])
		if err != nil {
			response.Unauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), AuthSubjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
