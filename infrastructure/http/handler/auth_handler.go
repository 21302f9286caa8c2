package handler

import (
	"encoding/json"
	"net/http"

	"github.com/triago/triago/infrastructure/http/response"
	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/infrastructure/service/password"
	"github.com/triago/triago/infrastructure/service/token"
)

// AuthHandler exchanges the configured dashboard credential for a bearer
// token.
type AuthHandler struct {
	tokenService    *token.JWTService
	passwordService *password.BcryptPasswordService
	username        string
	passwordHash    string
	logger          logger.Logger
}

func NewAuthHandler(tokenService *token.JWTService, passwordService *password.BcryptPasswordService, username, passwordHash string, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		tokenService:    tokenService,
		passwordService: passwordService,
		username:        username,
		passwordHash:    passwordHash,
		logger:          log,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		response.BadRequest(w, "Username and password are required")
		return
	}

	if req.Username != h.username {
		response.Unauthorized(w, "Invalid credentials")
		return
	}
	ok, err := h.passwordService.VerifyPassword(req.Password, h.passwordHash)
	if err != nil || !ok {
		h.logger.Warn(r.Context(), "dashboard login rejected", map[string]interface{}{
			"username": req.Username,
		})
		response.Unauthorized(w, "Invalid credentials")
		return
	}

	accessToken, err := h.tokenService.GenerateAccessToken(token.Claims{Subject: req.Username})
	if err != nil {
		h.logger.Error(r.Context(), "failed to issue access token", err, map[string]interface{}{})
		response.InternalServerError(w, "Failed to issue token")
		return
	}

	response.Success(w, http.StatusOK, "Login successful", loginResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
}
