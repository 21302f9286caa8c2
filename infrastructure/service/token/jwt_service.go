// Package token issues and validates the bearer tokens protecting the
// dashboard API.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims carried by an access token.
type Claims struct {
	Subject string
}

// JWTService signs HS256 access tokens for dashboard clients.
type JWTService struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTService creates a token service; secret must be non-empty.
func NewJWTService(secret string, ttl time.Duration) (*JWTService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWTService{secret: []byte(secret), ttl: ttl}, nil
}

// GenerateAccessToken signs a token for the given subject.
func (s *JWTService) GenerateAccessToken(claims Claims) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  claims.Subject,
		"iat":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
		"type": "access",
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return tokenString, nil
}

// ValidateAccessToken parses and verifies a token string.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	subject, ok := mapClaims["sub"].(string)
	if !ok || subject == "" {
		return nil, ErrInvalidToken
	}
	return &Claims{Subject: subject}, nil
}
