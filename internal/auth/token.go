package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("auth token is missing")
	ErrTokenExpired = errors.New("auth token has expired")
)

// Claims are the fields a terminal reads from its session token. The token
// is verified by the backend; the terminal only inspects it.
type Claims struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	RestaurantID string `json:"restaurant_id"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the token payload without verifying its signature.
func ParseClaims(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse auth token: %w", err)
	}
	return claims, nil
}

// Expired reports whether the token's exp claim is at or before now. Tokens
// without an exp claim never expire.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(c.ExpiresAt.Time)
}

// CheckToken parses token and rejects it when expired.
func CheckToken(token string, now time.Time) (*Claims, error) {
	claims, err := ParseClaims(token)
	if err != nil {
		return nil, err
	}
	if claims.Expired(now) {
		return claims, ErrTokenExpired
	}
	return claims, nil
}

// Header returns request headers carrying the bearer token and device id.
func Header(token, deviceID string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	if deviceID != "" {
		h.Set("X-Device-ID", deviceID)
	}
	return h
}
