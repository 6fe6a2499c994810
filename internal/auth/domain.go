package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Token validation errors.
var (
	ErrMissingToken  = errors.New("auth: bearer token missing")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrExpiredToken  = errors.New("auth: token has expired")
	ErrInvalidClaims = errors.New("auth: invalid token claims")
)

// Claims are the identity claims issued by the portal identity provider.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}
