package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims is the JWT payload for both access and refresh tokens.
// RefreshID links an access token to the refresh token it was minted from.
type TokenClaims struct {
	Type        string `json:"type"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	IsStaff     bool   `json:"is_staff,omitempty"`
	IsSuperuser bool   `json:"is_superuser,omitempty"`
	FactoryID   int64  `json:"factory_id"`
	RefreshID   string `json:"rid,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	Access  string
	Refresh string
}
