package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/crystals/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	secret             []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	now                func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             []byte(secret),
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		now:                time.Now,
	}
}

// SetClock replaces the clock used for issuing and validating tokens.
func (tm *TokenManager) SetClock(now func() time.Time) {
	tm.now = now
}

// AccessTokenExpiry is the lifetime of an access token.
func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

// IssuePair creates a refresh token and an access token linked to it.
func (tm *TokenManager) IssuePair(p *models.Principal) (*models.TokenPair, error) {
	refreshJTI := uuid.New().String()
	now := tm.now()

	refreshClaims := &models.TokenClaims{
		Type:      models.TokenTypeRefresh,
		UserID:    p.ID,
		Username:  p.Username,
		FactoryID: p.FactoryID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        refreshJTI,
			Subject:   strconv.FormatInt(p.ID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.refreshTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	refresh, err := tm.sign(refreshClaims)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	access, err := tm.IssueAccess(p, refreshJTI)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{Access: access, Refresh: refresh}, nil
}

// IssueAccess creates a short-lived access token minted from the refresh
// token identified by refreshJTI.
func (tm *TokenManager) IssueAccess(p *models.Principal, refreshJTI string) (string, error) {
	now := tm.now()
	claims := &models.TokenClaims{
		Type:        models.TokenTypeAccess,
		UserID:      p.ID,
		Username:    p.Username,
		IsStaff:     p.IsStaff,
		IsSuperuser: p.IsSuperuser,
		FactoryID:   p.FactoryID,
		RefreshID:   refreshJTI,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.FormatInt(p.ID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token, err := tm.sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return token, nil
}

func (tm *TokenManager) sign(claims *models.TokenClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

// ValidateToken verifies a token and returns its claims. Every failure
// wraps models.ErrInvalidToken.
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, models.ErrInvalidToken
	}

	if claims.Type != models.TokenTypeAccess && claims.Type != models.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: unknown token type %q", models.ErrInvalidToken, claims.Type)
	}
	if claims.ID == "" || claims.UserID == 0 {
		return nil, fmt.Errorf("%w: missing identity claims", models.ErrInvalidToken)
	}

	return claims, nil
}
