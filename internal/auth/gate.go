package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/crystals/internal/models"
)

// FailureKind classifies why authentication failed.
type FailureKind int

const (
	FailureMissing FailureKind = iota + 1
	FailureInvalid
	FailureInternal
)

func (k FailureKind) String() string {
	switch k {
	case FailureMissing:
		return "missing"
	case FailureInvalid:
		return "invalid"
	case FailureInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// AuthFailure is the typed result of a failed Authenticate call. Err holds
// the detail for server-side logs only.
type AuthFailure struct {
	Kind FailureKind
	Err  error
}

func (f *AuthFailure) Error() string {
	return fmt.Sprintf("authentication %s: %v", f.Kind, f.Err)
}

func (f *AuthFailure) Unwrap() error { return f.Err }

// Identity is an authenticated principal and the access token it presented.
type Identity struct {
	Principal *models.Principal
	Claims    *models.TokenClaims
}

// TokenBlacklist stores revoked token ids.
type TokenBlacklist interface {
	Revoke(ctx context.Context, jti string, userID int64, tokenType string, expiresAt time.Time, reason string) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// PrincipalLookup loads a principal by id.
type PrincipalLookup interface {
	GetByID(ctx context.Context, id int64) (*models.Principal, error)
}

// Gate verifies bearer access tokens.
type Gate struct {
	tm         *TokenManager
	blacklist  TokenBlacklist
	principals PrincipalLookup
	logger     *slog.Logger
}

func NewGate(tm *TokenManager, blacklist TokenBlacklist, principals PrincipalLookup, logger *slog.Logger) *Gate {
	return &Gate{tm: tm, blacklist: blacklist, principals: principals, logger: logger}
}

// BearerToken extracts the token from the Authorization header. It returns
// ok=false when no bearer credentials were presented.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// Authenticate accepts only a well-formed, unexpired, non-revoked access
// token whose refresh token is also still valid.
func (g *Gate) Authenticate(r *http.Request) (*Identity, *AuthFailure) {
	raw, ok := BearerToken(r)
	if !ok {
		return nil, &AuthFailure{Kind: FailureMissing, Err: models.ErrMissingCredentials}
	}
	if raw == "" {
		return nil, &AuthFailure{Kind: FailureInvalid, Err: fmt.Errorf("%w: empty bearer token", models.ErrInvalidToken)}
	}

	claims, err := g.tm.ValidateToken(raw)
	if err != nil {
		return nil, &AuthFailure{Kind: FailureInvalid, Err: err}
	}
	if claims.Type != models.TokenTypeAccess {
		return nil, &AuthFailure{Kind: FailureInvalid, Err: fmt.Errorf("%w: %s token used for access", models.ErrInvalidToken, claims.Type)}
	}

	ctx := r.Context()
	for _, jti := range []string{claims.ID, claims.RefreshID} {
		if jti == "" {
			continue
		}
		revoked, err := g.blacklist.IsRevoked(ctx, jti)
		if err != nil {
			return nil, g.internal("token blacklist lookup failed", err)
		}
		if revoked {
			return nil, &AuthFailure{Kind: FailureInvalid, Err: fmt.Errorf("%w: token %s revoked", models.ErrInvalidToken, jti)}
		}
	}

	p, err := g.principals.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, &AuthFailure{Kind: FailureInvalid, Err: fmt.Errorf("%w: principal %d not found", models.ErrInvalidToken, claims.UserID)}
		}
		return nil, g.internal("principal lookup failed", err)
	}
	if !p.IsActive {
		return nil, &AuthFailure{Kind: FailureInvalid, Err: fmt.Errorf("%w: principal %d inactive", models.ErrInvalidToken, p.ID)}
	}

	return &Identity{Principal: p, Claims: claims}, nil
}

func (g *Gate) internal(msg string, err error) *AuthFailure {
	g.logger.Error(msg, slog.Any("error", err))
	return &AuthFailure{Kind: FailureInternal, Err: fmt.Errorf("%w: %v", models.ErrAuthInternal, err)}
}
