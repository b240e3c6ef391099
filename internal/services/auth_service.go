package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/crystals/internal/auth"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/security"
	pkgauth "github.com/BradenHooton/crystals/pkg/auth"
)

// PrincipalRepository is the account storage used by AuthService.
type PrincipalRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Principal, error)
	GetByUsername(ctx context.Context, username string) (*models.Principal, error)
	Create(ctx context.Context, p *models.Principal) error
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	SetMFA(ctx context.Context, id int64, encryptedSecret string, enabled bool) error
}

// Credentials is a login or credential-check request.
type Credentials struct {
	Username string
	Password string
	OTP      string
}

// LoginResult is a successful login.
type LoginResult struct {
	Tokens    *models.TokenPair
	Principal *models.Principal
}

// RefreshResult is a newly minted access token.
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int64 // seconds
}

// AuthService implements the credential state transitions: login, refresh,
// logout and second-factor enrollment. Every outcome is recorded as a
// security event.
type AuthService struct {
	principals PrincipalRepository
	blacklist  auth.TokenBlacklist
	tm         *auth.TokenManager
	totp       *auth.TOTPManager
	timing     *auth.TimingDelay
	recorder   security.EventRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewAuthService creates a new AuthService. totp may be nil to disable MFA.
func NewAuthService(
	principals PrincipalRepository,
	blacklist auth.TokenBlacklist,
	tm *auth.TokenManager,
	totp *auth.TOTPManager,
	timing *auth.TimingDelay,
	recorder security.EventRecorder,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		principals: principals,
		blacklist:  blacklist,
		tm:         tm,
		totp:       totp,
		timing:     timing,
		recorder:   recorder,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *AuthService) record(ctx context.Context, eventType, message, username string) {
	ev := models.SecurityEvent{EventType: eventType, Message: message, User: username}
	security.FillFromClient(&ev, security.ClientFromContext(ctx))
	s.recorder.Record(ctx, ev)
}

// RejectMalformed records an undecodable login payload.
func (s *AuthService) RejectMalformed(ctx context.Context, cause error) error {
	s.record(ctx, models.EventLoginFailedJSON, "Login failed: malformed request body", "")
	s.logger.Info("login payload rejected", slog.Any("error", cause))
	return models.ErrMalformedPayload
}

// Login verifies credentials and issues an access/refresh pair.
func (s *AuthService) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	p, err := s.checkCredentials(ctx, creds)
	if err != nil {
		return nil, err
	}

	tokens, err := s.tm.IssuePair(p)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.Int64("user_id", p.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := s.now().UTC()
	if err := s.principals.UpdateLastLogin(ctx, p.ID, now); err != nil {
		s.logger.Warn("failed to update last login", slog.Int64("user_id", p.ID), slog.Any("error", err))
	} else {
		p.LastLogin = &now
	}

	s.record(ctx, models.EventLoginSuccess, fmt.Sprintf("User %s logged in", p.Username), p.Username)
	return &LoginResult{Tokens: tokens, Principal: p}, nil
}

// ValidateCredentials runs the login checks without issuing tokens.
func (s *AuthService) ValidateCredentials(ctx context.Context, creds Credentials) (*models.Principal, error) {
	p, err := s.checkCredentials(ctx, creds)
	if err != nil {
		return nil, err
	}
	s.record(ctx, models.EventLoginSuccess, fmt.Sprintf("Credentials validated for %s", p.Username), p.Username)
	return p, nil
}

// checkCredentials takes roughly constant time on every failure path and
// always runs a bcrypt comparison.
func (s *AuthService) checkCredentials(ctx context.Context, creds Credentials) (p *models.Principal, err error) {
	username := strings.TrimSpace(creds.Username)
	if username == "" || creds.Password == "" {
		s.record(ctx, models.EventLoginFailedMissing, "Login failed: username or password missing", username)
		return nil, models.ErrMissingCredentials
	}

	start := time.Now()
	defer func() {
		s.timing.WaitFrom(ctx, start, err == nil)
	}()

	p, err = s.principals.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to load principal", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		_ = pkgauth.CompareDummy(creds.Password)
		s.record(ctx, models.EventLoginFailedInvalid, "Login failed: invalid credentials", username)
		return nil, models.ErrInvalidCredentials
	}

	if err := pkgauth.ComparePassword(p.PasswordHash, creds.Password); err != nil {
		s.record(ctx, models.EventLoginFailedInvalid, "Login failed: invalid credentials", username)
		return nil, models.ErrInvalidCredentials
	}

	if !p.IsActive {
		s.record(ctx, models.EventLoginFailedInactive, "Login failed: account disabled", username)
		return nil, models.ErrInactiveAccount
	}

	if p.MFAEnabled {
		if err := s.checkOTP(ctx, p, creds.OTP); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *AuthService) checkOTP(ctx context.Context, p *models.Principal, code string) error {
	if s.totp == nil {
		s.logger.Error("principal has mfa enabled but no encryption key is configured", slog.Int64("user_id", p.ID))
		return models.ErrMFANotConfigured
	}
	code = strings.TrimSpace(code)
	if code == "" {
		s.record(ctx, models.EventLoginFailedMFARequired, "Login failed: one-time code required", p.Username)
		return models.ErrMFARequired
	}
	ok, err := s.totp.Validate(p.MFASecret, code, s.now())
	if err != nil {
		s.logger.Error("failed to validate one-time code", slog.Int64("user_id", p.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !ok {
		s.record(ctx, models.EventMFAFailed, "Login failed: invalid one-time code", p.Username)
		return models.ErrInvalidCredentials
	}
	return nil
}

// Refresh mints a new access token from a valid, non-revoked refresh token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := s.parseRefresh(refreshToken)
	if err != nil {
		s.record(ctx, models.EventTokenRefreshFailed, "Token refresh failed: "+err.Error(), "")
		return nil, models.ErrInvalidRefreshToken
	}

	revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error("token blacklist lookup failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if revoked {
		s.record(ctx, models.EventTokenRefreshFailed, "Token refresh failed: token revoked", claims.Username)
		return nil, models.ErrInvalidRefreshToken
	}

	p, err := s.principals.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.record(ctx, models.EventTokenRefreshFailed, "Token refresh failed: unknown user", claims.Username)
			return nil, models.ErrInvalidRefreshToken
		}
		s.logger.Error("failed to load principal for refresh", slog.Int64("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !p.IsActive {
		s.record(ctx, models.EventTokenRefreshFailed, "Token refresh failed: account disabled", p.Username)
		return nil, models.ErrInvalidRefreshToken
	}

	access, err := s.tm.IssueAccess(p, claims.ID)
	if err != nil {
		s.logger.Error("failed to issue access token", slog.Int64("user_id", p.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.record(ctx, models.EventTokenRefreshSuccess, "Access token refreshed", p.Username)
	return &RefreshResult{
		AccessToken: access,
		ExpiresIn:   int64(s.tm.AccessTokenExpiry() / time.Second),
	}, nil
}

func (s *AuthService) parseRefresh(raw string) (*models.TokenClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("token missing")
	}
	claims, err := s.tm.ValidateToken(raw)
	if err != nil {
		return nil, errors.New("token invalid or expired")
	}
	if claims.Type != models.TokenTypeRefresh {
		return nil, errors.New("not a refresh token")
	}
	return claims, nil
}

// Logout revokes the refresh token, and with it every access token minted
// from it. Repeating it is harmless, and a blacklist outage is logged but
// does not fail the call.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.parseRefresh(refreshToken)
	if err != nil {
		return models.ErrInvalidRefreshToken
	}

	expiresAt := s.now().Add(24 * time.Hour)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := s.blacklist.Revoke(ctx, claims.ID, claims.UserID, models.TokenTypeRefresh, expiresAt, "logout"); err != nil {
		s.logger.Warn("failed to blacklist refresh token on logout",
			slog.Int64("user_id", claims.UserID),
			slog.Any("error", err),
		)
	}

	s.record(ctx, models.EventLogoutSuccess, fmt.Sprintf("User %s logged out", claims.Username), claims.Username)
	return nil
}

// MFAEnabled reports whether enrollment is available.
func (s *AuthService) MFAEnabled() bool {
	return s.totp != nil
}

// EnrollMFA generates and stores a new, not yet enforced, second factor.
func (s *AuthService) EnrollMFA(ctx context.Context, p *models.Principal) (*auth.Enrollment, error) {
	if s.totp == nil {
		return nil, models.ErrMFANotConfigured
	}
	if p.MFAEnabled {
		return nil, fmt.Errorf("%w: mfa already enabled", models.ErrConflict)
	}

	e, err := s.totp.Enroll(p.Username)
	if err != nil {
		s.logger.Error("failed to generate mfa secret", slog.Int64("user_id", p.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if err := s.principals.SetMFA(ctx, p.ID, e.EncryptedSecret, false); err != nil {
		s.logger.Error("failed to store mfa secret", slog.Int64("user_id", p.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return e, nil
}

// ConfirmMFA enforces the enrolled factor once the user proves possession.
func (s *AuthService) ConfirmMFA(ctx context.Context, p *models.Principal, code string) error {
	if s.totp == nil {
		return models.ErrMFANotConfigured
	}
	if p.MFAEnabled {
		return fmt.Errorf("%w: mfa already enabled", models.ErrConflict)
	}
	if p.MFASecret == "" {
		return fmt.Errorf("%w: no pending enrollment", models.ErrBadRequest)
	}

	ok, err := s.totp.Validate(p.MFASecret, strings.TrimSpace(code), s.now())
	if err != nil {
		s.logger.Error("failed to validate one-time code", slog.Int64("user_id", p.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !ok {
		s.record(ctx, models.EventMFAFailed, "MFA confirmation failed: invalid one-time code", p.Username)
		return models.ErrInvalidCredentials
	}

	if err := s.principals.SetMFA(ctx, p.ID, p.MFASecret, true); err != nil {
		s.logger.Error("failed to enable mfa", slog.Int64("user_id", p.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	s.record(ctx, models.EventMFAEnabled, fmt.Sprintf("MFA enabled for %s", p.Username), p.Username)
	return nil
}

// BootstrapSuperuser creates the initial administrator if it does not
// exist yet.
func (s *AuthService) BootstrapSuperuser(ctx context.Context, username, password string, factoryID int64) error {
	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("bootstrap password: %w", err)
	}
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return err
	}

	p := &models.Principal{
		Username:     username,
		PasswordHash: hash,
		IsStaff:      true,
		IsSuperuser:  true,
		IsActive:     true,
		FactoryID:    factoryID,
	}
	err = s.principals.Create(ctx, p)
	if errors.Is(err, models.ErrConflict) {
		s.logger.Info("bootstrap superuser already exists", slog.String("username", username))
		return nil
	}
	if err != nil {
		return fmt.Errorf("create bootstrap superuser: %w", err)
	}
	s.logger.Info("bootstrap superuser created", slog.String("username", username), slog.Int64("user_id", p.ID))
	return nil
}
