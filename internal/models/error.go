package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Authentication and authorization failures
var (
	ErrMissingCredentials  = errors.New("authentication credentials were not provided")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInactiveAccount     = errors.New("account is disabled")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrMalformedPayload    = errors.New("malformed request payload")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrAuthInternal        = errors.New("authentication failed")
	ErrMFARequired         = errors.New("one-time code required")
	ErrMFANotConfigured    = errors.New("mfa is not configured")
)
