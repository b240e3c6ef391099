package models

import (
	"strings"
	"time"
)

// Severity of a security event.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityHigh    Severity = "HIGH"
)

// Security event types recorded by the gatekeeping layer.
const (
	EventLoginSuccess              = "LOGIN_SUCCESS"
	EventLoginFailedMissing        = "LOGIN_FAILED_MISSING_CREDENTIALS"
	EventLoginFailedInvalid        = "LOGIN_FAILED_INVALID_CREDENTIALS"
	EventLoginFailedInactive       = "LOGIN_FAILED_INACTIVE_USER"
	EventLoginFailedJSON           = "LOGIN_FAILED_INVALID_JSON"
	EventLoginFailedMFARequired    = "LOGIN_FAILED_MFA_REQUIRED"
	EventMFAFailed                 = "MFA_FAILED"
	EventMFAEnabled                = "MFA_ENABLED"
	EventLogoutSuccess             = "LOGOUT_SUCCESS"
	EventTokenRefreshSuccess       = "TOKEN_REFRESH_SUCCESS"
	EventTokenRefreshFailed        = "TOKEN_REFRESH_FAILED"
	EventJWTMissing                = "JWT_MISSING"
	EventJWTInvalid                = "JWT_INVALID"
	EventJWTAuthError              = "JWT_AUTH_ERROR"
	EventPermissionDenied          = "PERMISSION_DENIED"
	EventAdminAccessDenied         = "ADMIN_ACCESS_DENIED"
	EventSensitiveAccess           = "SENSITIVE_ACCESS"
	EventAPIAccess                 = "API_ACCESS"
	EventAPIError                  = "API_ERROR"
	EventSuspiciousRequestBlocked  = "SUSPICIOUS_REQUEST_BLOCKED"
	EventRequestSizeViolation      = "REQUEST_SIZE_VIOLATION"
	EventRateLimitExceeded         = "RATE_LIMIT_EXCEEDED"
	EventBruteForceDetected        = "BRUTE_FORCE_DETECTED"
	EventDirectoryTraversalAttempt = "DIRECTORY_TRAVERSAL_ATTEMPT"
	EventSQLInjectionAttempt       = "SQL_INJECTION_ATTEMPT"
	EventIPNotWhitelisted          = "IP_NOT_WHITELISTED"
	EventBlockedIPAccess           = "BLOCKED_IP_ACCESS"
	EventIPBlocked                 = "IP_BLOCKED"
	EventIPUnblocked               = "IP_UNBLOCKED"
	EventSlowRequest               = "SLOW_REQUEST"
	EventUnauthorizedAccessAttempt = "UNAUTHORIZED_ACCESS_ATTEMPT"
	EventServerError               = "SERVER_ERROR"
	EventUnhandledException        = "UNHANDLED_EXCEPTION"
	EventSecurityAlert             = "SECURITY_ALERT"
)

// SecurityEvent is an immutable record of a notable request outcome.
type SecurityEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Hour      int64     `json:"hour"`
	EventType string    `json:"event_type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	IP        string    `json:"ip,omitempty"`
	User      string    `json:"user,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Path      string    `json:"path,omitempty"`
	Method    string    `json:"method,omitempty"`
	FactoryID int64     `json:"factory_id,omitempty"`
}

var knownSeverities = map[string]Severity{
	EventSlowRequest:               SeverityWarning,
	EventUnauthorizedAccessAttempt: SeverityWarning,
	EventRequestSizeViolation:      SeverityWarning,
	EventServerError:               SeverityHigh,
	EventUnhandledException:        SeverityHigh,
	EventAPIError:                  SeverityHigh,
	EventSecurityAlert:             SeverityHigh,
	EventJWTAuthError:              SeverityHigh,
	EventIPNotWhitelisted:          SeverityHigh,
}

var (
	infoSuffixes   = []string{"_SUCCESS", "_ACCESS", "_UNBLOCKED", "_ENABLED"}
	warningMarkers = []string{"_FAILED", "_INVALID", "_MISSING", "_DENIED", "_EXCEEDED", "_REQUIRED"}
	highSuffixes   = []string{"_BLOCKED", "_SUSPICIOUS", "_ATTACK", "_DETECTED", "_ATTEMPT"}
)

// ClassifySeverity derives a severity from the event type name.
// Unknown types are INFO.
func ClassifySeverity(eventType string) Severity {
	t := strings.ToUpper(eventType)
	if sev, ok := knownSeverities[t]; ok {
		return sev
	}
	for _, s := range highSuffixes {
		if strings.HasSuffix(t, s) {
			return SeverityHigh
		}
	}
	for _, m := range warningMarkers {
		if strings.Contains(t, m) {
			return SeverityWarning
		}
	}
	for _, s := range infoSuffixes {
		if strings.HasSuffix(t, s) {
			return SeverityInfo
		}
	}
	return SeverityInfo
}
