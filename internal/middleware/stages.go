package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/BradenHooton/crystals/internal/auth"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/security"
)

func client(r *http.Request) *security.ClientContext {
	if cc := security.ClientFromContext(r.Context()); cc != nil {
		return cc
	}
	return &security.ClientContext{IP: "unknown"}
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimRight(p, "/")+"/") {
			return true
		}
	}
	return false
}

// Whitelist rejects callers outside the configured addresses. An empty
// whitelist admits everyone.
func Whitelist(wl *security.Whitelist) Stage {
	return NewStage("whitelist", func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection) {
		ip := client(r).IP
		if wl.Allows(ip) {
			return r, nil
		}
		return nil, &Rejection{
			Status: http.StatusForbidden,
			Code:   "ip_not_whitelisted",
			Error:  "Access denied",
			Event:  models.EventIPNotWhitelisted,
			Detail: fmt.Sprintf("Request from non-whitelisted IP %s", ip),
		}
	})
}

// BlockedIP rejects blocked callers. With prefixes it only guards paths
// under them; exclude skips paths already guarded elsewhere.
func BlockedIP(blocks *security.BlockRegistry, prefixes, exclude []string) Stage {
	name := "blocked_ip"
	if len(prefixes) > 0 {
		name = "admin_ip_block"
	}
	return NewStage(name, func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection) {
		if len(prefixes) > 0 && !hasPrefix(r.URL.Path, prefixes) {
			return r, nil
		}
		if hasPrefix(r.URL.Path, exclude) {
			return r, nil
		}
		ip := client(r).IP
		if !blocks.IsBlocked(r.Context(), ip) {
			return r, nil
		}
		return nil, &Rejection{
			Status: http.StatusForbidden,
			Code:   "ip_blocked",
			Error:  "Your IP address has been blocked",
			Event:  models.EventBlockedIPAccess,
			Detail: fmt.Sprintf("Blocked IP %s attempted to access %s", ip, r.URL.Path),
		}
	})
}

func ThreatScan() Stage {
	return NewStage("threat_scan", func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection) {
		reason, hit := security.SuspiciousRequest(r.URL.Path, r.URL.RawQuery, r.UserAgent())
		if !hit {
			return r, nil
		}
		return nil, &Rejection{
			Status: http.StatusForbidden,
			Code:   "suspicious_request",
			Error:  "Request blocked",
			Event:  models.EventSuspiciousRequestBlocked,
			Detail: reason,
		}
	})
}

// RequestSize rejects declared bodies over max and caps the rest.
func RequestSize(max int64) Stage {
	return NewStage("request_size", func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection) {
		declared := r.Header.Get("Content-Length")
		if declared == "" && r.ContentLength > 0 {
			declared = strconv.FormatInt(r.ContentLength, 10)
		}
		if reason, bad := security.ContentLengthViolation(declared, max); bad {
			return nil, &Rejection{
				Status: http.StatusRequestEntityTooLarge,
				Code:   "request_too_large",
				Error:  "Request entity too large",
				Event:  models.EventRequestSizeViolation,
				Detail: reason,
			}
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		return r, nil
	})
}

// BruteForce locks login-like paths for callers at the failed-attempt
// threshold, before any credentials are parsed.
func BruteForce(failed *security.FailedLoginCounter, isLoginPath func(string) bool) Stage {
	return NewStage("brute_force", func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection) {
		if !isLoginPath(r.URL.Path) {
			return r, nil
		}
		ip := client(r).IP
		if !failed.Locked(r.Context(), ip) {
			return r, nil
		}
		return nil, &Rejection{
			Status: http.StatusTooManyRequests,
			Code:   "brute_force_detected",
			Error:  "Too many failed login attempts. Please try again later.",
			Event:  models.EventBruteForceDetected,
			Detail: fmt.Sprintf("Brute force lockout for %s after %d failed attempts", ip, failed.Threshold()),
		}
	})
}

func DirectoryTraversal() Stage {
	return NewStage("directory_traversal", func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection) {
		if !security.DirectoryTraversal(r.URL.Path, r.URL.RawPath) {
			return r, nil
		}
		return nil, &Rejection{
			Status: http.StatusBadRequest,
			Code:   "invalid_path",
			Error:  "Invalid request path",
			Event:  models.EventDirectoryTraversalAttempt,
			Detail: fmt.Sprintf("Directory traversal attempt: %s", r.URL.EscapedPath()),
		}
	})
}

func SQLInjection() Stage {
	return NewStage("sql_injection", func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection) {
		pattern, hit := security.SQLInjection(r.URL.RawQuery)
		if !hit {
			return r, nil
		}
		return nil, &Rejection{
			Status: http.StatusBadRequest,
			Code:   "invalid_query",
			Error:  "Invalid request parameters",
			Event:  models.EventSQLInjectionAttempt,
			Detail: fmt.Sprintf("SQL injection pattern in query: %s", pattern),
		}
	})
}

// RateLimit consumes one slot from limiter and reports the window state
// in X-RateLimit headers.
func RateLimit(limiter *security.RateLimiter) Stage {
	return NewStage("rate_limit_"+limiter.Scope(), func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection) {
		ip := client(r).IP
		d := limiter.Consume(r.Context(), ip)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		if d.Allowed {
			return r, nil
		}

		h.Set("Retry-After", strconv.Itoa(int(d.RetryAfter(limiter.Now()).Seconds())))
		return nil, &Rejection{
			Status: http.StatusTooManyRequests,
			Code:   "rate_limit_exceeded",
			Error:  "Rate limit exceeded. Please try again later.",
			Event:  models.EventRateLimitExceeded,
			Detail: fmt.Sprintf("Rate limit exceeded for %s (%s: %d/%d)", ip, limiter.Scope(), d.Count, d.Limit),
		}
	})
}

// AuthMode selects how authentication failures are reported.
type AuthMode int

const (
	// AuthUser answers failures with 401.
	AuthUser AuthMode = iota
	// AuthAdmin answers every failure with 403 admin_required.
	AuthAdmin
)

// Authenticate runs the auth gate and stores the identity in the request
// context. The failure event is recorded in both modes.
func Authenticate(gate *auth.Gate, mode AuthMode) Stage {
	return NewStage("authenticate", func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection) {
		id, failure := gate.Authenticate(r)
		if failure != nil {
			rej := authRejection(failure)
			if mode == AuthAdmin {
				rej.Status = http.StatusForbidden
				rej.Code = "admin_required"
				rej.Error = "Administrator access required"
			}
			return nil, rej
		}

		client(r).Username = id.Principal.Username
		return r.WithContext(auth.WithIdentity(r.Context(), id)), nil
	})
}

func authRejection(f *auth.AuthFailure) *Rejection {
	switch f.Kind {
	case auth.FailureMissing:
		return &Rejection{
			Status: http.StatusUnauthorized,
			Code:   "authentication_required",
			Error:  "Authentication credentials were not provided",
			Event:  models.EventJWTMissing,
			Detail: "No bearer token provided",
		}
	case auth.FailureInvalid:
		return &Rejection{
			Status: http.StatusUnauthorized,
			Code:   "token_invalid",
			Error:  "Invalid or expired token",
			Event:  models.EventJWTInvalid,
			Detail: f.Err.Error(),
		}
	default:
		return &Rejection{
			Status: http.StatusUnauthorized,
			Code:   "authentication_failed",
			Error:  "Authentication failed",
			Event:  models.EventJWTAuthError,
			Detail: "Token verification error",
		}
	}
}

// Permit checks the authenticated principal against required.
func Permit(required auth.Capability) Stage {
	gate := auth.PermissionGate{}
	return NewStage("permission", func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection) {
		p := auth.PrincipalFromContext(r.Context())
		decision := gate.Check(p, required)
		if decision.Allowed {
			return r, nil
		}

		if required == auth.CapabilitySuperuser && p != nil {
			return nil, &Rejection{
				Status: http.StatusForbidden,
				Code:   "admin_required",
				Error:  "Administrator access required",
				Event:  models.EventAdminAccessDenied,
				Detail: fmt.Sprintf("Non-superuser %s denied access to %s", p.Username, r.URL.Path),
			}
		}
		return nil, &Rejection{
			Status: http.StatusForbidden,
			Code:   "permission_denied",
			Error:  "You do not have permission to perform this action",
			Event:  models.EventPermissionDenied,
			Detail: fmt.Sprintf("Permission denied for %s: %v", r.URL.Path, decision.Reason),
		}
	})
}

// RequireSuperuser is Permit(auth.CapabilitySuperuser).
func RequireSuperuser() Stage {
	return Permit(auth.CapabilitySuperuser)
}

// Audit records eventType for every request that reaches it and never
// rejects.
func Audit(recorder security.EventRecorder, eventType, message string) Stage {
	return NewStage("audit", func(w http.ResponseWriter, r *http.Request) (*http.Request, *Rejection) {
		ev := models.SecurityEvent{EventType: eventType, Message: fmt.Sprintf("%s: %s %s", message, r.Method, r.URL.Path)}
		security.FillFromClient(&ev, security.ClientFromContext(r.Context()))
		recorder.Record(r.Context(), ev)
		return r, nil
	})
}
