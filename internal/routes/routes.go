package routes

import (
	"net/http"

	"github.com/BradenHooton/crystals/internal/auth"
	"github.com/BradenHooton/crystals/internal/handlers"
	"github.com/BradenHooton/crystals/internal/metrics"
	"github.com/BradenHooton/crystals/internal/middleware"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/security"
	pkghttp "github.com/BradenHooton/crystals/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Limiters are the strict per-endpoint limiters layered on top of the
// general one in the pipeline.
type Limiters struct {
	Login       *security.RateLimiter
	Refresh     *security.RateLimiter
	Sensitive   *security.RateLimiter
	AdminWrite  *security.RateLimiter
	Destructive *security.RateLimiter
}

// Dependencies is everything RegisterRoutes mounts.
type Dependencies struct {
	Pipeline  *middleware.Pipeline
	Gate      *auth.Gate
	Recorder  security.EventRecorder
	Limiters  Limiters
	Auth      *handlers.AuthHandler
	MFA       *handlers.MFAHandler
	Security  *handlers.SecurityHandler
	Resources *handlers.ResourceHandler

	// Operational endpoints sit outside the pipeline.
	Health       http.HandlerFunc
	IPs          *pkghttp.IPResolver
	OpsRateLimit int
	Env          string
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, d Dependencies) {
	router.Group(func(r chi.Router) {
		r.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: d.Env}))
		r.Use(middleware.OpsRateLimit(d.OpsRateLimit, d.IPs))
		if d.Health != nil {
			r.Get("/health", d.Health)
		}
		r.Handle("/metrics", metrics.Handler())
	})

	p := d.Pipeline
	authenticated := p.Require(middleware.Authenticate(d.Gate, middleware.AuthUser), middleware.Permit(auth.CapabilityAuthenticated))
	sensitive := func(l *security.RateLimiter) func(http.Handler) http.Handler {
		return p.Require(middleware.RateLimit(l), middleware.Audit(d.Recorder, models.EventSensitiveAccess, "Sensitive endpoint"))
	}

	router.Group(func(r chi.Router) {
		r.Use(p.Handler)

		// Public credential endpoints
		r.With(p.Require(middleware.RateLimit(d.Limiters.Login))).Post("/auth/login", d.Auth.Login)
		r.With(p.Require(middleware.RateLimit(d.Limiters.Login))).Post("/user/validate", d.Auth.ValidateUser)
		r.With(p.Require(middleware.RateLimit(d.Limiters.Refresh))).Post("/auth/refresh", d.Auth.Refresh)
		r.With(sensitive(d.Limiters.Sensitive)).Post("/auth/logout", d.Auth.Logout)

		// Any authenticated principal
		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Get("/auth/verify", d.Auth.Verify)
			r.Get("/auth/profile", d.Auth.Profile)
			r.With(sensitive(d.Limiters.Sensitive)).Post("/auth/mfa/enroll", d.MFA.Enroll)
			r.With(sensitive(d.Limiters.Sensitive)).Post("/auth/mfa/confirm", d.MFA.Confirm)

			r.Route("/api/{resource}", func(r chi.Router) {
				r.Use(p.Require(middleware.Audit(d.Recorder, models.EventAPIAccess, "API access")))
				r.Get("/", d.Resources.List)
				r.Post("/", d.Resources.Create)
				r.Get("/{id}", d.Resources.Get)
				r.Patch("/{id}", d.Resources.Update)
				r.With(p.Require(middleware.RateLimit(d.Limiters.Destructive))).Delete("/{id}", d.Resources.Delete)
			})
		})

		// Superusers only; failures answer 403 admin_required
		r.Route("/security", func(r chi.Router) {
			r.Use(p.Require(middleware.Authenticate(d.Gate, middleware.AuthAdmin), middleware.RequireSuperuser()))
			r.Get("/dashboard", d.Security.Dashboard)
			r.Post("/dashboard", d.Security.Dashboard)
			r.Get("/logs", d.Security.Logs)
			r.With(sensitive(d.Limiters.AdminWrite)).Post("/block-ip", d.Security.BlockIP)
			r.With(sensitive(d.Limiters.AdminWrite)).Post("/unblock-ip", d.Security.UnblockIP)
		})
	})
}
