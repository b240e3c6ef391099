package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/crystals/pkg/http"
	"github.com/go-chi/httprate"
)

// OpsRateLimit throttles operational endpoints (health, metrics) that sit
// outside the request pipeline. Keys come from the same trusted-proxy
// aware resolver the pipeline uses.
func OpsRateLimit(requestsPerMinute int, ips *pkghttp.IPResolver) func(next http.Handler) http.Handler {
	if requestsPerMinute < 1 {
		requestsPerMinute = 60
	}
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ips.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
		}),
	)
}
