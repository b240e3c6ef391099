// Package security implements the request gatekeeping state: client
// resolution, the security event recorder, alerting, IP blocking, rate
// limiting and brute-force counters.
package security

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	pkghttp "github.com/BradenHooton/crystals/pkg/http"
	"github.com/go-chi/chi/v5/middleware"
)

// FactoryHeader carries the tenant discriminator.
const FactoryHeader = "X-Factory-Id"

// ClientContext is everything the gates know about the caller. Username
// is filled in once authentication succeeds.
type ClientContext struct {
	IP        string
	UserAgent string
	FactoryID int64
	Path      string
	Method    string
	RequestID string
	Username  string
}

type clientKey struct{}

// ClientResolver builds a ClientContext from a raw request.
type ClientResolver struct {
	ips              *pkghttp.IPResolver
	defaultFactoryID int64
}

func NewClientResolver(ips *pkghttp.IPResolver, defaultFactoryID int64) *ClientResolver {
	if ips == nil {
		ips, _ = pkghttp.NewIPResolver(nil)
	}
	if defaultFactoryID <= 0 {
		defaultFactoryID = 1
	}
	return &ClientResolver{ips: ips, defaultFactoryID: defaultFactoryID}
}

func (cr *ClientResolver) Resolve(r *http.Request) *ClientContext {
	ua := strings.TrimSpace(r.UserAgent())
	if ua == "" {
		ua = "Unknown"
	}
	return &ClientContext{
		IP:        cr.ips.ClientIP(r),
		UserAgent: ua,
		FactoryID: cr.factoryID(r.Header.Get(FactoryHeader)),
		Path:      r.URL.Path,
		Method:    r.Method,
		RequestID: middleware.GetReqID(r.Context()),
	}
}

// factoryID parses the tenant header; anything that is not a positive
// integer falls back to the default.
func (cr *ClientResolver) factoryID(raw string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return cr.defaultFactoryID
	}
	return id
}

// WithClient stores cc in ctx.
func WithClient(ctx context.Context, cc *ClientContext) context.Context {
	return context.WithValue(ctx, clientKey{}, cc)
}

// ClientFromContext returns the resolved client, or nil outside the pipeline.
func ClientFromContext(ctx context.Context) *ClientContext {
	cc, _ := ctx.Value(clientKey{}).(*ClientContext)
	return cc
}

// FactoryIDFromContext returns the tenant id for the request, or 0.
func FactoryIDFromContext(ctx context.Context) int64 {
	if cc := ClientFromContext(ctx); cc != nil {
		return cc.FactoryID
	}
	return 0
}
