package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/crystals/internal/auth"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/security"
	"github.com/BradenHooton/crystals/internal/store"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "pipeline-test-secret-0123456789abcdef"

type captureRecorder struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (c *captureRecorder) Record(_ context.Context, ev models.SecurityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureRecorder) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func (c *captureRecorder) last(eventType string) *models.SecurityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].EventType == eventType {
			ev := c.events[i]
			return &ev
		}
	}
	return nil
}

type MockBlacklist struct {
	IsRevokedFunc func(ctx context.Context, jti string) (bool, error)
}

func (m *MockBlacklist) Revoke(context.Context, string, int64, string, time.Time, string) error {
	return nil
}

func (m *MockBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if m.IsRevokedFunc != nil {
		return m.IsRevokedFunc(ctx, jti)
	}
	return false, nil
}

type principalMap map[int64]*models.Principal

func (m principalMap) GetByID(_ context.Context, id int64) (*models.Principal, error) {
	if p, ok := m[id]; ok {
		return p, nil
	}
	return nil, models.ErrNotFound
}

type harness struct {
	handler  http.Handler
	events   *captureRecorder
	tm       *auth.TokenManager
	blocks   *security.BlockRegistry
	failed   *security.FailedLoginCounter
	alice    *models.Principal
	root     *models.Principal
	generalN int
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, generalLimit int) *harness {
	t.Helper()
	logger := discardLogger()
	st := store.NewMemory()
	events := &captureRecorder{}

	failed := security.NewFailedLoginCounter(st, 5, time.Hour, logger)
	blocks := security.NewBlockRegistry(st, events, failed, time.Now, logger)
	general := security.NewRateLimiter(st, security.ScopeGeneral, generalLimit, time.Minute, nil, logger)

	alice := &models.Principal{ID: 1, Username: "alice", IsActive: true, FactoryID: 1}
	root := &models.Principal{ID: 2, Username: "root", IsActive: true, IsSuperuser: true, IsStaff: true, FactoryID: 1}
	tm := auth.NewTokenManager(testSecret, 15*time.Minute, 24*time.Hour)
	gate := auth.NewGate(tm, &MockBlacklist{}, principalMap{1: alice, 2: root}, logger)

	cfg := PipelineConfig{
		Env:                  "development",
		LoginPaths:           []string{"/auth/login"},
		SlowRequestThreshold: 50 * time.Millisecond,
	}
	admin := []string{"/security"}
	p := NewPipeline(security.NewClientResolver(nil, 1), events, failed, logger, cfg,
		BlockedIP(blocks, admin, nil),
		ThreatScan(),
		BlockedIP(blocks, nil, admin),
		RequestSize(1024),
		BruteForce(failed, LoginPathMatcher(cfg.LoginPaths)),
		DirectoryTraversal(),
		SQLInjection(),
		RateLimit(general),
	)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(p.Handler)

	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body.Password != "correct" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.With(p.Require(Authenticate(gate, AuthUser), Permit(auth.CapabilityAuthenticated))).
		Get("/api/things", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(auth.PrincipalFromContext(r.Context()).Username))
		})
	r.With(p.Require(Authenticate(gate, AuthAdmin), RequireSuperuser())).
		Get("/security/dashboard", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})
	r.Get("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	})
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {})

	return &harness{handler: r, events: events, tm: tm, blocks: blocks, failed: failed, alice: alice, root: root, generalN: generalLimit}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func (h *harness) bearer(t *testing.T, p *models.Principal) string {
	t.Helper()
	pair, err := h.tm.IssuePair(p)
	require.NoError(t, err)
	return "Bearer " + pair.Access
}

func login(password string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice","password":"`+password+`"}`))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func assertSecurityHeaders(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "geolocation=(), microphone=(), camera=()", w.Header().Get("Permissions-Policy"))
}

func TestPipeline_MissingToken(t *testing.T) {
	h := newHarness(t, 1000)

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/things", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication_required", errorCode(t, w))
	assert.Equal(t, 1, h.events.count(models.EventJWTMissing))
	assert.Equal(t, 1, h.events.count(models.EventUnauthorizedAccessAttempt))
	assertSecurityHeaders(t, w)
}

func TestPipeline_InvalidTokens(t *testing.T) {
	h := newHarness(t, 1000)

	past := auth.NewTokenManager(testSecret, time.Hour, 24*time.Hour)
	past.SetClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	expired, err := past.IssuePair(h.alice)
	require.NoError(t, err)

	valid, err := h.tm.IssuePair(h.alice)
	require.NoError(t, err)
	parts := strings.Split(valid.Access, ".")
	tampered := parts[0] + "." + parts[1] + ".c2lnbmF0dXJl"

	for name, token := range map[string]string{
		"expired":  expired.Access,
		"tampered": tampered,
		"refresh":  valid.Refresh,
		"garbage":  "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
			req.Header.Set("Authorization", "Bearer "+token)

			w := h.do(req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "token_invalid", errorCode(t, w))
		})
	}
	assert.Equal(t, 4, h.events.count(models.EventJWTInvalid))
}

func TestPipeline_ValidTokenReachesHandler(t *testing.T) {
	h := newHarness(t, 1000)
	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("Authorization", h.bearer(t, h.alice))

	w := h.do(req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
	assertSecurityHeaders(t, w)
}

func TestPipeline_BruteForceOutranksCorrectCredentials(t *testing.T) {
	h := newHarness(t, 1000)

	for i := 0; i < 5; i++ {
		w := h.do(login("wrong"))
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := h.do(login("correct"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "brute_force_detected", errorCode(t, w))
	assert.Equal(t, 1, h.events.count(models.EventBruteForceDetected))
	assertSecurityHeaders(t, w)
}

func TestPipeline_SuccessfulLoginClearsCounter(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		h.do(login("wrong"))
	}
	require.Equal(t, int64(4), h.failed.Count(ctx, "192.0.2.1"))

	w := h.do(login("correct"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), h.failed.Count(ctx, "192.0.2.1"))

	h.do(login("wrong"))
	assert.Equal(t, int64(1), h.failed.Count(ctx, "192.0.2.1"))
}

func TestPipeline_AdminRoute(t *testing.T) {
	h := newHarness(t, 1000)

	t.Run("no token", func(t *testing.T) {
		w := h.do(httptest.NewRequest(http.MethodGet, "/security/dashboard", nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "admin_required", errorCode(t, w))
		assert.Equal(t, 1, h.events.count(models.EventJWTMissing))
	})

	t.Run("non superuser", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/security/dashboard", nil)
		req.Header.Set("Authorization", h.bearer(t, h.alice))
		w := h.do(req)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "admin_required", errorCode(t, w))
		ev := h.events.last(models.EventAdminAccessDenied)
		require.NotNil(t, ev)
		assert.Equal(t, "alice", ev.User)
	})

	t.Run("superuser", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/security/dashboard", nil)
		req.Header.Set("Authorization", h.bearer(t, h.root))
		w := h.do(req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPipeline_BlockedIP(t *testing.T) {
	h := newHarness(t, 1000)
	_, err := h.blocks.Block(context.Background(), "192.0.2.1", time.Hour, "test", "root")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/security/dashboard", nil)
	req.Header.Set("Authorization", h.bearer(t, h.root))
	w := h.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "ip_blocked", errorCode(t, w))

	w = h.do(httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 2, h.events.count(models.EventBlockedIPAccess))

	other := httptest.NewRequest(http.MethodGet, "/ok", nil)
	other.RemoteAddr = "198.51.100.7:4000"
	assert.Equal(t, http.StatusOK, h.do(other).Code)
}

func TestPipeline_RequestChecks(t *testing.T) {
	tests := []struct {
		name   string
		req    func() *http.Request
		status int
		code   string
		event  string
	}{
		{
			name:   "suspicious query",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/ok?q=%3Cscript%3E", nil) },
			status: http.StatusForbidden,
			code:   "suspicious_request",
			event:  models.EventSuspiciousRequestBlocked,
		},
		{
			name: "scanner user agent",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/ok", nil)
				r.Header.Set("User-Agent", "sqlmap/1.7")
				return r
			},
			status: http.StatusForbidden,
			code:   "suspicious_request",
			event:  models.EventSuspiciousRequestBlocked,
		},
		{
			name: "declared body too large",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{}"))
				r.Header.Set("Content-Length", "4096")
				return r
			},
			status: http.StatusRequestEntityTooLarge,
			code:   "request_too_large",
			event:  models.EventRequestSizeViolation,
		},
		{
			name:   "traversal",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/files/..%2fetc/passwd", nil) },
			status: http.StatusBadRequest,
			code:   "invalid_path",
			event:  models.EventDirectoryTraversalAttempt,
		},
		{
			name:   "sql injection",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/ok?id=1+or+1=1", nil) },
			status: http.StatusBadRequest,
			code:   "invalid_query",
			event:  models.EventSQLInjectionAttempt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1000)

			w := h.do(tt.req())

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
			assert.Equal(t, 1, h.events.count(tt.event))
			assertSecurityHeaders(t, w)
		})
	}
}

func TestPipeline_GeneralRateLimit(t *testing.T) {
	h := newHarness(t, 3)

	for i := 0; i < 3; i++ {
		w := h.do(httptest.NewRequest(http.MethodGet, "/ok", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	}

	w := h.do(httptest.NewRequest(http.MethodGet, "/ok", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limit_exceeded", errorCode(t, w))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, 1, h.events.count(models.EventRateLimitExceeded))
}

func TestPipeline_PanicBecomesGeneric500(t *testing.T) {
	h := newHarness(t, 1000)

	w := h.do(httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "kaboom")
	ev := h.events.last(models.EventUnhandledException)
	require.NotNil(t, ev)
	assert.Contains(t, ev.Message, "string")
	assert.Contains(t, ev.Message, "kaboom")
	assert.Equal(t, 1, h.events.count(models.EventServerError))
	assertSecurityHeaders(t, w)
}

func TestPipeline_SlowRequest(t *testing.T) {
	h := newHarness(t, 1000)

	w := h.do(httptest.NewRequest(http.MethodGet, "/slow", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, h.events.count(models.EventSlowRequest))
}

func TestPipeline_EventsCarryClientContext(t *testing.T) {
	h := newHarness(t, 1000)
	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("User-Agent", "crystals-desktop/2.1")
	req.Header.Set(security.FactoryHeader, "7")

	h.do(req)

	ev := h.events.last(models.EventJWTMissing)
	require.NotNil(t, ev)
	assert.Equal(t, "192.0.2.1", ev.IP)
	assert.Equal(t, "crystals-desktop/2.1", ev.UserAgent)
	assert.Equal(t, int64(7), ev.FactoryID)
	assert.Equal(t, "/api/things", ev.Path)
}

func TestWhitelistStage(t *testing.T) {
	events := &captureRecorder{}
	p := NewPipeline(security.NewClientResolver(nil, 1), events, nil, discardLogger(), PipelineConfig{},
		Whitelist(security.NewWhitelist([]string{"10.0.0.0/8"})),
	)
	handler := p.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	outside := httptest.NewRecorder()
	handler.ServeHTTP(outside, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusForbidden, outside.Code)
	assert.Equal(t, 1, events.count(models.EventIPNotWhitelisted))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	inside := httptest.NewRecorder()
	handler.ServeHTTP(inside, req)
	assert.Equal(t, http.StatusOK, inside.Code)
}

func TestLoginPathMatcher(t *testing.T) {
	match := LoginPathMatcher([]string{"/auth/login", "/user/validate/"})

	assert.True(t, match("/auth/login"))
	assert.True(t, match("/auth/login/"))
	assert.True(t, match("/user/validate"))
	assert.False(t, match("/auth/logout"))
}

func TestAudit_RecordsAndContinues(t *testing.T) {
	events := &captureRecorder{}
	p := NewPipeline(security.NewClientResolver(nil, 1), events, nil, discardLogger(), PipelineConfig{})
	handler := p.Handler(p.Require(Audit(events, models.EventSensitiveAccess, "Sensitive endpoint"))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	ev := events.last(models.EventSensitiveAccess)
	require.NotNil(t, ev)
	assert.Equal(t, "Sensitive endpoint: POST /auth/logout", ev.Message)
}
