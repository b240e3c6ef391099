//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/BradenHooton/crystals/internal/auth"
	"github.com/BradenHooton/crystals/internal/database"
	"github.com/BradenHooton/crystals/internal/handlers"
	"github.com/BradenHooton/crystals/internal/middleware"
	"github.com/BradenHooton/crystals/internal/repositories"
	"github.com/BradenHooton/crystals/internal/routes"
	"github.com/BradenHooton/crystals/internal/security"
	"github.com/BradenHooton/crystals/internal/services"
	"github.com/BradenHooton/crystals/internal/store"
	pkghttp "github.com/BradenHooton/crystals/pkg/http"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const testJWTSecret = "test-secret-32-characters-long-for-testing"

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server   *httptest.Server
	DB       *database.DB
	Store    *store.MemoryStore
	Recorder *security.Recorder
}

// NewTestServer initializes a complete HTTP server with a real database and
// an in-process counter store.
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st := store.NewMemory()

	principalRepo := repositories.NewPrincipalRepository(db)
	blacklistRepo := repositories.NewTokenBlacklistRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	recorder := security.NewRecorder(st, logger, security.RecorderConfig{Retention: 24 * time.Hour})
	recorder.SetArchive(eventRepo)
	failed := security.NewFailedLoginCounter(st, 5, time.Hour, logger)
	blocks := security.NewBlockRegistry(st, recorder, failed, time.Now, logger)
	limiter := func(scope string, limit int) *security.RateLimiter {
		return security.NewRateLimiter(st, scope, limit, time.Minute, nil, logger)
	}

	tokenManager := auth.NewTokenManager(testJWTSecret, 15*time.Minute, 7*24*time.Hour)
	gate := auth.NewGate(tokenManager, blacklistRepo, principalRepo, logger)
	authService := services.NewAuthService(principalRepo, blacklistRepo, tokenManager, nil, nil, recorder, logger)
	resourceService := services.NewResourceService(repositories.NewResourceRepository(db), logger)

	ips, _ := pkghttp.NewIPResolver(nil)
	loginPaths := []string{"/auth/login", "/user/validate"}
	admin := []string{"/security"}
	pipeline := middleware.NewPipeline(security.NewClientResolver(ips, 1), recorder, failed, logger,
		middleware.PipelineConfig{Env: "test", LoginPaths: loginPaths},
		middleware.BlockedIP(blocks, admin, nil),
		middleware.ThreatScan(),
		middleware.BlockedIP(blocks, nil, admin),
		middleware.RequestSize(1<<20),
		middleware.BruteForce(failed, middleware.LoginPathMatcher(loginPaths)),
		middleware.DirectoryTraversal(),
		middleware.SQLInjection(),
		middleware.RateLimit(limiter(security.ScopeGeneral, 500)),
	)

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	routes.RegisterRoutes(router, routes.Dependencies{
		Pipeline: pipeline,
		Gate:     gate,
		Recorder: recorder,
		Limiters: routes.Limiters{
			Login:       limiter(security.ScopeLogin, 50),
			Refresh:     limiter(security.ScopeRefresh, 50),
			Sensitive:   limiter(security.ScopeSensitive, 50),
			AdminWrite:  limiter(security.ScopeAdminWrite, 50),
			Destructive: limiter(security.ScopeDestructive, 50),
		},
		Auth:         handlers.NewAuthHandler(authService, logger),
		MFA:          handlers.NewMFAHandler(authService, logger),
		Security:     handlers.NewSecurityHandler(security.NewMonitor(recorder, blocks, logger), blocks, logger),
		Resources:    handlers.NewResourceHandler(resourceService, recorder, logger),
		IPs:          ips,
		OpsRateLimit: 100,
		Env:          "test",
	})

	return &TestServer{
		Server:   httptest.NewServer(router),
		DB:       db,
		Store:    st,
		Recorder: recorder,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{"Authorization": "Bearer " + accessToken})
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// ExtractTokensFromResponse extracts the access/refresh pair from a login response
func ExtractTokensFromResponse(resp *http.Response) (accessToken, refreshToken string, err error) {
	var body map[string]interface{}
	if err := ParseJSONResponse(resp, &body); err != nil {
		return "", "", fmt.Errorf("failed to parse response: %w", err)
	}
	accessToken, _ = body["access"].(string)
	refreshToken, _ = body["refresh"].(string)
	if accessToken == "" || refreshToken == "" {
		return "", "", fmt.Errorf("login response without tokens: %v", body)
	}
	return accessToken, refreshToken, nil
}

// GetErrorCode extracts the stable error code from an error response
func GetErrorCode(resp *http.Response) (string, error) {
	var errResp map[string]interface{}
	if err := ParseJSONResponse(resp, &errResp); err != nil {
		return "", err
	}
	code, _ := errResp["code"].(string)
	return code, nil
}
