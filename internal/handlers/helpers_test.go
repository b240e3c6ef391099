package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BradenHooton/crystals/internal/auth"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/security"
	"github.com/BradenHooton/crystals/internal/services"
	pkghttp "github.com/BradenHooton/crystals/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithPrincipal authenticates req as p, the way the pipeline would.
func WithPrincipal(req *http.Request, p *models.Principal) *http.Request {
	ctx := auth.WithIdentity(req.Context(), &auth.Identity{
		Principal: p,
		Claims:    &models.TokenClaims{Type: models.TokenTypeAccess, UserID: p.ID, Username: p.Username},
	})
	ctx = security.WithClient(ctx, &security.ClientContext{IP: "203.0.113.5", FactoryID: p.FactoryID, Username: p.Username, Path: req.URL.Path, Method: req.Method})
	return req.WithContext(ctx)
}

// AssertJSONResponse checks status and content type and decodes the body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	if target != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), target))
	}
}

// AssertErrorResponse checks status and the stable error code
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedCode string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, expectedCode, resp.Code)
	assert.NotEmpty(t, resp.Error)
}

func testPrincipal() *models.Principal {
	return &models.Principal{ID: 7, Username: "alice", Email: "alice@example.com", IsActive: true, FactoryID: 3}
}

// MockAuthService implements AuthServiceInterface and MFAServiceInterface for testing
type MockAuthService struct {
	RejectMalformedFunc     func(ctx context.Context, cause error) error
	LoginFunc               func(ctx context.Context, creds services.Credentials) (*services.LoginResult, error)
	ValidateCredentialsFunc func(ctx context.Context, creds services.Credentials) (*models.Principal, error)
	RefreshFunc             func(ctx context.Context, refreshToken string) (*services.RefreshResult, error)
	LogoutFunc              func(ctx context.Context, refreshToken string) error
	MFAEnabledFunc          func() bool
	EnrollMFAFunc           func(ctx context.Context, p *models.Principal) (*auth.Enrollment, error)
	ConfirmMFAFunc          func(ctx context.Context, p *models.Principal, code string) error
}

func (m *MockAuthService) RejectMalformed(ctx context.Context, cause error) error {
	if m.RejectMalformedFunc != nil {
		return m.RejectMalformedFunc(ctx, cause)
	}
	return models.ErrMalformedPayload
}

func (m *MockAuthService) Login(ctx context.Context, creds services.Credentials) (*services.LoginResult, error) {
	return m.LoginFunc(ctx, creds)
}

func (m *MockAuthService) ValidateCredentials(ctx context.Context, creds services.Credentials) (*models.Principal, error) {
	return m.ValidateCredentialsFunc(ctx, creds)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*services.RefreshResult, error) {
	return m.RefreshFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, refreshToken string) error {
	return m.LogoutFunc(ctx, refreshToken)
}

func (m *MockAuthService) MFAEnabled() bool {
	if m.MFAEnabledFunc != nil {
		return m.MFAEnabledFunc()
	}
	return true
}

func (m *MockAuthService) EnrollMFA(ctx context.Context, p *models.Principal) (*auth.Enrollment, error) {
	return m.EnrollMFAFunc(ctx, p)
}

func (m *MockAuthService) ConfirmMFA(ctx context.Context, p *models.Principal, code string) error {
	return m.ConfirmMFAFunc(ctx, p, code)
}

type captureRecorder struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (c *captureRecorder) Record(_ context.Context, ev models.SecurityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureRecorder) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.EventType)
	}
	return out
}
