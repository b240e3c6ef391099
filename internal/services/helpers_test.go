package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/crystals/internal/auth"
	"github.com/BradenHooton/crystals/internal/models"
	pkgauth "github.com/BradenHooton/crystals/pkg/auth"
	"golang.org/x/crypto/bcrypt"
)

// MockPrincipalRepository implements PrincipalRepository for testing
type MockPrincipalRepository struct {
	GetByIDFunc         func(ctx context.Context, id int64) (*models.Principal, error)
	GetByUsernameFunc   func(ctx context.Context, username string) (*models.Principal, error)
	CreateFunc          func(ctx context.Context, p *models.Principal) error
	UpdateLastLoginFunc func(ctx context.Context, id int64, at time.Time) error
	SetMFAFunc          func(ctx context.Context, id int64, encryptedSecret string, enabled bool) error
}

func (m *MockPrincipalRepository) GetByID(ctx context.Context, id int64) (*models.Principal, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockPrincipalRepository) GetByUsername(ctx context.Context, username string) (*models.Principal, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockPrincipalRepository) Create(ctx context.Context, p *models.Principal) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	return nil
}

func (m *MockPrincipalRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(ctx, id, at)
	}
	return nil
}

func (m *MockPrincipalRepository) SetMFA(ctx context.Context, id int64, encryptedSecret string, enabled bool) error {
	if m.SetMFAFunc != nil {
		return m.SetMFAFunc(ctx, id, encryptedSecret, enabled)
	}
	return nil
}

// memoryBlacklist is an in-process auth.TokenBlacklist.
type memoryBlacklist struct {
	mu      sync.Mutex
	revoked map[string]bool
	err     error
}

func newMemoryBlacklist() *memoryBlacklist {
	return &memoryBlacklist{revoked: make(map[string]bool)}
}

func (b *memoryBlacklist) Revoke(_ context.Context, jti string, _ int64, _ string, _ time.Time, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.revoked[jti] = true
	return nil
}

func (b *memoryBlacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revoked[jti], nil
}

var _ auth.TokenBlacklist = (*memoryBlacklist)(nil)

// captureRecorder collects recorded security events.
type captureRecorder struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (c *captureRecorder) Record(_ context.Context, ev models.SecurityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureRecorder) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.EventType
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestPrincipal returns an active principal whose password is password.
func NewTestPrincipal(id int64, username, password string) *models.Principal {
	hash, err := pkgauth.HashPasswordWithCost(password, bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return &models.Principal{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		IsActive:     true,
		FactoryID:    1,
		DateJoined:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// principalStore backs a MockPrincipalRepository with a fixed set of principals.
func principalStore(principals ...*models.Principal) *MockPrincipalRepository {
	byID := make(map[int64]*models.Principal)
	byName := make(map[string]*models.Principal)
	for _, p := range principals {
		byID[p.ID] = p
		byName[p.Username] = p
	}
	return &MockPrincipalRepository{
		GetByIDFunc: func(_ context.Context, id int64) (*models.Principal, error) {
			if p, ok := byID[id]; ok {
				cp := *p
				return &cp, nil
			}
			return nil, models.ErrNotFound
		},
		GetByUsernameFunc: func(_ context.Context, username string) (*models.Principal, error) {
			if p, ok := byName[username]; ok {
				cp := *p
				return &cp, nil
			}
			return nil, models.ErrNotFound
		},
		SetMFAFunc: func(_ context.Context, id int64, secret string, enabled bool) error {
			p, ok := byID[id]
			if !ok {
				return models.ErrNotFound
			}
			p.MFASecret, p.MFAEnabled = secret, enabled
			return nil
		},
	}
}
