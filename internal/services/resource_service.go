package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/crystals/internal/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ResourceRepository is the generic data layer behind /api/{resource}.
type ResourceRepository interface {
	List(ctx context.Context, def models.ResourceDefinition, factoryID int64, limit, offset int) ([]map[string]any, error)
	Get(ctx context.Context, def models.ResourceDefinition, factoryID, id int64) (map[string]any, error)
	Create(ctx context.Context, def models.ResourceDefinition, factoryID int64, fields map[string]any) (map[string]any, error)
	Update(ctx context.Context, def models.ResourceDefinition, factoryID, id int64, fields map[string]any) (map[string]any, error)
	Delete(ctx context.Context, def models.ResourceDefinition, factoryID, id int64) error
}

// ResourceService validates requests against the resource registry and
// scopes every operation to one factory.
type ResourceService struct {
	repo      ResourceRepository
	resources map[string]models.ResourceDefinition
	logger    *slog.Logger
}

func NewResourceService(repo ResourceRepository, logger *slog.Logger) *ResourceService {
	return &ResourceService{repo: repo, resources: models.Resources, logger: logger}
}

func (s *ResourceService) definition(name string) (models.ResourceDefinition, error) {
	def, ok := s.resources[name]
	if !ok {
		return models.ResourceDefinition{}, fmt.Errorf("%w: unknown resource %q", models.ErrNotFound, name)
	}
	return def, nil
}

func checkFactory(factoryID int64) error {
	if factoryID <= 0 {
		return fmt.Errorf("%w: missing factory", models.ErrBadRequest)
	}
	return nil
}

func checkFields(def models.ResourceDefinition, fields map[string]any) error {
	for col := range fields {
		if !def.HasColumn(col) {
			return fmt.Errorf("%w: unknown column %q for %s", models.ErrBadRequest, col, def.Name)
		}
	}
	return nil
}

func (s *ResourceService) List(ctx context.Context, name string, factoryID int64, limit, offset int) ([]map[string]any, error) {
	def, err := s.definition(name)
	if err != nil {
		return nil, err
	}
	if err := checkFactory(factoryID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, def, factoryID, limit, offset)
}

func (s *ResourceService) Get(ctx context.Context, name string, factoryID, id int64) (map[string]any, error) {
	def, err := s.definition(name)
	if err != nil {
		return nil, err
	}
	if err := checkFactory(factoryID); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, def, factoryID, id)
}

func (s *ResourceService) Create(ctx context.Context, name string, factoryID int64, fields map[string]any) (map[string]any, error) {
	def, err := s.definition(name)
	if err != nil {
		return nil, err
	}
	if err := checkFactory(factoryID); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields given", models.ErrBadRequest)
	}
	if err := checkFields(def, fields); err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, def, factoryID, fields)
}

func (s *ResourceService) Update(ctx context.Context, name string, factoryID, id int64, fields map[string]any) (map[string]any, error) {
	def, err := s.definition(name)
	if err != nil {
		return nil, err
	}
	if err := checkFactory(factoryID); err != nil {
		return nil, err
	}
	if err := checkFields(def, fields); err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, def, factoryID, id, fields)
}

func (s *ResourceService) Delete(ctx context.Context, name string, factoryID, id int64) error {
	def, err := s.definition(name)
	if err != nil {
		return err
	}
	if err := checkFactory(factoryID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, def, factoryID, id)
}
