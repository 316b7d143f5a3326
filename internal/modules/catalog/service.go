package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/georgemunganga/medassist-backend/internal/platform/cache"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service defines catalog business logic.
type Service interface {
	CreateMedicine(ctx context.Context, req MedicineRequest) (*Medicine, error)
	GetMedicine(ctx context.Context, id uuid.UUID) (*Medicine, error)
	ListMedicines(ctx context.Context, category string, activeOnly bool) ([]*Medicine, error)
	UpdateMedicine(ctx context.Context, id uuid.UUID, req MedicineRequest) (*Medicine, error)
}

type service struct {
	repo   Repository
	cache  cache.Cache
	logger *zap.Logger
}

// NewService builds the catalog service. Reads of single medicines go
// through c; pass cache.Noop{} to disable caching.
func NewService(repo Repository, c cache.Cache, logger *zap.Logger) Service {
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{repo: repo, cache: c, logger: logger}
}

func validate(req MedicineRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return apperr.Invalid("name", "is required")
	}
	if req.Price.IsNegative() {
		return apperr.Invalid("price", "must not be negative")
	}
	return nil
}

func (s *service) CreateMedicine(ctx context.Context, req MedicineRequest) (*Medicine, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	currency := req.Currency
	if currency == "" {
		currency = "ZMW"
	}
	m := &Medicine{
		ID:                   uuid.New(),
		Name:                 strings.TrimSpace(req.Name),
		Description:          req.Description,
		Category:             req.Category,
		Price:                req.Price.Round(2),
		Currency:             currency,
		RequiresPrescription: req.RequiresPrescription,
		IsActive:             req.IsActive == nil || *req.IsActive,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *service) GetMedicine(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	var cached Medicine
	err := s.cache.Get(ctx, id.String(), &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("medicine cache read failed", zap.String("medicine_id", id.String()), zap.Error(err))
	}

	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, id.String(), m); err != nil {
		s.logger.Warn("medicine cache write failed", zap.String("medicine_id", id.String()), zap.Error(err))
	}
	return m, nil
}

func (s *service) ListMedicines(ctx context.Context, category string, activeOnly bool) ([]*Medicine, error) {
	return s.repo.List(ctx, category, activeOnly)
}

func (s *service) UpdateMedicine(ctx context.Context, id uuid.UUID, req MedicineRequest) (*Medicine, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Name = strings.TrimSpace(req.Name)
	m.Description = req.Description
	m.Category = req.Category
	m.Price = req.Price.Round(2)
	if req.Currency != "" {
		m.Currency = req.Currency
	}
	m.RequiresPrescription = req.RequiresPrescription
	if req.IsActive != nil {
		m.IsActive = *req.IsActive
	}
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}
	if err := s.cache.Delete(ctx, id.String()); err != nil {
		s.logger.Warn("medicine cache invalidation failed", zap.String("medicine_id", id.String()), zap.Error(err))
	}
	return m, nil
}
