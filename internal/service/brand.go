package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/magnetlab/backend/internal/domain"
)

// BrandStore is the persistence contract for brands. Satisfied by
// repository.BrandRepository and repository.MemoryBrandStore.
type BrandStore interface {
	Create(ctx context.Context, b *domain.Brand) error
	FindByID(ctx context.Context, id, tenantID string) (*domain.Brand, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.Brand, error)
	CountByTenant(ctx context.Context, tenantID string) (int, error)
	Delete(ctx context.Context, id, tenantID string) error
}

// BrandService manages brand workspaces. Creation is gated by the plan's
// brand cap through the entitlement service.
type BrandService struct {
	brands       BrandStore
	entitlements *EntitlementService
	validate     *validator.Validate
	log          zerolog.Logger
}

// NewBrandService creates a new BrandService.
func NewBrandService(brands BrandStore, entitlements *EntitlementService, log zerolog.Logger) *BrandService {
	return &BrandService{
		brands:       brands,
		entitlements: entitlements,
		validate:     validator.New(),
		log:          log,
	}
}

// Create adds a brand for the tenant if the plan's brand cap allows it.
func (s *BrandService) Create(ctx context.Context, tenantID string, req *domain.CreateBrandRequest) (*domain.Brand, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}

	count, err := s.brands.CountByTenant(ctx, tenantID)
	if err != nil {
		return nil, domain.ErrInternal("failed to count brands", err)
	}
	if err := s.entitlements.CheckBrandCap(ctx, tenantID, count); err != nil {
		return nil, err
	}

	brand := &domain.Brand{
		ID:        domain.NewBrandID(),
		TenantID:  tenantID,
		Name:      req.Name,
		Website:   req.Website,
		CreatedAt: time.Now(),
	}
	if err := s.brands.Create(ctx, brand); err != nil {
		return nil, domain.ErrInternal("failed to create brand", err)
	}

	s.log.Info().Str("tenant_id", tenantID).Str("brand_id", brand.ID).Msg("brand created")
	return brand, nil
}

// List returns all brands owned by the tenant.
func (s *BrandService) List(ctx context.Context, tenantID string) ([]*domain.Brand, error) {
	brands, err := s.brands.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, domain.ErrInternal("failed to list brands", err)
	}
	return brands, nil
}

// Delete removes a brand owned by the tenant.
func (s *BrandService) Delete(ctx context.Context, tenantID, id string) error {
	brand, err := s.brands.FindByID(ctx, id, tenantID)
	if err != nil {
		return domain.ErrInternal("failed to find brand", err)
	}
	if brand == nil {
		return domain.ErrNotFound("brand not found")
	}
	if err := s.brands.Delete(ctx, id, tenantID); err != nil {
		return domain.ErrInternal("failed to delete brand", err)
	}
	return nil
}
