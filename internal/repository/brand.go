package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/magnetlab/backend/internal/domain"
)

// BrandRepository handles database operations for brands.
type BrandRepository struct {
	db *pgxpool.Pool
}

// NewBrandRepository creates a new BrandRepository.
func NewBrandRepository(db *pgxpool.Pool) *BrandRepository {
	return &BrandRepository{db: db}
}

// Create inserts a new brand.
func (r *BrandRepository) Create(ctx context.Context, b *domain.Brand) error {
	query := `
		INSERT INTO brands (id, tenant_id, name, website, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query, b.ID, b.TenantID, b.Name, b.Website, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create brand: %w", err)
	}
	return nil
}

// FindByID returns a brand owned by the tenant, or nil if not found.
func (r *BrandRepository) FindByID(ctx context.Context, id, tenantID string) (*domain.Brand, error) {
	query := `SELECT id, tenant_id, name, website, created_at FROM brands WHERE id = $1 AND tenant_id = $2`
	var b domain.Brand
	err := r.db.QueryRow(ctx, query, id, tenantID).Scan(&b.ID, &b.TenantID, &b.Name, &b.Website, &b.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find brand: %w", err)
	}
	return &b, nil
}

// ListByTenant returns all brands owned by the tenant, newest first.
func (r *BrandRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.Brand, error) {
	query := `SELECT id, tenant_id, name, website, created_at FROM brands WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}
	defer rows.Close()

	var brands []*domain.Brand
	for rows.Next() {
		var b domain.Brand
		if err := rows.Scan(&b.ID, &b.TenantID, &b.Name, &b.Website, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan brand: %w", err)
		}
		brands = append(brands, &b)
	}
	return brands, rows.Err()
}

// CountByTenant returns the number of brands the tenant holds.
func (r *BrandRepository) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM brands WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count brands: %w", err)
	}
	return count, nil
}

// Delete removes a brand owned by the tenant.
func (r *BrandRepository) Delete(ctx context.Context, id, tenantID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM brands WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete brand: %w", err)
	}
	return nil
}
