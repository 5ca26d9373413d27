package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/magnetlab/backend/internal/domain"
)

const tenantColumns = `id, email, name, password, role, gateway_customer_id, current_subscription_id, created_at, updated_at`

// TenantRepository handles database operations for tenants.
type TenantRepository struct {
	db *pgxpool.Pool
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{db: db}
}

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var t domain.Tenant
	err := row.Scan(
		&t.ID, &t.Email, &t.Name, &t.Password, &t.Role,
		&t.GatewayCustomerID, &t.CurrentSubscriptionID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new tenant.
func (r *TenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	query := `
		INSERT INTO tenants (id, email, name, password, role, gateway_customer_id, current_subscription_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		t.ID, t.Email, t.Name, t.Password, t.Role,
		t.GatewayCustomerID, t.CurrentSubscriptionID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// FindByID returns a tenant by ID, or nil if not found.
func (r *TenantRepository) FindByID(ctx context.Context, id string) (*domain.Tenant, error) {
	t, err := scanTenant(r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find tenant: %w", err)
	}
	return t, nil
}

// FindByEmail returns a tenant by email, or nil if not found.
func (r *TenantRepository) FindByEmail(ctx context.Context, email string) (*domain.Tenant, error) {
	t, err := scanTenant(r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE email = $1`, email))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find tenant by email: %w", err)
	}
	return t, nil
}

// FindByGatewayCustomerID returns the tenant holding a gateway customer id,
// or nil. Used by the reconciler when event metadata carries no tenant id.
func (r *TenantRepository) FindByGatewayCustomerID(ctx context.Context, customerID string) (*domain.Tenant, error) {
	t, err := scanTenant(r.db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE gateway_customer_id = $1`, customerID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find tenant by customer id: %w", err)
	}
	return t, nil
}

// Exists reports whether a tenant with the given email exists.
func (r *TenantRepository) Exists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tenants WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check tenant existence: %w", err)
	}
	return exists, nil
}

// SetGatewayCustomerID stores the gateway customer id, only if none is set
// yet, and returns the stored value. Concurrent checkouts for the same tenant
// therefore converge on a single customer id.
func (r *TenantRepository) SetGatewayCustomerID(ctx context.Context, tenantID, customerID string) (string, error) {
	var stored string
	err := r.db.QueryRow(ctx, `
		UPDATE tenants
		SET gateway_customer_id = CASE WHEN gateway_customer_id = '' THEN $2 ELSE gateway_customer_id END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING gateway_customer_id
	`, tenantID, customerID).Scan(&stored)
	if err != nil {
		return "", fmt.Errorf("failed to set gateway customer id: %w", err)
	}
	return stored, nil
}

// SetCurrentSubscription moves the tenant's current-subscription pointer.
// Only the authoritative reconciliation transitions call this.
func (r *TenantRepository) SetCurrentSubscription(ctx context.Context, tenantID, subscriptionID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE tenants SET current_subscription_id = $2, updated_at = NOW() WHERE id = $1
	`, tenantID, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to set current subscription: %w", err)
	}
	return nil
}
