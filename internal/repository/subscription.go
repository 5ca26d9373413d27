package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/magnetlab/backend/internal/domain"
)

const subscriptionColumns = `
	id, tenant_id, plan, status,
	gateway_customer_id, gateway_sub_id, gateway_price_id,
	current_period_start, current_period_end, period_estimated, cancel_at_period_end,
	units_used, started_at, canceled_at, ended_at,
	cancel_reason, last_payment_status, version, created_at, updated_at
`

// SubscriptionRepository handles database operations for subscription records.
// All mutations of existing rows are conditional: either a compare-and-swap on
// the version column or a single conditional UPDATE, so concurrent writers
// can never blind-overwrite each other.
type SubscriptionRepository struct {
	db *pgxpool.Pool
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.Plan, &sub.Status,
		&sub.GatewayCustomerID, &sub.GatewaySubID, &sub.GatewayPriceID,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.PeriodEstimated, &sub.CancelAtPeriodEnd,
		&sub.UnitsUsed, &sub.StartedAt, &sub.CanceledAt, &sub.EndedAt,
		&sub.CancelReason, &sub.LastPaymentStatus, &sub.Version,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindActiveByTenant returns the tenant's single active record, or nil.
func (r *SubscriptionRepository) FindActiveByTenant(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE tenant_id = $1 AND status = 'active'`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, tenantID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active subscription: %w", err)
	}
	return sub, nil
}

// FindByGatewaySubID returns the record linked to a gateway subscription id, or nil.
func (r *SubscriptionRepository) FindByGatewaySubID(ctx context.Context, gatewaySubID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE gateway_sub_id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, gatewaySubID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find subscription by gateway id: %w", err)
	}
	return sub, nil
}

// CreateFree persists a fresh free record for the tenant and returns it.
func (r *SubscriptionRepository) CreateFree(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	sub := domain.NewFreeSubscription(tenantID, time.Now())
	if err := r.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Create inserts a new subscription record.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, tenant_id, plan, status,
			gateway_customer_id, gateway_sub_id, gateway_price_id,
			current_period_start, current_period_end, period_estimated, cancel_at_period_end,
			units_used, started_at, canceled_at, ended_at,
			cancel_reason, last_payment_status, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`
	_, err := r.db.Exec(ctx, query,
		sub.ID, sub.TenantID, sub.Plan, sub.Status,
		sub.GatewayCustomerID, sub.GatewaySubID, sub.GatewayPriceID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.PeriodEstimated, sub.CancelAtPeriodEnd,
		sub.UnitsUsed, sub.StartedAt, sub.CanceledAt, sub.EndedAt,
		sub.CancelReason, sub.LastPaymentStatus, sub.Version, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// Update writes mutable fields back, guarded by the version the caller read.
// Returns domain.ErrVersionConflict when a concurrent writer got there first;
// on success sub.Version reflects the stored version.
func (r *SubscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	query := `
		UPDATE subscriptions SET
			plan = $3, status = $4,
			gateway_customer_id = $5, gateway_sub_id = $6, gateway_price_id = $7,
			current_period_start = $8, current_period_end = $9, period_estimated = $10,
			cancel_at_period_end = $11,
			units_used = $12, canceled_at = $13, ended_at = $14,
			cancel_reason = $15, last_payment_status = $16,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`
	tag, err := r.db.Exec(ctx, query,
		sub.ID, sub.Version,
		sub.Plan, sub.Status,
		sub.GatewayCustomerID, sub.GatewaySubID, sub.GatewayPriceID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.PeriodEstimated,
		sub.CancelAtPeriodEnd,
		sub.UnitsUsed, sub.CanceledAt, sub.EndedAt,
		sub.CancelReason, sub.LastPaymentStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	sub.Version++
	return nil
}

// IncrementUsage atomically consumes one unit if the counter is still below
// cap. Returns the updated record, or nil when the cap is already reached.
// Two concurrent calls at count = cap-1 cannot both succeed.
func (r *SubscriptionRepository) IncrementUsage(ctx context.Context, id string, cap int64) (*domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET units_used = units_used + 1, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND units_used < $2
		RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id, cap))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}
	return sub, nil
}

// Rollover resets the usage counter and advances the period bounds, guarded by
// the version the caller read so that concurrent rollovers apply exactly once.
// The new bounds are marked estimated until a gateway event confirms them.
func (r *SubscriptionRepository) Rollover(ctx context.Context, id string, version int64, periodStart, periodEnd time.Time) (*domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET units_used = 0, current_period_start = $3, current_period_end = $4,
		    period_estimated = TRUE,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id, version, periodStart, periodEnd))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrVersionConflict
		}
		return nil, fmt.Errorf("failed to roll over subscription: %w", err)
	}
	return sub, nil
}

// TerminateAndCreate terminates any active record for the tenant and inserts
// the replacement in a single transaction, preserving the one-active-record
// rule even under concurrent reconciliation.
func (r *SubscriptionRepository) TerminateAndCreate(ctx context.Context, sub *domain.Subscription) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'canceled', canceled_at = $2, ended_at = $2,
		    version = version + 1, updated_at = $2
		WHERE tenant_id = $1 AND status = 'active'
	`, sub.TenantID, now)
	if err != nil {
		return fmt.Errorf("failed to terminate active subscriptions: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO subscriptions (
			id, tenant_id, plan, status,
			gateway_customer_id, gateway_sub_id, gateway_price_id,
			current_period_start, current_period_end, period_estimated, cancel_at_period_end,
			units_used, started_at, canceled_at, ended_at,
			cancel_reason, last_payment_status, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		sub.ID, sub.TenantID, sub.Plan, sub.Status,
		sub.GatewayCustomerID, sub.GatewaySubID, sub.GatewayPriceID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.PeriodEstimated, sub.CancelAtPeriodEnd,
		sub.UnitsUsed, sub.StartedAt, sub.CanceledAt, sub.EndedAt,
		sub.CancelReason, sub.LastPaymentStatus, sub.Version, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create replacement subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit terminate-and-create: %w", err)
	}
	return nil
}

// SetLastPaymentStatus records invoice-level payment metadata without
// touching lifecycle state.
func (r *SubscriptionRepository) SetLastPaymentStatus(ctx context.Context, id, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET last_payment_status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set payment status: %w", err)
	}
	return nil
}
