package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the initial schema migration.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS tenants (
			id                      TEXT PRIMARY KEY,
			email                   TEXT NOT NULL UNIQUE,
			name                    TEXT NOT NULL DEFAULT '',
			password                TEXT NOT NULL,
			role                    TEXT NOT NULL DEFAULT 'user',
			gateway_customer_id     TEXT NOT NULL DEFAULT '',
			current_subscription_id TEXT NOT NULL DEFAULT '',
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tenants_email ON tenants(email);
		CREATE INDEX IF NOT EXISTS idx_tenants_gateway_customer
			ON tenants(gateway_customer_id) WHERE gateway_customer_id <> '';

		CREATE TABLE IF NOT EXISTS subscriptions (
			id                   TEXT PRIMARY KEY,
			tenant_id            TEXT NOT NULL,
			plan                 TEXT NOT NULL,
			status               TEXT NOT NULL,
			gateway_customer_id  TEXT NOT NULL DEFAULT '',
			gateway_sub_id       TEXT NOT NULL DEFAULT '',
			gateway_price_id     TEXT NOT NULL DEFAULT '',
			current_period_start TIMESTAMPTZ NOT NULL,
			current_period_end   TIMESTAMPTZ NOT NULL,
			cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
			period_estimated     BOOLEAN NOT NULL DEFAULT FALSE,
			units_used           BIGINT NOT NULL DEFAULT 0 CHECK (units_used >= 0),
			started_at           TIMESTAMPTZ NOT NULL,
			canceled_at          TIMESTAMPTZ,
			ended_at             TIMESTAMPTZ,
			cancel_reason        TEXT NOT NULL DEFAULT '',
			last_payment_status  TEXT NOT NULL DEFAULT '',
			version              BIGINT NOT NULL DEFAULT 1,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_tenant_status
			ON subscriptions(tenant_id, status);
		-- One active record per tenant, enforced by the database itself.
		CREATE UNIQUE INDEX IF NOT EXISTS uniq_subscriptions_active
			ON subscriptions(tenant_id) WHERE status = 'active';
		-- Gateway subscription ids are unique where present (free records have none).
		CREATE UNIQUE INDEX IF NOT EXISTS uniq_subscriptions_gateway_sub
			ON subscriptions(gateway_sub_id) WHERE gateway_sub_id <> '';

		CREATE TABLE IF NOT EXISTS brands (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			name       TEXT NOT NULL,
			website    TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_brands_tenant_id ON brands(tenant_id);
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
