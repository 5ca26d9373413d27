package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magnetlab/backend/internal/domain"
	"github.com/magnetlab/backend/internal/repository"
	"github.com/magnetlab/backend/pkg/payment"
)

type lifecycleFixture struct {
	svc     *LifecycleService
	store   *repository.MemorySubscriptionStore
	tenants *repository.MemoryTenantDirectory
	gateway *payment.MockGateway
}

func newLifecycleTest(t *testing.T) *lifecycleFixture {
	t.Helper()
	store := repository.NewMemorySubscriptionStore()
	tenants := repository.NewMemoryTenantDirectory()
	gateway := payment.NewMockGateway()
	svc := NewLifecycleService(store, tenants, gateway, "https://app.example.com/success", "https://app.example.com/cancel", zerolog.Nop())
	return &lifecycleFixture{svc: svc, store: store, tenants: tenants, gateway: gateway}
}

func (f *lifecycleFixture) seedTenant(id string) {
	now := time.Now()
	_ = f.tenants.Create(context.Background(), &domain.Tenant{
		ID:        id,
		Email:     id + "@example.com",
		Name:      "Tenant " + id,
		Role:      "tenant",
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func TestStartCheckout(t *testing.T) {
	f := newLifecycleTest(t)
	ctx := context.Background()
	f.seedTenant("tenant-1")

	resp, err := f.svc.StartCheckout(ctx, "tenant-1", domain.PlanPro)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.CheckoutURL)
	assert.NotEmpty(t, resp.SessionID)

	// Customer was created lazily and stored on the tenant.
	tenant, err := f.tenants.FindByID(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, f.gateway.Customers["tenant-1"], tenant.GatewayCustomerID)

	// No local status mutation before the webhook confirms payment.
	sub, err := f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestStartCheckoutReusesCustomer(t *testing.T) {
	f := newLifecycleTest(t)
	ctx := context.Background()
	f.seedTenant("tenant-1")
	_, err := f.tenants.SetGatewayCustomerID(ctx, "tenant-1", "cus_existing")
	require.NoError(t, err)

	_, err = f.svc.StartCheckout(ctx, "tenant-1", domain.PlanStarter)
	require.NoError(t, err)
	assert.Empty(t, f.gateway.Customers, "no new customer when one is already linked")
}

func TestStartCheckoutRejectsFreeAndUnknownPlans(t *testing.T) {
	f := newLifecycleTest(t)
	ctx := context.Background()
	f.seedTenant("tenant-1")

	for _, plan := range []string{domain.PlanFree, "enterprise", ""} {
		_, err := f.svc.StartCheckout(ctx, "tenant-1", plan)
		require.Error(t, err, "plan %q", plan)
	}
}

func TestStartCheckoutConflictWhenAlreadyPaid(t *testing.T) {
	f := newLifecycleTest(t)
	ctx := context.Background()
	f.seedTenant("tenant-1")
	now := time.Now()
	seedPaidSub(f.store, "tenant-1", domain.PlanStarter, 0, now, now.Add(30*24*time.Hour))

	_, err := f.svc.StartCheckout(ctx, "tenant-1", domain.PlanPro)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestStartCheckoutGatewayFailureLeavesNoState(t *testing.T) {
	f := newLifecycleTest(t)
	ctx := context.Background()
	f.seedTenant("tenant-1")
	f.gateway.CreateCustomerErr = errors.New("gateway down")

	_, err := f.svc.StartCheckout(ctx, "tenant-1", domain.PlanPro)
	require.Error(t, err)

	tenant, err := f.tenants.FindByID(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, tenant.GatewayCustomerID)
}

func TestCancelAndReactivateRoundTrip(t *testing.T) {
	f := newLifecycleTest(t)
	ctx := context.Background()
	f.seedTenant("tenant-1")
	now := time.Now()
	seedPaidSub(f.store, "tenant-1", domain.PlanPro, 0, now, now.Add(30*24*time.Hour))

	require.NoError(t, f.svc.Cancel(ctx, "tenant-1", "too expensive"))
	assert.Equal(t, []string{"sub_tenant-1"}, f.gateway.CanceledSubs)

	sub, err := f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, "too expensive", sub.CancelReason)
	// Full access retained until period end.
	assert.Equal(t, domain.StatusActive, sub.Status)

	require.NoError(t, f.svc.Reactivate(ctx, "tenant-1"))
	assert.Equal(t, []string{"sub_tenant-1"}, f.gateway.ReactivatedSubs)

	sub, err = f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Empty(t, sub.CancelReason)
}

func TestCancelConflicts(t *testing.T) {
	f := newLifecycleTest(t)
	ctx := context.Background()
	f.seedTenant("tenant-1")

	// No paid subscription at all.
	err := f.svc.Cancel(ctx, "tenant-1", "")
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	now := time.Now()
	seedPaidSub(f.store, "tenant-1", domain.PlanPro, 0, now, now.Add(30*24*time.Hour))
	require.NoError(t, f.svc.Cancel(ctx, "tenant-1", ""))

	// Double cancel.
	err = f.svc.Cancel(ctx, "tenant-1", "")
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestCancelGatewayFailureLeavesStateUnchanged(t *testing.T) {
	f := newLifecycleTest(t)
	ctx := context.Background()
	f.seedTenant("tenant-1")
	now := time.Now()
	seedPaidSub(f.store, "tenant-1", domain.PlanPro, 0, now, now.Add(30*24*time.Hour))
	f.gateway.CancelErr = errors.New("gateway down")

	err := f.svc.Cancel(ctx, "tenant-1", "reason")
	require.Error(t, err)

	sub, ferr := f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, ferr)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Empty(t, sub.CancelReason)
}

func TestReactivateRequiresPendingCancel(t *testing.T) {
	f := newLifecycleTest(t)
	ctx := context.Background()
	f.seedTenant("tenant-1")
	now := time.Now()
	seedPaidSub(f.store, "tenant-1", domain.PlanPro, 0, now, now.Add(30*24*time.Hour))

	err := f.svc.Reactivate(ctx, "tenant-1")
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestChangePlan(t *testing.T) {
	f := newLifecycleTest(t)
	ctx := context.Background()
	f.seedTenant("tenant-1")
	now := time.Now()
	seedPaidSub(f.store, "tenant-1", domain.PlanStarter, 5, now, now.Add(30*24*time.Hour))

	require.NoError(t, f.svc.ChangePlan(ctx, "tenant-1", domain.PlanPro))
	assert.Equal(t, domain.PlanPro, f.gateway.PlanChanges["sub_tenant-1"])

	sub, err := f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, sub.Plan)
	assert.Equal(t, "price_pro", sub.GatewayPriceID)
	// Usage carries over; the period is unchanged until the gateway confirms.
	assert.Equal(t, int64(5), sub.UnitsUsed)
}

func TestChangePlanConflicts(t *testing.T) {
	f := newLifecycleTest(t)
	ctx := context.Background()
	f.seedTenant("tenant-1")
	now := time.Now()
	seedPaidSub(f.store, "tenant-1", domain.PlanStarter, 0, now, now.Add(30*24*time.Hour))

	// Same plan.
	err := f.svc.ChangePlan(ctx, "tenant-1", domain.PlanStarter)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	// Downgrade to free goes through cancellation, not plan change.
	err = f.svc.ChangePlan(ctx, "tenant-1", domain.PlanFree)
	require.Error(t, err)

	// Gateway refusal leaves the plan untouched.
	f.gateway.ChangePlanErr = errors.New("gateway down")
	err = f.svc.ChangePlan(ctx, "tenant-1", domain.PlanBusiness)
	require.Error(t, err)

	sub, ferr := f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, ferr)
	assert.Equal(t, domain.PlanStarter, sub.Plan)
}
