package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magnetlab/backend/internal/domain"
	"github.com/magnetlab/backend/internal/repository"
	"github.com/magnetlab/backend/pkg/payment"
)

type reconcilerFixture struct {
	rec     *Reconciler
	store   *repository.MemorySubscriptionStore
	tenants *repository.MemoryTenantDirectory
	gateway *payment.MockGateway
}

func newReconcilerTest(t *testing.T) *reconcilerFixture {
	t.Helper()
	store := repository.NewMemorySubscriptionStore()
	tenants := repository.NewMemoryTenantDirectory()
	gateway := payment.NewMockGateway()
	rec := NewReconciler(store, tenants, gateway, zerolog.Nop())
	return &reconcilerFixture{rec: rec, store: store, tenants: tenants, gateway: gateway}
}

func (f *reconcilerFixture) seedTenantWithFree(t *testing.T, id string) *domain.Subscription {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.tenants.Create(ctx, &domain.Tenant{
		ID:        id,
		Email:     id + "@example.com",
		Role:      "tenant",
		CreatedAt: now,
		UpdatedAt: now,
	}))
	free, err := f.store.CreateFree(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.tenants.SetCurrentSubscription(ctx, id, free.ID))
	return free
}

func checkoutEvent(tenantID, subID, plan string, start, end time.Time) *domain.BillingEvent {
	return &domain.BillingEvent{
		Kind:              domain.EventCheckoutCompleted,
		TenantID:          tenantID,
		GatewayCustomerID: "cus_" + tenantID,
		GatewaySubID:      subID,
		PriceID:           "price_" + plan,
		Status:            domain.StatusActive,
		PeriodStart:       start,
		PeriodEnd:         end,
	}
}

func updateEvent(subID, plan string, status domain.SubscriptionStatus, start, end time.Time) *domain.BillingEvent {
	return &domain.BillingEvent{
		Kind:         domain.EventSubscriptionUpdated,
		GatewaySubID: subID,
		PriceID:      "price_" + plan,
		Status:       status,
		PeriodStart:  start,
		PeriodEnd:    end,
	}
}

// activeRecords returns the tenant's active records straight from the store,
// bypassing the single-result lookup, to assert the one-active invariant.
func activeRecords(store *repository.MemorySubscriptionStore, tenantID string) []*domain.Subscription {
	var out []*domain.Subscription
	for _, s := range store.All() {
		if s.TenantID == tenantID && s.Status == domain.StatusActive {
			out = append(out, s)
		}
	}
	return out
}

func TestCheckoutCompletedActivatesPaidRecord(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	free := f.seedTenantWithFree(t, "tenant-1")

	start := time.Now()
	end := start.AddDate(0, 1, 0)
	require.NoError(t, f.rec.HandleEvent(ctx, checkoutEvent("tenant-1", "sub_1", domain.PlanPro, start, end)))

	active, err := f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, domain.PlanPro, active.Plan)
	assert.Equal(t, "sub_1", active.GatewaySubID)
	assert.Equal(t, int64(0), active.UnitsUsed, "paid record starts with a fresh counter")

	// The free record was terminated, not deleted.
	var freeAfter *domain.Subscription
	for _, s := range f.store.All() {
		if s.ID == free.ID {
			freeAfter = s
		}
	}
	require.NotNil(t, freeAfter)
	assert.Equal(t, domain.StatusCanceled, freeAfter.Status)

	tenant, err := f.tenants.FindByID(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, active.ID, tenant.CurrentSubscriptionID)
	assert.Equal(t, "cus_tenant-1", tenant.GatewayCustomerID)
}

func TestCheckoutCompletedReplayIsIdempotent(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	start := time.Now()
	end := start.AddDate(0, 1, 0)
	ev := checkoutEvent("tenant-1", "sub_1", domain.PlanPro, start, end)
	require.NoError(t, f.rec.HandleEvent(ctx, ev))
	require.NoError(t, f.rec.HandleEvent(ctx, ev))
	require.NoError(t, f.rec.HandleEvent(ctx, ev))

	records := activeRecords(f.store, "tenant-1")
	require.Len(t, records, 1)
	assert.Equal(t, domain.PlanPro, records[0].Plan)
}

func TestUpsertCreatesRecordWhenCheckoutEventNeverArrived(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	start := time.Now()
	ev := updateEvent("sub_1", domain.PlanStarter, domain.StatusActive, start, start.AddDate(0, 1, 0))
	ev.TenantID = "tenant-1"
	require.NoError(t, f.rec.HandleEvent(ctx, ev))

	active, err := f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, domain.PlanStarter, active.Plan)
	assert.Equal(t, "sub_1", active.GatewaySubID)
}

func TestStaleUpdateDiscardedByPeriodEnd(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	t1 := time.Now()
	t2 := t1.AddDate(0, 1, 0)
	require.NoError(t, f.rec.HandleEvent(ctx, checkoutEvent("tenant-1", "sub_1", domain.PlanPro, t1, t2)))

	// Renewal lands first.
	t3 := t2.AddDate(0, 1, 0)
	require.NoError(t, f.rec.HandleEvent(ctx, updateEvent("sub_1", domain.PlanPro, domain.StatusActive, t2, t3)))

	// A delayed retry carrying the first period must not regress the record.
	stale := updateEvent("sub_1", domain.PlanStarter, domain.StatusPastDue, t1, t2)
	require.NoError(t, f.rec.HandleEvent(ctx, stale))

	active, err := f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, domain.PlanPro, active.Plan)
	assert.Equal(t, t3.Unix(), active.CurrentPeriodEnd.Unix())
}

func TestEqualPeriodStatusRegressionDiscarded(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	t1 := time.Now()
	t2 := t1.AddDate(0, 1, 0)
	require.NoError(t, f.rec.HandleEvent(ctx, checkoutEvent("tenant-1", "sub_1", domain.PlanPro, t1, t2)))

	// An incomplete-status event for the same period arriving after
	// activation is a stale delivery.
	require.NoError(t, f.rec.HandleEvent(ctx, updateEvent("sub_1", domain.PlanPro, domain.StatusIncomplete, t1, t2)))

	active, err := f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, domain.StatusActive, active.Status)
}

func TestWebhookOverridesOptimisticPlanChange(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	t1 := time.Now()
	t2 := t1.AddDate(0, 1, 0)
	require.NoError(t, f.rec.HandleEvent(ctx, checkoutEvent("tenant-1", "sub_1", domain.PlanPro, t1, t2)))

	// A local optimistic edit recorded business, but the gateway settles on
	// starter for the same period.
	sub, err := f.store.FindByGatewaySubID(ctx, "sub_1")
	require.NoError(t, err)
	sub.Plan = domain.PlanBusiness
	require.NoError(t, f.store.Update(ctx, sub))

	require.NoError(t, f.rec.HandleEvent(ctx, updateEvent("sub_1", domain.PlanStarter, domain.StatusActive, t1, t2)))

	active, err := f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStarter, active.Plan)
}

func TestDeletionFallsBackToFree(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	t1 := time.Now()
	t2 := t1.AddDate(0, 1, 0)
	require.NoError(t, f.rec.HandleEvent(ctx, checkoutEvent("tenant-1", "sub_1", domain.PlanPro, t1, t2)))

	del := &domain.BillingEvent{
		Kind:         domain.EventSubscriptionDeleted,
		GatewaySubID: "sub_1",
		Status:       domain.StatusCanceled,
		PeriodStart:  t1,
		PeriodEnd:    t2,
	}
	require.NoError(t, f.rec.HandleEvent(ctx, del))

	records := activeRecords(f.store, "tenant-1")
	require.Len(t, records, 1)
	assert.Equal(t, domain.PlanFree, records[0].Plan)
	assert.Empty(t, records[0].GatewaySubID)

	paid, err := f.store.FindByGatewaySubID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, paid.Status)
	assert.NotNil(t, paid.CanceledAt)

	tenant, err := f.tenants.FindByID(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, records[0].ID, tenant.CurrentSubscriptionID)

	// Replay: still exactly one active free record.
	require.NoError(t, f.rec.HandleEvent(ctx, del))
	assert.Len(t, activeRecords(f.store, "tenant-1"), 1)
}

func TestDeletionOfUnknownSubscriptionIsNoOp(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	err := f.rec.HandleEvent(ctx, &domain.BillingEvent{
		Kind:         domain.EventSubscriptionDeleted,
		GatewaySubID: "sub_ghost",
	})
	require.NoError(t, err)
	assert.Len(t, activeRecords(f.store, "tenant-1"), 1)
}

func TestUnknownPriceIDIsAnomalyNotDowngrade(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	ev := checkoutEvent("tenant-1", "sub_1", domain.PlanPro, time.Now(), time.Now().AddDate(0, 1, 0))
	ev.PriceID = "price_unmapped"
	require.NoError(t, f.rec.HandleEvent(ctx, ev))

	// The free record stays untouched; nothing was created for the event.
	active, err := f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanFree, active.Plan)
	missing, err := f.store.FindByGatewaySubID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInvoiceEventsTouchOnlyPaymentMetadata(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	t1 := time.Now()
	t2 := t1.AddDate(0, 1, 0)
	require.NoError(t, f.rec.HandleEvent(ctx, checkoutEvent("tenant-1", "sub_1", domain.PlanPro, t1, t2)))

	require.NoError(t, f.rec.HandleEvent(ctx, &domain.BillingEvent{
		Kind:          domain.EventPaymentFailed,
		GatewaySubID:  "sub_1",
		PaymentStatus: "failed",
	}))

	sub, err := f.store.FindByGatewaySubID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "failed", sub.LastPaymentStatus)
	assert.Equal(t, domain.StatusActive, sub.Status, "invoice events never change lifecycle status")

	// Payment failure for an unknown subscription is swallowed.
	require.NoError(t, f.rec.HandleEvent(ctx, &domain.BillingEvent{
		Kind:          domain.EventInvoicePaid,
		GatewaySubID:  "sub_ghost",
		PaymentStatus: "paid",
	}))
}

func TestPastDueKeepsRecordUntilDeletion(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	t1 := time.Now()
	t2 := t1.AddDate(0, 1, 0)
	require.NoError(t, f.rec.HandleEvent(ctx, checkoutEvent("tenant-1", "sub_1", domain.PlanPro, t1, t2)))
	require.NoError(t, f.rec.HandleEvent(ctx, updateEvent("sub_1", domain.PlanPro, domain.StatusPastDue, t1, t2)))

	sub, err := f.store.FindByGatewaySubID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPastDue, sub.Status)

	// Dunning exhausted: the gateway deletes, the tenant lands on free.
	require.NoError(t, f.rec.HandleEvent(ctx, &domain.BillingEvent{
		Kind:         domain.EventSubscriptionDeleted,
		GatewaySubID: "sub_1",
		PeriodStart:  t1,
		PeriodEnd:    t2,
	}))

	records := activeRecords(f.store, "tenant-1")
	require.Len(t, records, 1)
	assert.Equal(t, domain.PlanFree, records[0].Plan)
}

func TestEventSequencesPreserveSingleActiveRecord(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	t1 := time.Now()
	t2 := t1.AddDate(0, 1, 0)
	t3 := t2.AddDate(0, 1, 0)

	events := []*domain.BillingEvent{
		checkoutEvent("tenant-1", "sub_1", domain.PlanStarter, t1, t2),
		updateEvent("sub_1", domain.PlanStarter, domain.StatusActive, t2, t3),
		checkoutEvent("tenant-1", "sub_1", domain.PlanStarter, t1, t2), // stale replay
		updateEvent("sub_1", domain.PlanPro, domain.StatusActive, t2, t3),
		{Kind: domain.EventSubscriptionDeleted, GatewaySubID: "sub_1", PeriodStart: t2, PeriodEnd: t3},
		{Kind: domain.EventSubscriptionDeleted, GatewaySubID: "sub_1", PeriodStart: t2, PeriodEnd: t3},
	}
	for i, ev := range events {
		require.NoError(t, f.rec.HandleEvent(ctx, ev), "event %d", i)
		assert.Len(t, activeRecords(f.store, "tenant-1"), 1, "after event %d", i)
	}
}

func TestMidPeriodPaymentRecoveryApplies(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	t1 := time.Now()
	t2 := t1.AddDate(0, 1, 0)
	require.NoError(t, f.rec.HandleEvent(ctx, checkoutEvent("tenant-1", "sub_1", domain.PlanPro, t1, t2)))

	// Renewal payment fails, then a retry succeeds within the same period;
	// both events carry the unchanged period end.
	require.NoError(t, f.rec.HandleEvent(ctx, updateEvent("sub_1", domain.PlanPro, domain.StatusPastDue, t1, t2)))
	require.NoError(t, f.rec.HandleEvent(ctx, updateEvent("sub_1", domain.PlanPro, domain.StatusActive, t1, t2)))

	sub, err := f.store.FindByGatewaySubID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, sub.Status)

	active, err := f.store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, sub.ID, active.ID)
	assert.Len(t, activeRecords(f.store, "tenant-1"), 1)
}

func TestRecoveryAfterFallbackKeepsSingleActive(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	t1 := time.Now()
	t2 := t1.AddDate(0, 1, 0)
	t3 := t2.AddDate(0, 1, 0)
	require.NoError(t, f.rec.HandleEvent(ctx, checkoutEvent("tenant-1", "sub_1", domain.PlanPro, t1, t2)))
	require.NoError(t, f.rec.HandleEvent(ctx, updateEvent("sub_1", domain.PlanPro, domain.StatusPastDue, t1, t2)))

	// With the paid record past due, an entitlement check moved the tenant
	// onto a free fallback in the meantime.
	fallback, err := f.store.CreateFree(ctx, "tenant-1")
	require.NoError(t, err)
	require.NoError(t, f.tenants.SetCurrentSubscription(ctx, "tenant-1", fallback.ID))

	// Dunning succeeds and the gateway opens the next period.
	require.NoError(t, f.rec.HandleEvent(ctx, updateEvent("sub_1", domain.PlanPro, domain.StatusActive, t2, t3)))

	records := activeRecords(f.store, "tenant-1")
	require.Len(t, records, 1)
	assert.Equal(t, domain.PlanPro, records[0].Plan)
	assert.Equal(t, "sub_1", records[0].GatewaySubID)

	var fallbackAfter *domain.Subscription
	for _, s := range f.store.All() {
		if s.ID == fallback.ID {
			fallbackAfter = s
		}
	}
	require.NotNil(t, fallbackAfter)
	assert.Equal(t, domain.StatusCanceled, fallbackAfter.Status)

	tenant, err := f.tenants.FindByID(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, records[0].ID, tenant.CurrentSubscriptionID)
}

func TestRenewalOverridesEstimatedPeriod(t *testing.T) {
	f := newReconcilerTest(t)
	ctx := context.Background()
	f.seedTenantWithFree(t, "tenant-1")

	// The paid period lapsed an hour ago and the renewal webhook is late.
	t1 := time.Now().Add(-31*24*time.Hour - time.Hour)
	t2 := time.Now().Add(-time.Hour)
	require.NoError(t, f.rec.HandleEvent(ctx, checkoutEvent("tenant-1", "sub_1", domain.PlanPro, t1, t2)))

	// The lazy rollover guesses the next period from the previous length.
	sub, err := f.store.FindByGatewaySubID(ctx, "sub_1")
	require.NoError(t, err)
	rolled, err := f.store.Rollover(ctx, sub.ID, sub.Version, t2, t2.Add(31*24*time.Hour))
	require.NoError(t, err)
	require.True(t, rolled.PeriodEstimated)

	// A delayed retry from the lapsed period is still discarded.
	require.NoError(t, f.rec.HandleEvent(ctx, updateEvent("sub_1", domain.PlanStarter, domain.StatusPastDue, t1, t2)))
	sub, err = f.store.FindByGatewaySubID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, sub.Plan)

	// The real renewal carries a shorter period than the estimate, plus a
	// plan change; it must win over the local guess.
	trueEnd := t2.Add(28 * 24 * time.Hour)
	require.NoError(t, f.rec.HandleEvent(ctx, updateEvent("sub_1", domain.PlanStarter, domain.StatusActive, t2, trueEnd)))

	sub, err = f.store.FindByGatewaySubID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStarter, sub.Plan)
	assert.Equal(t, trueEnd.Unix(), sub.CurrentPeriodEnd.Unix())
	assert.False(t, sub.PeriodEstimated)
}
