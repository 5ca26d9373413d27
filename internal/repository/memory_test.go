package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magnetlab/backend/internal/domain"
)

func TestUpdateVersionGuard(t *testing.T) {
	store := NewMemorySubscriptionStore()
	ctx := context.Background()

	sub, err := store.CreateFree(ctx, "tenant-1")
	require.NoError(t, err)

	stale := *sub
	sub.CancelReason = "first writer"
	require.NoError(t, store.Update(ctx, sub))

	// A writer holding the old version must be refused.
	stale.CancelReason = "second writer"
	err = store.Update(ctx, &stale)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestIncrementUsageStopsAtCap(t *testing.T) {
	store := NewMemorySubscriptionStore()
	ctx := context.Background()

	sub, err := store.CreateFree(ctx, "tenant-1")
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		updated, err := store.IncrementUsage(ctx, sub.ID, 3)
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, i, updated.UnitsUsed)
	}

	refused, err := store.IncrementUsage(ctx, sub.ID, 3)
	require.NoError(t, err)
	assert.Nil(t, refused, "increment at cap returns no record")
}

func TestTerminateAndCreateKeepsOneActive(t *testing.T) {
	store := NewMemorySubscriptionStore()
	ctx := context.Background()

	free, err := store.CreateFree(ctx, "tenant-1")
	require.NoError(t, err)

	now := time.Now()
	paid := &domain.Subscription{
		ID:                 domain.NewSubscriptionID(),
		TenantID:           "tenant-1",
		Plan:               domain.PlanPro,
		Status:             domain.StatusActive,
		GatewaySubID:       "sub_1",
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		StartedAt:          now,
		Version:            1,
	}
	require.NoError(t, store.TerminateAndCreate(ctx, paid))

	active, err := store.FindActiveByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, paid.ID, active.ID)

	var freeStatus domain.SubscriptionStatus
	for _, s := range store.All() {
		if s.ID == free.ID {
			freeStatus = s.Status
		}
	}
	assert.Equal(t, domain.StatusCanceled, freeStatus)
}

func TestRolloverVersionGuard(t *testing.T) {
	store := NewMemorySubscriptionStore()
	ctx := context.Background()

	now := time.Now()
	sub := &domain.Subscription{
		ID:                 domain.NewSubscriptionID(),
		TenantID:           "tenant-1",
		Plan:               domain.PlanStarter,
		Status:             domain.StatusActive,
		CurrentPeriodStart: now.Add(-31 * 24 * time.Hour),
		CurrentPeriodEnd:   now.Add(-24 * time.Hour),
		UnitsUsed:          25,
		Version:            1,
	}
	store.Seed(sub)

	start, end := now.Add(-24*time.Hour), now.Add(29*24*time.Hour)
	rolled, err := store.Rollover(ctx, sub.ID, sub.Version, start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rolled.UnitsUsed)
	assert.True(t, rolled.PeriodEstimated, "rolled-over bounds are a local estimate")

	// Applying the same rollover with the stale version fails, so the reset
	// cannot happen twice.
	_, err = store.Rollover(ctx, sub.ID, sub.Version, start, end)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}
