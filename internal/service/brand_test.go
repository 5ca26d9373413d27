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
)

func newBrandTest(t *testing.T) (*BrandService, *repository.MemorySubscriptionStore) {
	t.Helper()
	subs := repository.NewMemorySubscriptionStore()
	brands := repository.NewMemoryBrandStore()
	ent := NewEntitlementService(subs, zerolog.Nop())
	return NewBrandService(brands, ent, zerolog.Nop()), subs
}

func TestBrandCreationGatedByPlanCap(t *testing.T) {
	svc, _ := newBrandTest(t)
	ctx := context.Background()

	// Free plan allows a single brand.
	_, err := svc.Create(ctx, "tenant-1", &domain.CreateBrandRequest{Name: "Acme"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, "tenant-1", &domain.CreateBrandRequest{Name: "Second"})
	require.Error(t, err)
	assert.True(t, domain.IsQuotaExceeded(err))
}

func TestBrandCapFollowsPlan(t *testing.T) {
	svc, subs := newBrandTest(t)
	ctx := context.Background()

	now := time.Now()
	seedPaidSub(subs, "tenant-1", domain.PlanStarter, 0, now, now.Add(30*24*time.Hour))

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, "tenant-1", &domain.CreateBrandRequest{Name: "Brand"})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, "tenant-1", &domain.CreateBrandRequest{Name: "One too many"})
	require.Error(t, err)
	assert.True(t, domain.IsQuotaExceeded(err))
}

func TestBrandValidation(t *testing.T) {
	svc, _ := newBrandTest(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "tenant-1", &domain.CreateBrandRequest{Name: ""})
	require.Error(t, err)

	_, err = svc.Create(ctx, "tenant-1", &domain.CreateBrandRequest{Name: "Acme", Website: "not a url"})
	require.Error(t, err)
}

func TestBrandListAndDelete(t *testing.T) {
	svc, subs := newBrandTest(t)
	ctx := context.Background()

	now := time.Now()
	seedPaidSub(subs, "tenant-1", domain.PlanPro, 0, now, now.Add(30*24*time.Hour))

	created, err := svc.Create(ctx, "tenant-1", &domain.CreateBrandRequest{Name: "Acme", Website: "https://acme.example.com"})
	require.NoError(t, err)

	brands, err := svc.List(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, brands, 1)
	assert.Equal(t, "Acme", brands[0].Name)

	// Tenants cannot touch each other's brands.
	err = svc.Delete(ctx, "tenant-2", created.ID)
	require.Error(t, err)

	require.NoError(t, svc.Delete(ctx, "tenant-1", created.ID))
	brands, err = svc.List(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, brands)
}
