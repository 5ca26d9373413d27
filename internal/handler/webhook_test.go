package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magnetlab/backend/internal/domain"
	"github.com/magnetlab/backend/internal/repository"
	"github.com/magnetlab/backend/internal/service"
	"github.com/magnetlab/backend/pkg/payment"
)

func newWebhookTest(t *testing.T) (*WebhookHandler, *payment.MockGateway, *repository.MemorySubscriptionStore) {
	t.Helper()
	store := repository.NewMemorySubscriptionStore()
	tenants := repository.NewMemoryTenantDirectory()
	gateway := payment.NewMockGateway()

	now := time.Now()
	require.NoError(t, tenants.Create(context.Background(), &domain.Tenant{
		ID:        "tenant-1",
		Email:     "owner@example.com",
		Role:      "tenant",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	rec := service.NewReconciler(store, tenants, gateway, zerolog.Nop())
	return NewWebhookHandler(gateway, rec, zerolog.Nop()), gateway, store
}

func postWebhook(h *WebhookHandler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/billing", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	w := httptest.NewRecorder()
	h.HandleBilling(w, req)
	return w
}

func TestWebhookAppliesEvent(t *testing.T) {
	h, gateway, store := newWebhookTest(t)

	start := time.Now()
	gateway.Event = &domain.BillingEvent{
		Kind:              domain.EventCheckoutCompleted,
		TenantID:          "tenant-1",
		GatewayCustomerID: "cus_1",
		GatewaySubID:      "sub_1",
		PriceID:           "price_pro",
		Status:            domain.StatusActive,
		PeriodStart:       start,
		PeriodEnd:         start.AddDate(0, 1, 0),
	}

	w := postWebhook(h)
	assert.Equal(t, http.StatusOK, w.Code)

	sub, err := store.FindActiveByTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, domain.PlanPro, sub.Plan)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h, gateway, store := newWebhookTest(t)
	gateway.ConstructEventErr = errors.New("signature mismatch")

	w := postWebhook(h)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, store.All())
}

func TestWebhookAcknowledgesIgnoredKinds(t *testing.T) {
	h, gateway, _ := newWebhookTest(t)
	gateway.Event = nil // verified but not a kind we act on

	w := postWebhook(h)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookSwallowsAnomalies(t *testing.T) {
	h, gateway, store := newWebhookTest(t)

	// Deletion of a subscription the store has never seen: acknowledged so
	// the gateway stops retrying.
	gateway.Event = &domain.BillingEvent{
		Kind:         domain.EventSubscriptionDeleted,
		GatewaySubID: "sub_ghost",
	}

	w := postWebhook(h)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.All())
}
