package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/magnetlab/backend/internal/domain"
	"github.com/magnetlab/backend/pkg/payment"
)

// LifecycleService carries tenant-initiated subscription changes. Every
// operation calls the gateway first and mutates local state only after the
// gateway accepts; a failed or timed-out gateway call leaves local state
// unchanged so the whole operation can be retried. Definitive status changes
// arrive later through the webhook reconciler.
type LifecycleService struct {
	store      SubscriptionStore
	tenants    TenantDirectory
	gateway    payment.Gateway
	successURL string
	cancelURL  string
	log        zerolog.Logger
}

// NewLifecycleService creates a new LifecycleService.
func NewLifecycleService(store SubscriptionStore, tenants TenantDirectory, gateway payment.Gateway, successURL, cancelURL string, log zerolog.Logger) *LifecycleService {
	return &LifecycleService{
		store:      store,
		tenants:    tenants,
		gateway:    gateway,
		successURL: successURL,
		cancelURL:  cancelURL,
		log:        log,
	}
}

// StartCheckout requests a gateway checkout session for a paid plan. It does
// not touch subscription status; only the checkout-completed reconciliation
// activates the paid record.
func (s *LifecycleService) StartCheckout(ctx context.Context, tenantID, planID string) (*domain.CheckoutResponse, error) {
	plan, ok := domain.PlanByID(planID)
	if !ok || plan.IsFree() {
		return nil, domain.ErrValidation(fmt.Sprintf("unknown or free plan %q", planID))
	}

	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load tenant", err)
	}
	if tenant == nil {
		return nil, domain.ErrNotFound("tenant not found")
	}

	sub, err := s.store.FindActiveByTenant(ctx, tenantID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load subscription", err)
	}
	if sub != nil && sub.IsPaid(time.Now()) {
		return nil, domain.ErrConflict(fmt.Sprintf("already subscribed to the %s plan; change plans instead", sub.Plan))
	}

	customerID := tenant.GatewayCustomerID
	if customerID == "" {
		created, err := s.gateway.CreateCustomer(ctx, tenant.Email, tenant.Name, tenantID)
		if err != nil {
			return nil, domain.ErrGateway("failed to create billing customer", err)
		}
		// First writer wins; a concurrent checkout may have stored one already.
		customerID, err = s.tenants.SetGatewayCustomerID(ctx, tenantID, created)
		if err != nil {
			return nil, domain.ErrInternal("failed to store billing customer", err)
		}
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, customerID, tenantID, planID, s.successURL, s.cancelURL)
	if err != nil {
		return nil, domain.ErrGateway("failed to create checkout session", err)
	}

	s.log.Info().Str("tenant_id", tenantID).Str("plan", planID).Str("session_id", session.ID).Msg("checkout session created")
	return &domain.CheckoutResponse{CheckoutURL: session.URL, SessionID: session.ID}, nil
}

// paidSubscription loads the tenant's active paid record or fails with the
// appropriate conflict.
func (s *LifecycleService) paidSubscription(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	sub, err := s.store.FindActiveByTenant(ctx, tenantID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load subscription", err)
	}
	if sub == nil || !sub.IsPaid(time.Now()) || sub.GatewaySubID == "" {
		return nil, domain.ErrConflict("no active paid subscription")
	}
	return sub, nil
}

// Cancel flags the subscription to end at period close. Status stays active
// until the period actually ends, confirmed later by reconciliation.
func (s *LifecycleService) Cancel(ctx context.Context, tenantID, reason string) error {
	sub, err := s.paidSubscription(ctx, tenantID)
	if err != nil {
		return err
	}
	if sub.CancelAtPeriodEnd {
		return domain.ErrConflict("subscription is already set to cancel at period end")
	}

	if err := s.gateway.CancelAtPeriodEnd(ctx, sub.GatewaySubID); err != nil {
		return domain.ErrGateway("failed to cancel subscription", err)
	}

	sub.CancelAtPeriodEnd = true
	sub.CancelReason = reason
	if err := s.updateWithRetry(ctx, sub, func(fresh *domain.Subscription) {
		fresh.CancelAtPeriodEnd = true
		fresh.CancelReason = reason
	}); err != nil {
		return err
	}

	s.log.Info().Str("tenant_id", tenantID).Str("gateway_sub_id", sub.GatewaySubID).Msg("subscription flagged to cancel at period end")
	return nil
}

// Reactivate clears a pending cancel-at-period-end flag.
func (s *LifecycleService) Reactivate(ctx context.Context, tenantID string) error {
	sub, err := s.paidSubscription(ctx, tenantID)
	if err != nil {
		return err
	}
	if !sub.CancelAtPeriodEnd {
		return domain.ErrConflict("subscription is not set to cancel")
	}

	if err := s.gateway.Reactivate(ctx, sub.GatewaySubID); err != nil {
		return domain.ErrGateway("failed to reactivate subscription", err)
	}

	sub.CancelAtPeriodEnd = false
	sub.CancelReason = ""
	if err := s.updateWithRetry(ctx, sub, func(fresh *domain.Subscription) {
		fresh.CancelAtPeriodEnd = false
		fresh.CancelReason = ""
	}); err != nil {
		return err
	}

	s.log.Info().Str("tenant_id", tenantID).Str("gateway_sub_id", sub.GatewaySubID).Msg("subscription reactivated")
	return nil
}

// ChangePlan swaps an active paid subscription to a different paid plan. The
// local plan update is optimistic; the gateway's subsequent updated event is
// authoritative and may override it.
func (s *LifecycleService) ChangePlan(ctx context.Context, tenantID, newPlanID string) error {
	plan, ok := domain.PlanByID(newPlanID)
	if !ok || plan.IsFree() {
		return domain.ErrValidation(fmt.Sprintf("unknown or free plan %q", newPlanID))
	}

	sub, err := s.paidSubscription(ctx, tenantID)
	if err != nil {
		return err
	}
	if sub.Plan == newPlanID {
		return domain.ErrConflict(fmt.Sprintf("already on the %s plan", newPlanID))
	}

	if err := s.gateway.ChangePlan(ctx, sub.GatewaySubID, newPlanID); err != nil {
		return domain.ErrGateway("failed to change plan", err)
	}

	priceID, _ := s.gateway.PriceIDForPlan(newPlanID)
	sub.Plan = newPlanID
	sub.GatewayPriceID = priceID
	if err := s.updateWithRetry(ctx, sub, func(fresh *domain.Subscription) {
		fresh.Plan = newPlanID
		fresh.GatewayPriceID = priceID
	}); err != nil {
		return err
	}

	s.log.Info().Str("tenant_id", tenantID).Str("plan", newPlanID).Msg("plan changed (pending gateway confirmation)")
	return nil
}

// updateWithRetry applies a CAS update, re-reading and re-applying the
// mutation when a concurrent writer interleaved.
func (s *LifecycleService) updateWithRetry(ctx context.Context, sub *domain.Subscription, apply func(*domain.Subscription)) error {
	err := s.store.Update(ctx, sub)
	for err == domain.ErrVersionConflict {
		fresh, ferr := s.store.FindActiveByTenant(ctx, sub.TenantID)
		if ferr != nil {
			return domain.ErrInternal("failed to reload subscription", ferr)
		}
		if fresh == nil {
			return domain.ErrConflict("subscription no longer active")
		}
		apply(fresh)
		err = s.store.Update(ctx, fresh)
	}
	if err != nil {
		return domain.ErrInternal("failed to update subscription", err)
	}
	return nil
}
