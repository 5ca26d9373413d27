package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/magnetlab/backend/internal/domain"
)

// SubscriptionStore is the persistence contract for subscription records.
// Mutations that depend on a prior read are conditional at the store level:
// Update and Rollover compare-and-swap on the record version, IncrementUsage
// is a single atomic conditional update, and TerminateAndCreate is one
// transaction. Satisfied by repository.SubscriptionRepository and
// repository.MemorySubscriptionStore.
type SubscriptionStore interface {
	FindActiveByTenant(ctx context.Context, tenantID string) (*domain.Subscription, error)
	FindByGatewaySubID(ctx context.Context, gatewaySubID string) (*domain.Subscription, error)
	CreateFree(ctx context.Context, tenantID string) (*domain.Subscription, error)
	Create(ctx context.Context, sub *domain.Subscription) error
	Update(ctx context.Context, sub *domain.Subscription) error
	IncrementUsage(ctx context.Context, id string, cap int64) (*domain.Subscription, error)
	Rollover(ctx context.Context, id string, version int64, periodStart, periodEnd time.Time) (*domain.Subscription, error)
	TerminateAndCreate(ctx context.Context, sub *domain.Subscription) error
	SetLastPaymentStatus(ctx context.Context, id, status string) error
}

// TenantDirectory is the persistence contract for tenant accounts and their
// billing pointers. Satisfied by repository.TenantRepository and
// repository.MemoryTenantDirectory.
type TenantDirectory interface {
	Create(ctx context.Context, t *domain.Tenant) error
	FindByID(ctx context.Context, id string) (*domain.Tenant, error)
	FindByEmail(ctx context.Context, email string) (*domain.Tenant, error)
	FindByGatewayCustomerID(ctx context.Context, customerID string) (*domain.Tenant, error)
	Exists(ctx context.Context, email string) (bool, error)
	SetGatewayCustomerID(ctx context.Context, tenantID, customerID string) (string, error)
	SetCurrentSubscription(ctx context.Context, tenantID, subscriptionID string) error
}

// EntitlementService answers "what may this tenant do right now" and consumes
// quota units. It is the only quota-consuming path; lifecycle changes go
// through LifecycleService and the webhook reconciler.
type EntitlementService struct {
	store SubscriptionStore
	log   zerolog.Logger
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(store SubscriptionStore, log zerolog.Logger) *EntitlementService {
	return &EntitlementService{store: store, log: log}
}

// ActiveSubscription returns the tenant's active record, creating the free
// fallback when the tenant has none yet.
func (s *EntitlementService) ActiveSubscription(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	sub, err := s.store.FindActiveByTenant(ctx, tenantID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load subscription", err)
	}
	if sub != nil {
		return sub, nil
	}

	sub, err = s.store.CreateFree(ctx, tenantID)
	if err != nil {
		return nil, domain.ErrInternal("failed to create free subscription", err)
	}
	s.log.Info().Str("tenant_id", tenantID).Msg("created free subscription on first entitlement check")
	return sub, nil
}

// rolloverIfNeeded resets the usage counter when a paid record's period has
// lapsed and the authoritative webhook has not arrived yet. The period bounds
// advance locally so quota does not stay exhausted past renewal; they are
// only an estimate, marked as such on the record, and the next
// subscription-updated event replaces them with the gateway's own view.
// Free records never roll over.
func (s *EntitlementService) rolloverIfNeeded(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	tenantID := sub.TenantID
	for {
		now := time.Now()
		if sub.Plan == domain.PlanFree || sub.CurrentPeriodEnd.After(now) {
			return sub, nil
		}

		periodLen := sub.CurrentPeriodEnd.Sub(sub.CurrentPeriodStart)
		if periodLen <= 0 {
			periodLen = 30 * 24 * time.Hour
		}
		start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
		for !end.After(now) {
			start, end = end, end.Add(periodLen)
		}

		rolled, err := s.store.Rollover(ctx, sub.ID, sub.Version, start, end)
		if err == nil {
			s.log.Info().
				Str("tenant_id", sub.TenantID).
				Str("subscription_id", sub.ID).
				Time("period_end", end).
				Msg("lazy period rollover applied")
			return rolled, nil
		}
		if err != domain.ErrVersionConflict {
			return nil, domain.ErrInternal("failed to roll over period", err)
		}

		// Lost the race; re-read and re-check. The winner may have been this
		// rollover from a concurrent request or an authoritative webhook.
		sub, err = s.store.FindActiveByTenant(ctx, tenantID)
		if err != nil {
			return nil, domain.ErrInternal("failed to reload subscription", err)
		}
		if sub == nil {
			return s.ActiveSubscription(ctx, tenantID)
		}
	}
}

// unitCap returns the applicable cap for the record's plan.
func unitCap(sub *domain.Subscription) (int64, domain.Plan) {
	plan, ok := domain.PlanByID(sub.Plan)
	if !ok {
		plan = domain.FreePlan()
	}
	return plan.UnitCap, plan
}

// CanConsumeUnit reports whether the tenant may consume one more unit, and on
// refusal a human-readable reason naming the cap.
func (s *EntitlementService) CanConsumeUnit(ctx context.Context, sub *domain.Subscription) (bool, string, error) {
	sub, err := s.rolloverIfNeeded(ctx, sub)
	if err != nil {
		return false, "", err
	}

	limit, plan := unitCap(sub)
	if sub.UnitsUsed < limit {
		return true, "", nil
	}
	return false, quotaReason(sub, plan), nil
}

func quotaReason(sub *domain.Subscription, plan domain.Plan) string {
	if plan.IsFree() {
		return fmt.Sprintf("lifetime cap of %d reached on the free plan; upgrade to create more", plan.UnitCap)
	}
	return fmt.Sprintf("monthly cap of %d reached, resets on %s", plan.UnitCap, sub.CurrentPeriodEnd.Format("2006-01-02"))
}

// ConsumeUnit atomically consumes one quota unit for the tenant, creating the
// free fallback record if none exists. Concurrent calls for the same tenant
// cannot overshoot the cap: the increment is a single conditional update.
func (s *EntitlementService) ConsumeUnit(ctx context.Context, tenantID string) error {
	sub, err := s.ActiveSubscription(ctx, tenantID)
	if err != nil {
		return err
	}

	sub, err = s.rolloverIfNeeded(ctx, sub)
	if err != nil {
		return err
	}

	limit, plan := unitCap(sub)
	updated, err := s.store.IncrementUsage(ctx, sub.ID, limit)
	if err != nil {
		return domain.ErrInternal("failed to consume unit", err)
	}
	if updated == nil {
		return domain.ErrQuotaExceeded(quotaReason(sub, plan))
	}
	return nil
}

// CheckBrandCap rejects brand creation once the plan's brand cap is reached.
func (s *EntitlementService) CheckBrandCap(ctx context.Context, tenantID string, currentCount int) error {
	sub, err := s.ActiveSubscription(ctx, tenantID)
	if err != nil {
		return err
	}
	_, plan := unitCap(sub)
	if currentCount >= plan.MaxBrands {
		return domain.ErrQuotaExceeded(fmt.Sprintf("brand limit of %d reached on the %s plan", plan.MaxBrands, plan.Name))
	}
	return nil
}

// GetEntitlements returns the read-only snapshot for UI and billing surfaces.
// The lazy rollover runs here too, so a delayed webhook can never leave a
// tenant stuck over-quota past their renewal.
func (s *EntitlementService) GetEntitlements(ctx context.Context, tenantID string) (*domain.Entitlements, error) {
	sub, err := s.ActiveSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sub, err = s.rolloverIfNeeded(ctx, sub)
	if err != nil {
		return nil, err
	}

	limit, plan := unitCap(sub)
	remaining := limit - sub.UnitsUsed
	if remaining < 0 {
		remaining = 0
	}
	return &domain.Entitlements{
		Plan:              sub.Plan,
		Status:            sub.Status,
		UnitsUsed:         sub.UnitsUsed,
		UnitsLimit:        limit,
		UnitsRemaining:    remaining,
		MaxBrands:         plan.MaxBrands,
		NextBillingDate:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		IsPaid:            sub.IsPaid(time.Now()),
	}, nil
}
