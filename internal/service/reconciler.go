package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/magnetlab/backend/internal/domain"
	"github.com/magnetlab/backend/pkg/payment"
)

// Reconciler applies gateway webhook events to local subscription state. It
// is the only path allowed to definitively mark a subscription active,
// canceled, or past-due. Events arrive at-least-once and unordered, keyed by
// gateway subscription id; every handler tolerates replays and stale
// deliveries. Payload anomalies are logged and swallowed so the transport can
// acknowledge receipt; only persistence failures propagate.
type Reconciler struct {
	store   SubscriptionStore
	tenants TenantDirectory
	gateway payment.Gateway
	log     zerolog.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(store SubscriptionStore, tenants TenantDirectory, gateway payment.Gateway, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, tenants: tenants, gateway: gateway, log: log}
}

// statusRank orders statuses for the equal-period tie-break in isStaleUpdate.
// active and past_due share a rank: a payment failure and its recovery both
// arrive with the period end unchanged and must apply in either direction.
// Only falling back to a pre-activation status, or reviving a canceled
// record, counts as a regression.
var statusRank = map[domain.SubscriptionStatus]int{
	domain.StatusIncomplete: 0,
	domain.StatusTrialing:   1,
	domain.StatusActive:     2,
	domain.StatusPastDue:    2,
	domain.StatusCanceled:   3,
}

// isStaleUpdate reports whether ev is a stale delivery relative to the stored
// record. The gateway supplies no sequence number, so the period end is the
// tie-breaker: an event whose period end is older than the stored one is a
// stale retry; at equal period ends, a status that would regress the record
// is discarded. Bounds the lazy rollover estimated locally never outrank the
// gateway's view: against them only an event predating the estimate's base
// period is stale.
func isStaleUpdate(stored *domain.Subscription, ev *domain.BillingEvent) bool {
	if stored.PeriodEstimated {
		return !ev.PeriodEnd.After(stored.CurrentPeriodStart)
	}
	if ev.PeriodEnd.Before(stored.CurrentPeriodEnd) {
		return true
	}
	if ev.PeriodEnd.Equal(stored.CurrentPeriodEnd) && statusRank[ev.Status] < statusRank[stored.Status] {
		return true
	}
	return false
}

// HandleEvent applies one normalized gateway event. Must be called once per
// received event, but is safe to call again with an identical payload.
func (r *Reconciler) HandleEvent(ctx context.Context, ev *domain.BillingEvent) error {
	switch ev.Kind {
	case domain.EventCheckoutCompleted:
		return r.handleCheckoutCompleted(ctx, ev)
	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated:
		return r.handleSubscriptionUpsert(ctx, ev)
	case domain.EventSubscriptionDeleted:
		return r.handleSubscriptionDeleted(ctx, ev)
	case domain.EventInvoicePaid, domain.EventPaymentFailed:
		return r.handleInvoice(ctx, ev)
	default:
		r.log.Warn().Str("kind", string(ev.Kind)).Msg("ignoring unknown billing event kind")
		return nil
	}
}

func (r *Reconciler) anomaly(ev *domain.BillingEvent, msg string) {
	r.log.Warn().
		Str("kind", string(ev.Kind)).
		Str("gateway_sub_id", ev.GatewaySubID).
		Str("gateway_customer_id", ev.GatewayCustomerID).
		Msg("reconciliation anomaly: " + msg)
}

// resolveTenant finds the tenant an event belongs to, preferring the tenant
// id carried in gateway metadata and falling back to the customer lookup.
func (r *Reconciler) resolveTenant(ctx context.Context, ev *domain.BillingEvent) (*domain.Tenant, error) {
	if ev.TenantID != "" {
		return r.tenants.FindByID(ctx, ev.TenantID)
	}
	if ev.GatewayCustomerID != "" {
		return r.tenants.FindByGatewayCustomerID(ctx, ev.GatewayCustomerID)
	}
	return nil, nil
}

// handleCheckoutCompleted activates the paid record for a completed checkout:
// any prior active record is terminated and the new one created in a single
// transaction, then the tenant's current-subscription pointer moves. A replay
// finds the record already linked and falls through to the update path.
func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, ev *domain.BillingEvent) error {
	if ev.GatewaySubID == "" {
		r.anomaly(ev, "checkout completed without a gateway subscription id")
		return nil
	}

	existing, err := r.store.FindByGatewaySubID(ctx, ev.GatewaySubID)
	if err != nil {
		return err
	}
	if existing != nil {
		return r.applyUpdate(ctx, existing, ev)
	}

	return r.activatePaid(ctx, ev)
}

// activatePaid creates a paid record from an event for a subscription not yet
// known locally.
func (r *Reconciler) activatePaid(ctx context.Context, ev *domain.BillingEvent) error {
	tenant, err := r.resolveTenant(ctx, ev)
	if err != nil {
		return err
	}
	if tenant == nil {
		r.anomaly(ev, "no tenant resolvable from event")
		return nil
	}

	planID, ok := r.gateway.PlanForPriceID(ev.PriceID)
	if !ok {
		r.anomaly(ev, "price id maps to no known plan")
		return nil
	}

	now := time.Now()
	sub := &domain.Subscription{
		ID:                 domain.NewSubscriptionID(),
		TenantID:           tenant.ID,
		Plan:               planID,
		Status:             ev.Status,
		GatewayCustomerID:  ev.GatewayCustomerID,
		GatewaySubID:       ev.GatewaySubID,
		GatewayPriceID:     ev.PriceID,
		CurrentPeriodStart: ev.PeriodStart,
		CurrentPeriodEnd:   ev.PeriodEnd,
		CancelAtPeriodEnd:  ev.CancelAtPeriodEnd,
		StartedAt:          now,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := r.store.TerminateAndCreate(ctx, sub); err != nil {
		return err
	}
	if ev.GatewayCustomerID != "" {
		if _, err := r.tenants.SetGatewayCustomerID(ctx, tenant.ID, ev.GatewayCustomerID); err != nil {
			return err
		}
	}
	if err := r.tenants.SetCurrentSubscription(ctx, tenant.ID, sub.ID); err != nil {
		return err
	}

	r.log.Info().
		Str("tenant_id", tenant.ID).
		Str("plan", planID).
		Str("gateway_sub_id", ev.GatewaySubID).
		Msg("paid subscription activated from gateway event")
	return nil
}

// handleSubscriptionUpsert reconciles a created/updated event. A created
// event arriving before (or without) its checkout-completed event creates the
// record; otherwise the event overwrites local state, which it is
// authoritative over, unless it is a stale delivery.
func (r *Reconciler) handleSubscriptionUpsert(ctx context.Context, ev *domain.BillingEvent) error {
	if ev.GatewaySubID == "" {
		r.anomaly(ev, "subscription event without a gateway subscription id")
		return nil
	}

	sub, err := r.store.FindByGatewaySubID(ctx, ev.GatewaySubID)
	if err != nil {
		return err
	}
	if sub == nil {
		return r.activatePaid(ctx, ev)
	}
	return r.applyUpdate(ctx, sub, ev)
}

// applyUpdate overwrites a linked record from an event: status, plan (derived
// from the price id), period bounds, and cancel flag. The event is always
// authoritative over local optimistic edits, but stale deliveries are
// discarded.
func (r *Reconciler) applyUpdate(ctx context.Context, sub *domain.Subscription, ev *domain.BillingEvent) error {
	for {
		if isStaleUpdate(sub, ev) {
			r.anomaly(ev, "stale update discarded by period-end tie-breaker")
			return nil
		}

		planID, ok := r.gateway.PlanForPriceID(ev.PriceID)
		if !ok {
			r.anomaly(ev, "price id maps to no known plan")
			return nil
		}

		// A non-active record coming back to active must not break the
		// one-active rule. If the tenant has since moved to another paid
		// record the event is reviving a superseded one and is discarded; if
		// the tenant only holds the free fallback, the recovering paid
		// record supersedes it and the fallback is terminated first.
		if ev.Status == domain.StatusActive && sub.Status != domain.StatusActive {
			current, err := r.store.FindActiveByTenant(ctx, sub.TenantID)
			if err != nil {
				return err
			}
			if current != nil && current.ID != sub.ID {
				if current.GatewaySubID != "" {
					r.anomaly(ev, "update would revive a superseded record")
					return nil
				}
				now := time.Now()
				current.Status = domain.StatusCanceled
				current.CanceledAt = &now
				current.EndedAt = &now
				if err := r.store.Update(ctx, current); err != nil {
					if err == domain.ErrVersionConflict {
						continue
					}
					return err
				}
				if err := r.tenants.SetCurrentSubscription(ctx, sub.TenantID, sub.ID); err != nil {
					return err
				}
				r.log.Info().
					Str("tenant_id", sub.TenantID).
					Str("gateway_sub_id", ev.GatewaySubID).
					Msg("free fallback terminated; paid subscription recovered")
			}
		}

		// A renewal moves the counter's period forward, unless the lazy
		// rollover already reset it for this period.
		if ev.PeriodStart.After(sub.CurrentPeriodStart) && !sub.PeriodEstimated {
			sub.UnitsUsed = 0
		}

		sub.Plan = planID
		sub.Status = ev.Status
		sub.GatewayPriceID = ev.PriceID
		sub.CurrentPeriodStart = ev.PeriodStart
		sub.CurrentPeriodEnd = ev.PeriodEnd
		sub.PeriodEstimated = false
		sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
		if ev.Status == domain.StatusCanceled && sub.CanceledAt == nil {
			now := time.Now()
			sub.CanceledAt = &now
			sub.EndedAt = &now
		}

		err := r.store.Update(ctx, sub)
		if err == nil {
			r.log.Info().
				Str("tenant_id", sub.TenantID).
				Str("gateway_sub_id", ev.GatewaySubID).
				Str("status", string(ev.Status)).
				Msg("subscription reconciled from gateway event")
			return nil
		}
		if err != domain.ErrVersionConflict {
			return err
		}

		sub, err = r.store.FindByGatewaySubID(ctx, ev.GatewaySubID)
		if err != nil {
			return err
		}
		if sub == nil {
			r.anomaly(ev, "record disappeared during update")
			return nil
		}
	}
}

// handleSubscriptionDeleted terminates the linked record and leaves the
// tenant with a fresh free record, so no tenant ever has zero subscription
// rows. A deletion for an unknown subscription id is a no-op, not an error.
func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, ev *domain.BillingEvent) error {
	sub, err := r.store.FindByGatewaySubID(ctx, ev.GatewaySubID)
	if err != nil {
		return err
	}
	if sub == nil {
		r.anomaly(ev, "deletion for unknown gateway subscription id")
		return nil
	}

	if sub.Status != domain.StatusCanceled {
		now := time.Now()
		sub.Status = domain.StatusCanceled
		sub.CanceledAt = &now
		sub.EndedAt = &now
		if err := r.store.Update(ctx, sub); err != nil {
			if err != domain.ErrVersionConflict {
				return err
			}
			// Someone else terminated it concurrently; fall through to the
			// fallback check.
		}
	}

	// Ensure the free fallback exists exactly once, replay included.
	active, err := r.store.FindActiveByTenant(ctx, sub.TenantID)
	if err != nil {
		return err
	}
	if active == nil {
		free, err := r.store.CreateFree(ctx, sub.TenantID)
		if err != nil {
			return err
		}
		if err := r.tenants.SetCurrentSubscription(ctx, sub.TenantID, free.ID); err != nil {
			return err
		}
		r.log.Info().
			Str("tenant_id", sub.TenantID).
			Str("gateway_sub_id", ev.GatewaySubID).
			Msg("subscription deleted; tenant moved to free fallback")
	}
	return nil
}

// handleInvoice records payment metadata. Invoice events never change
// lifecycle status; that is reserved for subscription-level events.
func (r *Reconciler) handleInvoice(ctx context.Context, ev *domain.BillingEvent) error {
	if ev.GatewaySubID == "" {
		r.anomaly(ev, "invoice event without a gateway subscription id")
		return nil
	}
	sub, err := r.store.FindByGatewaySubID(ctx, ev.GatewaySubID)
	if err != nil {
		return err
	}
	if sub == nil {
		r.anomaly(ev, "invoice for unknown gateway subscription id")
		return nil
	}
	return r.store.SetLastPaymentStatus(ctx, sub.ID, ev.PaymentStatus)
}
