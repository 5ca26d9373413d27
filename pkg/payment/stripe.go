package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/magnetlab/backend/internal/domain"
)

// StripeGateway implements Gateway using the Stripe API.
type StripeGateway struct {
	webhookSecret string
	planPriceIDs  map[string]string // planID -> price ID
	priceIDPlans  map[string]string // price ID -> planID
}

// NewStripeGateway creates a StripeGateway with the given API key, webhook
// secret, and mapping from plan IDs to Stripe price IDs.
func NewStripeGateway(apiKey, webhookSecret string, planPriceIDs map[string]string) *StripeGateway {
	stripe.Key = apiKey
	priceIDPlans := make(map[string]string, len(planPriceIDs))
	for plan, price := range planPriceIDs {
		priceIDPlans[price] = plan
	}
	return &StripeGateway{
		webhookSecret: webhookSecret,
		planPriceIDs:  planPriceIDs,
		priceIDPlans:  priceIDPlans,
	}
}

// CreateCustomer creates a new Stripe customer for the tenant.
func (g *StripeGateway) CreateCustomer(_ context.Context, email, name, tenantID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
		Metadata: map[string]string{
			"tenant_id": tenantID,
		},
	}
	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("payment: create stripe customer: %w", err)
	}
	return c.ID, nil
}

// CreateCheckoutSession creates a hosted subscription checkout. The tenant id
// travels in the client reference and the subscription metadata so the
// webhook reconciler can attribute the resulting events.
func (g *StripeGateway) CreateCheckoutSession(_ context.Context, customerID, tenantID, planID, successURL, cancelURL string) (*CheckoutSession, error) {
	priceID, ok := g.planPriceIDs[planID]
	if !ok {
		return nil, fmt.Errorf("payment: no stripe price ID configured for plan %q", planID)
	}

	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(tenantID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"tenant_id": tenantID},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("payment: create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// CancelAtPeriodEnd flags the Stripe subscription to end at period close.
func (g *StripeGateway) CancelAtPeriodEnd(_ context.Context, gatewaySubID string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	if _, err := subscription.Update(gatewaySubID, params); err != nil {
		return fmt.Errorf("payment: cancel stripe subscription: %w", err)
	}
	return nil
}

// Reactivate clears the cancel-at-period-end flag on the Stripe subscription.
func (g *StripeGateway) Reactivate(_ context.Context, gatewaySubID string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
	if _, err := subscription.Update(gatewaySubID, params); err != nil {
		return fmt.Errorf("payment: reactivate stripe subscription: %w", err)
	}
	return nil
}

// ChangePlan swaps the subscription's single item to the new plan's price.
// Stripe computes proration.
func (g *StripeGateway) ChangePlan(_ context.Context, gatewaySubID, planID string) error {
	priceID, ok := g.planPriceIDs[planID]
	if !ok {
		return fmt.Errorf("payment: no stripe price ID configured for plan %q", planID)
	}

	cur, err := subscription.Get(gatewaySubID, nil)
	if err != nil {
		return fmt.Errorf("payment: fetch stripe subscription: %w", err)
	}
	if cur.Items == nil || len(cur.Items.Data) == 0 {
		return fmt.Errorf("payment: stripe subscription %s has no items", gatewaySubID)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(cur.Items.Data[0].ID), Price: stripe.String(priceID)},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	if _, err := subscription.Update(gatewaySubID, params); err != nil {
		return fmt.Errorf("payment: change stripe plan: %w", err)
	}
	return nil
}

// PlanForPriceID maps a Stripe price id back to a plan id.
func (g *StripeGateway) PlanForPriceID(priceID string) (string, bool) {
	plan, ok := g.priceIDPlans[priceID]
	return plan, ok
}

// PriceIDForPlan maps a plan id to its Stripe price id.
func (g *StripeGateway) PriceIDForPlan(planID string) (string, bool) {
	price, ok := g.planPriceIDs[planID]
	return price, ok
}

// stripeSubscription is the slice of the webhook subscription object the
// reconciler needs. Period bounds are read from the items when the API
// version places them there, falling back to the subscription-level fields.
type stripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s *stripeSubscription) periodBounds() (time.Time, time.Time) {
	start, end := s.CurrentPeriodStart, s.CurrentPeriodEnd
	if len(s.Items.Data) > 0 && s.Items.Data[0].CurrentPeriodEnd != 0 {
		start, end = s.Items.Data[0].CurrentPeriodStart, s.Items.Data[0].CurrentPeriodEnd
	}
	return time.Unix(start, 0).UTC(), time.Unix(end, 0).UTC()
}

func (s *stripeSubscription) priceID() string {
	if len(s.Items.Data) > 0 {
		return s.Items.Data[0].Price.ID
	}
	return ""
}

func mapStripeStatus(status string) domain.SubscriptionStatus {
	switch status {
	case "active":
		return domain.StatusActive
	case "trialing":
		return domain.StatusTrialing
	case "past_due", "unpaid":
		return domain.StatusPastDue
	case "canceled", "incomplete_expired":
		return domain.StatusCanceled
	default:
		return domain.StatusIncomplete
	}
}

func (s *stripeSubscription) toEvent(kind domain.BillingEventKind) *domain.BillingEvent {
	start, end := s.periodBounds()
	return &domain.BillingEvent{
		Kind:              kind,
		TenantID:          s.Metadata["tenant_id"],
		GatewayCustomerID: s.Customer,
		GatewaySubID:      s.ID,
		PriceID:           s.priceID(),
		Status:            mapStripeStatus(s.Status),
		PeriodStart:       start,
		PeriodEnd:         end,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
}

// ConstructEvent verifies the webhook signature and normalizes the Stripe
// event into the domain union. Unknown event types return (nil, nil) so the
// transport can acknowledge them without involving the reconciler.
func (g *StripeGateway) ConstructEvent(payload []byte, signature string) (*domain.BillingEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("payment: webhook signature verification failed: %w", err)
	}

	switch string(event.Type) {
	case "checkout.session.completed":
		return g.normalizeCheckoutCompleted(event.Data.Raw)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("payment: parse subscription event: %w", err)
		}
		kind := domain.EventSubscriptionUpdated
		switch string(event.Type) {
		case "customer.subscription.created":
			kind = domain.EventSubscriptionCreated
		case "customer.subscription.deleted":
			kind = domain.EventSubscriptionDeleted
		}
		return sub.toEvent(kind), nil

	case "invoice.paid", "invoice.payment_failed":
		var inv struct {
			Customer string `json:"customer"`
			Status   string `json:"status"`
			Parent   struct {
				SubscriptionDetails struct {
					Subscription string `json:"subscription"`
				} `json:"subscription_details"`
			} `json:"parent"`
		}
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("payment: parse invoice event: %w", err)
		}
		kind := domain.EventInvoicePaid
		paymentStatus := "paid"
		if string(event.Type) == "invoice.payment_failed" {
			kind = domain.EventPaymentFailed
			paymentStatus = "failed"
		}
		return &domain.BillingEvent{
			Kind:              kind,
			GatewayCustomerID: inv.Customer,
			GatewaySubID:      inv.Parent.SubscriptionDetails.Subscription,
			PaymentStatus:     paymentStatus,
		}, nil
	}

	// Unknown event kind: dropped at the boundary.
	return nil, nil
}

// normalizeCheckoutCompleted maps a completed checkout session. The session
// payload carries only references, so the subscription is fetched to fill in
// price and period fields.
func (g *StripeGateway) normalizeCheckoutCompleted(raw json.RawMessage) (*domain.BillingEvent, error) {
	var cs struct {
		ClientReferenceID string `json:"client_reference_id"`
		Customer          string `json:"customer"`
		Subscription      string `json:"subscription"`
	}
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("payment: parse checkout session event: %w", err)
	}
	if cs.Subscription == "" {
		// One-time payment sessions carry no subscription; nothing to reconcile.
		return nil, nil
	}

	fetched, err := subscription.Get(cs.Subscription, nil)
	if err != nil {
		return nil, fmt.Errorf("payment: fetch subscription for checkout session: %w", err)
	}

	ev := &domain.BillingEvent{
		Kind:              domain.EventCheckoutCompleted,
		TenantID:          fetched.Metadata["tenant_id"],
		GatewayCustomerID: cs.Customer,
		GatewaySubID:      fetched.ID,
		Status:            mapStripeStatus(string(fetched.Status)),
		CancelAtPeriodEnd: fetched.CancelAtPeriodEnd,
	}
	if fetched.Items != nil && len(fetched.Items.Data) > 0 {
		item := fetched.Items.Data[0]
		if item.Price != nil {
			ev.PriceID = item.Price.ID
		}
		ev.PeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		ev.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	if ev.TenantID == "" {
		ev.TenantID = cs.ClientReferenceID
	}
	return ev, nil
}
