package domain

import "time"

// BillingEventKind enumerates the gateway events the reconciler understands.
// Unknown event kinds are dropped at the boundary and never reach the
// reconciler as untyped data.
type BillingEventKind string

const (
	EventCheckoutCompleted   BillingEventKind = "checkout.completed"
	EventSubscriptionCreated BillingEventKind = "subscription.created"
	EventSubscriptionUpdated BillingEventKind = "subscription.updated"
	EventSubscriptionDeleted BillingEventKind = "subscription.deleted"
	EventInvoicePaid         BillingEventKind = "invoice.paid"
	EventPaymentFailed       BillingEventKind = "payment.failed"
)

// BillingEvent is a gateway webhook payload normalized into a closed union.
// Delivery is at-least-once and unordered: the reconciler must tolerate
// replays and stale events keyed by GatewaySubID.
type BillingEvent struct {
	Kind BillingEventKind

	// TenantID comes from gateway metadata and may be empty; the reconciler
	// falls back to a customer-id lookup in the tenant directory.
	TenantID string

	GatewayCustomerID string
	GatewaySubID      string
	PriceID           string

	Status            SubscriptionStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool

	// PaymentStatus carries the invoice outcome for invoice-level events.
	PaymentStatus string
}
