package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the lifecycle state of a subscription record.
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusCanceled   SubscriptionStatus = "canceled"
)

// FreePeriodYears is how far in the future a free record's period end is
// placed. Free records never expire; the far-future end keeps the lazy
// rollover check from ever firing on them.
const FreePeriodYears = 100

// Subscription is one lifecycle instance of a tenant's subscription. A tenant
// accumulates records over time (one per checkout/cancellation cycle); at most
// one of them is active at any instant. Records are never hard-deleted.
type Subscription struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Plan     string `json:"plan"`

	Status SubscriptionStatus `json:"status"`

	// Gateway linkage, empty until a paid checkout succeeds.
	GatewayCustomerID string `json:"gatewayCustomerId,omitempty"`
	GatewaySubID      string `json:"gatewaySubId,omitempty"`
	GatewayPriceID    string `json:"gatewayPriceId,omitempty"`

	CurrentPeriodStart time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time `json:"currentPeriodEnd"`

	// PeriodEstimated marks bounds that were advanced locally by the lazy
	// rollover rather than confirmed by the gateway. A gateway event clears
	// it when it writes the bounds.
	PeriodEstimated bool `json:"-"`

	// CancelAtPeriodEnd is distinct from Status: an active subscription can be
	// flagged to end when the current period closes.
	CancelAtPeriodEnd bool `json:"cancelAtPeriodEnd"`

	// UnitsUsed counts units created this period (lifetime for free records).
	UnitsUsed int64 `json:"unitsUsed"`

	StartedAt  time.Time  `json:"startedAt"`
	CanceledAt *time.Time `json:"canceledAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`

	CancelReason      string `json:"cancelReason,omitempty"`
	LastPaymentStatus string `json:"lastPaymentStatus,omitempty"`

	// Version guards read-modify-write updates: every successful update
	// increments it, and writers must present the version they read.
	Version int64 `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsActive reports whether the record is active with an unexpired period.
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == StatusActive && s.CurrentPeriodEnd.After(now)
}

// IsPaid reports whether the record is an active paid subscription.
func (s *Subscription) IsPaid(now time.Time) bool {
	return s.Plan != PlanFree && s.IsActive(now)
}

// NewSubscriptionID generates a new UUID for a subscription record.
func NewSubscriptionID() string {
	return uuid.New().String()
}

// NewFreeSubscription builds the fallback free record for a tenant.
func NewFreeSubscription(tenantID string, now time.Time) *Subscription {
	return &Subscription{
		ID:                 NewSubscriptionID(),
		TenantID:           tenantID,
		Plan:               PlanFree,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(FreePeriodYears, 0, 0),
		StartedAt:          now,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Entitlements is the read-only snapshot exposed to UI/billing surfaces.
type Entitlements struct {
	Plan              string             `json:"plan"`
	Status            SubscriptionStatus `json:"status"`
	UnitsUsed         int64              `json:"unitsUsed"`
	UnitsLimit        int64              `json:"unitsLimit"`
	UnitsRemaining    int64              `json:"unitsRemaining"`
	MaxBrands         int                `json:"maxBrands"`
	NextBillingDate   time.Time          `json:"nextBillingDate"`
	CancelAtPeriodEnd bool               `json:"cancelAtPeriodEnd"`
	IsPaid            bool               `json:"isPaid"`
}

// CheckoutRequest is the validated input for starting a paid checkout.
type CheckoutRequest struct {
	Plan string `json:"plan" validate:"required,oneof=starter pro business"`
}

// CheckoutResponse returns the URL to redirect the tenant to for payment.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
	SessionID   string `json:"sessionId"`
}

// CancelRequest is the validated input for cancel-at-period-end.
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ChangePlanRequest is the validated input for switching paid plans.
type ChangePlanRequest struct {
	Plan string `json:"plan" validate:"required,oneof=starter pro business"`
}
