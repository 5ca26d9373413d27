package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/magnetlab/backend/internal/domain"
)

// CheckoutSession is a gateway-hosted checkout the tenant is redirected to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Gateway abstracts the payment provider. Calls request changes at the
// provider; the provider's asynchronous webhook confirmation is what drives
// local state. Signature verification happens inside ConstructEvent, before
// any payload reaches the reconciler.
type Gateway interface {
	// CreateCustomer registers a billing customer for the tenant.
	CreateCustomer(ctx context.Context, email, name, tenantID string) (customerID string, err error)
	// CreateCheckoutSession creates a hosted checkout for the given plan.
	CreateCheckoutSession(ctx context.Context, customerID, tenantID, planID, successURL, cancelURL string) (*CheckoutSession, error)
	// CancelAtPeriodEnd flags the subscription to end when the period closes.
	CancelAtPeriodEnd(ctx context.Context, gatewaySubID string) error
	// Reactivate removes the cancel-at-period-end flag.
	Reactivate(ctx context.Context, gatewaySubID string) error
	// ChangePlan swaps the subscription to a different plan's price. The
	// gateway owns proration.
	ChangePlan(ctx context.Context, gatewaySubID, planID string) error
	// ConstructEvent verifies the webhook signature and normalizes the payload
	// into the closed event union. Unknown event kinds return (nil, nil).
	ConstructEvent(payload []byte, signature string) (*domain.BillingEvent, error)
	// PlanForPriceID maps a gateway price id back to a plan id.
	PlanForPriceID(priceID string) (string, bool)
	// PriceIDForPlan maps a plan id to its gateway price id.
	PriceIDForPlan(planID string) (string, bool)
}

// MockGateway is a test double that records calls and returns configurable
// results.
type MockGateway struct {
	mu sync.Mutex

	// Customers maps tenantID -> customerID.
	Customers map[string]string
	// CanceledSubs, ReactivatedSubs, and PlanChanges record accepted requests.
	CanceledSubs    []string
	ReactivatedSubs []string
	PlanChanges     map[string]string // gatewaySubID -> planID
	// Sessions records created checkout sessions by tenant.
	Sessions []string

	// Event is what ConstructEvent returns next.
	Event *domain.BillingEvent

	// Error fields let tests inject failures.
	CreateCustomerErr error
	CheckoutErr       error
	CancelErr         error
	ReactivateErr     error
	ChangePlanErr     error
	ConstructEventErr error

	nextCustomerSeq int
	nextSessionSeq  int
}

// NewMockGateway creates a MockGateway ready for use.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Customers:   make(map[string]string),
		PlanChanges: make(map[string]string),
	}
}

// CreateCustomer creates a mock customer.
func (g *MockGateway) CreateCustomer(_ context.Context, _, _, tenantID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CreateCustomerErr != nil {
		return "", g.CreateCustomerErr
	}
	g.nextCustomerSeq++
	id := fmt.Sprintf("cus_mock_%d", g.nextCustomerSeq)
	g.Customers[tenantID] = id
	return id, nil
}

// CreateCheckoutSession creates a mock checkout session.
func (g *MockGateway) CreateCheckoutSession(_ context.Context, _, tenantID, planID, _, _ string) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CheckoutErr != nil {
		return nil, g.CheckoutErr
	}
	g.nextSessionSeq++
	g.Sessions = append(g.Sessions, tenantID)
	id := fmt.Sprintf("cs_mock_%d", g.nextSessionSeq)
	return &CheckoutSession{
		ID:  id,
		URL: fmt.Sprintf("https://checkout.example.com/%s?plan=%s", id, planID),
	}, nil
}

// CancelAtPeriodEnd records a cancel request.
func (g *MockGateway) CancelAtPeriodEnd(_ context.Context, gatewaySubID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CancelErr != nil {
		return g.CancelErr
	}
	g.CanceledSubs = append(g.CanceledSubs, gatewaySubID)
	return nil
}

// Reactivate records a reactivation request.
func (g *MockGateway) Reactivate(_ context.Context, gatewaySubID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ReactivateErr != nil {
		return g.ReactivateErr
	}
	g.ReactivatedSubs = append(g.ReactivatedSubs, gatewaySubID)
	return nil
}

// ChangePlan records a plan swap request.
func (g *MockGateway) ChangePlan(_ context.Context, gatewaySubID, planID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ChangePlanErr != nil {
		return g.ChangePlanErr
	}
	g.PlanChanges[gatewaySubID] = planID
	return nil
}

// ConstructEvent returns the configured event.
func (g *MockGateway) ConstructEvent(_ []byte, _ string) (*domain.BillingEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ConstructEventErr != nil {
		return nil, g.ConstructEventErr
	}
	return g.Event, nil
}

// PlanForPriceID maps "price_<plan>" back to the plan id.
func (g *MockGateway) PlanForPriceID(priceID string) (string, bool) {
	for _, p := range domain.AvailablePlans() {
		if !p.IsFree() && priceID == "price_"+p.ID {
			return p.ID, true
		}
	}
	return "", false
}

// PriceIDForPlan maps a plan id to "price_<plan>".
func (g *MockGateway) PriceIDForPlan(planID string) (string, bool) {
	p, ok := domain.PlanByID(planID)
	if !ok || p.IsFree() {
		return "", false
	}
	return "price_" + p.ID, true
}

// MockPeriod returns a one-month billing period starting at start, for tests
// building events.
func MockPeriod(start time.Time) (time.Time, time.Time) {
	return start, start.AddDate(0, 1, 0)
}
