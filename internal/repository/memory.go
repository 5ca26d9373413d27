package repository

import (
	"context"
	"sync"
	"time"

	"github.com/magnetlab/backend/internal/domain"
)

// In-memory implementations of the store and directory contracts, with the
// same conditional-update semantics as the Postgres repositories. Used by the
// service tests and for running the server without a database in development.

// MemorySubscriptionStore is a thread-safe in-memory subscription store.
type MemorySubscriptionStore struct {
	mu   sync.Mutex
	subs map[string]*domain.Subscription // id -> record
}

// NewMemorySubscriptionStore creates an empty MemorySubscriptionStore.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[string]*domain.Subscription)}
}

func copySub(s *domain.Subscription) *domain.Subscription {
	c := *s
	if s.CanceledAt != nil {
		t := *s.CanceledAt
		c.CanceledAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Seed inserts a record directly, for tests.
func (m *MemorySubscriptionStore) Seed(sub *domain.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = copySub(sub)
}

// All returns every stored record, for tests asserting invariants.
func (m *MemorySubscriptionStore) All() []*domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, copySub(s))
	}
	return out
}

// FindActiveByTenant returns the tenant's single active record, or nil.
func (m *MemorySubscriptionStore) FindActiveByTenant(_ context.Context, tenantID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.TenantID == tenantID && s.Status == domain.StatusActive {
			return copySub(s), nil
		}
	}
	return nil, nil
}

// FindByGatewaySubID returns the record linked to a gateway subscription id, or nil.
func (m *MemorySubscriptionStore) FindByGatewaySubID(_ context.Context, gatewaySubID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.GatewaySubID != "" && s.GatewaySubID == gatewaySubID {
			return copySub(s), nil
		}
	}
	return nil, nil
}

// CreateFree persists a fresh free record for the tenant and returns it.
func (m *MemorySubscriptionStore) CreateFree(_ context.Context, tenantID string) (*domain.Subscription, error) {
	sub := domain.NewFreeSubscription(tenantID, time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = copySub(sub)
	return sub, nil
}

// Create inserts a new subscription record.
func (m *MemorySubscriptionStore) Create(_ context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = copySub(sub)
	return nil
}

// Update writes mutable fields back, guarded by the version the caller read.
func (m *MemorySubscriptionStore) Update(_ context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.subs[sub.ID]
	if !ok || stored.Version != sub.Version {
		return domain.ErrVersionConflict
	}
	next := copySub(sub)
	next.Version++
	next.UpdatedAt = time.Now()
	m.subs[sub.ID] = next
	sub.Version = next.Version
	return nil
}

// IncrementUsage atomically consumes one unit if the counter is below cap.
func (m *MemorySubscriptionStore) IncrementUsage(_ context.Context, id string, cap int64) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.subs[id]
	if !ok || stored.UnitsUsed >= cap {
		return nil, nil
	}
	stored.UnitsUsed++
	stored.Version++
	stored.UpdatedAt = time.Now()
	return copySub(stored), nil
}

// Rollover resets the usage counter and advances the period bounds, guarded
// by version.
func (m *MemorySubscriptionStore) Rollover(_ context.Context, id string, version int64, periodStart, periodEnd time.Time) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.subs[id]
	if !ok || stored.Version != version {
		return nil, domain.ErrVersionConflict
	}
	stored.UnitsUsed = 0
	stored.CurrentPeriodStart = periodStart
	stored.CurrentPeriodEnd = periodEnd
	stored.PeriodEstimated = true
	stored.Version++
	stored.UpdatedAt = time.Now()
	return copySub(stored), nil
}

// TerminateAndCreate terminates active records for the tenant and inserts the
// replacement atomically.
func (m *MemorySubscriptionStore) TerminateAndCreate(_ context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, s := range m.subs {
		if s.TenantID == sub.TenantID && s.Status == domain.StatusActive {
			s.Status = domain.StatusCanceled
			t := now
			s.CanceledAt = &t
			s.EndedAt = &t
			s.Version++
			s.UpdatedAt = now
		}
	}
	m.subs[sub.ID] = copySub(sub)
	return nil
}

// SetLastPaymentStatus records invoice-level payment metadata.
func (m *MemorySubscriptionStore) SetLastPaymentStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.subs[id]; ok {
		stored.LastPaymentStatus = status
		stored.Version++
		stored.UpdatedAt = time.Now()
	}
	return nil
}

// MemoryTenantDirectory is a thread-safe in-memory tenant directory.
type MemoryTenantDirectory struct {
	mu      sync.Mutex
	tenants map[string]*domain.Tenant
}

// NewMemoryTenantDirectory creates an empty MemoryTenantDirectory.
func NewMemoryTenantDirectory() *MemoryTenantDirectory {
	return &MemoryTenantDirectory{tenants: make(map[string]*domain.Tenant)}
}

// Create inserts a new tenant.
func (m *MemoryTenantDirectory) Create(_ context.Context, t *domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	m.tenants[t.ID] = &c
	return nil
}

// FindByID returns a tenant by ID, or nil.
func (m *MemoryTenantDirectory) FindByID(_ context.Context, id string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[id]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

// FindByEmail returns a tenant by email, or nil.
func (m *MemoryTenantDirectory) FindByEmail(_ context.Context, email string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Email == email {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

// FindByGatewayCustomerID returns the tenant holding a gateway customer id, or nil.
func (m *MemoryTenantDirectory) FindByGatewayCustomerID(_ context.Context, customerID string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.GatewayCustomerID != "" && t.GatewayCustomerID == customerID {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

// Exists reports whether a tenant with the given email exists.
func (m *MemoryTenantDirectory) Exists(_ context.Context, email string) (bool, error) {
	t, _ := m.FindByEmail(context.Background(), email)
	return t != nil, nil
}

// SetGatewayCustomerID stores the customer id if none is set, returning the
// stored value.
func (m *MemoryTenantDirectory) SetGatewayCustomerID(_ context.Context, tenantID, customerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return "", nil
	}
	if t.GatewayCustomerID == "" {
		t.GatewayCustomerID = customerID
	}
	return t.GatewayCustomerID, nil
}

// SetCurrentSubscription moves the current-subscription pointer.
func (m *MemoryTenantDirectory) SetCurrentSubscription(_ context.Context, tenantID, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[tenantID]; ok {
		t.CurrentSubscriptionID = subscriptionID
	}
	return nil
}

// MemoryBrandStore is a thread-safe in-memory brand store.
type MemoryBrandStore struct {
	mu     sync.Mutex
	brands map[string]*domain.Brand
}

// NewMemoryBrandStore creates an empty MemoryBrandStore.
func NewMemoryBrandStore() *MemoryBrandStore {
	return &MemoryBrandStore{brands: make(map[string]*domain.Brand)}
}

// Create inserts a new brand.
func (m *MemoryBrandStore) Create(_ context.Context, b *domain.Brand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *b
	m.brands[b.ID] = &c
	return nil
}

// FindByID returns a brand owned by the tenant, or nil.
func (m *MemoryBrandStore) FindByID(_ context.Context, id, tenantID string) (*domain.Brand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.brands[id]; ok && b.TenantID == tenantID {
		c := *b
		return &c, nil
	}
	return nil, nil
}

// ListByTenant returns all brands owned by the tenant.
func (m *MemoryBrandStore) ListByTenant(_ context.Context, tenantID string) ([]*domain.Brand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Brand
	for _, b := range m.brands {
		if b.TenantID == tenantID {
			c := *b
			out = append(out, &c)
		}
	}
	return out, nil
}

// CountByTenant returns the number of brands the tenant holds.
func (m *MemoryBrandStore) CountByTenant(_ context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, b := range m.brands {
		if b.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

// Delete removes a brand owned by the tenant.
func (m *MemoryBrandStore) Delete(_ context.Context, id, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.brands[id]; ok && b.TenantID == tenantID {
		delete(m.brands, id)
	}
	return nil
}
