package contextkeys

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const (
	// TenantID is the context key for the authenticated tenant's ID.
	TenantID contextKey = "tenantID"
	// TenantEmail is the context key for the authenticated tenant's email.
	TenantEmail contextKey = "tenantEmail"
	// TenantRole is the context key for the authenticated tenant's role.
	TenantRole contextKey = "tenantRole"
)
