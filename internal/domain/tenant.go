package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents a registered tenant account. The directory row also holds
// the two billing pointers: the gateway customer id (created lazily on first
// checkout) and the current subscription id (moved only by the authoritative
// reconciliation transitions).
type Tenant struct {
	ID                    string    `json:"id"`
	Email                 string    `json:"email"`
	Name                  string    `json:"name"`
	Password              string    `json:"-"` // bcrypt hash, never serialized
	Role                  string    `json:"role"`
	GatewayCustomerID     string    `json:"-"`
	CurrentSubscriptionID string    `json:"-"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// NewTenantID generates a new UUID for a tenant.
func NewTenantID() string {
	return uuid.New().String()
}

// RegisterRequest is the validated input for creating a tenant account.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginRequest is the validated input for logging in.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=1"`
}

// LoginResponse is the API response after successful login.
type LoginResponse struct {
	Token  string      `json:"token"`
	Tenant LoginTenant `json:"tenant"`
}

// LoginTenant is the tenant info returned after login.
type LoginTenant struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// JWTClaims represents the JWT payload.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TenantResponse is the safe API response for a tenant (no password).
type TenantResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}
