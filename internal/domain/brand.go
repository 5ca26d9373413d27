package domain

import (
	"time"

	"github.com/google/uuid"
)

// Brand is a tenant-owned brand profile. Brand creation is gated on the
// plan's MaxBrands cap.
type Brand struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Name      string    `json:"name"`
	Website   string    `json:"website,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewBrandID generates a new UUID for a brand.
func NewBrandID() string {
	return uuid.New().String()
}

// CreateBrandRequest is the validated input for creating a brand.
type CreateBrandRequest struct {
	Name    string `json:"name" validate:"required,min=1,max=100"`
	Website string `json:"website" validate:"omitempty,url,max=255"`
}
