package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/magnetlab/backend/internal/contextkeys"
	"github.com/magnetlab/backend/internal/domain"
	"github.com/magnetlab/backend/internal/service"
)

// BrandHandler handles brand HTTP endpoints.
type BrandHandler struct {
	svc *service.BrandService
}

// NewBrandHandler creates a new BrandHandler.
func NewBrandHandler(svc *service.BrandService) *BrandHandler {
	return &BrandHandler{svc: svc}
}

// Create handles POST /api/brands.
func (h *BrandHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := r.Context().Value(contextkeys.TenantID).(string)
	if !ok || id == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req domain.CreateBrandRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	brand, err := h.svc.Create(r.Context(), id, &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"brand":   brand,
	})
}

// List handles GET /api/brands.
func (h *BrandHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := r.Context().Value(contextkeys.TenantID).(string)
	if !ok || id == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	brands, err := h.svc.List(r.Context(), id)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"brands": brands,
		"total":  len(brands),
	})
}

// Delete handles DELETE /api/brands/{id}.
func (h *BrandHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := r.Context().Value(contextkeys.TenantID).(string)
	if !ok || tenantID == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	brandID := chi.URLParam(r, "id")

	if err := h.svc.Delete(r.Context(), tenantID, brandID); err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}
