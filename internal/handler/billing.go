package handler

import (
	"net/http"

	"github.com/magnetlab/backend/internal/contextkeys"
	"github.com/magnetlab/backend/internal/domain"
	"github.com/magnetlab/backend/internal/service"
)

// BillingHandler exposes the entitlement snapshot, quota consumption, and the
// tenant-initiated lifecycle operations.
type BillingHandler struct {
	entitlements *service.EntitlementService
	lifecycle    *service.LifecycleService
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(entitlements *service.EntitlementService, lifecycle *service.LifecycleService) *BillingHandler {
	return &BillingHandler{entitlements: entitlements, lifecycle: lifecycle}
}

func tenantID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(contextkeys.TenantID).(string)
	return id, ok && id != ""
}

// Entitlements handles GET /api/billing/entitlements.
func (h *BillingHandler) Entitlements(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	ent, err := h.entitlements.GetEntitlements(r.Context(), id)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, ent)
}

// ConsumeUnit handles POST /api/billing/usage. It atomically consumes one
// quota unit, or fails with 402 when the cap is reached.
func (h *BillingHandler) ConsumeUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	if err := h.entitlements.ConsumeUnit(r.Context(), id); err != nil {
		Error(w, err)
		return
	}

	ent, err := h.entitlements.GetEntitlements(r.Context(), id)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, ent)
}

// Checkout handles POST /api/billing/checkout.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req domain.CheckoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.lifecycle.StartCheckout(r.Context(), id, req.Plan)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// Cancel handles POST /api/billing/cancel.
func (h *BillingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req domain.CancelRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	if err := h.lifecycle.Cancel(r.Context(), id, req.Reason); err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Reactivate handles POST /api/billing/reactivate.
func (h *BillingHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	if err := h.lifecycle.Reactivate(r.Context(), id); err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ChangePlan handles POST /api/billing/plan.
func (h *BillingHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req domain.ChangePlanRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	if err := h.lifecycle.ChangePlan(r.Context(), id, req.Plan); err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]bool{"success": true})
}
