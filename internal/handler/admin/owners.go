package admin

import (
	"net/http"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/handler"
	"github.com/tripledger/commission/internal/service"
)

// OwnerAdminHandler handles tier overrides and balance reconciliation.
type OwnerAdminHandler struct {
	payoutSvc  *service.PayoutService
	reconciler *service.Reconciler
}

// NewOwnerAdminHandler creates a new OwnerAdminHandler.
func NewOwnerAdminHandler(payoutSvc *service.PayoutService, reconciler *service.Reconciler) *OwnerAdminHandler {
	return &OwnerAdminHandler{payoutSvc: payoutSvc, reconciler: reconciler}
}

// UpdateTier handles PATCH /admin/owners/{id}/tier.
func (h *OwnerAdminHandler) UpdateTier(w http.ResponseWriter, r *http.Request) {
	id, err := handler.URLParamUUID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	var req struct {
		Tier string `json:"tier" validate:"required,oneof=starter bronze silver gold platinum"`
	}
	if err := handler.DecodeAndValidate(r, &req); err != nil {
		handler.RespondError(w, err)
		return
	}

	owner, err := h.payoutSvc.SetTier(r.Context(), id, domain.Tier(req.Tier))
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, owner)
}

// VerifyBalance handles GET /admin/owners/{id}/reconcile. It reports drift
// without changing anything.
func (h *OwnerAdminHandler) VerifyBalance(w http.ResponseWriter, r *http.Request) {
	id, err := handler.URLParamUUID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	report, err := h.reconciler.Verify(r.Context(), id)
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, report)
}

type repairResponse struct {
	Report     *domain.DriftReport       `json:"report"`
	Adjustment *domain.BalanceAdjustment `json:"adjustment,omitempty"`
}

// RepairBalance handles POST /admin/owners/{id}/reconcile.
func (h *OwnerAdminHandler) RepairBalance(w http.ResponseWriter, r *http.Request) {
	id, err := handler.URLParamUUID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}

	var req struct {
		Reason string `json:"reason" validate:"required,max=1000"`
	}
	if err := handler.DecodeAndValidate(r, &req); err != nil {
		handler.RespondError(w, err)
		return
	}

	report, adj, err := h.reconciler.Repair(r.Context(), id, "operator: "+req.Reason)
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, repairResponse{Report: report, Adjustment: adj})
}

// Sweep handles POST /admin/reconcile/sweep.
func (h *OwnerAdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconciler.Sweep(r.Context())
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, res)
}
