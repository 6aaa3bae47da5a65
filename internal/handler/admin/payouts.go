package admin

import (
	"net/http"

	"github.com/tripledger/commission/internal/handler"
	"github.com/tripledger/commission/internal/service"
)

// PayoutAdminHandler exposes operator overrides on payouts.
type PayoutAdminHandler struct {
	payoutSvc *service.PayoutService
}

// NewPayoutAdminHandler creates a new PayoutAdminHandler.
func NewPayoutAdminHandler(payoutSvc *service.PayoutService) *PayoutAdminHandler {
	return &PayoutAdminHandler{payoutSvc: payoutSvc}
}

// GetPayout handles GET /admin/payouts/{id}.
func (h *PayoutAdminHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	id, err := handler.URLParamUUID(r, "id")
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	p, err := h.payoutSvc.GetPayout(r.Context(), id)
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, p)
}

// ForceFail handles POST /admin/payouts/{id}/fail.
func (h *PayoutAdminHandler) ForceFail(w http.ResponseWriter, r *http.Request) {
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

	res, err := h.payoutSvc.ForceFail(r.Context(), id, req.Reason)
	if err != nil {
		handler.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, res)
}
