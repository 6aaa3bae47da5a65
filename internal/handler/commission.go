package handler

import (
	"net/http"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/service"
)

// CommissionHandler serves an owner's commission entries.
type CommissionHandler struct {
	commissionSvc *service.CommissionService
}

// NewCommissionHandler creates a new CommissionHandler.
func NewCommissionHandler(commissionSvc *service.CommissionService) *CommissionHandler {
	return &CommissionHandler{commissionSvc: commissionSvc}
}

// ListCommissions handles GET /commissions?state=&limit=.
func (h *CommissionHandler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	limit, err := QueryLimit(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var state *domain.EntryState
	if raw := r.URL.Query().Get("state"); raw != "" {
		s, err := domain.ParseEntryState(raw)
		if err != nil {
			RespondError(w, domain.ErrValidation(err.Error()))
			return
		}
		state = &s
	}

	entries, err := h.commissionSvc.ListEntries(r.Context(), owner, state, limit)
	if err != nil {
		RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.CommissionEntry{}
	}
	RespondJSON(w, http.StatusOK, entries)
}

// Summary handles GET /commissions/summary.
func (h *CommissionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	totals, err := h.commissionSvc.Summary(r.Context(), owner)
	if err != nil {
		RespondError(w, err)
		return
	}
	if totals == nil {
		totals = []domain.StateTotal{}
	}
	RespondJSON(w, http.StatusOK, totals)
}
