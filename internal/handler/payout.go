package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tripledger/commission/internal/auth"
	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/service"
)

// PayoutHandler serves the owner-facing payout and balance endpoints.
type PayoutHandler struct {
	payoutSvc     *service.PayoutService
	commissionSvc *service.CommissionService
}

// NewPayoutHandler creates a new PayoutHandler.
func NewPayoutHandler(payoutSvc *service.PayoutService, commissionSvc *service.CommissionService) *PayoutHandler {
	return &PayoutHandler{payoutSvc: payoutSvc, commissionSvc: commissionSvc}
}

type requestPayoutRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method" validate:"omitempty,oneof=bank_transfer wire paypal stripe check"`
	RequestToken string          `json:"request_token" validate:"omitempty,max=128"`
}

type payoutResponse struct {
	PayoutID            uuid.UUID           `json:"payout_id"`
	PayoutNumber        string              `json:"payout_number"`
	State               domain.PayoutState  `json:"state"`
	Method              domain.PayoutMethod `json:"method"`
	RequestedAmount     string              `json:"requested_amount"`
	AllocatedAmount     string              `json:"allocated_amount"`
	AllocatedEntryCount int                 `json:"allocated_entry_count"`
	Idempotent          bool                `json:"idempotent"`
	Balance             domain.OwnerBalance `json:"balance"`
}

func ownerID(r *http.Request) (uuid.UUID, error) {
	id, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, domain.ErrUnauthorized("owner authentication required")
	}
	return id, nil
}

// RequestPayout handles POST /payouts.
func (h *PayoutHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	var req requestPayoutRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, err)
		return
	}

	res, err := h.payoutSvc.RequestPayout(r.Context(), domain.RequestPayoutParams{
		OwnerID:         owner,
		RequestedAmount: req.Amount,
		Method:          domain.PayoutMethod(req.Method),
		RequestToken:    req.RequestToken,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	RespondJSON(w, status, payoutResponse{
		PayoutID:            res.Payout.ID,
		PayoutNumber:        res.Payout.PayoutNumber,
		State:               res.Payout.State,
		Method:              res.Payout.Method,
		RequestedAmount:     res.Payout.RequestedAmount.StringFixed(2),
		AllocatedAmount:     res.Payout.AllocatedAmount.StringFixed(2),
		AllocatedEntryCount: res.AllocatedEntryCount,
		Idempotent:          res.Idempotent,
		Balance:             res.Balance,
	})
}

// ListPayouts handles GET /payouts.
func (h *PayoutHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
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

	payouts, err := h.payoutSvc.ListPayouts(r.Context(), owner, limit)
	if err != nil {
		RespondError(w, err)
		return
	}
	if payouts == nil {
		payouts = []domain.PayoutRequest{}
	}
	RespondJSON(w, http.StatusOK, payouts)
}

// GetPayout handles GET /payouts/{id}. Another owner's payout reads as not found.
func (h *PayoutHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	id, err := URLParamUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}

	p, err := h.payoutSvc.GetPayout(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	if p.OwnerID != owner {
		RespondError(w, domain.ErrNotFound("payout", id.String()))
		return
	}
	RespondJSON(w, http.StatusOK, p)
}

// GetBalance handles GET /balance.
func (h *PayoutHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		RespondError(w, err)
		return
	}
	bal, err := h.commissionSvc.Balance(r.Context(), owner)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, bal)
}
