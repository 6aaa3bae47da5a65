package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/service"
)

// InternalHandler serves the collaborator endpoints: booking completion,
// commission maturation and processor callbacks.
type InternalHandler struct {
	commissionSvc *service.CommissionService
	payoutSvc     *service.PayoutService
}

// NewInternalHandler creates a new InternalHandler.
func NewInternalHandler(commissionSvc *service.CommissionService, payoutSvc *service.PayoutService) *InternalHandler {
	return &InternalHandler{commissionSvc: commissionSvc, payoutSvc: payoutSvc}
}

type registerOwnerRequest struct {
	ID           string `json:"id" validate:"required,uuid"`
	Kind         string `json:"kind" validate:"required,oneof=AGENT AFFILIATE"`
	Email        string `json:"email" validate:"required,email"`
	Tier         string `json:"tier" validate:"omitempty,oneof=starter bronze silver gold platinum"`
	PayoutMethod string `json:"payout_method" validate:"omitempty,oneof=bank_transfer wire paypal stripe check"`
}

// RegisterOwner handles POST /internal/owners.
func (h *InternalHandler) RegisterOwner(w http.ResponseWriter, r *http.Request) {
	var req registerOwnerRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, err)
		return
	}

	owner, err := h.commissionSvc.RegisterOwner(r.Context(), service.RegisterOwnerInput{
		ID:           uuid.MustParse(req.ID),
		Kind:         domain.OwnerKind(req.Kind),
		Email:        req.Email,
		Tier:         domain.Tier(req.Tier),
		PayoutMethod: domain.PayoutMethod(req.PayoutMethod),
	})
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, owner)
}

type recordCommissionRequest struct {
	OwnerID         string          `json:"owner_id" validate:"required,uuid"`
	SourceBookingID string          `json:"source_booking_id" validate:"required,max=128"`
	Amount          decimal.Decimal `json:"amount"`
	EarnedAt        *time.Time      `json:"earned_at"`
	HoldUntil       *time.Time      `json:"hold_until"`
}

// RecordCommission handles POST /internal/commissions.
func (h *InternalHandler) RecordCommission(w http.ResponseWriter, r *http.Request) {
	var req recordCommissionRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, err)
		return
	}

	earnedAt := time.Now().UTC()
	if req.EarnedAt != nil {
		earnedAt = *req.EarnedAt
	}
	res, err := h.commissionSvc.Record(r.Context(), domain.RecordCommissionParams{
		OwnerID:         uuid.MustParse(req.OwnerID),
		SourceBookingID: req.SourceBookingID,
		Amount:          req.Amount,
		EarnedAt:        earnedAt,
		HoldUntil:       req.HoldUntil,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	RespondJSON(w, status, res)
}

// ReleaseCommission handles POST /internal/commissions/{id}/release.
func (h *InternalHandler) ReleaseCommission(w http.ResponseWriter, r *http.Request) {
	h.moveEntry(w, r, h.commissionSvc.Release)
}

// CancelCommission handles POST /internal/commissions/{id}/cancel.
func (h *InternalHandler) CancelCommission(w http.ResponseWriter, r *http.Request) {
	h.moveEntry(w, r, h.commissionSvc.Cancel)
}

func (h *InternalHandler) moveEntry(w http.ResponseWriter, r *http.Request, move func(ctx context.Context, id uuid.UUID) (*domain.CommissionResult, error)) {
	id, err := URLParamUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	res, err := move(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

type settlementRequest struct {
	Status       string `json:"status" validate:"required"`
	ProcessorRef string `json:"processor_ref" validate:"omitempty,max=255"`
	Reason       string `json:"reason" validate:"omitempty,max=1000"`
}

// ReportSettlement handles POST /internal/payouts/{id}/settlement.
func (h *InternalHandler) ReportSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := URLParamUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req settlementRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, err)
		return
	}

	res, err := h.payoutSvc.ReportSettlement(r.Context(), domain.SettlementParams{
		PayoutID:     id,
		Outcome:      domain.PayoutState(req.Status),
		ProcessorRef: req.ProcessorRef,
		Reason:       req.Reason,
	})
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// HandOff handles POST /internal/payouts/{id}/handoff, re-submitting a
// payout to its processor.
func (h *InternalHandler) HandOff(w http.ResponseWriter, r *http.Request) {
	id, err := URLParamUUID(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	p, err := h.payoutSvc.HandOff(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, p)
}
