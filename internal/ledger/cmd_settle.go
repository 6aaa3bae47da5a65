package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripledger/commission/internal/domain"
)

// lockPayout takes the owner lock, then the payout row, always in that order.
func (e *Engine) lockPayout(ctx context.Context, tx pgx.Tx, payoutID uuid.UUID) (*domain.Owner, *domain.PayoutRequest, error) {
	p, err := e.FindPayout(ctx, tx, payoutID)
	if err != nil {
		return nil, nil, err
	}
	owner, err := e.LockOwnerForUpdate(ctx, tx, p.OwnerID)
	if err != nil {
		return nil, nil, err
	}
	p, err = e.payouts.LockForUpdate(ctx, tx, payoutID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock payout: %w", err)
	}
	if p == nil {
		return nil, nil, domain.ErrNotFound("payout", payoutID.String())
	}
	return owner, p, nil
}

// ExecuteMarkSettling records the handoff to the payment processor. It has no
// ledger effect. A payout already SETTLING is a no-op.
func (e *Engine) ExecuteMarkSettling(ctx context.Context, tx pgx.Tx, payoutID uuid.UUID, processorRef string) (*domain.SettlementResult, error) {
	owner, p, err := e.lockPayout(ctx, tx, payoutID)
	if err != nil {
		return nil, fmt.Errorf("mark settling: %w", err)
	}

	if p.State == domain.PayoutSettling {
		// A late processor reference is attached without a new event.
		if processorRef != "" && (p.ProcessorRef == nil || *p.ProcessorRef != processorRef) {
			if err := e.updatePayoutState(ctx, tx, p, domain.PayoutSettling, domain.PayoutStateUpdate{ProcessorRef: &processorRef}); err != nil {
				return nil, err
			}
			return &domain.SettlementResult{Payout: p, Balance: owner.OwnerBalance}, nil
		}
		return &domain.SettlementResult{Payout: p, Balance: owner.OwnerBalance, NoOp: true}, nil
	}
	if err := domain.ValidatePayoutTransition(p.State, domain.PayoutSettling); err != nil {
		return nil, err
	}

	if err := e.updatePayoutState(ctx, tx, p, domain.PayoutSettling, domain.PayoutStateUpdate{ProcessorRef: strPtr(processorRef)}); err != nil {
		return nil, err
	}

	if err := e.emit(ctx, tx, domain.NewPayoutEvent(domain.EventPayoutSettling, p, owner.Email)); err != nil {
		return nil, err
	}
	return &domain.SettlementResult{Payout: p, Balance: owner.OwnerBalance}, nil
}

// ExecuteSettle applies a terminal outcome. COMPLETED moves the bound entries
// RESERVED -> PAID; FAILED returns them to AVAILABLE with amounts unchanged.
// Reporting the state a payout already holds is a no-op with no ledger effect.
func (e *Engine) ExecuteSettle(ctx context.Context, tx pgx.Tx, params domain.SettlementParams) (*domain.SettlementResult, error) {
	if params.Outcome != domain.PayoutCompleted && params.Outcome != domain.PayoutFailed {
		return nil, domain.ErrAmbiguousSettlement(string(params.Outcome))
	}

	owner, p, err := e.lockPayout(ctx, tx, params.PayoutID)
	if err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}

	if p.State == params.Outcome {
		return &domain.SettlementResult{Payout: p, Balance: owner.OwnerBalance, NoOp: true}, nil
	}
	if err := domain.ValidatePayoutTransition(p.State, params.Outcome); err != nil {
		return nil, err
	}

	var (
		entryTo  domain.EntryState
		entryPID *uuid.UUID
		evt      domain.EventType
		update   domain.PayoutStateUpdate
	)
	now := e.now()
	update.ProcessorRef = strPtr(params.ProcessorRef)
	switch params.Outcome {
	case domain.PayoutCompleted:
		entryTo, entryPID, evt = domain.EntryPaid, &p.ID, domain.EventPayoutCompleted
		update.SettledAt = &now
	case domain.PayoutFailed:
		// Unbinding the entries makes them eligible for a later payout.
		entryTo, entryPID, evt = domain.EntryAvailable, nil, domain.EventPayoutFailed
		reason := params.Reason
		if reason == "" {
			reason = "settlement failed"
		}
		update.FailureReason = &reason
		update.SettledAt = &now
	}

	if err := e.transitionEntries(ctx, tx, p.AllocatedEntryIDs, domain.EntryReserved, entryTo, entryPID); err != nil {
		return nil, fmt.Errorf("settle entries: %w", err)
	}

	updated, err := e.applyBalance(ctx, tx, p.OwnerID, domain.BalanceEffect(domain.EntryReserved, entryTo, p.AllocatedAmount))
	if err != nil {
		return nil, err
	}

	if err := e.updatePayoutState(ctx, tx, p, params.Outcome, update); err != nil {
		return nil, err
	}

	if err := e.emit(ctx, tx, domain.NewPayoutEvent(evt, p, owner.Email)); err != nil {
		return nil, err
	}
	return &domain.SettlementResult{Payout: p, Balance: updated.OwnerBalance}, nil
}

// updatePayoutState writes the transition and mirrors it onto p.
func (e *Engine) updatePayoutState(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest, to domain.PayoutState, u domain.PayoutStateUpdate) error {
	n, err := e.payouts.UpdateState(ctx, tx, p.ID, p.State, to, u)
	if err != nil {
		return err
	}
	if n != 1 {
		return domain.ErrStateConflict(fmt.Sprintf("payout %s left %s concurrently", p.ID, p.State))
	}

	p.State = to
	p.UpdatedAt = e.now()
	if u.ProcessorRef != nil {
		p.ProcessorRef = u.ProcessorRef
	}
	if u.FailureReason != nil {
		p.FailureReason = u.FailureReason
	}
	if u.SettledAt != nil {
		p.SettledAt = u.SettledAt
	}
	return nil
}
