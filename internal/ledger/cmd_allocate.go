package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripledger/commission/internal/domain"
)

// ExecuteAllocate is the locked section of a payout request. Under the owner
// lock it re-reads the available entries, selects them FIFO, creates the
// payout and reserves the entries with a compare-and-swap, all in tx.
//
// A StateConflict return means an entry moved between read and swap; the
// caller must roll back and may retry the whole allocation.
func (e *Engine) ExecuteAllocate(ctx context.Context, tx pgx.Tx, params domain.RequestPayoutParams) (*domain.PayoutResult, error) {
	if err := domain.ValidatePositiveAmount(params.RequestedAmount); err != nil {
		return nil, err
	}

	owner, err := e.LockOwnerForUpdate(ctx, tx, params.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}

	// Idempotency check
	if params.RequestToken != "" {
		existing, err := e.payouts.FindByToken(ctx, tx, params.OwnerID, params.RequestToken)
		if err != nil {
			return nil, fmt.Errorf("allocate token lookup: %w", err)
		}
		if existing != nil {
			if !existing.RequestedAmount.Equal(params.RequestedAmount) {
				return nil, domain.ErrConflict("request token already used for a different amount")
			}
			return &domain.PayoutResult{
				Payout:              existing,
				Balance:             owner.OwnerBalance,
				AllocatedEntryCount: len(existing.AllocatedEntryIDs),
				Idempotent:          true,
			}, nil
		}
	}

	available, err := e.entries.ListAvailableFIFO(ctx, tx, params.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("allocate list: %w", err)
	}

	sel, err := SelectFIFO(available, params.RequestedAmount)
	if err != nil {
		return nil, err
	}

	now := e.now()
	method := params.Method
	if method == "" {
		method = owner.PayoutMethod
	}
	payout := &domain.PayoutRequest{
		ID:                uuid.New(),
		PayoutNumber:      e.numbers.Next(),
		OwnerID:           params.OwnerID,
		RequestedAmount:   params.RequestedAmount,
		AllocatedAmount:   sel.Total,
		Method:            method,
		AllocatedEntryIDs: sel.IDs(),
		PeriodStart:       sel.PeriodStart,
		PeriodEnd:         sel.PeriodEnd,
		State:             domain.PayoutCreated,
		RequestToken:      strPtr(params.RequestToken),
		RequestedAt:       now,
		UpdatedAt:         now,
	}

	// The payout row goes first so the entries' payout_id reference resolves.
	if err := e.payouts.Insert(ctx, tx, payout); err != nil {
		return nil, fmt.Errorf("allocate insert payout: %w", err)
	}

	if err := e.transitionEntries(ctx, tx, payout.AllocatedEntryIDs, domain.EntryAvailable, domain.EntryReserved, &payout.ID); err != nil {
		return nil, err
	}

	updated, err := e.applyBalance(ctx, tx, params.OwnerID, domain.BalanceEffect(domain.EntryAvailable, domain.EntryReserved, sel.Total))
	if err != nil {
		return nil, err
	}

	if err := e.emit(ctx, tx, domain.NewPayoutEvent(domain.EventPayoutCreated, payout, owner.Email)); err != nil {
		return nil, err
	}

	return &domain.PayoutResult{
		Payout:              payout,
		Balance:             updated.OwnerBalance,
		AllocatedEntryCount: len(payout.AllocatedEntryIDs),
	}, nil
}
