package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripledger/commission/internal/domain"
)

// ExecuteReleaseCommission matures a PENDING entry into AVAILABLE.
func (e *Engine) ExecuteReleaseCommission(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*domain.CommissionResult, error) {
	return e.moveEntry(ctx, tx, entryID, domain.EntryAvailable, domain.EventCommissionReleased)
}

// ExecuteCancelCommission cancels an entry whose booking was reversed before
// it was paid out. Reserved or paid entries cannot be cancelled.
func (e *Engine) ExecuteCancelCommission(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*domain.CommissionResult, error) {
	return e.moveEntry(ctx, tx, entryID, domain.EntryCancelled, domain.EventCommissionCancelled)
}

// moveEntry handles the single-entry transitions driven by external
// collaborators. Reaching the target state twice is a no-op.
func (e *Engine) moveEntry(ctx context.Context, tx pgx.Tx, entryID uuid.UUID, to domain.EntryState, evt domain.EventType) (*domain.CommissionResult, error) {
	entry, err := e.FindEntry(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}

	owner, err := e.LockOwnerForUpdate(ctx, tx, entry.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("%s entry: %w", to, err)
	}

	// Re-read under the owner lock; an allocation may have reserved it meanwhile.
	entry, err = e.FindEntry(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}

	if entry.State == to {
		return &domain.CommissionResult{Entry: entry, Balance: owner.OwnerBalance, Idempotent: true}, nil
	}
	from := entry.State
	if !domain.CanTransitionEntry(from, to) {
		return nil, domain.ErrIllegalEntryTransition(from, to)
	}

	if err := e.transitionEntries(ctx, tx, []uuid.UUID{entry.ID}, from, to, nil); err != nil {
		return nil, err
	}
	entry.State = to
	entry.UpdatedAt = e.now()

	updated, err := e.applyBalance(ctx, tx, entry.OwnerID, domain.BalanceEffect(from, to, entry.Amount))
	if err != nil {
		return nil, err
	}

	if err := e.emit(ctx, tx, domain.NewCommissionEvent(evt, entry)); err != nil {
		return nil, err
	}

	return &domain.CommissionResult{Entry: entry, Balance: updated.OwnerBalance}, nil
}
