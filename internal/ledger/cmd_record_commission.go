package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripledger/commission/internal/domain"
)

// ExecuteRecordCommission appends a PENDING entry for a completed booking.
// A repeat for the same (owner, booking) returns the existing entry.
func (e *Engine) ExecuteRecordCommission(ctx context.Context, tx pgx.Tx, params domain.RecordCommissionParams) (*domain.CommissionResult, error) {
	if err := domain.ValidateCommissionAmount(params.Amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.SourceBookingID) == "" {
		return nil, domain.ErrValidation("source booking id is required")
	}
	if params.EarnedAt.IsZero() {
		return nil, domain.ErrValidation("earned at is required")
	}

	owner, err := e.LockOwnerForUpdate(ctx, tx, params.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("record commission: %w", err)
	}

	entry, created, err := e.entries.Insert(ctx, tx, &domain.CommissionEntry{
		ID:              uuid.New(),
		OwnerID:         params.OwnerID,
		SourceBookingID: params.SourceBookingID,
		Amount:          params.Amount,
		EarnedAt:        params.EarnedAt,
		State:           domain.EntryPending,
		HoldUntil:       params.HoldUntil,
	})
	if err != nil {
		return nil, fmt.Errorf("record commission insert: %w", err)
	}

	if !created {
		if !entry.Amount.Equal(params.Amount) {
			return nil, domain.ErrConflict(fmt.Sprintf("booking %s already recorded with amount %s",
				params.SourceBookingID, entry.Amount.StringFixed(domain.MoneyScale)))
		}
		return &domain.CommissionResult{Entry: entry, Balance: owner.OwnerBalance, Idempotent: true}, nil
	}

	updated, err := e.applyBalance(ctx, tx, params.OwnerID, domain.BalanceDelta{Pending: entry.Amount})
	if err != nil {
		return nil, fmt.Errorf("record commission: %w", err)
	}

	if err := e.emit(ctx, tx, domain.NewCommissionEvent(domain.EventCommissionRecorded, entry)); err != nil {
		return nil, err
	}

	return &domain.CommissionResult{Entry: entry, Balance: updated.OwnerBalance}, nil
}
