package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripledger/commission/internal/domain"
)

// CompareBalances builds a drift report from a cached balance and the ledger's
// per-state sums.
func CompareBalances(ownerID uuid.UUID, cached domain.OwnerBalance, totals []domain.StateTotal) domain.DriftReport {
	expected := ledgerTotals(totals).Balance()
	return domain.DriftReport{
		OwnerID:  ownerID,
		Expected: expected,
		Actual:   cached,
		Drift:    !expected.Equal(cached),
	}
}

// ExecuteRecompute sums the ledger for an owner under the owner lock, so it
// never observes a half-applied allocation.
func (e *Engine) ExecuteRecompute(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID) (domain.OwnerBalance, error) {
	report, err := e.ExecuteVerify(ctx, tx, ownerID)
	if err != nil {
		return domain.OwnerBalance{}, err
	}
	return report.Expected, nil
}

// ExecuteVerify compares the cached balance against the ledger.
func (e *Engine) ExecuteVerify(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID) (*domain.DriftReport, error) {
	owner, err := e.LockOwnerForUpdate(ctx, tx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	totals, err := e.entries.SumByState(ctx, tx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	report := CompareBalances(ownerID, owner.OwnerBalance, totals)
	return &report, nil
}

// ExecuteRepair rewrites a drifted cached balance to the ledger's figures and
// records the correction as a BalanceAdjustment plus a balance.adjusted event.
// A matching balance returns a nil adjustment and writes nothing.
func (e *Engine) ExecuteRepair(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, reason string) (*domain.DriftReport, *domain.BalanceAdjustment, error) {
	report, err := e.ExecuteVerify(ctx, tx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if !report.Drift {
		return report, nil, nil
	}

	updated, err := e.owners.OverwriteBalance(ctx, tx, ownerID, report.Expected)
	if err != nil {
		return nil, nil, fmt.Errorf("repair overwrite: %w", err)
	}

	if reason == "" {
		reason = "reconciliation repair"
	}
	adj := &domain.BalanceAdjustment{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Before:    report.Actual,
		After:     updated.OwnerBalance,
		Reason:    reason,
		CreatedAt: e.now(),
	}
	if err := e.adjustments.Insert(ctx, tx, adj); err != nil {
		return nil, nil, fmt.Errorf("repair audit: %w", err)
	}

	if err := e.emit(ctx, tx, domain.NewBalanceAdjustedEvent(adj)); err != nil {
		return nil, nil, err
	}
	return report, adj, nil
}
