package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/ledger"
	"github.com/tripledger/commission/internal/projection"
	"github.com/tripledger/commission/internal/repository"
)

// Reconciler keeps each owner's cached balance honest against the ledger.
// Every check runs under the owner lock, so it never interleaves with an
// allocation for the same owner.
type Reconciler struct {
	db         DB
	engine     *ledger.Engine
	owners     repository.OwnerRepository
	balances   *projection.Balances
	logger     *slog.Logger
	batchSize  int
	autoRepair bool
}

// NewReconciler creates a Reconciler. With autoRepair set the sweep repairs
// drift it finds; otherwise it only reports it.
func NewReconciler(
	db DB,
	engine *ledger.Engine,
	owners repository.OwnerRepository,
	balances *projection.Balances,
	logger *slog.Logger,
	batchSize int,
	autoRepair bool,
) *Reconciler {
	return &Reconciler{
		db:         db,
		engine:     engine,
		owners:     owners,
		balances:   balances,
		logger:     logger,
		batchSize:  clampLimit(batchSize, 200, 5000),
		autoRepair: autoRepair,
	}
}

// Recompute sums the ledger for an owner.
func (r *Reconciler) Recompute(ctx context.Context, ownerID uuid.UUID) (domain.OwnerBalance, error) {
	var b domain.OwnerBalance
	_, err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		b, err = r.engine.ExecuteRecompute(ctx, tx, ownerID)
		return err
	})
	if err != nil {
		return domain.OwnerBalance{}, appError("recompute balance", err)
	}
	return b, nil
}

// Verify compares the cached balance against the ledger. Drift is reported
// in the result and logged; it is not an error.
func (r *Reconciler) Verify(ctx context.Context, ownerID uuid.UUID) (*domain.DriftReport, error) {
	var report *domain.DriftReport
	_, err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		report, err = r.engine.ExecuteVerify(ctx, tx, ownerID)
		return err
	})
	if err != nil {
		return nil, appError("verify balance", err)
	}
	if report.Drift {
		r.logDrift(report)
	}
	return report, nil
}

// Repair rewrites a drifted balance and records a BalanceAdjustment.
// The adjustment is nil when nothing had drifted.
func (r *Reconciler) Repair(ctx context.Context, ownerID uuid.UUID, reason string) (*domain.DriftReport, *domain.BalanceAdjustment, error) {
	var (
		report *domain.DriftReport
		adj    *domain.BalanceAdjustment
	)
	_, err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		report, adj, err = r.engine.ExecuteRepair(ctx, tx, ownerID, reason)
		return err
	})
	if err != nil {
		return nil, nil, appError("repair balance", err)
	}
	if adj != nil {
		r.logDrift(report)
		r.logger.Warn("balance repaired", "owner_id", ownerID, "adjustment_id", adj.ID, "reason", adj.Reason)
		r.balances.Put(ctx, ownerID, adj.After)
	}
	return report, adj, nil
}

func (r *Reconciler) logDrift(report *domain.DriftReport) {
	r.logger.Error("balance drift detected",
		"owner_id", report.OwnerID,
		"error", domain.ErrReconciliationDrift(report.OwnerID.String()),
		"expected_available", report.Expected.AvailableBalance.StringFixed(2),
		"actual_available", report.Actual.AvailableBalance.StringFixed(2),
		"expected_reserved", report.Expected.ReservedBalance.StringFixed(2),
		"actual_reserved", report.Actual.ReservedBalance.StringFixed(2),
		"expected_pending", report.Expected.PendingBalance.StringFixed(2),
		"actual_pending", report.Actual.PendingBalance.StringFixed(2),
		"expected_paid", report.Expected.LifetimePaid.StringFixed(2),
		"actual_paid", report.Actual.LifetimePaid.StringFixed(2),
	)
}

// SweepResult summarizes one pass over all owners.
type SweepResult struct {
	Checked  int `json:"checked"`
	Drifted  int `json:"drifted"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// Sweep verifies every owner in ID order, one owner per transaction.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		res   SweepResult
		after uuid.UUID
	)
	for {
		ids, err := r.owners.ListIDsAfter(ctx, r.db, after, r.batchSize)
		if err != nil {
			return res, domain.ErrInternal("list owners", err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Checked++
			report, err := r.Verify(ctx, id)
			if err != nil {
				res.Failed++
				r.logger.Error("reconcile verify failed", "owner_id", id, "error", err)
				continue
			}
			if !report.Drift {
				continue
			}
			res.Drifted++
			if !r.autoRepair {
				continue
			}
			if _, adj, err := r.Repair(ctx, id, "scheduled reconciliation"); err != nil {
				res.Failed++
				r.logger.Error("reconcile repair failed", "owner_id", id, "error", err)
			} else if adj != nil {
				res.Repaired++
			}
		}
		if len(ids) < r.batchSize {
			return res, nil
		}
		after = ids[len(ids)-1]
	}
}

// Start runs Sweep on every tick until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := r.Sweep(ctx)
				if err != nil {
					r.logger.Error("reconcile sweep failed", "error", err)
					continue
				}
				r.logger.Info("reconcile sweep complete",
					"checked", res.Checked, "drifted", res.Drifted, "repaired", res.Repaired, "failed", res.Failed)
			}
		}
	}()
}
