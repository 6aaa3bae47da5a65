package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/infra"
)

type adjustmentRepo struct{}

// NewAdjustmentRepository returns a pgx-backed AdjustmentRepository.
func NewAdjustmentRepository() AdjustmentRepository {
	return &adjustmentRepo{}
}

func (r *adjustmentRepo) Insert(ctx context.Context, db DBTX, adj *domain.BalanceAdjustment) error {
	_, err := db.Exec(ctx, `
		INSERT INTO balance_adjustments
		  (id, owner_id,
		   before_available_balance, before_reserved_balance, before_pending_balance, before_lifetime_paid,
		   after_available_balance, after_reserved_balance, after_pending_balance, after_lifetime_paid,
		   reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		adj.ID, adj.OwnerID,
		infra.DecimalToNumeric(adj.Before.AvailableBalance),
		infra.DecimalToNumeric(adj.Before.ReservedBalance),
		infra.DecimalToNumeric(adj.Before.PendingBalance),
		infra.DecimalToNumeric(adj.Before.LifetimePaid),
		infra.DecimalToNumeric(adj.After.AvailableBalance),
		infra.DecimalToNumeric(adj.After.ReservedBalance),
		infra.DecimalToNumeric(adj.After.PendingBalance),
		infra.DecimalToNumeric(adj.After.LifetimePaid),
		adj.Reason, adj.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert balance adjustment: %w", err)
	}
	return nil
}

func (r *adjustmentRepo) ListByOwner(ctx context.Context, db DBTX, ownerID uuid.UUID, limit int) ([]domain.BalanceAdjustment, error) {
	rows, err := db.Query(ctx, `
		SELECT id, owner_id,
		       before_available_balance, before_reserved_balance, before_pending_balance, before_lifetime_paid,
		       after_available_balance, after_reserved_balance, after_pending_balance, after_lifetime_paid,
		       reason, created_at
		FROM balance_adjustments
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list balance adjustments: %w", err)
	}
	defer rows.Close()

	var out []domain.BalanceAdjustment
	for rows.Next() {
		var a domain.BalanceAdjustment
		nums := make([]pgtype.Numeric, 8)
		err := rows.Scan(&a.ID, &a.OwnerID,
			&nums[0], &nums[1], &nums[2], &nums[3], &nums[4], &nums[5], &nums[6], &nums[7],
			&a.Reason, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan balance adjustment: %w", err)
		}
		err = infra.ScanDecimals(
			[]string{
				"before_available_balance", "before_reserved_balance", "before_pending_balance", "before_lifetime_paid",
				"after_available_balance", "after_reserved_balance", "after_pending_balance", "after_lifetime_paid",
			},
			nums,
			[]*decimal.Decimal{
				&a.Before.AvailableBalance, &a.Before.ReservedBalance, &a.Before.PendingBalance, &a.Before.LifetimePaid,
				&a.After.AvailableBalance, &a.After.ReservedBalance, &a.After.PendingBalance, &a.After.LifetimePaid,
			},
		)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
