package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/infra"
)

const ownerColumns = `id, kind, email, tier, payout_method,
	available_balance, reserved_balance, pending_balance, lifetime_paid, balance_version, created_at, updated_at`

type ownerRepo struct{}

// NewOwnerRepository returns a pgx-backed OwnerRepository.
func NewOwnerRepository() OwnerRepository {
	return &ownerRepo{}
}

func (r *ownerRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Owner, error) {
	row := db.QueryRow(ctx, `SELECT `+ownerColumns+` FROM owners WHERE id = $1`, id)
	return scanOwner(row)
}

func (r *ownerRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Owner, error) {
	row := tx.QueryRow(ctx, `SELECT `+ownerColumns+` FROM owners WHERE id = $1 FOR UPDATE`, id)
	return scanOwner(row)
}

func (r *ownerRepo) Create(ctx context.Context, db DBTX, o *domain.Owner) error {
	_, err := db.Exec(ctx, `
		INSERT INTO owners (id, kind, email, tier, payout_method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, string(o.Kind), o.Email, string(o.Tier), string(o.PayoutMethod), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}
	return nil
}

// ApplyDelta uses server-side arithmetic with dynamic SET clauses so
// concurrent writers never overwrite each other's figures.
func (r *ownerRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta domain.BalanceDelta) (*domain.Owner, error) {
	setClauses := []string{"updated_at = now()", "balance_version = balance_version + 1"}
	args := []interface{}{}
	argIdx := 1

	add := func(col string, d decimal.Decimal) {
		if d.IsZero() {
			return
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s + $%d", col, col, argIdx))
		args = append(args, infra.DecimalToNumeric(d))
		argIdx++
	}
	add("available_balance", delta.Available)
	add("reserved_balance", delta.Reserved)
	add("pending_balance", delta.Pending)
	add("lifetime_paid", delta.Paid)

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE owners SET %s WHERE id = $%d RETURNING `+ownerColumns,
		strings.Join(setClauses, ", "), argIdx)

	return scanOwner(tx.QueryRow(ctx, query, args...))
}

func (r *ownerRepo) OverwriteBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, b domain.OwnerBalance) (*domain.Owner, error) {
	row := tx.QueryRow(ctx, `
		UPDATE owners
		SET available_balance = $2, reserved_balance = $3, pending_balance = $4, lifetime_paid = $5,
		    balance_version = balance_version + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+ownerColumns,
		id,
		infra.DecimalToNumeric(b.AvailableBalance),
		infra.DecimalToNumeric(b.ReservedBalance),
		infra.DecimalToNumeric(b.PendingBalance),
		infra.DecimalToNumeric(b.LifetimePaid),
	)
	return scanOwner(row)
}

func (r *ownerRepo) SetTier(ctx context.Context, db DBTX, id uuid.UUID, tier domain.Tier) (*domain.Owner, error) {
	row := db.QueryRow(ctx, `
		UPDATE owners SET tier = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+ownerColumns, id, string(tier))
	return scanOwner(row)
}

func (r *ownerRepo) ListIDsAfter(ctx context.Context, db DBTX, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := db.Query(ctx, `SELECT id FROM owners WHERE id > $1 ORDER BY id LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list owner ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan owner id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanOwner(row pgx.Row) (*domain.Owner, error) {
	var o domain.Owner
	var kind, tier, method string
	nums := make([]pgtype.Numeric, 4)
	err := row.Scan(&o.ID, &kind, &o.Email, &tier, &method,
		&nums[0], &nums[1], &nums[2], &nums[3], &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan owner: %w", err)
	}
	o.Kind = domain.OwnerKind(kind)
	o.Tier = domain.Tier(tier)
	o.PayoutMethod = domain.PayoutMethod(method)

	err = infra.ScanDecimals(
		[]string{"available_balance", "reserved_balance", "pending_balance", "lifetime_paid"},
		nums,
		[]*decimal.Decimal{&o.AvailableBalance, &o.ReservedBalance, &o.PendingBalance, &o.LifetimePaid},
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
