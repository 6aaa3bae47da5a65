package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/infra"
)

const entryColumns = `id, owner_id, source_booking_id, amount, earned_at, state, payout_id, hold_until, created_at, updated_at`

type commissionRepo struct{}

// NewCommissionRepository returns a pgx-backed CommissionRepository.
func NewCommissionRepository() CommissionRepository {
	return &commissionRepo{}
}

func (r *commissionRepo) Insert(ctx context.Context, db DBTX, e *domain.CommissionEntry) (*domain.CommissionEntry, bool, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO commission_entries
		  (id, owner_id, source_booking_id, amount, earned_at, state, payout_id, hold_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, now(), now())
		ON CONFLICT (owner_id, source_booking_id) DO NOTHING
		RETURNING `+entryColumns,
		e.ID, e.OwnerID, e.SourceBookingID, infra.DecimalToNumeric(e.Amount), e.EarnedAt, string(e.State), e.HoldUntil,
	)
	created, err := scanEntry(row)
	if err != nil {
		return nil, false, err
	}
	if created != nil {
		return created, true, nil
	}

	existing, err := scanEntry(db.QueryRow(ctx, `
		SELECT `+entryColumns+` FROM commission_entries
		WHERE owner_id = $1 AND source_booking_id = $2`, e.OwnerID, e.SourceBookingID))
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("insert commission entry: conflict row for booking %s vanished", e.SourceBookingID)
	}
	return existing, false, nil
}

func (r *commissionRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.CommissionEntry, error) {
	return scanEntry(db.QueryRow(ctx, `SELECT `+entryColumns+` FROM commission_entries WHERE id = $1`, id))
}

func (r *commissionRepo) ListAvailableFIFO(ctx context.Context, db DBTX, ownerID uuid.UUID) ([]domain.CommissionEntry, error) {
	rows, err := db.Query(ctx, `
		SELECT `+entryColumns+` FROM commission_entries
		WHERE owner_id = $1 AND state = 'AVAILABLE'
		ORDER BY earned_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list available entries: %w", err)
	}
	return collectEntries(rows)
}

// Transition is the compare-and-swap used by every entry state change. The
// state predicate makes a concurrent writer's change visible as a short count.
func (r *commissionRepo) Transition(ctx context.Context, db DBTX, ids []uuid.UUID, from, to domain.EntryState, payoutID *uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := db.Exec(ctx, `
		UPDATE commission_entries
		SET state = $3, payout_id = $4, updated_at = now()
		WHERE id = ANY($1::uuid[]) AND state = $2`,
		uuidStrings(ids), string(from), string(to), payoutID,
	)
	if err != nil {
		return 0, fmt.Errorf("transition entries %s->%s: %w", from, to, err)
	}
	return tag.RowsAffected(), nil
}

func (r *commissionRepo) ListByOwner(ctx context.Context, db DBTX, ownerID uuid.UUID, state *domain.EntryState, limit int) ([]domain.CommissionEntry, error) {
	var stateArg *string
	if state != nil {
		s := string(*state)
		stateArg = &s
	}
	rows, err := db.Query(ctx, `
		SELECT `+entryColumns+` FROM commission_entries
		WHERE owner_id = $1 AND ($2::text IS NULL OR state = $2)
		ORDER BY earned_at DESC, id DESC
		LIMIT $3`, ownerID, stateArg, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return collectEntries(rows)
}

func (r *commissionRepo) ListByPayout(ctx context.Context, db DBTX, payoutID uuid.UUID) ([]domain.CommissionEntry, error) {
	rows, err := db.Query(ctx, `
		SELECT `+prefixed("e", entryColumns)+`
		FROM payout_entries pe
		JOIN commission_entries e ON e.id = pe.entry_id
		WHERE pe.payout_id = $1
		ORDER BY pe.position`, payoutID)
	if err != nil {
		return nil, fmt.Errorf("list payout entries: %w", err)
	}
	return collectEntries(rows)
}

func (r *commissionRepo) SumByState(ctx context.Context, db DBTX, ownerID uuid.UUID) ([]domain.StateTotal, error) {
	rows, err := db.Query(ctx, `
		SELECT state, count(*), COALESCE(sum(amount), 0)
		FROM commission_entries
		WHERE owner_id = $1
		GROUP BY state
		ORDER BY state`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sum entries by state: %w", err)
	}
	defer rows.Close()

	var totals []domain.StateTotal
	for rows.Next() {
		var st domain.StateTotal
		var state string
		var sum pgtype.Numeric
		if err := rows.Scan(&state, &st.Count, &sum); err != nil {
			return nil, fmt.Errorf("scan state total: %w", err)
		}
		st.State = domain.EntryState(state)
		if st.Total, err = infra.NumericToDecimal(sum); err != nil {
			return nil, fmt.Errorf("convert total for %s: %w", state, err)
		}
		totals = append(totals, st)
	}
	return totals, rows.Err()
}

func (r *commissionRepo) ListDueForRelease(ctx context.Context, db DBTX, now time.Time, limit int) ([]domain.CommissionEntry, error) {
	rows, err := db.Query(ctx, `
		SELECT `+entryColumns+` FROM commission_entries
		WHERE state = 'PENDING' AND hold_until IS NOT NULL AND hold_until <= $1
		ORDER BY hold_until ASC, id ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due entries: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]domain.CommissionEntry, error) {
	defer rows.Close()

	var entries []domain.CommissionEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*domain.CommissionEntry, error) {
	var e domain.CommissionEntry
	var state string
	var amount pgtype.Numeric
	err := row.Scan(&e.ID, &e.OwnerID, &e.SourceBookingID, &amount, &e.EarnedAt, &state,
		&e.PayoutID, &e.HoldUntil, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan commission entry: %w", err)
	}
	e.State = domain.EntryState(state)
	if e.Amount, err = infra.NumericToDecimal(amount); err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	return &e, nil
}
