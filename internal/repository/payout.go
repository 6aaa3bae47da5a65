package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/infra"
)

const payoutSelect = `
	SELECT p.id, p.payout_number, p.owner_id, p.requested_amount, p.allocated_amount, p.method, p.state,
	       p.period_start, p.period_end, p.request_token, p.processor_ref, p.failure_reason,
	       p.requested_at, p.settled_at, p.updated_at,
	       COALESCE((SELECT array_agg(pe.entry_id::text ORDER BY pe.position)
	                 FROM payout_entries pe WHERE pe.payout_id = p.id), '{}')
	FROM payout_requests p`

type payoutRepo struct{}

// NewPayoutRepository returns a pgx-backed PayoutRepository.
func NewPayoutRepository() PayoutRepository {
	return &payoutRepo{}
}

func (r *payoutRepo) Insert(ctx context.Context, db DBTX, p *domain.PayoutRequest) error {
	_, err := db.Exec(ctx, `
		INSERT INTO payout_requests
		  (id, payout_number, owner_id, requested_amount, allocated_amount, method, state,
		   period_start, period_end, request_token, requested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		p.ID, p.PayoutNumber, p.OwnerID,
		infra.DecimalToNumeric(p.RequestedAmount), infra.DecimalToNumeric(p.AllocatedAmount),
		string(p.Method), string(p.State), p.PeriodStart, p.PeriodEnd, p.RequestToken, p.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}

	// The entry list is ordered and frozen at creation.
	_, err = db.Exec(ctx, `
		INSERT INTO payout_entries (payout_id, entry_id, position)
		SELECT $1, e.id::uuid, e.pos - 1
		FROM unnest($2::text[]) WITH ORDINALITY AS e(id, pos)`,
		p.ID, uuidStrings(p.AllocatedEntryIDs),
	)
	if err != nil {
		return fmt.Errorf("insert payout entries: %w", err)
	}
	return nil
}

func (r *payoutRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.PayoutRequest, error) {
	return scanPayout(db.QueryRow(ctx, payoutSelect+` WHERE p.id = $1`, id))
}

func (r *payoutRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PayoutRequest, error) {
	return scanPayout(tx.QueryRow(ctx, payoutSelect+` WHERE p.id = $1 FOR UPDATE OF p`, id))
}

func (r *payoutRepo) FindByToken(ctx context.Context, db DBTX, ownerID uuid.UUID, token string) (*domain.PayoutRequest, error) {
	return scanPayout(db.QueryRow(ctx, payoutSelect+` WHERE p.owner_id = $1 AND p.request_token = $2`, ownerID, token))
}

func (r *payoutRepo) FindByProcessorRef(ctx context.Context, db DBTX, ref string) (*domain.PayoutRequest, error) {
	return scanPayout(db.QueryRow(ctx, payoutSelect+` WHERE p.processor_ref = $1`, ref))
}

func (r *payoutRepo) UpdateState(ctx context.Context, db DBTX, id uuid.UUID, from, to domain.PayoutState, u domain.PayoutStateUpdate) (int64, error) {
	tag, err := db.Exec(ctx, `
		UPDATE payout_requests
		SET state = $3,
		    processor_ref = COALESCE($4, processor_ref),
		    failure_reason = COALESCE($5, failure_reason),
		    settled_at = COALESCE($6, settled_at),
		    updated_at = now()
		WHERE id = $1 AND state = $2`,
		id, string(from), string(to), u.ProcessorRef, u.FailureReason, u.SettledAt,
	)
	if err != nil {
		return 0, fmt.Errorf("update payout %s->%s: %w", from, to, err)
	}
	return tag.RowsAffected(), nil
}

func (r *payoutRepo) ListByOwner(ctx context.Context, db DBTX, ownerID uuid.UUID, limit int) ([]domain.PayoutRequest, error) {
	rows, err := db.Query(ctx, payoutSelect+`
		WHERE p.owner_id = $1
		ORDER BY p.requested_at DESC, p.id DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []domain.PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

func scanPayout(row pgx.Row) (*domain.PayoutRequest, error) {
	var p domain.PayoutRequest
	var method, state string
	var requested, allocated pgtype.Numeric
	var entryIDs []string
	err := row.Scan(&p.ID, &p.PayoutNumber, &p.OwnerID, &requested, &allocated, &method, &state,
		&p.PeriodStart, &p.PeriodEnd, &p.RequestToken, &p.ProcessorRef, &p.FailureReason,
		&p.RequestedAt, &p.SettledAt, &p.UpdatedAt, &entryIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payout: %w", err)
	}
	p.Method = domain.PayoutMethod(method)
	p.State = domain.PayoutState(state)

	if p.RequestedAmount, err = infra.NumericToDecimal(requested); err != nil {
		return nil, fmt.Errorf("convert requested_amount: %w", err)
	}
	if p.AllocatedAmount, err = infra.NumericToDecimal(allocated); err != nil {
		return nil, fmt.Errorf("convert allocated_amount: %w", err)
	}
	if p.AllocatedEntryIDs, err = parseUUIDs(entryIDs); err != nil {
		return nil, fmt.Errorf("parse allocated entry ids: %w", err)
	}
	return &p, nil
}
