package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tripledger/commission/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// OwnerRepository provides access to owners, which carry the cached balance
// and serve as the per-owner allocation lock.
type OwnerRepository interface {
	// FindByID returns an owner by ID, or nil if absent.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Owner, error)

	// LockForUpdate acquires a row-level lock (SELECT FOR UPDATE) and returns the owner.
	LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Owner, error)

	// Create inserts a new owner with zero balances.
	Create(ctx context.Context, db DBTX, owner *domain.Owner) error

	// ApplyDelta adds a signed delta to the cached balance with server-side arithmetic.
	ApplyDelta(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta domain.BalanceDelta) (*domain.Owner, error)

	// OverwriteBalance replaces the cached balance. Used only by reconciler repair.
	OverwriteBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, b domain.OwnerBalance) (*domain.Owner, error)

	// SetTier changes the owner's tier.
	SetTier(ctx context.Context, db DBTX, id uuid.UUID, tier domain.Tier) (*domain.Owner, error)

	// ListIDsAfter pages through owner IDs in ascending order for the sweep.
	ListIDsAfter(ctx context.Context, db DBTX, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

// CommissionRepository provides access to commission_entries.
type CommissionRepository interface {
	// Insert creates an entry. On a duplicate (owner, source booking) it returns
	// the existing row and created=false.
	Insert(ctx context.Context, db DBTX, e *domain.CommissionEntry) (entry *domain.CommissionEntry, created bool, err error)

	// FindByID returns an entry, or nil if absent.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.CommissionEntry, error)

	// ListAvailableFIFO returns the owner's AVAILABLE entries ordered by
	// (earned_at, id). Callers hold the owner lock.
	ListAvailableFIFO(ctx context.Context, db DBTX, ownerID uuid.UUID) ([]domain.CommissionEntry, error)

	// Transition moves every listed entry from one state to another in a
	// single compare-and-swap statement and returns the rows affected.
	// payoutID is written as-is, so nil clears the binding.
	Transition(ctx context.Context, db DBTX, ids []uuid.UUID, from, to domain.EntryState, payoutID *uuid.UUID) (int64, error)

	// ListByOwner returns entries newest first, optionally filtered by state.
	ListByOwner(ctx context.Context, db DBTX, ownerID uuid.UUID, state *domain.EntryState, limit int) ([]domain.CommissionEntry, error)

	// ListByPayout returns the entries bound to a payout.
	ListByPayout(ctx context.Context, db DBTX, payoutID uuid.UUID) ([]domain.CommissionEntry, error)

	// SumByState returns count and total per state for an owner.
	SumByState(ctx context.Context, db DBTX, ownerID uuid.UUID) ([]domain.StateTotal, error)

	// ListDueForRelease returns PENDING entries whose hold has expired.
	ListDueForRelease(ctx context.Context, db DBTX, now time.Time, limit int) ([]domain.CommissionEntry, error)
}

// PayoutRepository provides access to payout_requests and payout_entries.
type PayoutRepository interface {
	// Insert creates the payout row and its ordered entry list.
	Insert(ctx context.Context, db DBTX, p *domain.PayoutRequest) error

	// FindByID returns a payout with its allocated entry IDs, or nil if absent.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.PayoutRequest, error)

	// LockForUpdate locks the payout row and returns it.
	LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PayoutRequest, error)

	// FindByToken returns the payout previously created with this request token.
	FindByToken(ctx context.Context, db DBTX, ownerID uuid.UUID, token string) (*domain.PayoutRequest, error)

	// FindByProcessorRef resolves a processor callback to a payout.
	FindByProcessorRef(ctx context.Context, db DBTX, ref string) (*domain.PayoutRequest, error)

	// UpdateState moves the payout from one state to another. It returns the
	// number of rows affected (0 when the state no longer matches).
	UpdateState(ctx context.Context, db DBTX, id uuid.UUID, from, to domain.PayoutState, u domain.PayoutStateUpdate) (int64, error)

	// ListByOwner returns payouts newest first.
	ListByOwner(ctx context.Context, db DBTX, ownerID uuid.UUID, limit int) ([]domain.PayoutRequest, error)
}

// AdjustmentRepository provides access to balance_adjustments.
type AdjustmentRepository interface {
	// Insert records a reconciler repair.
	Insert(ctx context.Context, db DBTX, adj *domain.BalanceAdjustment) error

	// ListByOwner returns adjustments newest first.
	ListByOwner(ctx context.Context, db DBTX, ownerID uuid.UUID, limit int) ([]domain.BalanceAdjustment, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the ledger change).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns queued events in insertion order.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error)

	// MarkPublished deletes delivered events.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}
