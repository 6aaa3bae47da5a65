package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/repository"
)

// Engine provides the foundational ledger operations every command builds on:
//  1. LockOwnerForUpdate: per-owner pessimistic lock on the balance row
//  2. transitionEntries: compare-and-swap on entry state
//  3. applyBalance + emit: cached balance update and outbox event in the caller's tx
//
// Commands never open transactions themselves; the service layer owns the
// atomic unit and its retry policy.
type Engine struct {
	owners      repository.OwnerRepository
	entries     repository.CommissionRepository
	payouts     repository.PayoutRepository
	adjustments repository.AdjustmentRepository
	outbox      repository.OutboxRepository
	numbers     *domain.PayoutNumberGenerator
	now         func() time.Time
}

// NewEngine creates a ledger engine with the given repositories.
func NewEngine(
	owners repository.OwnerRepository,
	entries repository.CommissionRepository,
	payouts repository.PayoutRepository,
	adjustments repository.AdjustmentRepository,
	outbox repository.OutboxRepository,
	numbers *domain.PayoutNumberGenerator,
) *Engine {
	return &Engine{
		owners:      owners,
		entries:     entries,
		payouts:     payouts,
		adjustments: adjustments,
		outbox:      outbox,
		numbers:     numbers,
		now:         time.Now,
	}
}

// LockOwnerForUpdate acquires the owner's row lock and returns the owner.
// Must be called within a transaction; every mutation of an owner's entries
// or balance takes this lock first.
func (e *Engine) LockOwnerForUpdate(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID) (*domain.Owner, error) {
	owner, err := e.owners.LockForUpdate(ctx, tx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("lock owner: %w", err)
	}
	if owner == nil {
		return nil, domain.ErrNotFound("owner", ownerID.String())
	}
	return owner, nil
}

// transitionEntries moves all ids from one state to another. Any shortfall in
// rows affected means another writer got there first.
func (e *Engine) transitionEntries(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, from, to domain.EntryState, payoutID *uuid.UUID) error {
	if !domain.CanTransitionEntry(from, to) {
		return domain.ErrIllegalEntryTransition(from, to)
	}
	n, err := e.entries.Transition(ctx, tx, ids, from, to, payoutID)
	if err != nil {
		return err
	}
	if n != int64(len(ids)) {
		return domain.ErrStateConflict(fmt.Sprintf("expected %d entries in %s, swapped %d", len(ids), from, n))
	}
	return nil
}

// applyBalance writes a delta to the owner's cached balance.
func (e *Engine) applyBalance(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, delta domain.BalanceDelta) (*domain.Owner, error) {
	owner, err := e.owners.ApplyDelta(ctx, tx, ownerID, delta)
	if err != nil {
		return nil, fmt.Errorf("apply balance delta: %w", err)
	}
	if owner == nil {
		return nil, domain.ErrNotFound("owner", ownerID.String())
	}
	return owner, nil
}

// emit inserts outbox events in the caller's transaction.
func (e *Engine) emit(ctx context.Context, tx pgx.Tx, events ...domain.OutboxDraft) error {
	for _, evt := range events {
		if err := e.outbox.Insert(ctx, tx, evt); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}
	return nil
}

// FindEntry returns a commission entry or NOT_FOUND.
func (e *Engine) FindEntry(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.CommissionEntry, error) {
	entry, err := e.entries.FindByID(ctx, db, id)
	if err != nil {
		return nil, fmt.Errorf("find entry: %w", err)
	}
	if entry == nil {
		return nil, domain.ErrNotFound("commission entry", id.String())
	}
	return entry, nil
}

// FindPayout returns a payout or NOT_FOUND.
func (e *Engine) FindPayout(ctx context.Context, db repository.DBTX, id uuid.UUID) (*domain.PayoutRequest, error) {
	p, err := e.payouts.FindByID(ctx, db, id)
	if err != nil {
		return nil, fmt.Errorf("find payout: %w", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound("payout", id.String())
	}
	return p, nil
}

// Summary returns count and total for every entry state, including empty ones.
func (e *Engine) Summary(ctx context.Context, db repository.DBTX, ownerID uuid.UUID) ([]domain.StateTotal, error) {
	totals, err := e.entries.SumByState(ctx, db, ownerID)
	if err != nil {
		return nil, err
	}
	return fillStates(totals), nil
}
