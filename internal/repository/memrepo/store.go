// Package memrepo is an in-memory implementation of the repository
// interfaces. Transactions are fully serialized and rolled back by snapshot,
// which makes it a stand-in for Postgres in unit tests.
package memrepo

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/repository"
)

// ErrCheckViolation mimics a failed table CHECK constraint.
var ErrCheckViolation = errors.New("check constraint violated")

// Store holds every table.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	owners      map[uuid.UUID]domain.Owner
	entries     map[uuid.UUID]domain.CommissionEntry
	payouts     map[uuid.UUID]domain.PayoutRequest
	adjustments []domain.BalanceAdjustment
	outbox      []domain.OutboxDraft
	seq         int64

	// BeforeTransition runs inside CommissionRepository.Transition before the
	// swap. Tests use it to simulate a concurrent writer.
	BeforeTransition func(ids []uuid.UUID, from, to domain.EntryState)

	// CommitErr, when set, makes the next commit roll back and fail.
	CommitErr error
}

type snapshot struct {
	owners      map[uuid.UUID]domain.Owner
	entries     map[uuid.UUID]domain.CommissionEntry
	payouts     map[uuid.UUID]domain.PayoutRequest
	adjustments []domain.BalanceAdjustment
	outbox      []domain.OutboxDraft
	seq         int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		owners:  make(map[uuid.UUID]domain.Owner),
		entries: make(map[uuid.UUID]domain.CommissionEntry),
		payouts: make(map[uuid.UUID]domain.PayoutRequest),
	}
}

func (s *Store) snapshot() *snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &snapshot{
		owners:      maps.Clone(s.owners),
		entries:     maps.Clone(s.entries),
		payouts:     maps.Clone(s.payouts),
		adjustments: slices.Clone(s.adjustments),
		outbox:      slices.Clone(s.outbox),
		seq:         s.seq,
	}
}

func (s *Store) restore(snap *snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners = snap.owners
	s.entries = snap.entries
	s.payouts = snap.payouts
	s.adjustments = snap.adjustments
	s.outbox = snap.outbox
	s.seq = snap.seq
}

// DB is the pool-like handle services use. Only BeginTx is implemented;
// repositories from this package ignore the handle they are given.
type DB struct {
	repository.DBTX
	store *Store
}

// DB returns a handle that begins serialized transactions on the store.
func (s *Store) DB() *DB {
	return &DB{store: s}
}

// BeginTx blocks until no other transaction is open.
func (d *DB) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	d.store.txMu.Lock()
	if err := ctx.Err(); err != nil {
		d.store.txMu.Unlock()
		return nil, err
	}
	return &Tx{store: d.store, snap: d.store.snapshot()}, nil
}

// Tx implements Commit and Rollback; every other pgx.Tx method is unused.
type Tx struct {
	pgx.Tx
	store *Store
	snap  *snapshot
	done  bool
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	defer t.store.txMu.Unlock()

	if err := t.store.CommitErr; err != nil {
		t.store.CommitErr = nil
		t.store.restore(t.snap)
		return err
	}
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.restore(t.snap)
	t.store.txMu.Unlock()
	return nil
}

// Repositories bundles one implementation of each interface.
type Repositories struct {
	Owners      repository.OwnerRepository
	Commissions repository.CommissionRepository
	Payouts     repository.PayoutRepository
	Adjustments repository.AdjustmentRepository
	Outbox      repository.OutboxRepository
}

// Repositories returns repositories backed by the store.
func (s *Store) Repositories() Repositories {
	return Repositories{
		Owners:      &ownerRepo{s},
		Commissions: &commissionRepo{s},
		Payouts:     &payoutRepo{s},
		Adjustments: &adjustmentRepo{s},
		Outbox:      &outboxRepo{s},
	}
}

// SeedOwner inserts an owner directly.
func (s *Store) SeedOwner(o domain.Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[o.ID] = o
}

// SeedEntry inserts an entry directly, bypassing balance bookkeeping.
func (s *Store) SeedEntry(e domain.CommissionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
}

// SetEntryState overwrites an entry's state, bypassing the swap.
func (s *Store) SetEntryState(id uuid.UUID, state domain.EntryState, payoutID *uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[id]
	e.State = state
	e.PayoutID = payoutID
	s.entries[id] = e
}

// SetBalance overwrites an owner's cached balance.
func (s *Store) SetBalance(id uuid.UUID, b domain.OwnerBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.owners[id]
	b.Version = o.Version + 1
	o.OwnerBalance = b
	s.owners[id] = o
}

// Owner returns a copy of an owner row.
func (s *Store) Owner(id uuid.UUID) domain.Owner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners[id]
}

// Entry returns a copy of an entry row.
func (s *Store) Entry(id uuid.UUID) domain.CommissionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[id]
}

// Payouts returns every payout.
func (s *Store) Payouts() []domain.PayoutRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.payouts))
}

// Events returns queued outbox events in insertion order.
func (s *Store) Events() []domain.OutboxDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.outbox)
}

// Adjustments returns recorded balance adjustments.
func (s *Store) Adjustments() []domain.BalanceAdjustment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.adjustments)
}
