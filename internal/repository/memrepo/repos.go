package memrepo

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/repository"
)

type ownerRepo struct{ s *Store }

func (r *ownerRepo) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.Owner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *ownerRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Owner, error) {
	return r.FindByID(ctx, tx, id)
}

func (r *ownerRepo) Create(_ context.Context, _ repository.DBTX, o *domain.Owner) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.owners[o.ID]; ok {
		return fmt.Errorf("insert owner: duplicate key %s", o.ID)
	}
	r.s.owners[o.ID] = *o
	return nil
}

func (r *ownerRepo) ApplyDelta(_ context.Context, _ pgx.Tx, id uuid.UUID, delta domain.BalanceDelta) (*domain.Owner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[id]
	if !ok {
		return nil, nil
	}
	b := delta.Apply(o.OwnerBalance)
	if err := checkNonNegative(b); err != nil {
		return nil, err
	}
	b.Version = o.Version + 1
	o.OwnerBalance = b
	o.UpdatedAt = time.Now()
	r.s.owners[id] = o
	return &o, nil
}

func (r *ownerRepo) OverwriteBalance(_ context.Context, _ pgx.Tx, id uuid.UUID, b domain.OwnerBalance) (*domain.Owner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[id]
	if !ok {
		return nil, nil
	}
	if err := checkNonNegative(b); err != nil {
		return nil, err
	}
	b.Version = o.Version + 1
	o.OwnerBalance = b
	o.UpdatedAt = time.Now()
	r.s.owners[id] = o
	return &o, nil
}

func (r *ownerRepo) SetTier(_ context.Context, _ repository.DBTX, id uuid.UUID, tier domain.Tier) (*domain.Owner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.owners[id]
	if !ok {
		return nil, nil
	}
	o.Tier = tier
	o.UpdatedAt = time.Now()
	r.s.owners[id] = o
	return &o, nil
}

func (r *ownerRepo) ListIDsAfter(_ context.Context, _ repository.DBTX, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := slices.SortedFunc(maps.Keys(r.s.owners), compareUUID)
	var out []uuid.UUID
	for _, id := range ids {
		if compareUUID(id, after) > 0 {
			out = append(out, id)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func checkNonNegative(b domain.OwnerBalance) error {
	if b.AvailableBalance.IsNegative() || b.ReservedBalance.IsNegative() ||
		b.PendingBalance.IsNegative() || b.LifetimePaid.IsNegative() {
		return fmt.Errorf("owners_balances_non_negative: %w", ErrCheckViolation)
	}
	return nil
}

type commissionRepo struct{ s *Store }

func (r *commissionRepo) Insert(_ context.Context, _ repository.DBTX, e *domain.CommissionEntry) (*domain.CommissionEntry, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.owners[e.OwnerID]; !ok {
		return nil, false, fmt.Errorf("insert commission entry: owner %s: foreign key violation", e.OwnerID)
	}
	for _, existing := range r.s.entries {
		if existing.OwnerID == e.OwnerID && existing.SourceBookingID == e.SourceBookingID {
			return &existing, false, nil
		}
	}
	now := time.Now()
	row := *e
	row.PayoutID = nil
	row.CreatedAt, row.UpdatedAt = now, now
	r.s.entries[row.ID] = row
	return &row, true, nil
}

func (r *commissionRepo) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.CommissionEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.entries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *commissionRepo) ListAvailableFIFO(_ context.Context, _ repository.DBTX, ownerID uuid.UUID) ([]domain.CommissionEntry, error) {
	out := r.filter(func(e domain.CommissionEntry) bool {
		return e.OwnerID == ownerID && e.State == domain.EntryAvailable
	})
	slices.SortFunc(out, func(a, b domain.CommissionEntry) int {
		return cmp.Or(a.EarnedAt.Compare(b.EarnedAt), compareUUID(a.ID, b.ID))
	})
	return out, nil
}

func (r *commissionRepo) Transition(_ context.Context, _ repository.DBTX, ids []uuid.UUID, from, to domain.EntryState, payoutID *uuid.UUID) (int64, error) {
	if hook := r.s.BeforeTransition; hook != nil {
		hook(ids, from, to)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if to.BoundToPayout() != (payoutID != nil) {
		return 0, fmt.Errorf("commission_entries_payout_binding: %w", ErrCheckViolation)
	}
	var n int64
	for _, id := range ids {
		e, ok := r.s.entries[id]
		if !ok || e.State != from {
			continue
		}
		e.State = to
		e.PayoutID = payoutID
		e.UpdatedAt = time.Now()
		r.s.entries[id] = e
		n++
	}
	return n, nil
}

func (r *commissionRepo) ListByOwner(_ context.Context, _ repository.DBTX, ownerID uuid.UUID, state *domain.EntryState, limit int) ([]domain.CommissionEntry, error) {
	out := r.filter(func(e domain.CommissionEntry) bool {
		return e.OwnerID == ownerID && (state == nil || e.State == *state)
	})
	slices.SortFunc(out, func(a, b domain.CommissionEntry) int {
		return cmp.Or(b.EarnedAt.Compare(a.EarnedAt), compareUUID(b.ID, a.ID))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *commissionRepo) ListByPayout(_ context.Context, _ repository.DBTX, payoutID uuid.UUID) ([]domain.CommissionEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payouts[payoutID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.CommissionEntry, 0, len(p.AllocatedEntryIDs))
	for _, id := range p.AllocatedEntryIDs {
		out = append(out, r.s.entries[id])
	}
	return out, nil
}

func (r *commissionRepo) SumByState(_ context.Context, _ repository.DBTX, ownerID uuid.UUID) ([]domain.StateTotal, error) {
	byState := map[domain.EntryState]*domain.StateTotal{}
	for _, e := range r.filter(func(e domain.CommissionEntry) bool { return e.OwnerID == ownerID }) {
		t, ok := byState[e.State]
		if !ok {
			t = &domain.StateTotal{State: e.State, Total: decimal.Zero}
			byState[e.State] = t
		}
		t.Count++
		t.Total = t.Total.Add(e.Amount)
	}
	out := make([]domain.StateTotal, 0, len(byState))
	for _, t := range byState {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b domain.StateTotal) int { return cmp.Compare(a.State, b.State) })
	return out, nil
}

func (r *commissionRepo) ListDueForRelease(_ context.Context, _ repository.DBTX, now time.Time, limit int) ([]domain.CommissionEntry, error) {
	out := r.filter(func(e domain.CommissionEntry) bool {
		return e.State == domain.EntryPending && e.HoldUntil != nil && !e.HoldUntil.After(now)
	})
	slices.SortFunc(out, func(a, b domain.CommissionEntry) int {
		return cmp.Or(a.HoldUntil.Compare(*b.HoldUntil), compareUUID(a.ID, b.ID))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *commissionRepo) filter(keep func(domain.CommissionEntry) bool) []domain.CommissionEntry {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.CommissionEntry
	for _, e := range r.s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

type payoutRepo struct{ s *Store }

func (r *payoutRepo) Insert(_ context.Context, _ repository.DBTX, p *domain.PayoutRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.RequestToken != nil {
		for _, existing := range r.s.payouts {
			if existing.OwnerID == p.OwnerID && existing.RequestToken != nil && *existing.RequestToken == *p.RequestToken {
				return fmt.Errorf("insert payout: payout_requests_owner_token_idx: duplicate key")
			}
		}
	}
	if p.AllocatedAmount.LessThan(p.RequestedAmount) {
		return fmt.Errorf("payout_requests allocated_amount: %w", ErrCheckViolation)
	}
	row := *p
	row.AllocatedEntryIDs = slices.Clone(p.AllocatedEntryIDs)
	r.s.payouts[row.ID] = row
	return nil
}

func (r *payoutRepo) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.PayoutRequest, error) {
	return r.find(func(p domain.PayoutRequest) bool { return p.ID == id }), nil
}

func (r *payoutRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PayoutRequest, error) {
	return r.FindByID(ctx, tx, id)
}

func (r *payoutRepo) FindByToken(_ context.Context, _ repository.DBTX, ownerID uuid.UUID, token string) (*domain.PayoutRequest, error) {
	return r.find(func(p domain.PayoutRequest) bool {
		return p.OwnerID == ownerID && p.RequestToken != nil && *p.RequestToken == token
	}), nil
}

func (r *payoutRepo) FindByProcessorRef(_ context.Context, _ repository.DBTX, ref string) (*domain.PayoutRequest, error) {
	return r.find(func(p domain.PayoutRequest) bool {
		return p.ProcessorRef != nil && *p.ProcessorRef == ref
	}), nil
}

func (r *payoutRepo) UpdateState(_ context.Context, _ repository.DBTX, id uuid.UUID, from, to domain.PayoutState, u domain.PayoutStateUpdate) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payouts[id]
	if !ok || p.State != from {
		return 0, nil
	}
	p.State = to
	if u.ProcessorRef != nil {
		p.ProcessorRef = u.ProcessorRef
	}
	if u.FailureReason != nil {
		p.FailureReason = u.FailureReason
	}
	if u.SettledAt != nil {
		p.SettledAt = u.SettledAt
	}
	p.UpdatedAt = time.Now()
	r.s.payouts[id] = p
	return 1, nil
}

func (r *payoutRepo) ListByOwner(_ context.Context, _ repository.DBTX, ownerID uuid.UUID, limit int) ([]domain.PayoutRequest, error) {
	r.s.mu.Lock()
	var out []domain.PayoutRequest
	for _, p := range r.s.payouts {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	r.s.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.PayoutRequest) int {
		return cmp.Or(b.RequestedAt.Compare(a.RequestedAt), compareUUID(b.ID, a.ID))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *payoutRepo) find(match func(domain.PayoutRequest) bool) *domain.PayoutRequest {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payouts {
		if match(p) {
			p.AllocatedEntryIDs = slices.Clone(p.AllocatedEntryIDs)
			return &p
		}
	}
	return nil
}

type adjustmentRepo struct{ s *Store }

func (r *adjustmentRepo) Insert(_ context.Context, _ repository.DBTX, adj *domain.BalanceAdjustment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.adjustments = append(r.s.adjustments, *adj)
	return nil
}

func (r *adjustmentRepo) ListByOwner(_ context.Context, _ repository.DBTX, ownerID uuid.UUID, limit int) ([]domain.BalanceAdjustment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.BalanceAdjustment
	for i := len(r.s.adjustments) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.adjustments[i].OwnerID == ownerID {
			out = append(out, r.s.adjustments[i])
		}
	}
	return out, nil
}

type outboxRepo struct{ s *Store }

func (r *outboxRepo) Insert(_ context.Context, _ repository.DBTX, draft domain.OutboxDraft) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.seq++
	draft.SeqID = r.s.seq
	r.s.outbox = append(r.s.outbox, draft)
	return nil
}

func (r *outboxRepo) FetchUnpublished(_ context.Context, _ repository.DBTX, limit int) ([]domain.OutboxDraft, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := min(limit, len(r.s.outbox))
	return slices.Clone(r.s.outbox[:n]), nil
}

func (r *outboxRepo) MarkPublished(_ context.Context, _ repository.DBTX, ids []int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.outbox = slices.DeleteFunc(r.s.outbox, func(d domain.OutboxDraft) bool {
		return slices.Contains(ids, d.SeqID)
	})
	return nil
}

func compareUUID(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}
