package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/guard"
	"github.com/tripledger/commission/internal/ledger"
	"github.com/tripledger/commission/internal/projection"
	"github.com/tripledger/commission/internal/provider"
	"github.com/tripledger/commission/internal/repository/memrepo"
)

var day0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeProcessor struct {
	mu        sync.Mutex
	submitted []provider.PayoutInstruction
	err       error
	completed bool
}

func (p *fakeProcessor) Name() string { return "fake" }

func (p *fakeProcessor) Submit(_ context.Context, in provider.PayoutInstruction) (*provider.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, in)
	if p.err != nil {
		return nil, p.err
	}
	return &provider.Receipt{ProcessorRef: "ref-" + in.PayoutNumber, Completed: p.completed}, nil
}

type fixture struct {
	engine      *ledger.Engine
	store       *memrepo.Store
	owner       domain.Owner
	commissions *CommissionService
	payouts     *PayoutService
	reconciler  *Reconciler
	balances    *projection.Balances
	processor   *fakeProcessor
}

type fixtureOpts struct {
	rateLimit  int
	attempts   int
	projection projection.Store
}

func newFixture(t *testing.T, opts ...fixtureOpts) *fixture {
	t.Helper()
	o := fixtureOpts{rateLimit: 100, attempts: 2}
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.rateLimit == 0 {
		o.rateLimit = 100
	}
	if o.attempts == 0 {
		o.attempts = 2
	}
	if o.projection == nil {
		o.projection = projection.NewInMemoryStore()
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memrepo.New()
	repos := store.Repositories()
	numbers, err := domain.NewPayoutNumberGenerator(1)
	require.NoError(t, err)
	engine := ledger.NewEngine(repos.Owners, repos.Commissions, repos.Payouts, repos.Adjustments, repos.Outbox, numbers)

	owner := domain.Owner{
		ID:           uuid.New(),
		Kind:         domain.OwnerAgent,
		Email:        "agent@example.com",
		Tier:         domain.TierSilver,
		PayoutMethod: domain.MethodBankTransfer,
	}
	store.SeedOwner(owner)

	db := store.DB()
	balances := projection.NewBalances(o.projection, time.Minute, logger)
	proc := &fakeProcessor{}
	rails := provider.NewRegistry().Register(proc, domain.MethodPayPal)
	reconciler := NewReconciler(db, engine, repos.Owners, balances, logger, 2, true)

	return &fixture{
		engine:      engine,
		store:       store,
		owner:       owner,
		commissions: NewCommissionService(db, engine, repos.Owners, repos.Commissions, balances, logger),
		payouts: NewPayoutService(db, engine, repos.Owners, repos.Payouts, rails, nil,
			guard.NewRateLimiter(o.rateLimit, time.Minute), guard.NewCircuitBreaker(3, time.Minute),
			reconciler, balances, PayoutPolicy{Minimums: domain.DefaultTierMinimums(), Attempts: o.attempts}, logger),
		reconciler: reconciler,
		balances:   balances,
		processor:  proc,
	}
}

func (f *fixture) earn(t *testing.T, day int, amount string) domain.CommissionEntry {
	t.Helper()
	ctx := context.Background()
	rec, err := f.commissions.Record(ctx, domain.RecordCommissionParams{
		OwnerID:         f.owner.ID,
		SourceBookingID: uuid.NewString(),
		Amount:          dec(amount),
		EarnedAt:        day0.AddDate(0, 0, day),
	})
	require.NoError(t, err)
	rel, err := f.commissions.Release(ctx, rec.Entry.ID)
	require.NoError(t, err)
	return *rel.Entry
}

func (f *fixture) request(amount, token string, method domain.PayoutMethod) (*domain.PayoutResult, error) {
	return f.payouts.RequestPayout(context.Background(), domain.RequestPayoutParams{
		OwnerID:         f.owner.ID,
		RequestedAmount: dec(amount),
		Method:          method,
		RequestToken:    token,
	})
}

func (f *fixture) assertBalance(t *testing.T, available, reserved, pending, paid string) {
	t.Helper()
	b := f.store.Owner(f.owner.ID).OwnerBalance
	assert.Equal(t, dec(available).StringFixed(2), b.AvailableBalance.StringFixed(2), "available")
	assert.Equal(t, dec(reserved).StringFixed(2), b.ReservedBalance.StringFixed(2), "reserved")
	assert.Equal(t, dec(pending).StringFixed(2), b.PendingBalance.StringFixed(2), "pending")
	assert.Equal(t, dec(paid).StringFixed(2), b.LifetimePaid.StringFixed(2), "lifetime paid")
}

func TestRequestPayout_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e1 := f.earn(t, 1, "40")
	e2 := f.earn(t, 2, "30")
	f.earn(t, 3, "20")

	res, err := f.request("50", "", "")
	require.NoError(t, err)
	assert.Equal(t, "70.00", res.Payout.AllocatedAmount.StringFixed(2))
	assert.Equal(t, 2, res.AllocatedEntryCount)
	assert.Equal(t, []uuid.UUID{e1.ID, e2.ID}, res.Payout.AllocatedEntryIDs)
	assert.Equal(t, domain.PayoutCreated, res.Payout.State, "bank transfer is settled manually")
	f.assertBalance(t, "20", "70", "0", "0")

	cached, ok := f.balances.Get(ctx, f.owner.ID)
	require.True(t, ok)
	assert.Equal(t, "20.00", cached.AvailableBalance.StringFixed(2))

	settled, err := f.payouts.ReportSettlement(ctx, domain.SettlementParams{PayoutID: res.Payout.ID, Outcome: domain.PayoutCompleted})
	require.NoError(t, err)
	assert.False(t, settled.NoOp)
	f.assertBalance(t, "20", "0", "0", "70")

	again, err := f.payouts.ReportSettlement(ctx, domain.SettlementParams{PayoutID: res.Payout.ID, Outcome: domain.PayoutCompleted})
	require.NoError(t, err)
	assert.True(t, again.NoOp)
	f.assertBalance(t, "20", "0", "0", "70")

	_, err = f.request("10", "", "")
	assert.True(t, domain.HasCode(err, domain.CodeBelowMinimum))
	f.assertBalance(t, "20", "0", "0", "70")
}

func TestRequestPayout_Validation(t *testing.T) {
	f := newFixture(t)
	f.earn(t, 1, "100")

	_, err := f.request("0", "", "")
	assert.True(t, domain.HasCode(err, domain.CodeInvalidAmount))

	_, err = f.request("-5", "", "")
	assert.True(t, domain.HasCode(err, domain.CodeInvalidAmount))

	_, err = f.request("500", "", "")
	assert.True(t, domain.HasCode(err, domain.CodeInsufficientBalance))

	_, err = f.payouts.RequestPayout(context.Background(), domain.RequestPayoutParams{
		OwnerID: uuid.New(), RequestedAmount: dec("50"),
	})
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))

	assert.Empty(t, f.store.Payouts())
	f.assertBalance(t, "100", "0", "0", "0")
}

func TestRequestPayout_RateLimited(t *testing.T) {
	f := newFixture(t, fixtureOpts{rateLimit: 1, attempts: 2})
	f.earn(t, 1, "100")

	_, err := f.request("30", "", "")
	require.NoError(t, err)

	_, err = f.request("30", "", "")
	assert.True(t, domain.HasCode(err, domain.CodeRateLimited))
}

func TestRequestPayout_TokenIdempotent(t *testing.T) {
	f := newFixture(t)
	f.earn(t, 1, "40")
	f.earn(t, 2, "40")

	first, err := f.request("40", "tok-1", "")
	require.NoError(t, err)
	second, err := f.request("40", "tok-1", "")
	require.NoError(t, err)

	assert.True(t, second.Idempotent)
	assert.Equal(t, first.Payout.ID, second.Payout.ID)
	assert.Equal(t, domain.PayoutCreated, second.Payout.State, "manual rails stay CREATED on replay")
	assert.Empty(t, f.processor.submitted)
	assert.Len(t, f.store.Payouts(), 1)
	f.assertBalance(t, "40", "40", "0", "0")

	_, err = f.request("30", "tok-1", "")
	assert.True(t, domain.HasCode(err, domain.CodeConflict))
}

func TestRequestPayout_TokenReplayBypassesRateLimit(t *testing.T) {
	f := newFixture(t, fixtureOpts{rateLimit: 1})
	f.earn(t, 1, "40")

	first, err := f.request("30", "tok-1", "")
	require.NoError(t, err)

	_, err = f.request("30", "", "")
	require.True(t, domain.HasCode(err, domain.CodeRateLimited))

	again, err := f.request("30", "tok-1", "")
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.Payout.ID, again.Payout.ID)
	assert.Equal(t, 1, again.AllocatedEntryCount)
	assert.Equal(t, "40.00", again.Balance.ReservedBalance.StringFixed(2))
}

func TestRequestPayout_TokenReplayIgnoresRaisedMinimum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.earn(t, 1, "40")

	first, err := f.request("30", "tok-1", "")
	require.NoError(t, err)

	_, err = f.payouts.SetTier(ctx, f.owner.ID, domain.TierStarter)
	require.NoError(t, err)

	again, err := f.request("30", "tok-1", "")
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.Payout.ID, again.Payout.ID)

	_, err = f.request("30", "tok-2", "")
	assert.True(t, domain.HasCode(err, domain.CodeBelowMinimum), "a new token still meets the minimum")
}

func TestRequestPayout_ReplayResumesMissedHandOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.earn(t, 1, "60")

	// The allocation committed but the caller never learned of it, so no
	// handoff ran.
	_, err := inTx(ctx, f.store.DB(), func(tx pgx.Tx) error {
		_, err := f.engine.ExecuteAllocate(ctx, tx, domain.RequestPayoutParams{
			OwnerID:         f.owner.ID,
			RequestedAmount: dec("50"),
			Method:          domain.MethodPayPal,
			RequestToken:    "tok-lost",
		})
		return err
	})
	require.NoError(t, err)
	require.Empty(t, f.processor.submitted)

	res, err := f.request("50", "tok-lost", domain.MethodPayPal)
	require.NoError(t, err)
	assert.True(t, res.Idempotent)
	assert.Equal(t, domain.PayoutSettling, res.Payout.State)
	require.Len(t, f.processor.submitted, 1)
	assert.Equal(t, res.Payout.ID, f.processor.submitted[0].PayoutID)

	again, err := f.request("50", "tok-lost", domain.MethodPayPal)
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
	assert.Len(t, f.processor.submitted, 1, "a SETTLING payout is not resubmitted on replay")
	assert.Len(t, f.store.Payouts(), 1)
}

func TestHandOff_ClaimedPayoutIsNotResubmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.earn(t, 1, "60")

	var created *domain.PayoutResult
	_, err := inTx(ctx, f.store.DB(), func(tx pgx.Tx) error {
		var err error
		created, err = f.engine.ExecuteAllocate(ctx, tx, domain.RequestPayoutParams{
			OwnerID:         f.owner.ID,
			RequestedAmount: dec("50"),
			Method:          domain.MethodPayPal,
		})
		return err
	})
	require.NoError(t, err)

	_, err = f.payouts.markSettling(ctx, created.Payout.ID, "")
	require.NoError(t, err)

	p, err := f.payouts.handOff(ctx, created.Payout.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutSettling, p.State)
	assert.Empty(t, f.processor.submitted, "another caller already claimed it")

	_, err = f.payouts.HandOff(ctx, created.Payout.ID)
	require.NoError(t, err)
	assert.Len(t, f.processor.submitted, 1, "the explicit handoff resubmits")
}

func TestRequestPayout_RetriesStateConflictOnce(t *testing.T) {
	f := newFixture(t)
	e1 := f.earn(t, 1, "40")
	f.earn(t, 2, "40")

	calls := 0
	f.store.BeforeTransition = func(ids []uuid.UUID, from, to domain.EntryState) {
		if from == domain.EntryAvailable && to == domain.EntryReserved {
			calls++
			if calls == 1 {
				f.store.SetEntryState(e1.ID, domain.EntryCancelled, nil)
			}
		}
	}

	res, err := f.request("50", "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "80.00", res.Payout.AllocatedAmount.StringFixed(2))
	f.assertBalance(t, "0", "80", "0", "0")
}

func TestRequestPayout_ConflictExhaustedIsRetryable(t *testing.T) {
	f := newFixture(t)
	e1 := f.earn(t, 1, "40")
	f.earn(t, 2, "40")

	f.store.BeforeTransition = func(ids []uuid.UUID, from, to domain.EntryState) {
		if from == domain.EntryAvailable && to == domain.EntryReserved {
			f.store.SetEntryState(e1.ID, domain.EntryCancelled, nil)
		}
	}

	_, err := f.request("50", "", "")
	assert.True(t, domain.HasCode(err, domain.CodeRetryable))
	assert.Empty(t, f.store.Payouts())
	f.assertBalance(t, "80", "0", "0", "0")
}

func TestRequestPayout_CommitFailureRollsBackAndVerifies(t *testing.T) {
	f := newFixture(t)
	f.earn(t, 1, "40")

	f.store.CommitErr = errors.New("connection reset")
	_, err := f.request("30", "", "")
	assert.True(t, domain.HasCode(err, domain.CodeRetryable))
	assert.Empty(t, f.store.Payouts())
	f.assertBalance(t, "40", "0", "0", "0")
	assert.Empty(t, f.store.Adjustments(), "ledger and cache still agree, nothing to repair")
}

func TestConcurrentRequests_ExactlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	f.earn(t, 1, "40")
	f.earn(t, 2, "30")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.request("50", "", "")
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case domain.HasCode(err, domain.CodeInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	f.assertBalance(t, "0", "70", "0", "0")
}

func TestHandOff_AsyncProcessor(t *testing.T) {
	f := newFixture(t)
	f.earn(t, 1, "60")

	res, err := f.request("50", "", domain.MethodPayPal)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutSettling, res.Payout.State)
	require.NotNil(t, res.Payout.ProcessorRef)
	assert.Equal(t, "ref-"+res.Payout.PayoutNumber, *res.Payout.ProcessorRef)

	require.Len(t, f.processor.submitted, 1)
	in := f.processor.submitted[0]
	assert.Equal(t, "60.00", in.Amount.StringFixed(2), "the allocated amount is paid, not the request")
	assert.Equal(t, "agent@example.com", in.OwnerEmail)
	f.assertBalance(t, "0", "60", "0", "0")
}

func TestHandOff_SyncProcessorCompletes(t *testing.T) {
	f := newFixture(t)
	f.processor.completed = true
	f.earn(t, 1, "60")

	res, err := f.request("50", "", domain.MethodPayPal)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutCompleted, res.Payout.State)
	f.assertBalance(t, "0", "0", "0", "60")

	var types []domain.EventType
	for _, e := range f.store.Events() {
		if e.AggregateID == res.Payout.ID.String() {
			types = append(types, e.EventType)
		}
	}
	assert.Equal(t, []domain.EventType{
		domain.EventPayoutCreated, domain.EventPayoutSettling, domain.EventPayoutCompleted,
	}, types, "synchronous rails still pass through SETTLING")
}

func TestHandOff_ProcessorErrorLeavesSettling(t *testing.T) {
	f := newFixture(t)
	f.processor.err = errors.New("timeout")
	f.earn(t, 1, "60")

	res, err := f.request("50", "", domain.MethodPayPal)
	require.NoError(t, err, "handoff failures never fail the request")
	assert.Equal(t, domain.PayoutSettling, res.Payout.State)
	f.assertBalance(t, "0", "60", "0", "0")

	// Operator resolves the stuck payout.
	failed, err := f.payouts.ForceFail(context.Background(), res.Payout.ID, "processor outage")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutFailed, failed.Payout.State)
	assert.Equal(t, "operator: processor outage", *failed.Payout.FailureReason)
	f.assertBalance(t, "60", "0", "0", "0")
}

func TestReportSettlement_Ambiguous(t *testing.T) {
	f := newFixture(t)
	f.earn(t, 1, "60")
	res, err := f.request("50", "", "")
	require.NoError(t, err)

	_, err = f.payouts.ReportSettlement(context.Background(), domain.SettlementParams{
		PayoutID: res.Payout.ID, Outcome: domain.PayoutState("PROCESSING"),
	})
	assert.True(t, domain.HasCode(err, domain.CodeAmbiguousSettlement))

	p, err := f.payouts.GetPayout(context.Background(), res.Payout.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutCreated, p.State)
	f.assertBalance(t, "0", "60", "0", "0")
}

func TestReportSettlement_TerminalIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.earn(t, 1, "60")
	res, err := f.request("50", "", "")
	require.NoError(t, err)

	_, err = f.payouts.ReportSettlement(ctx, domain.SettlementParams{PayoutID: res.Payout.ID, Outcome: domain.PayoutFailed})
	require.NoError(t, err)

	_, err = f.payouts.ReportSettlement(ctx, domain.SettlementParams{PayoutID: res.Payout.ID, Outcome: domain.PayoutCompleted})
	assert.True(t, domain.HasCode(err, domain.CodeIllegalTransition))
	f.assertBalance(t, "60", "0", "0", "0")
}

func TestForceFail_RequiresReason(t *testing.T) {
	f := newFixture(t)
	_, err := f.payouts.ForceFail(context.Background(), uuid.New(), "  ")
	assert.True(t, domain.HasCode(err, domain.CodeValidation))
}

func TestSetTier_AffectsLaterRequestsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.earn(t, 1, "30")

	_, err := f.request("30", "", "")
	require.NoError(t, err)

	owner, err := f.payouts.SetTier(ctx, f.owner.ID, domain.TierStarter)
	require.NoError(t, err)
	assert.Equal(t, domain.TierStarter, owner.Tier)

	payouts, err := f.payouts.ListPayouts(ctx, f.owner.ID, 0)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, domain.PayoutCreated, payouts[0].State, "existing payouts are untouched")

	f.earn(t, 2, "30")
	_, err = f.request("30", "", "")
	assert.True(t, domain.HasCode(err, domain.CodeBelowMinimum))

	_, err = f.payouts.SetTier(ctx, uuid.New(), domain.TierGold)
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))
}

func TestCommissionService_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.commissions.Record(ctx, domain.RecordCommissionParams{
		OwnerID: f.owner.ID, SourceBookingID: "BK-1", Amount: dec("25.50"), EarnedAt: day0,
	})
	require.NoError(t, err)
	f.assertBalance(t, "0", "0", "25.50", "0")

	dup, err := f.commissions.Record(ctx, domain.RecordCommissionParams{
		OwnerID: f.owner.ID, SourceBookingID: "BK-1", Amount: dec("25.50"), EarnedAt: day0,
	})
	require.NoError(t, err)
	assert.True(t, dup.Idempotent)
	assert.Equal(t, rec.Entry.ID, dup.Entry.ID)

	_, err = f.commissions.Release(ctx, rec.Entry.ID)
	require.NoError(t, err)
	f.assertBalance(t, "25.50", "0", "0", "0")

	_, err = f.commissions.Cancel(ctx, rec.Entry.ID)
	require.NoError(t, err)
	f.assertBalance(t, "0", "0", "0", "0")

	cancelled := domain.EntryCancelled
	entries, err := f.commissions.ListEntries(ctx, f.owner.ID, &cancelled, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	summary, err := f.commissions.Summary(ctx, f.owner.ID)
	require.NoError(t, err)
	for _, s := range summary {
		if s.State == domain.EntryCancelled {
			assert.Equal(t, 1, s.Count)
			assert.Equal(t, "25.50", s.Total.StringFixed(2))
		}
	}

	_, err = f.commissions.Release(ctx, uuid.New())
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))
}

func TestCommissionService_ReleaseDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	for i, hold := range []*time.Time{&past, &future, nil} {
		_, err := f.commissions.Record(ctx, domain.RecordCommissionParams{
			OwnerID: f.owner.ID, SourceBookingID: uuid.NewString(), Amount: dec("10"),
			EarnedAt: day0.AddDate(0, 0, i), HoldUntil: hold,
		})
		require.NoError(t, err)
	}

	n, err := f.commissions.ReleaseDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.assertBalance(t, "10", "0", "20", "0")
}

func TestCommissionService_RegisterOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := uuid.New()
	owner, err := f.commissions.RegisterOwner(ctx, RegisterOwnerInput{ID: id, Kind: domain.OwnerAffiliate, Email: "aff@example.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.TierStarter, owner.Tier)
	assert.Equal(t, domain.MethodBankTransfer, owner.PayoutMethod)

	again, err := f.commissions.RegisterOwner(ctx, RegisterOwnerInput{ID: id, Kind: domain.OwnerAffiliate, Email: "other@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "aff@example.com", again.Email)

	_, err = f.commissions.RegisterOwner(ctx, RegisterOwnerInput{ID: uuid.New(), Kind: "PARTNER", Email: "p@example.com"})
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	_, err = f.commissions.RegisterOwner(ctx, RegisterOwnerInput{ID: uuid.New(), Kind: domain.OwnerAgent, Email: "nope"})
	assert.True(t, domain.HasCode(err, domain.CodeValidation))
}

func TestCommissionService_BalanceFallsBackToOwnerRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.earn(t, 1, "15")
	f.balances.Invalidate(ctx, f.owner.ID)

	b, err := f.commissions.Balance(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "15.00", b.AvailableBalance.StringFixed(2))

	_, ok := f.balances.Get(ctx, f.owner.ID)
	assert.True(t, ok, "miss repopulates the projection")

	_, err = f.commissions.Balance(ctx, uuid.New())
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))
}

// slowFirstWriteStore holds the first projection write until a second
// writer has gone through, reproducing out-of-order post-commit writes.
type slowFirstWriteStore struct {
	*projection.InMemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newSlowFirstWriteStore() *slowFirstWriteStore {
	return &slowFirstWriteStore{
		InMemoryStore: projection.NewInMemoryStore(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (s *slowFirstWriteStore) SetVersioned(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (bool, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		select {
		case <-s.release:
		case <-time.After(100 * time.Millisecond):
		}
	}
	return s.InMemoryStore.SetVersioned(ctx, key, value, version, ttl)
}

func TestCommissionService_OutOfOrderCacheWritesKeepNewestBalance(t *testing.T) {
	slow := newSlowFirstWriteStore()
	f := newFixture(t, fixtureOpts{projection: slow})
	ctx := context.Background()

	record := func(amount string) error {
		_, err := f.commissions.Record(ctx, domain.RecordCommissionParams{
			OwnerID:         f.owner.ID,
			SourceBookingID: uuid.NewString(),
			Amount:          dec(amount),
			EarnedAt:        day0,
		})
		return err
	}

	errs := make(chan error, 1)
	go func() { errs <- record("10") }()
	<-slow.entered

	require.NoError(t, record("20"))
	close(slow.release)
	require.NoError(t, <-errs)

	row := f.store.Owner(f.owner.ID).OwnerBalance
	assert.Equal(t, "30.00", row.PendingBalance.StringFixed(2))

	b, err := f.commissions.Balance(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, row.PendingBalance.StringFixed(2), b.PendingBalance.StringFixed(2), "served balance matches the owner row")
	assert.Equal(t, row.Version, b.Version)
}

func TestCommissionService_StaleMissFillIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.earn(t, 1, "15")
	stale := f.store.Owner(f.owner.ID).OwnerBalance

	f.earn(t, 2, "5")
	f.balances.Put(ctx, f.owner.ID, stale)

	b, err := f.commissions.Balance(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", b.AvailableBalance.StringFixed(2))
}

func TestReconciler_VerifyAndRepair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.earn(t, 1, "40")

	report, err := f.reconciler.Verify(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.False(t, report.Drift)

	f.store.SetBalance(f.owner.ID, domain.OwnerBalance{AvailableBalance: dec("99")})

	report, err = f.reconciler.Verify(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.True(t, report.Drift)
	assert.Equal(t, "40.00", report.Expected.AvailableBalance.StringFixed(2))
	assert.Empty(t, f.store.Adjustments(), "verify never writes")

	_, adj, err := f.reconciler.Repair(ctx, f.owner.ID, "manual")
	require.NoError(t, err)
	require.NotNil(t, adj)
	assert.Equal(t, "99.00", adj.Before.AvailableBalance.StringFixed(2))
	f.assertBalance(t, "40", "0", "0", "0")

	b, err := f.reconciler.Recompute(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "40.00", b.AvailableBalance.StringFixed(2))
}

func TestReconciler_SweepPagesAndRepairs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.earn(t, 1, "40")

	for i := 0; i < 3; i++ {
		f.store.SeedOwner(domain.Owner{ID: uuid.New(), Kind: domain.OwnerAffiliate, Email: "a@example.com", Tier: domain.TierGold})
	}
	f.store.SetBalance(f.owner.ID, domain.OwnerBalance{AvailableBalance: dec("1")})

	res, err := f.reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Checked)
	assert.Equal(t, 1, res.Drifted)
	assert.Equal(t, 1, res.Repaired)
	f.assertBalance(t, "40", "0", "0", "0")
	assert.Len(t, f.store.Adjustments(), 1)
}
