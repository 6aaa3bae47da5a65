package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/guard"
	"github.com/tripledger/commission/internal/ledger"
	"github.com/tripledger/commission/internal/projection"
	"github.com/tripledger/commission/internal/provider"
	"github.com/tripledger/commission/internal/repository"
)

const processorTimeout = 15 * time.Second

// PayoutPolicy holds the configurable rules applied before allocation.
type PayoutPolicy struct {
	Minimums domain.TierMinimums
	// Attempts is the total number of allocation attempts on StateConflict.
	Attempts int
}

// PayoutService orchestrates payout requests, processor handoff and
// settlement callbacks around the ledger engine.
type PayoutService struct {
	db         DB
	engine     *ledger.Engine
	owners     repository.OwnerRepository
	payouts    repository.PayoutRepository
	rails      *provider.Registry
	stripe     *provider.StripeProvider
	limiter    *guard.RateLimiter
	breaker    *guard.CircuitBreaker
	reconciler *Reconciler
	balances   *projection.Balances
	policy     PayoutPolicy
	logger     *slog.Logger
}

// NewPayoutService creates a PayoutService. stripe may be nil when webhooks
// are not configured.
func NewPayoutService(
	db DB,
	engine *ledger.Engine,
	owners repository.OwnerRepository,
	payouts repository.PayoutRepository,
	rails *provider.Registry,
	stripe *provider.StripeProvider,
	limiter *guard.RateLimiter,
	breaker *guard.CircuitBreaker,
	reconciler *Reconciler,
	balances *projection.Balances,
	policy PayoutPolicy,
	logger *slog.Logger,
) *PayoutService {
	if policy.Attempts < 1 {
		policy.Attempts = 2
	}
	if policy.Minimums == nil {
		policy.Minimums = domain.DefaultTierMinimums()
	}
	if rails == nil {
		rails = provider.NewRegistry()
	}
	return &PayoutService{
		db:         db,
		engine:     engine,
		owners:     owners,
		payouts:    payouts,
		rails:      rails,
		stripe:     stripe,
		limiter:    limiter,
		breaker:    breaker,
		reconciler: reconciler,
		balances:   balances,
		policy:     policy,
		logger:     logger,
	}
}

// RequestPayout validates, allocates and hands off a payout.
//
// A request token already on file replays the original payout before the
// rate limit or tier minimum is consulted, so a client retrying after
// RETRYABLE always gets its payout back. Validation (amount, tier minimum)
// happens before any lock. The allocation runs in one transaction and is
// retried on StateConflict up to the policy's attempt count, after which the
// caller gets RETRYABLE. Processor handoff runs after commit and never fails
// the request.
func (s *PayoutService) RequestPayout(ctx context.Context, params domain.RequestPayoutParams) (*domain.PayoutResult, error) {
	if err := domain.ValidatePositiveAmount(params.RequestedAmount); err != nil {
		return nil, err
	}
	if err := domain.ValidateRequestToken(params.RequestToken); err != nil {
		return nil, err
	}
	if params.RequestToken != "" {
		res, err := s.replay(ctx, params)
		if err != nil || res != nil {
			return res, err
		}
	}
	if s.limiter != nil {
		if err := s.limiter.Allow(ctx, params.OwnerID.String()); err != nil {
			return nil, err
		}
	}

	owner, err := s.owners.FindByID(ctx, s.db, params.OwnerID)
	if err != nil {
		return nil, domain.ErrInternal("find owner", err)
	}
	if owner == nil {
		return nil, domain.ErrNotFound("owner", params.OwnerID.String())
	}
	if err := s.policy.Minimums.CheckThreshold(owner.Tier, params.RequestedAmount); err != nil {
		return nil, err
	}

	var res *domain.PayoutResult
	for attempt := 1; ; attempt++ {
		var atCommit bool
		atCommit, err = inTx(ctx, s.db, func(tx pgx.Tx) error {
			var err error
			res, err = s.engine.ExecuteAllocate(ctx, tx, params)
			return err
		})
		if err == nil {
			break
		}
		if atCommit {
			s.logger.Error("allocation commit failed", "owner_id", params.OwnerID, "error", err)
			s.repairAfter(ctx, params.OwnerID, "allocation commit failed")
			return nil, domain.ErrRetryable(err)
		}
		if !domain.HasCode(err, domain.CodeStateConflict) {
			return nil, appError("request payout", err)
		}
		if attempt >= s.policy.Attempts {
			s.logger.Warn("allocation conflict retries exhausted", "owner_id", params.OwnerID, "attempts", attempt)
			return nil, domain.ErrRetryable(err)
		}
		s.logger.Warn("allocation state conflict, retrying", "owner_id", params.OwnerID, "attempt", attempt)
	}

	if res.Idempotent {
		return s.resumeHandOff(ctx, res), nil
	}

	s.balances.Put(ctx, params.OwnerID, res.Balance)
	s.logger.Info("payout created",
		"owner_id", params.OwnerID,
		"payout_id", res.Payout.ID,
		"payout_number", res.Payout.PayoutNumber,
		"requested_amount", res.Payout.RequestedAmount.StringFixed(2),
		"allocated_amount", res.Payout.AllocatedAmount.StringFixed(2),
		"entry_count", res.AllocatedEntryCount,
	)

	if handed, err := s.handOff(ctx, res.Payout.ID, false); err != nil {
		s.logger.Warn("payout handoff failed", "payout_id", res.Payout.ID, "error", err)
	} else {
		res.Payout = handed
	}
	return res, nil
}

// replay returns the payout already created under the request token, or nil
// when the token is new.
func (s *PayoutService) replay(ctx context.Context, params domain.RequestPayoutParams) (*domain.PayoutResult, error) {
	existing, err := s.payouts.FindByToken(ctx, s.db, params.OwnerID, params.RequestToken)
	if err != nil {
		return nil, domain.ErrInternal("find payout by token", err)
	}
	if existing == nil {
		return nil, nil
	}
	if !existing.RequestedAmount.Equal(params.RequestedAmount) {
		return nil, domain.ErrConflict("request token already used for a different amount")
	}
	owner, err := s.owners.FindByID(ctx, s.db, params.OwnerID)
	if err != nil {
		return nil, domain.ErrInternal("find owner", err)
	}
	if owner == nil {
		return nil, domain.ErrNotFound("owner", params.OwnerID.String())
	}
	res := &domain.PayoutResult{
		Payout:              existing,
		Balance:             owner.OwnerBalance,
		AllocatedEntryCount: len(existing.AllocatedEntryIDs),
		Idempotent:          true,
	}
	return s.resumeHandOff(ctx, res), nil
}

// resumeHandOff hands off a replayed payout that is still CREATED on a rail
// with a processor. This happens when the first request's commit was reported
// as failed but had in fact succeeded.
func (s *PayoutService) resumeHandOff(ctx context.Context, res *domain.PayoutResult) *domain.PayoutResult {
	if res.Payout.State != domain.PayoutCreated {
		return res
	}
	if _, ok := s.rails.For(res.Payout.Method); !ok {
		return res
	}
	s.logger.Info("resuming handoff on replay", "payout_id", res.Payout.ID)
	if handed, err := s.handOff(ctx, res.Payout.ID, false); err != nil {
		s.logger.Warn("payout handoff failed", "payout_id", res.Payout.ID, "error", err)
	} else {
		res.Payout = handed
	}
	return res
}

// repairAfter runs a best-effort reconciler repair after an ambiguous failure.
func (s *PayoutService) repairAfter(ctx context.Context, ownerID uuid.UUID, reason string) {
	if s.reconciler == nil {
		return
	}
	if _, _, err := s.reconciler.Repair(context.WithoutCancel(ctx), ownerID, reason); err != nil {
		s.logger.Error("post-failure repair failed", "owner_id", ownerID, "error", err)
	}
}

// HandOff sends a payout to the processor registered for its method.
// Methods without a processor are settled manually and stay CREATED.
// Processor failures are logged and leave the payout SETTLING until a
// callback or an operator resolves it. A payout already SETTLING is
// submitted again.
func (s *PayoutService) HandOff(ctx context.Context, payoutID uuid.UUID) (*domain.PayoutRequest, error) {
	return s.handOff(ctx, payoutID, true)
}

// handOff claims the payout by moving it to SETTLING before submitting. With
// resubmit false, a payout some other caller already claimed is left alone.
func (s *PayoutService) handOff(ctx context.Context, payoutID uuid.UUID, resubmit bool) (*domain.PayoutRequest, error) {
	p, err := s.engine.FindPayout(ctx, s.db, payoutID)
	if err != nil {
		return nil, appError("find payout", err)
	}
	proc, ok := s.rails.For(p.Method)
	if !ok {
		s.logger.Info("payout awaits manual settlement", "payout_id", p.ID, "method", p.Method)
		return p, nil
	}
	if p.State.IsTerminal() {
		return p, nil
	}

	settling, err := s.markSettling(ctx, payoutID, "")
	if err != nil {
		return nil, err
	}
	p = settling.Payout
	if settling.NoOp && !resubmit {
		return p, nil
	}

	owner, err := s.owners.FindByID(ctx, s.db, p.OwnerID)
	if err != nil || owner == nil {
		return nil, domain.ErrInternal("find payout owner", err)
	}

	var receipt *provider.Receipt
	submit := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, processorTimeout)
		defer cancel()
		var err error
		receipt, err = proc.Submit(ctx, provider.PayoutInstruction{
			PayoutID:     p.ID,
			PayoutNumber: p.PayoutNumber,
			OwnerID:      p.OwnerID,
			OwnerEmail:   owner.Email,
			Amount:       p.AllocatedAmount,
			Method:       p.Method,
		})
		return err
	}
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, proc.Name(), submit)
	} else {
		err = submit(ctx)
	}
	if err != nil {
		s.logger.Error("processor submit failed, payout left settling",
			"payout_id", p.ID, "processor", proc.Name(), "error", err)
		return p, nil
	}

	if receipt.Completed {
		res, err := s.ReportSettlement(ctx, domain.SettlementParams{
			PayoutID:     p.ID,
			Outcome:      domain.PayoutCompleted,
			ProcessorRef: receipt.ProcessorRef,
		})
		if err != nil {
			return p, err
		}
		return res.Payout, nil
	}

	if receipt.ProcessorRef != "" {
		res, err := s.markSettling(ctx, p.ID, receipt.ProcessorRef)
		if err != nil {
			return p, err
		}
		p = res.Payout
	}
	s.logger.Info("payout handed off", "payout_id", p.ID, "processor", proc.Name(), "processor_ref", receipt.ProcessorRef)
	return p, nil
}

func (s *PayoutService) markSettling(ctx context.Context, payoutID uuid.UUID, ref string) (*domain.SettlementResult, error) {
	var res *domain.SettlementResult
	_, err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		res, err = s.engine.ExecuteMarkSettling(ctx, tx, payoutID, ref)
		return err
	})
	if err != nil {
		return nil, appError("mark settling", err)
	}
	return res, nil
}

// ReportSettlement applies a processor's terminal outcome. Repeating an
// outcome is a no-op. A non-terminal outcome is rejected as AMBIGUOUS_SETTLEMENT
// and leaves the payout untouched.
func (s *PayoutService) ReportSettlement(ctx context.Context, params domain.SettlementParams) (*domain.SettlementResult, error) {
	if params.Outcome != domain.PayoutCompleted && params.Outcome != domain.PayoutFailed {
		err := domain.ErrAmbiguousSettlement(string(params.Outcome))
		s.logger.Error("ambiguous settlement reported", "payout_id", params.PayoutID, "status", params.Outcome, "error", err)
		return nil, err
	}

	var res *domain.SettlementResult
	atCommit, err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		res, err = s.engine.ExecuteSettle(ctx, tx, params)
		return err
	})
	if err != nil {
		if atCommit {
			if p, findErr := s.payouts.FindByID(ctx, s.db, params.PayoutID); findErr == nil && p != nil {
				s.repairAfter(ctx, p.OwnerID, "settlement commit failed")
			}
			return nil, domain.ErrRetryable(err)
		}
		return nil, appError("report settlement", err)
	}

	if !res.NoOp {
		s.balances.Put(ctx, res.Payout.OwnerID, res.Balance)
		s.logger.Info("payout settled",
			"payout_id", res.Payout.ID,
			"owner_id", res.Payout.OwnerID,
			"state", res.Payout.State,
			"allocated_amount", res.Payout.AllocatedAmount.StringFixed(2),
		)
	}
	return res, nil
}

// ForceFail is the operator override: the payout fails and its entries
// return to AVAILABLE.
func (s *PayoutService) ForceFail(ctx context.Context, payoutID uuid.UUID, reason string) (*domain.SettlementResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrValidation("reason is required")
	}
	s.logger.Warn("operator forcing payout failure", "payout_id", payoutID, "reason", reason)
	return s.ReportSettlement(ctx, domain.SettlementParams{
		PayoutID: payoutID,
		Outcome:  domain.PayoutFailed,
		Reason:   "operator: " + reason,
	})
}

// HandleStripeWebhook verifies a Stripe event and applies payout outcomes.
// Events without an outcome, or for unknown payouts, are acknowledged and
// ignored so Stripe stops retrying them.
func (s *PayoutService) HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	if s.stripe == nil {
		return domain.ErrValidation("stripe is not configured")
	}
	event, err := s.stripe.VerifyWebhookSignature(payload, sigHeader)
	if err != nil {
		return domain.ErrUnauthorized(fmt.Sprintf("webhook verification failed: %v", err))
	}

	outcome, ok := provider.SettlementOutcome(event.Type)
	if !ok {
		s.logger.Info("unhandled stripe event type", "type", event.Type)
		return nil
	}

	po, err := provider.ParsePayoutData(event.Data)
	if err != nil {
		return domain.ErrValidation(err.Error())
	}

	p, err := s.resolveStripePayout(ctx, po)
	if err != nil {
		return err
	}
	if p == nil {
		s.logger.Warn("stripe payout not found", "processor_ref", po.ID)
		return nil
	}

	reason := po.FailureMessage
	if reason == "" {
		reason = po.FailureCode
	}
	_, err = s.ReportSettlement(ctx, domain.SettlementParams{
		PayoutID:     p.ID,
		Outcome:      outcome,
		ProcessorRef: po.ID,
		Reason:       reason,
	})
	return err
}

func (s *PayoutService) resolveStripePayout(ctx context.Context, po *provider.StripePayout) (*domain.PayoutRequest, error) {
	if raw, ok := po.Metadata["payout_id"]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			p, err := s.payouts.FindByID(ctx, s.db, id)
			if err != nil {
				return nil, domain.ErrInternal("find payout", err)
			}
			if p != nil {
				return p, nil
			}
		}
	}
	p, err := s.payouts.FindByProcessorRef(ctx, s.db, po.ID)
	if err != nil {
		return nil, domain.ErrInternal("find payout by ref", err)
	}
	return p, nil
}

// SetTier changes an owner's tier. Only later threshold checks see it.
func (s *PayoutService) SetTier(ctx context.Context, ownerID uuid.UUID, tier domain.Tier) (*domain.Owner, error) {
	owner, err := s.owners.SetTier(ctx, s.db, ownerID, tier)
	if err != nil {
		return nil, domain.ErrInternal("set tier", err)
	}
	if owner == nil {
		return nil, domain.ErrNotFound("owner", ownerID.String())
	}
	s.logger.Info("owner tier changed", "owner_id", ownerID, "tier", tier)
	return owner, nil
}

// GetPayout returns a payout with its allocated entry IDs.
func (s *PayoutService) GetPayout(ctx context.Context, payoutID uuid.UUID) (*domain.PayoutRequest, error) {
	p, err := s.engine.FindPayout(ctx, s.db, payoutID)
	if err != nil {
		return nil, appError("get payout", err)
	}
	return p, nil
}

// ListPayouts returns an owner's payouts newest first.
func (s *PayoutService) ListPayouts(ctx context.Context, ownerID uuid.UUID, limit int) ([]domain.PayoutRequest, error) {
	payouts, err := s.payouts.ListByOwner(ctx, s.db, ownerID, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, domain.ErrInternal("list payouts", err)
	}
	return payouts, nil
}
