package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripledger/commission/internal/domain"
	"github.com/tripledger/commission/internal/ledger"
	"github.com/tripledger/commission/internal/projection"
	"github.com/tripledger/commission/internal/repository"
)

// CommissionService is the entry point for the booking-completion and
// maturation collaborators and for owner-facing ledger reads.
type CommissionService struct {
	db       DB
	engine   *ledger.Engine
	owners   repository.OwnerRepository
	entries  repository.CommissionRepository
	balances *projection.Balances
	logger   *slog.Logger
	now      func() time.Time
}

// NewCommissionService creates a CommissionService.
func NewCommissionService(
	db DB,
	engine *ledger.Engine,
	owners repository.OwnerRepository,
	entries repository.CommissionRepository,
	balances *projection.Balances,
	logger *slog.Logger,
) *CommissionService {
	return &CommissionService{
		db:       db,
		engine:   engine,
		owners:   owners,
		entries:  entries,
		balances: balances,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterOwnerInput describes an agent or affiliate joining the program.
type RegisterOwnerInput struct {
	ID           uuid.UUID
	Kind         domain.OwnerKind
	Email        string
	Tier         domain.Tier
	PayoutMethod domain.PayoutMethod
}

// RegisterOwner creates the owner row that carries the cached balance.
// Registering an existing ID returns the stored owner unchanged.
func (s *CommissionService) RegisterOwner(ctx context.Context, in RegisterOwnerInput) (*domain.Owner, error) {
	if in.ID == uuid.Nil {
		return nil, domain.ErrValidation("owner id is required")
	}
	if in.Kind != domain.OwnerAgent && in.Kind != domain.OwnerAffiliate {
		return nil, domain.ErrValidation("kind must be AGENT or AFFILIATE")
	}
	if err := domain.ValidateEmail(in.Email); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	existing, err := s.owners.FindByID(ctx, s.db, in.ID)
	if err != nil {
		return nil, domain.ErrInternal("find owner", err)
	}
	if existing != nil {
		return existing, nil
	}

	if in.Tier == "" {
		in.Tier = domain.TierStarter
	}
	if in.PayoutMethod == "" {
		in.PayoutMethod = domain.MethodBankTransfer
	}
	now := s.now()
	owner := &domain.Owner{
		ID:           in.ID,
		Kind:         in.Kind,
		Email:        in.Email,
		Tier:         in.Tier,
		PayoutMethod: in.PayoutMethod,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.owners.Create(ctx, s.db, owner); err != nil {
		return nil, domain.ErrInternal("create owner", err)
	}
	s.logger.Info("owner registered", "owner_id", owner.ID, "kind", owner.Kind, "tier", owner.Tier)
	return owner, nil
}

// Record appends a PENDING commission entry for a completed booking.
func (s *CommissionService) Record(ctx context.Context, params domain.RecordCommissionParams) (*domain.CommissionResult, error) {
	var res *domain.CommissionResult
	_, err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		res, err = s.engine.ExecuteRecordCommission(ctx, tx, params)
		return err
	})
	if err != nil {
		return nil, appError("record commission", err)
	}
	if !res.Idempotent {
		s.balances.Put(ctx, params.OwnerID, res.Balance)
		s.logger.Info("commission recorded",
			"owner_id", params.OwnerID, "entry_id", res.Entry.ID, "amount", res.Entry.Amount.StringFixed(2))
	}
	return res, nil
}

// Release moves a PENDING entry to AVAILABLE.
func (s *CommissionService) Release(ctx context.Context, entryID uuid.UUID) (*domain.CommissionResult, error) {
	return s.move(ctx, entryID, "release commission", s.engine.ExecuteReleaseCommission)
}

// Cancel voids a PENDING or AVAILABLE entry.
func (s *CommissionService) Cancel(ctx context.Context, entryID uuid.UUID) (*domain.CommissionResult, error) {
	return s.move(ctx, entryID, "cancel commission", s.engine.ExecuteCancelCommission)
}

type entryCommand func(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*domain.CommissionResult, error)

func (s *CommissionService) move(ctx context.Context, entryID uuid.UUID, op string, cmd entryCommand) (*domain.CommissionResult, error) {
	var res *domain.CommissionResult
	_, err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		res, err = cmd(ctx, tx, entryID)
		return err
	})
	if err != nil {
		return nil, appError(op, err)
	}
	if !res.Idempotent {
		s.balances.Put(ctx, res.Entry.OwnerID, res.Balance)
		s.logger.Info(op, "owner_id", res.Entry.OwnerID, "entry_id", entryID, "state", res.Entry.State)
	}
	return res, nil
}

// ReleaseDue releases up to limit PENDING entries whose hold has expired.
// Each entry is its own transaction; one failure does not stop the rest.
func (s *CommissionService) ReleaseDue(ctx context.Context, limit int) (int, error) {
	due, err := s.entries.ListDueForRelease(ctx, s.db, s.now(), clampLimit(limit, 100, 1000))
	if err != nil {
		return 0, domain.ErrInternal("list due entries", err)
	}

	released := 0
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Release(ctx, e.ID); err != nil {
			s.logger.Warn("scheduled release failed", "entry_id", e.ID, "owner_id", e.OwnerID, "error", err)
			continue
		}
		released++
	}
	return released, nil
}

// StartReleaseLoop runs ReleaseDue on every tick until ctx is cancelled.
func (s *CommissionService) StartReleaseLoop(ctx context.Context, interval time.Duration, batch int) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.ReleaseDue(ctx, batch)
				if err != nil {
					s.logger.Error("release due failed", "error", err)
				} else if n > 0 {
					s.logger.Info("released matured commissions", "count", n)
				}
			}
		}
	}()
}

// ListEntries returns an owner's entries newest first.
func (s *CommissionService) ListEntries(ctx context.Context, ownerID uuid.UUID, state *domain.EntryState, limit int) ([]domain.CommissionEntry, error) {
	entries, err := s.entries.ListByOwner(ctx, s.db, ownerID, state, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, domain.ErrInternal("list entries", err)
	}
	return entries, nil
}

// Summary returns count and total per entry state.
func (s *CommissionService) Summary(ctx context.Context, ownerID uuid.UUID) ([]domain.StateTotal, error) {
	totals, err := s.engine.Summary(ctx, s.db, ownerID)
	if err != nil {
		return nil, domain.ErrInternal("commission summary", err)
	}
	return totals, nil
}

// Balance returns the owner's cached balance, served from the projection
// when present.
func (s *CommissionService) Balance(ctx context.Context, ownerID uuid.UUID) (*domain.OwnerBalance, error) {
	if p, ok := s.balances.Get(ctx, ownerID); ok {
		return &p.OwnerBalance, nil
	}
	owner, err := s.owners.FindByID(ctx, s.db, ownerID)
	if err != nil {
		return nil, domain.ErrInternal("find owner", err)
	}
	if owner == nil {
		return nil, domain.ErrNotFound("owner", ownerID.String())
	}
	s.balances.Put(ctx, owner.ID, owner.OwnerBalance)
	return &owner.OwnerBalance, nil
}
