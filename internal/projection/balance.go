package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tripledger/commission/internal/domain"
)

// BalanceProjection is the cached read model behind GET /balance. The owners
// row stays authoritative; this copy only saves a round trip.
type BalanceProjection struct {
	OwnerID uuid.UUID `json:"owner_id"`
	domain.OwnerBalance
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func balanceKey(ownerID uuid.UUID) string {
	return fmt.Sprintf("projection:balance:%s", ownerID)
}

// Balances reads and writes owner balance projections. A nil store disables
// caching entirely.
type Balances struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewBalances creates the balance projection.
func NewBalances(store Store, ttl time.Duration, logger *slog.Logger) *Balances {
	return &Balances{store: store, ttl: ttl, logger: logger}
}

// Put caches an owner's committed balance. Writers race after commit, so a
// balance older than the cached version is dropped. A failed write
// invalidates the key rather than leave an older copy being served.
func (b *Balances) Put(ctx context.Context, ownerID uuid.UUID, balance domain.OwnerBalance) {
	if b == nil || b.store == nil {
		return
	}
	p := BalanceProjection{
		OwnerID:      ownerID,
		OwnerBalance: balance,
		Version:      balance.Version,
		UpdatedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(p)
	if err != nil {
		b.logger.Warn("balance projection encode failed", "owner_id", ownerID, "error", err)
		b.Invalidate(ctx, ownerID)
		return
	}
	applied, err := b.store.SetVersioned(ctx, balanceKey(ownerID), data, balance.Version, b.ttl)
	if err != nil {
		b.logger.Warn("balance projection write failed", "owner_id", ownerID, "error", err)
		b.Invalidate(ctx, ownerID)
		return
	}
	if !applied {
		b.logger.Debug("stale balance projection dropped", "owner_id", ownerID, "version", balance.Version)
	}
}

// Get returns the cached projection; ok is false on a miss or store error.
func (b *Balances) Get(ctx context.Context, ownerID uuid.UUID) (*BalanceProjection, bool) {
	if b == nil || b.store == nil {
		return nil, false
	}
	var p BalanceProjection
	if err := GetJSON(ctx, b.store, balanceKey(ownerID), &p); err != nil {
		if !errors.Is(err, ErrMiss) {
			b.logger.Warn("balance projection read failed", "owner_id", ownerID, "error", err)
		}
		return nil, false
	}
	p.OwnerBalance.Version = p.Version
	return &p, true
}

// Invalidate drops the owner's cached balance.
func (b *Balances) Invalidate(ctx context.Context, ownerID uuid.UUID) {
	if b == nil || b.store == nil {
		return
	}
	if err := b.store.Delete(ctx, balanceKey(ownerID)); err != nil {
		b.logger.Warn("balance projection invalidate failed", "owner_id", ownerID, "error", err)
	}
}
