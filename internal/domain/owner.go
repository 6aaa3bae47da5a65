package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OwnerKind distinguishes the two programs that share the engine.
type OwnerKind string

const (
	OwnerAgent     OwnerKind = "AGENT"
	OwnerAffiliate OwnerKind = "AFFILIATE"
)

// Tier drives the minimum payout threshold.
type Tier string

const (
	TierStarter  Tier = "starter"
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// AllTiers returns tiers from lowest to highest.
func AllTiers() []Tier {
	return []Tier{TierStarter, TierBronze, TierSilver, TierGold, TierPlatinum}
}

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	for _, t := range AllTiers() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tier: %s", s)
}

// Owner is an agent or affiliate together with its cached balance row.
// The row doubles as the per-owner allocation lock.
type Owner struct {
	ID           uuid.UUID    `json:"id"`
	Kind         OwnerKind    `json:"kind"`
	Email        string       `json:"email"`
	Tier         Tier         `json:"tier"`
	PayoutMethod PayoutMethod `json:"payout_method"`
	OwnerBalance
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OwnerBalance is the cached aggregate derived from commission entries.
type OwnerBalance struct {
	AvailableBalance decimal.Decimal `json:"available_balance"`
	ReservedBalance  decimal.Decimal `json:"reserved_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	LifetimePaid     decimal.Decimal `json:"lifetime_paid"`
	// Version increments on every balance write to the owner row. Caches use
	// it to refuse a write older than the one they already hold.
	Version int64 `json:"-"`
}

// Equal compares all four figures. Version is ignored.
func (b OwnerBalance) Equal(o OwnerBalance) bool {
	return b.AvailableBalance.Equal(o.AvailableBalance) &&
		b.ReservedBalance.Equal(o.ReservedBalance) &&
		b.PendingBalance.Equal(o.PendingBalance) &&
		b.LifetimePaid.Equal(o.LifetimePaid)
}

// Sub returns the field-wise difference b - o.
func (b OwnerBalance) Sub(o OwnerBalance) BalanceDelta {
	return BalanceDelta{
		Available: b.AvailableBalance.Sub(o.AvailableBalance),
		Reserved:  b.ReservedBalance.Sub(o.ReservedBalance),
		Pending:   b.PendingBalance.Sub(o.PendingBalance),
		Paid:      b.LifetimePaid.Sub(o.LifetimePaid),
	}
}

// BalanceDelta is a signed change applied to an owner's cached balance
// with server-side arithmetic. Zero fields are left untouched.
type BalanceDelta struct {
	Available decimal.Decimal
	Reserved  decimal.Decimal
	Pending   decimal.Decimal
	Paid      decimal.Decimal
}

// IsZero reports whether the delta changes nothing.
func (d BalanceDelta) IsZero() bool {
	return d.Available.IsZero() && d.Reserved.IsZero() && d.Pending.IsZero() && d.Paid.IsZero()
}

// Apply returns b with the delta added.
func (d BalanceDelta) Apply(b OwnerBalance) OwnerBalance {
	return OwnerBalance{
		AvailableBalance: b.AvailableBalance.Add(d.Available),
		ReservedBalance:  b.ReservedBalance.Add(d.Reserved),
		PendingBalance:   b.PendingBalance.Add(d.Pending),
		LifetimePaid:     b.LifetimePaid.Add(d.Paid),
	}
}

// TierMinimums maps each tier to its minimum payout request.
type TierMinimums map[Tier]decimal.Decimal

// DefaultTierMinimums mirrors the program's published thresholds.
func DefaultTierMinimums() TierMinimums {
	return TierMinimums{
		TierStarter:  decimal.NewFromInt(100),
		TierBronze:   decimal.NewFromInt(50),
		TierSilver:   decimal.NewFromInt(25),
		TierGold:     decimal.NewFromInt(10),
		TierPlatinum: decimal.NewFromInt(1),
	}
}

// Minimum returns the threshold for a tier. Unknown tiers fall back to the
// strictest configured minimum.
func (m TierMinimums) Minimum(t Tier) decimal.Decimal {
	if v, ok := m[t]; ok {
		return v
	}
	strictest := decimal.Zero
	for _, v := range m {
		if v.GreaterThan(strictest) {
			strictest = v
		}
	}
	return strictest
}

// CheckThreshold rejects requests below the tier minimum. It performs no I/O.
func (m TierMinimums) CheckThreshold(t Tier, requested decimal.Decimal) error {
	floor := m.Minimum(t)
	if requested.LessThan(floor) {
		return ErrBelowMinimum(t, floor, requested)
	}
	return nil
}
