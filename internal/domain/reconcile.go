package domain

import (
	"time"

	"github.com/google/uuid"
)

// DriftReport compares an owner's cached balance with the ledger.
type DriftReport struct {
	OwnerID  uuid.UUID    `json:"owner_id"`
	Expected OwnerBalance `json:"expected"`
	Actual   OwnerBalance `json:"actual"`
	Drift    bool         `json:"drift"`
}

// Delta returns the correction that turns Actual into Expected.
func (r DriftReport) Delta() BalanceDelta {
	return r.Expected.Sub(r.Actual)
}

// BalanceAdjustment is the audit record written when a reconciler repair
// rewrites an owner's cached balance. It is distinct from earn and pay events.
type BalanceAdjustment struct {
	ID        uuid.UUID    `json:"id"`
	OwnerID   uuid.UUID    `json:"owner_id"`
	Before    OwnerBalance `json:"before"`
	After     OwnerBalance `json:"after"`
	Reason    string       `json:"reason"`
	CreatedAt time.Time    `json:"created_at"`
}
