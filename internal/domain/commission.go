package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryState is the lifecycle state of a commission entry.
type EntryState string

const (
	EntryPending   EntryState = "PENDING"
	EntryAvailable EntryState = "AVAILABLE"
	EntryReserved  EntryState = "RESERVED"
	EntryPaid      EntryState = "PAID"
	EntryCancelled EntryState = "CANCELLED"
)

// AllEntryStates lists every entry state in lifecycle order.
func AllEntryStates() []EntryState {
	return []EntryState{EntryPending, EntryAvailable, EntryReserved, EntryPaid, EntryCancelled}
}

// ParseEntryState validates an entry state name.
func ParseEntryState(s string) (EntryState, error) {
	for _, st := range AllEntryStates() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown entry state: %s", s)
}

// entryTransitions is the exhaustive table of legal entry moves.
var entryTransitions = map[EntryState][]EntryState{
	EntryPending:   {EntryAvailable, EntryCancelled},
	EntryAvailable: {EntryReserved, EntryCancelled},
	EntryReserved:  {EntryPaid, EntryAvailable},
	EntryPaid:      {},
	EntryCancelled: {},
}

// CanTransitionEntry reports whether from -> to is a legal entry move.
func CanTransitionEntry(from, to EntryState) bool {
	for _, s := range entryTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BoundToPayout reports whether entries in this state must carry a payout ID.
func (s EntryState) BoundToPayout() bool {
	return s == EntryReserved || s == EntryPaid
}

// CommissionEntry is one immutable unit of earned money.
type CommissionEntry struct {
	ID              uuid.UUID       `json:"id"`
	OwnerID         uuid.UUID       `json:"owner_id"`
	SourceBookingID string          `json:"source_booking_id"`
	Amount          decimal.Decimal `json:"amount"`
	EarnedAt        time.Time       `json:"earned_at"`
	State           EntryState      `json:"state"`
	PayoutID        *uuid.UUID      `json:"payout_id,omitempty"`
	HoldUntil       *time.Time      `json:"hold_until,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// BalanceEffect returns the cached-balance change caused by moving an entry
// of the given amount from one state to another.
func BalanceEffect(from, to EntryState, amount decimal.Decimal) BalanceDelta {
	var d BalanceDelta
	d = addStateAmount(d, from, amount.Neg())
	d = addStateAmount(d, to, amount)
	return d
}

func addStateAmount(d BalanceDelta, s EntryState, amount decimal.Decimal) BalanceDelta {
	switch s {
	case EntryPending:
		d.Pending = d.Pending.Add(amount)
	case EntryAvailable:
		d.Available = d.Available.Add(amount)
	case EntryReserved:
		d.Reserved = d.Reserved.Add(amount)
	case EntryPaid:
		d.Paid = d.Paid.Add(amount)
	}
	return d
}

// RecordCommissionParams is the booking-completion collaborator's input.
type RecordCommissionParams struct {
	OwnerID         uuid.UUID
	SourceBookingID string
	Amount          decimal.Decimal
	EarnedAt        time.Time
	HoldUntil       *time.Time
}

// StateTotal is a count and sum of entries in one state.
type StateTotal struct {
	State EntryState      `json:"state"`
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// LedgerTotals sums entry amounts by state; the reconciler's ground truth.
type LedgerTotals map[EntryState]decimal.Decimal

// Balance projects ledger totals onto the cached balance shape.
func (t LedgerTotals) Balance() OwnerBalance {
	get := func(s EntryState) decimal.Decimal {
		if v, ok := t[s]; ok {
			return v
		}
		return decimal.Zero
	}
	return OwnerBalance{
		AvailableBalance: get(EntryAvailable),
		ReservedBalance:  get(EntryReserved),
		PendingBalance:   get(EntryPending),
		LifetimePaid:     get(EntryPaid),
	}
}

// CommissionResult is returned by every entry lifecycle command.
type CommissionResult struct {
	Entry      *CommissionEntry `json:"entry"`
	Balance    OwnerBalance     `json:"balance"`
	Idempotent bool             `json:"idempotent"`
}
