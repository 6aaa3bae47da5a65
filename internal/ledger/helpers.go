package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/tripledger/commission/internal/domain"
)

// strPtr returns a pointer to s, or nil for the empty string.
func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// fillStates returns one StateTotal per entry state in lifecycle order.
func fillStates(totals []domain.StateTotal) []domain.StateTotal {
	byState := make(map[domain.EntryState]domain.StateTotal, len(totals))
	for _, t := range totals {
		byState[t.State] = t
	}
	out := make([]domain.StateTotal, 0, len(domain.AllEntryStates()))
	for _, s := range domain.AllEntryStates() {
		t, ok := byState[s]
		if !ok {
			t = domain.StateTotal{State: s, Total: decimal.Zero}
		}
		out = append(out, t)
	}
	return out
}

// ledgerTotals folds per-state sums into the reconciler's ground truth.
func ledgerTotals(totals []domain.StateTotal) domain.LedgerTotals {
	lt := make(domain.LedgerTotals, len(totals))
	for _, t := range totals {
		lt[t.State] = lt[t.State].Add(t.Total)
	}
	return lt
}
