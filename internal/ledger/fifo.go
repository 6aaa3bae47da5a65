package ledger

import (
	"bytes"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tripledger/commission/internal/domain"
)

// Selection is the outcome of a FIFO walk over an owner's available entries.
type Selection struct {
	Entries     []domain.CommissionEntry
	Total       decimal.Decimal
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// IDs returns the selected entry IDs in allocation order.
func (s *Selection) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(s.Entries))
	for i, e := range s.Entries {
		ids[i] = e.ID
	}
	return ids
}

// compareFIFO orders entries by earnedAt, then by id.
func compareFIFO(a, b domain.CommissionEntry) int {
	if c := a.EarnedAt.Compare(b.EarnedAt); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

// SelectFIFO walks available entries oldest first and takes whole entries
// until their sum reaches requested. The last entry is never split, so Total
// may exceed requested. It returns InsufficientBalance when the entries run
// out first; nothing is selected in that case.
func SelectFIFO(available []domain.CommissionEntry, requested decimal.Decimal) (*Selection, error) {
	if !requested.IsPositive() {
		return nil, domain.ErrInvalidAmount(requested)
	}

	ordered := slices.Clone(available)
	slices.SortStableFunc(ordered, compareFIFO)

	sel := &Selection{Total: decimal.Zero}
	for _, entry := range ordered {
		if sel.Total.GreaterThanOrEqual(requested) {
			break
		}
		sel.Entries = append(sel.Entries, entry)
		sel.Total = sel.Total.Add(entry.Amount)
	}

	if sel.Total.LessThan(requested) {
		return nil, domain.ErrInsufficientBalance()
	}

	sel.PeriodStart = sel.Entries[0].EarnedAt
	sel.PeriodEnd = sel.Entries[len(sel.Entries)-1].EarnedAt
	return sel, nil
}
