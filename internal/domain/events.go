package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayoutEventPayload is the body of every payout.* event.
type PayoutEventPayload struct {
	PayoutID        uuid.UUID       `json:"payout_id"`
	PayoutNumber    string          `json:"payout_number"`
	OwnerID         uuid.UUID       `json:"owner_id"`
	OwnerEmail      string          `json:"owner_email,omitempty"`
	State           PayoutState     `json:"state"`
	Method          PayoutMethod    `json:"method"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
	EntryCount      int             `json:"entry_count"`
	ProcessorRef    *string         `json:"processor_ref,omitempty"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
}

// NewPayoutEvent creates the outbox event for a payout state change. The owner
// ID is the partition key so one owner's events stay ordered.
func NewPayoutEvent(evtType EventType, p *PayoutRequest, ownerEmail string) OutboxDraft {
	payload, _ := json.Marshal(PayoutEventPayload{
		PayoutID:        p.ID,
		PayoutNumber:    p.PayoutNumber,
		OwnerID:         p.OwnerID,
		OwnerEmail:      ownerEmail,
		State:           p.State,
		Method:          p.Method,
		RequestedAmount: p.RequestedAmount,
		AllocatedAmount: p.AllocatedAmount,
		EntryCount:      len(p.AllocatedEntryIDs),
		ProcessorRef:    p.ProcessorRef,
		FailureReason:   p.FailureReason,
	})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregatePayout,
		AggregateID:   p.ID.String(),
		EventType:     evtType,
		PartitionKey:  p.OwnerID.String(),
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

// NewCommissionEvent creates a commission lifecycle event.
func NewCommissionEvent(evtType EventType, e *CommissionEntry) OutboxDraft {
	payload, _ := json.Marshal(e)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateCommission,
		AggregateID:   e.ID.String(),
		EventType:     evtType,
		PartitionKey:  e.OwnerID.String(),
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

// NewBalanceAdjustedEvent creates the audit event for a reconciler repair.
func NewBalanceAdjustedEvent(adj *BalanceAdjustment) OutboxDraft {
	payload, _ := json.Marshal(adj)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateOwner,
		AggregateID:   adj.OwnerID.String(),
		EventType:     EventBalanceAdjusted,
		PartitionKey:  adj.OwnerID.String(),
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}
