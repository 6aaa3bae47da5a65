package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventCommissionRecorded  EventType = "commission.entry.recorded"
	EventCommissionReleased  EventType = "commission.entry.released"
	EventCommissionCancelled EventType = "commission.entry.cancelled"
	EventPayoutCreated       EventType = "payout.created"
	EventPayoutSettling      EventType = "payout.settling"
	EventPayoutCompleted     EventType = "payout.completed"
	EventPayoutFailed        EventType = "payout.failed"
	EventBalanceAdjusted     EventType = "balance.adjusted"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateCommission AggregateType = "commission"
	AggregatePayout     AggregateType = "payout"
	AggregateOwner      AggregateType = "owner"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	SeqID         int64           `json:"-"`
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}
