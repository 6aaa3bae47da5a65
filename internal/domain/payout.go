package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayoutState is the lifecycle state of a payout request.
type PayoutState string

const (
	PayoutCreated   PayoutState = "CREATED"
	PayoutSettling  PayoutState = "SETTLING"
	PayoutCompleted PayoutState = "COMPLETED"
	PayoutFailed    PayoutState = "FAILED"
)

// payoutTransitions is the exhaustive transition table. Terminal states map
// to an empty slice.
var payoutTransitions = map[PayoutState][]PayoutState{
	PayoutCreated:   {PayoutSettling, PayoutCompleted, PayoutFailed},
	PayoutSettling:  {PayoutCompleted, PayoutFailed},
	PayoutCompleted: {},
	PayoutFailed:    {},
}

// IsTerminal reports whether no further transition is possible.
func (s PayoutState) IsTerminal() bool {
	next, ok := payoutTransitions[s]
	return ok && len(next) == 0
}

// ValidatePayoutTransition returns ErrIllegalTransition for any move not in the table.
func ValidatePayoutTransition(from, to PayoutState) error {
	for _, s := range payoutTransitions[from] {
		if s == to {
			return nil
		}
	}
	return ErrIllegalTransition(from, to)
}

// ParseSettlementState accepts only the two terminal outcomes a processor
// callback may report.
func ParseSettlementState(s string) (PayoutState, error) {
	switch PayoutState(s) {
	case PayoutCompleted, PayoutFailed:
		return PayoutState(s), nil
	default:
		return "", ErrAmbiguousSettlement(s)
	}
}

// PayoutMethod enumerates settlement rails.
type PayoutMethod string

const (
	MethodBankTransfer PayoutMethod = "bank_transfer"
	MethodWire         PayoutMethod = "wire"
	MethodPayPal       PayoutMethod = "paypal"
	MethodStripe       PayoutMethod = "stripe"
	MethodCheck        PayoutMethod = "check"
)

// ParsePayoutMethod validates a payout rail name.
func ParsePayoutMethod(s string) (PayoutMethod, error) {
	switch m := PayoutMethod(s); m {
	case MethodBankTransfer, MethodWire, MethodPayPal, MethodStripe, MethodCheck:
		return m, nil
	}
	return "", fmt.Errorf("unknown payout method: %s", s)
}

// PayoutRequest is one withdrawal instruction bound to a fixed set of entries.
type PayoutRequest struct {
	ID                uuid.UUID       `json:"id"`
	PayoutNumber      string          `json:"payout_number"`
	OwnerID           uuid.UUID       `json:"owner_id"`
	RequestedAmount   decimal.Decimal `json:"requested_amount"`
	AllocatedAmount   decimal.Decimal `json:"allocated_amount"`
	Method            PayoutMethod    `json:"method"`
	AllocatedEntryIDs []uuid.UUID     `json:"allocated_entry_ids"`
	PeriodStart       time.Time       `json:"period_start"`
	PeriodEnd         time.Time       `json:"period_end"`
	State             PayoutState     `json:"state"`
	RequestToken      *string         `json:"request_token,omitempty"`
	ProcessorRef      *string         `json:"processor_ref,omitempty"`
	FailureReason     *string         `json:"failure_reason,omitempty"`
	RequestedAt       time.Time       `json:"requested_at"`
	SettledAt         *time.Time      `json:"settled_at,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RequestPayoutParams is the payout API surface's input.
type RequestPayoutParams struct {
	OwnerID         uuid.UUID
	RequestedAmount decimal.Decimal
	Method          PayoutMethod
	RequestToken    string
}

// PayoutResult is returned by a successful allocation.
type PayoutResult struct {
	Payout              *PayoutRequest `json:"payout"`
	Balance             OwnerBalance   `json:"balance"`
	AllocatedEntryCount int            `json:"allocated_entry_count"`
	Idempotent          bool           `json:"idempotent"`
}

// SettlementParams is the processor-callback collaborator's input.
type SettlementParams struct {
	PayoutID     uuid.UUID
	Outcome      PayoutState
	ProcessorRef string
	Reason       string
}

// SettlementResult reports the payout after a settlement call.
type SettlementResult struct {
	Payout  *PayoutRequest `json:"payout"`
	Balance OwnerBalance   `json:"balance"`
	NoOp    bool           `json:"no_op"`
}

// PayoutNumberGenerator issues display-only payout numbers.
type PayoutNumberGenerator struct {
	node *snowflake.Node
}

// NewPayoutNumberGenerator creates a generator for the given snowflake node (0-1023).
func NewPayoutNumberGenerator(nodeID int64) (*PayoutNumberGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	return &PayoutNumberGenerator{node: node}, nil
}

// Next returns a new payout number such as "PO-1790000000000000000".
func (g *PayoutNumberGenerator) Next() string {
	return "PO-" + g.node.Generate().String()
}

// PayoutStateUpdate carries the optional columns written with a state change.
type PayoutStateUpdate struct {
	ProcessorRef  *string
	FailureReason *string
	SettledAt     *time.Time
}
