package provider

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tripledger/commission/internal/domain"
)

// PayoutInstruction is everything a processor needs to move the money.
type PayoutInstruction struct {
	PayoutID     uuid.UUID
	PayoutNumber string
	OwnerID      uuid.UUID
	OwnerEmail   string
	Amount       decimal.Decimal
	Method       domain.PayoutMethod
}

// Receipt is the processor's acknowledgement. Completed is true for rails
// that settle synchronously. The payout is already SETTLING when Submit runs,
// so those rails go SETTLING -> COMPLETED within the same handoff.
type Receipt struct {
	ProcessorRef string
	Completed    bool
}

// Processor hands a payout to an external payment rail.
type Processor interface {
	Name() string
	Submit(ctx context.Context, in PayoutInstruction) (*Receipt, error)
}

// Registry maps payout methods to processors. Methods without a processor
// are settled manually by an operator through the settlement endpoint.
type Registry struct {
	rails map[domain.PayoutMethod]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rails: make(map[domain.PayoutMethod]Processor)}
}

// Register binds a processor to one or more methods.
func (r *Registry) Register(p Processor, methods ...domain.PayoutMethod) *Registry {
	for _, m := range methods {
		r.rails[m] = p
	}
	return r
}

// For returns the processor for a method.
func (r *Registry) For(m domain.PayoutMethod) (Processor, bool) {
	p, ok := r.rails[m]
	return p, ok
}
