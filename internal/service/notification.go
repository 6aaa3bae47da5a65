package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tripledger/commission/internal/domain"
)

// MailSender delivers a plain-text email.
type MailSender interface {
	Send(to, subject, body string) error
}

// NotificationDispatcher emails owners about their payouts. It consumes
// committed outbox events, so a delivery failure never touches the ledger.
type NotificationDispatcher struct {
	mail   MailSender
	logger *slog.Logger
}

// NewNotificationDispatcher creates a dispatcher.
func NewNotificationDispatcher(mail MailSender, logger *slog.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{mail: mail, logger: logger}
}

// HandleEvent sends the email for a payout event. Other events are ignored.
func (d *NotificationDispatcher) HandleEvent(_ context.Context, e domain.OutboxDraft) error {
	if e.AggregateType != domain.AggregatePayout {
		return nil
	}

	var p domain.PayoutEventPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return fmt.Errorf("decode payout event %s: %w", e.EventID, err)
	}
	if p.OwnerEmail == "" {
		return nil
	}

	subject, body, ok := payoutMessage(e.EventType, &p)
	if !ok {
		return nil
	}
	if err := d.mail.Send(p.OwnerEmail, subject, body); err != nil {
		return err
	}
	d.logger.Info("payout notification sent", "payout_id", p.PayoutID, "event_type", e.EventType)
	return nil
}

func payoutMessage(t domain.EventType, p *domain.PayoutEventPayload) (subject, body string, ok bool) {
	amount := p.AllocatedAmount.StringFixed(2)
	switch t {
	case domain.EventPayoutCreated:
		subject = fmt.Sprintf("Payout %s received", p.PayoutNumber)
		body = fmt.Sprintf("We received your payout request for %s. %d commission entries totalling %s were allocated and will be paid via %s.",
			p.RequestedAmount.StringFixed(2), p.EntryCount, amount, p.Method)
	case domain.EventPayoutCompleted:
		subject = fmt.Sprintf("Payout %s completed", p.PayoutNumber)
		body = fmt.Sprintf("Your payout of %s via %s has been completed.", amount, p.Method)
	case domain.EventPayoutFailed:
		subject = fmt.Sprintf("Payout %s failed", p.PayoutNumber)
		reason := "no reason given"
		if p.FailureReason != nil {
			reason = *p.FailureReason
		}
		body = fmt.Sprintf("Your payout of %s could not be completed (%s). The amount is available again for a new request.", amount, reason)
	default:
		return "", "", false
	}
	return subject, body, true
}
