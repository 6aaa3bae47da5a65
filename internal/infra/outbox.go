package infra

import (
	"context"
	"log/slog"
	"time"

	"github.com/tripledger/commission/internal/domain"
)

// OutboxStore reads and acknowledges rows of the event_outbox table.
type OutboxStore interface {
	FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxDraft, error)
	MarkPublished(ctx context.Context, ids []int64) error
}

// EventPublisher delivers an event to the bus. A failure stops the batch so
// per-owner ordering is preserved.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e domain.OutboxDraft) error
}

// EventObserver is notified after an event is published. Errors are logged
// and never block acknowledgement.
type EventObserver interface {
	HandleEvent(ctx context.Context, e domain.OutboxDraft) error
}

// OutboxPoller polls the event_outbox table and publishes events.
type OutboxPoller struct {
	store     OutboxStore
	publisher EventPublisher
	observers []EventObserver
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(store OutboxStore, publisher EventPublisher, logger *slog.Logger, interval time.Duration, batchSize int, observers ...EventObserver) *OutboxPoller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxPoller{
		store:     store,
		publisher: publisher,
		observers: observers,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start begins polling in a goroutine. Stops when ctx is cancelled.
func (p *OutboxPoller) Start(ctx context.Context) {
	p.logger.Info("outbox poller started", "interval", p.interval, "batch_size", p.batchSize)

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("outbox poller stopped")
				return
			case <-ticker.C:
				if _, err := p.Poll(ctx); err != nil {
					p.logger.Error("outbox poll error", "error", err)
				}
			}
		}
	}()
}

// Poll drains one batch and returns how many events were acknowledged.
func (p *OutboxPoller) Poll(ctx context.Context) (int, error) {
	events, err := p.store.FetchUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	acked := make([]int64, 0, len(events))
	for _, e := range events {
		if err := p.publisher.PublishEvent(ctx, e); err != nil {
			p.logger.Error("event publish failed", "event_id", e.EventID, "event_type", e.EventType, "error", err)
			break
		}
		for _, o := range p.observers {
			if err := o.HandleEvent(ctx, e); err != nil {
				p.logger.Warn("event observer failed", "event_id", e.EventID, "event_type", e.EventType, "error", err)
			}
		}
		acked = append(acked, e.SeqID)
	}

	if err := p.store.MarkPublished(ctx, acked); err != nil {
		return 0, err
	}

	p.logger.Debug("outbox poll complete", "published", len(acked), "fetched", len(events))
	return len(acked), nil
}
