package infra

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripledger/commission/internal/domain"
)

type fakeOutboxStore struct {
	events []domain.OutboxDraft
	acked  []int64
}

func (s *fakeOutboxStore) FetchUnpublished(_ context.Context, limit int) ([]domain.OutboxDraft, error) {
	if len(s.events) > limit {
		return s.events[:limit], nil
	}
	return s.events, nil
}

func (s *fakeOutboxStore) MarkPublished(_ context.Context, ids []int64) error {
	s.acked = append(s.acked, ids...)
	return nil
}

type fakePublisher struct {
	failOn    int64
	published []int64
}

func (p *fakePublisher) PublishEvent(_ context.Context, e domain.OutboxDraft) error {
	if e.SeqID == p.failOn {
		return errors.New("broker down")
	}
	p.published = append(p.published, e.SeqID)
	return nil
}

type fakeObserver struct {
	seen int
	err  error
}

func (o *fakeObserver) HandleEvent(context.Context, domain.OutboxDraft) error {
	o.seen++
	return o.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drafts(n int) []domain.OutboxDraft {
	out := make([]domain.OutboxDraft, n)
	for i := range out {
		out[i] = domain.OutboxDraft{SeqID: int64(i + 1), EventID: uuid.New(), EventType: domain.EventPayoutCreated}
	}
	return out
}

func TestOutboxPoller_PublishesAndAcks(t *testing.T) {
	store := &fakeOutboxStore{events: drafts(3)}
	pub := &fakePublisher{}
	obs := &fakeObserver{}

	p := NewOutboxPoller(store, pub, testLogger(), 0, 10, obs)
	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{1, 2, 3}, pub.published)
	assert.Equal(t, []int64{1, 2, 3}, store.acked)
	assert.Equal(t, 3, obs.seen)
}

func TestOutboxPoller_StopsAtFirstPublishFailure(t *testing.T) {
	store := &fakeOutboxStore{events: drafts(4)}
	pub := &fakePublisher{failOn: 3}

	p := NewOutboxPoller(store, pub, testLogger(), 0, 10)
	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2}, store.acked, "events after a failure stay queued to keep order")
}

func TestOutboxPoller_ObserverFailureDoesNotBlockAck(t *testing.T) {
	store := &fakeOutboxStore{events: drafts(2)}
	obs := &fakeObserver{err: errors.New("smtp down")}

	p := NewOutboxPoller(store, &fakePublisher{}, testLogger(), 0, 10, obs)
	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2}, store.acked)
}

func TestOutboxPoller_RespectsBatchSize(t *testing.T) {
	store := &fakeOutboxStore{events: drafts(5)}
	p := NewOutboxPoller(store, &fakePublisher{}, testLogger(), 0, 2)
	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestKafkaProducer_DisabledIsNoop(t *testing.T) {
	p := NewKafkaProducer("", "commission", false, testLogger())
	e := domain.OutboxDraft{EventID: uuid.New(), AggregateType: domain.AggregatePayout, EventType: domain.EventPayoutCompleted}
	assert.NoError(t, p.PublishEvent(context.Background(), e))
	assert.Equal(t, "commission.payout.payout.completed", p.TopicFor(e))
	assert.NoError(t, p.Close())
}

func TestMailer_DisabledWithoutHost(t *testing.T) {
	m := NewMailer(&Config{SMTPFrom: "payouts@example.com"}, testLogger())
	assert.NoError(t, m.Send("agent@example.com", "subject", "body"))
}
