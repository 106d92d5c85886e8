package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-reservations/internal/adapters/crdb"
	"github.com/robertarktes/seat-reservations/internal/observability"
)

type Source interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type Sink interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher relays committed outbox records to the broker. Delivery is at
// least once: a crash between publish and mark sends the record again with
// the same MessageId.
type Publisher struct {
	source Source
	sink   Sink
	logger observability.Logger
	batch  int
	now    func() time.Time
}

func NewPublisher(source Source, sink Sink, logger observability.Logger, batch int) *Publisher {
	if batch <= 0 {
		batch = 50
	}
	return &Publisher{source: source, sink: sink, logger: logger, batch: batch, now: time.Now}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.WithField("interval", interval.String()).Info("outbox publisher started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Warn("outbox pass")
			}
		}
	}
}

// PublishOnce relays up to one batch in creation order and reports how many
// records were marked published. It stops at the first publish failure so
// later events never overtake an earlier one.
func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	records, err := p.source.GetUnpublishedOutbox(ctx, p.batch)
	if err != nil {
		return 0, err
	}
	if len(records) > 0 {
		observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())
	} else {
		observability.OutboxLag.Set(0)
	}

	published := 0
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.CreatedAt,
			Type:         rec.EventType,
			Body:         rec.Payload,
			Headers:      amqp.Table{"aggregate_id": rec.AggregateID},
		}
		if err := p.sink.Publish(ctx, rec.EventType, msg); err != nil {
			observability.RabbitPublishRetries.Inc()
			return published, err
		}
		if err := p.source.MarkPublished(ctx, rec.ID, p.now()); err != nil {
			return published, err
		}
		published++
	}
	if published > 0 {
		p.logger.WithField("count", published).Debug("outbox records published")
	}
	return published, nil
}
