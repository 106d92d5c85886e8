package payments

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
)

// Recorder applies a payment outcome to an order.
type Recorder interface {
	RecordPayment(ctx context.Context, orderID int64, succeeded bool, txnID string) (*domain.Order, error)
}

// Message is the body a payment gateway adapter publishes.
type Message struct {
	OrderID       int64  `json:"orderId"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
}

// Succeeded reports whether a gateway status word means the payment went
// through. Every other word counts as a failure.
func Succeeded(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS", "SUCCEEDED", "PAID":
		return true
	}
	return false
}

type Listener struct {
	recorder Recorder
	logger   observability.Logger
}

func NewListener(recorder Recorder, logger observability.Logger) *Listener {
	return &Listener{recorder: recorder, logger: logger}
}

func (l *Listener) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	l.logger.Info("payment listener started")
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				l.logger.Warn("payment deliveries channel closed")
				return
			}
			l.Handle(ctx, d)
		}
	}
}

// Handle settles exactly one delivery. Unreadable messages and messages for
// unknown orders are dropped; storage outages put the message back.
func (l *Listener) Handle(ctx context.Context, d amqp.Delivery) {
	log := l.logger.WithField("message_id", d.MessageId)

	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil || msg.OrderID <= 0 {
		log.WithError(err).Warn("malformed payment message")
		l.settle(log, d.Reject(false))
		return
	}
	succeeded := Succeeded(msg.Status)

	log = log.WithFields(map[string]interface{}{"order_id": msg.OrderID, "txn_id": msg.TransactionID})
	_, err := l.recorder.RecordPayment(ctx, msg.OrderID, succeeded, msg.TransactionID)
	switch {
	case err == nil:
		l.settle(log, d.Ack(false))
	case errors.Is(err, domain.ErrUnavailable):
		log.WithError(err).Warn("payment requeued")
		l.settle(log, d.Nack(false, true))
	case errors.Is(err, domain.ErrAlreadyPaid):
		log.WithError(err).Info("late failure for paid order ignored")
		l.settle(log, d.Ack(false))
	default:
		log.WithError(err).Error("payment rejected")
		l.settle(log, d.Reject(false))
	}
}

func (l *Listener) settle(log observability.Logger, err error) {
	if err != nil {
		log.WithError(err).Error("settle delivery")
	}
}
