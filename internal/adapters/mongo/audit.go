package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/robertarktes/seat-reservations/internal/reservation"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger appends one document per committed seat or order change. It is
// a trail for humans, not a source of truth.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
	now    func() time.Time
}

var _ reservation.AuditSink = (*AuditLogger)(nil)

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
		now:    time.Now,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	Subject   string    `bson:"subject"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action, subject string, data bson.M) error {
	doc := AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		Subject:   subject,
		Timestamp: a.now().UTC(),
		Data:      data,
	}
	if _, err := a.coll.InsertOne(ctx, doc); err != nil {
		a.logger.WithError(err).WithField("action", action).Error("insert audit log")
		return errors.Wrap(err, "insert audit log")
	}
	return nil
}

func (a *AuditLogger) LogHold(ctx context.Context, hold domain.Hold) error {
	return a.LogEvent(ctx, "hold.claimed", hold.ID, bson.M{
		"seats":      seatDocs(hold.Seats),
		"expires_at": hold.ExpiresAt.UTC(),
	})
}

func (a *AuditLogger) LogRelease(ctx context.Context, holdID string, released int64) error {
	return a.LogEvent(ctx, "hold.released", holdID, bson.M{"released": released})
}

func (a *AuditLogger) LogOrder(ctx context.Context, order domain.Order) error {
	items := make([]bson.M, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, bson.M{
			"table_id":    it.Seat.TableID,
			"seat_no":     it.Seat.SeatNo,
			"category":    string(it.Category),
			"price_cents": int64(it.Price),
		})
	}
	return a.LogEvent(ctx, "order.created", order.Ref, bson.M{
		"order_id":     order.ID,
		"status":       string(order.Status),
		"amount_cents": int64(order.Amount),
		"currency":     order.Currency,
		"pay_method":   order.PayMethod,
		"items":        items,
	})
}

func (a *AuditLogger) LogStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	return a.LogEvent(ctx, "order.status", "", bson.M{"order_id": orderID, "status": string(status)})
}

func seatDocs(seats []domain.SeatRef) []bson.M {
	out := make([]bson.M, 0, len(seats))
	for _, s := range seats {
		out = append(out, bson.M{"table_id": s.TableID, "seat_no": s.SeatNo})
	}
	return out
}
