package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/robertarktes/seat-reservations/internal/reservation"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// VenueCatalog is the venue's table price list, keyed by table id.
type VenueCatalog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

var _ reservation.PriceCatalog = (*VenueCatalog)(nil)

func NewVenueCatalog(db *mongo.Database, logger observability.Logger) *VenueCatalog {
	return &VenueCatalog{
		coll:   db.Collection("tables"),
		logger: logger,
	}
}

type TableDoc struct {
	TableID    string    `bson:"_id"`
	Category   string    `bson:"category"`
	PriceCents int64     `bson:"price_cents"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func (c *VenueCatalog) GetTable(ctx context.Context, tableID string) (*TableDoc, error) {
	var doc TableDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": tableID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrNotFound, "table %s", tableID)
	}
	if err != nil {
		c.logger.WithError(err).WithField("table_id", tableID).Error("get table")
		return nil, errors.Wrap(err, "get table")
	}
	return &doc, nil
}

func (c *VenueCatalog) PriceFor(ctx context.Context, tableID string) (domain.Category, domain.Cents, error) {
	doc, err := c.GetTable(ctx, tableID)
	if err != nil {
		return "", 0, err
	}
	return domain.ParseCategory(doc.Category), domain.Cents(doc.PriceCents), nil
}

func (c *VenueCatalog) SetTablePrice(ctx context.Context, tableID string, category domain.Category, price domain.Cents) error {
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": tableID},
		bson.M{"$set": bson.M{
			"category":    string(category),
			"price_cents": int64(price),
			"updated_at":  time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.logger.WithError(err).WithField("table_id", tableID).Error("set table price")
		return domain.Unavailable(err, "set table price")
	}
	return nil
}
