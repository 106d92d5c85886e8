package compaction

import (
	"context"
	"time"

	"github.com/robertarktes/seat-reservations/internal/observability"
)

type Store interface {
	CompactExpiredHolds(ctx context.Context, now time.Time, limit int) (int64, error)
}

type Invalidator interface {
	InvalidateSnapshot(ctx context.Context) error
}

// Compactor clears the hold columns of rows whose hold has lapsed. Expiry is
// already enforced on every read; this only keeps rows tidy.
type Compactor struct {
	store  Store
	cache  Invalidator
	logger observability.Logger
	batch  int
	now    func() time.Time
}

func NewCompactor(store Store, cache Invalidator, logger observability.Logger, batch int) *Compactor {
	if batch <= 0 {
		batch = 500
	}
	return &Compactor{store: store, cache: cache, logger: logger, batch: batch, now: time.Now}
}

func (c *Compactor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.WithField("interval", interval.String()).Info("hold compactor started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.CompactOnce(ctx); err != nil && ctx.Err() == nil {
				c.logger.WithError(err).Warn("compaction pass")
			}
		}
	}
}

// CompactOnce keeps clearing batches until one comes back short.
func (c *Compactor) CompactOnce(ctx context.Context) (int64, error) {
	var total int64
	for {
		n, err := c.store.CompactExpiredHolds(ctx, c.now(), c.batch)
		total += n
		observability.HoldsCompacted.Add(float64(n))
		if err != nil {
			return total, err
		}
		if n < int64(c.batch) || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		c.logger.WithField("cleared", total).Info("expired holds compacted")
		if c.cache != nil {
			if err := c.cache.InvalidateSnapshot(ctx); err != nil {
				c.logger.WithError(err).Warn("invalidate lock snapshot")
			}
		}
	}
	return total, nil
}
