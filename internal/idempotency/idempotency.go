package idempotency

import (
	"context"
	"time"

	"github.com/robertarktes/seat-reservations/internal/reservation"
)

// Store is the key/value backend for remembered keys.
type Store interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, orderID int64, ttl time.Duration) error
}

// Guard answers repeated checkouts without opening a transaction. The unique
// key on orders stays authoritative; a miss here proves nothing.
type Guard struct {
	store Store
	ttl   time.Duration
}

var _ reservation.KeyGuard = (*Guard)(nil)

func NewGuard(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Guard{store: store, ttl: ttl}
}

func (g *Guard) Seen(ctx context.Context, key string) (int64, bool, error) {
	return g.store.Get(ctx, key)
}

func (g *Guard) Remember(ctx context.Context, key string, orderID int64) error {
	return g.store.Set(ctx, key, orderID, g.ttl)
}
