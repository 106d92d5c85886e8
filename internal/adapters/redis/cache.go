package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

const snapshotKey = "locks:snapshot"

// Cache keeps the effective-locks snapshot for a short TTL so a busy seat map
// does not hit the ledger on every poll.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) GetSnapshot(ctx context.Context) ([]domain.SeatRef, bool, error) {
	val, err := c.client.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "get snapshot")
	}
	var locks []domain.SeatRef
	if err := json.Unmarshal(val, &locks); err != nil {
		return nil, false, errors.Wrap(err, "decode snapshot")
	}
	return locks, true, nil
}

func (c *Cache) SetSnapshot(ctx context.Context, locks []domain.SeatRef) error {
	if c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(locks)
	if err != nil {
		return err
	}
	return errors.Wrap(c.client.Set(ctx, snapshotKey, data, c.ttl).Err(), "set snapshot")
}

func (c *Cache) InvalidateSnapshot(ctx context.Context) error {
	return errors.Wrap(c.client.Del(ctx, snapshotKey).Err(), "invalidate snapshot")
}
