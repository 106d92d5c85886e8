package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "idemp:"

// Idempotency maps checkout idempotency keys to the order they produced.
type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

func (i *Idempotency) Get(ctx context.Context, key string) (int64, bool, error) {
	val, err := i.client.Get(ctx, idempotencyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "get idempotency key")
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "idempotency key %q holds %q", key, val)
	}
	return id, true, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	return errors.Wrap(i.client.Set(ctx, idempotencyPrefix+key, strconv.FormatInt(orderID, 10), ttl).Err(), "set idempotency key")
}
