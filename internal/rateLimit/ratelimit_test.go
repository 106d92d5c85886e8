package rateLimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestAllow_NoClient(t *testing.T) {
	rl := NewRateLimiter(nil, nil)
	assert.True(t, rl.Allow(context.Background(), "ip", 1, time.Minute))
}

func TestAllow_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	rl := NewRateLimiter(client, nil)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(context.Background(), "ip", 1, time.Minute))
	}
}
