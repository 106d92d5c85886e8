package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CRDB_DSN", "postgresql://root@localhost:26257/defaultdb")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 600*time.Second, cfg.HoldTTL)
	assert.Equal(t, time.Hour, cfg.HoldMaxTTL)
	assert.Equal(t, "LKR", cfg.DefaultCurrency)
	assert.Equal(t, 500, cfg.CompactBatch)
	assert.True(t, cfg.MigrateOnStart)
	assert.False(t, cfg.EnforceAmountMatch)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CRDB_DSN", "postgresql://root@localhost:26257/defaultdb")
	t.Setenv("HOLD_TTL", "90s")
	t.Setenv("OUTBOX_BATCH", "7")
	t.Setenv("ENFORCE_AMOUNT_MATCH", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.HoldTTL)
	assert.Equal(t, 7, cfg.OutboxBatch)
	assert.True(t, cfg.EnforceAmountMatch)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing dsn", func(t *testing.T) {
		t.Setenv("CRDB_DSN", "")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("CRDB_DSN", "postgresql://root@localhost:26257/defaultdb")
		t.Setenv("HOLD_TTL", "ten minutes")
		_, err := Load()
		assert.ErrorContains(t, err, "HOLD_TTL")
	})
}
