package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SYNC_LEASE_TTL", "")
	t.Setenv("IDENTITY_BACKFILL_SIZE", "")
	t.Setenv("SYNC_MAX_RUN_DURATION", "")

	cfg := Load()

	assert.Equal(t, 30*time.Second, cfg.SyncLeaseTTL)
	assert.Equal(t, 10*time.Minute, cfg.SyncMaxRunDuration)
	assert.Equal(t, 100, cfg.IdentityBackfillSize)
	assert.Equal(t, "postgres", cfg.SyncLockBackend)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SYNC_LEASE_TTL", "45s")
	t.Setenv("SYNC_LOCK_BACKEND", "redis")
	t.Setenv("GRAPH_API_RATE_PER_SECOND", "2.5")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("SYNC_DETAIL_WORKERS", "not-a-number")

	cfg := Load()

	assert.Equal(t, 45*time.Second, cfg.SyncLeaseTTL)
	assert.Equal(t, "redis", cfg.SyncLockBackend)
	assert.Equal(t, 2.5, cfg.GraphRatePerSecond)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, 5, cfg.SyncDetailWorkers)
}
