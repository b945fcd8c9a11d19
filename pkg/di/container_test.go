package di

import (
	"context"
	"testing"

	"school-portal/backend/conversation/events"
	"school-portal/backend/pkg/config"
	"school-portal/backend/pkg/lock"
	"school-portal/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	cfg := config.Load()
	cfg.Database.Driver = config.DriverMemory
	cfg.Redis.Addr = ""
	cfg.Kafka.Brokers = nil
	cfg.Observability.TracingEnabled = false
	return cfg
}

func TestNew_MemoryDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Archival.Enabled = true

	c, err := New(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer c.Close(context.Background())

	assert.Nil(t, c.DB)
	assert.Nil(t, c.Mongo)
	assert.IsType(t, &lock.KeyedMutex{}, c.Locker)
	assert.IsType(t, events.NopPublisher{}, c.Publisher)
	assert.NotNil(t, c.Scheduler)
	assert.NotNil(t, c.Handler)
	assert.NotNil(t, c.Metrics)

	c.Health.RunChecks(context.Background())
	assert.True(t, c.Health.IsSystemHealthy())
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database.Driver = "sqlite"

	_, err := New(context.Background(), cfg, logger.Discard())
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestNew_RejectsBadCron(t *testing.T) {
	cfg := memoryConfig()
	cfg.Archival.Enabled = true
	cfg.Archival.Cron = "whenever"

	_, err := New(context.Background(), cfg, logger.Discard())
	assert.Error(t, err)
}

func TestNew_DefaultObservabilityStarts(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	cfg := config.Load()
	require.True(t, cfg.Observability.MetricsEnabled)

	c, err := New(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer c.Close(context.Background())

	assert.NotNil(t, c.Metrics)
	families, err := c.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
