package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, TransportKafka, cfg.NotifyTransport)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.RelaxedStockMatching)
	assert.Equal(t, 10, cfg.LowStockThreshold)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORAGE", "MEMORY")
	t.Setenv("NOTIFY_TRANSPORT", "direct")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("STOCK_RELAXED_MATCHING", "true")
	t.Setenv("LOW_STOCK_THRESHOLD", "3")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, TransportDirect, cfg.NotifyTransport)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.RelaxedStockMatching)
	assert.Equal(t, 3, cfg.LowStockThreshold)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.True(t, cfg.IsProduction())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":    {"JWT_SECRET": ""},
		"bad storage":       {"JWT_SECRET": "s", "STORAGE": "mongo"},
		"bad transport":     {"JWT_SECRET": "s", "NOTIFY_TRANSPORT": "rabbit"},
		"bad integer":       {"JWT_SECRET": "s", "LOW_STOCK_THRESHOLD": "many"},
		"bad boolean":       {"JWT_SECRET": "s", "STOCK_RELAXED_MATCHING": "sometimes"},
		"bad duration":      {"JWT_SECRET": "s", "CACHE_TTL": "forever"},
		"zero workers":      {"JWT_SECRET": "s", "NOTIFY_WORKERS": "0"},
		"negative treshold": {"JWT_SECRET": "s", "LOW_STOCK_THRESHOLD": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
