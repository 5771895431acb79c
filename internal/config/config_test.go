package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ACTIVITY_BACKEND", "")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ActivityBackendPostgres, cfg.ActivityBackend)
	assert.True(t, cfg.AutoMigrate)
	assert.False(t, cfg.UseMemoryStore)
	assert.False(t, cfg.RequestRequiresAvailability)
	assert.Equal(t, 72*time.Hour, cfg.SessionTTL)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes)
	assert.Contains(t, cfg.Database.DSN(), "host=")
}

func TestLoadFromEnv_DatabaseURLWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/lib")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/lib", cfg.Database.DSN())
}

func TestLoadFromEnv_ClickHouseRequiresHost(t *testing.T) {
	t.Setenv("ACTIVITY_BACKEND", "clickhouse")
	t.Setenv("CLICKHOUSE_HOST", "")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLICKHOUSE_HOST")
}

func TestLoadFromEnv_ClickHouse(t *testing.T) {
	t.Setenv("ACTIVITY_BACKEND", "clickhouse")
	t.Setenv("CLICKHOUSE_HOST", "ch")
	t.Setenv("CLICKHOUSE_PORT", "9440")
	t.Setenv("CLICKHOUSE_USE_TLS", "true")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "ch", cfg.ClickHouseHost)
	assert.Equal(t, 9440, cfg.ClickHousePort)
	assert.True(t, cfg.ClickHouseUseTLS)
	assert.Equal(t, "default", cfg.ClickHouseDatabase)
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"bad bool":     {"USE_MEMORY_STORE", "maybe"},
		"bad ttl":      {"SESSION_TTL", "forever"},
		"negative ttl": {"SESSION_TTL", "-1h"},
		"bad upload":   {"MAX_UPLOAD_MB", "0"},
		"bad backend":  {"ACTIVITY_BACKEND", "mongo"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := LoadFromEnv()
			assert.Error(t, err)
		})
	}
}
