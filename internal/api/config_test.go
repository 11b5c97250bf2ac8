package api

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/troupe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets the daemon variables for the test and restores them after.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TROUPE_ADDR", "TROUPE_STORE", "TROUPE_REDIS_URL", "TROUPE_NAMESPACE",
		"TROUPE_SQLITE_PATH", "TROUPE_ACK_WAIT", "TROUPE_SHUTDOWN_TIMEOUT",
		"TROUPE_OTEL_ENABLED", "TROUPE_OTEL_ENDPOINT", "TROUPE_OTEL_SERVICE",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadServerConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8001", cfg.Addr)
	assert.Equal(t, config.PersistenceNone, cfg.Store)
	assert.Equal(t, "default", cfg.Namespace)
	assert.Equal(t, 5*time.Second, cfg.AckWait)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoadServerConfig_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("TROUPE_ADDR", "127.0.0.1:9000")
	t.Setenv("TROUPE_STORE", "sqlite")
	t.Setenv("TROUPE_SQLITE_PATH", "/tmp/troupe.db")
	t.Setenv("TROUPE_ACK_WAIT", "250ms")

	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.AckWait)

	p := cfg.Persistence()
	assert.Equal(t, config.PersistenceSQLite, p.Kind)
	assert.Equal(t, "/tmp/troupe.db", p.SQLitePath)
	assert.Empty(t, p.RedisURL)
}

func TestLoadServerConfig_Telemetry(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.False(t, cfg.Telemetry().Active(), "tracing is off without an endpoint")

	t.Setenv("TROUPE_OTEL_ENDPOINT", "http://collector:4318")
	t.Setenv("TROUPE_OTEL_SERVICE", "stage-test")
	cfg, err = LoadServerConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	tel := cfg.Telemetry()
	assert.True(t, tel.Active())
	assert.Equal(t, "http://collector:4318", tel.Endpoint)
	assert.Equal(t, "stage-test", tel.ServiceName)

	t.Setenv("TROUPE_OTEL_ENABLED", "false")
	cfg, err = LoadServerConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.False(t, cfg.Telemetry().Active(), "TROUPE_OTEL_ENABLED=false wins over an endpoint")
}

func TestLoadServerConfig_DotEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TROUPE_NAMESPACE", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TROUPE_STORE=redis\nTROUPE_REDIS_URL=redis://cache:6379/2\nTROUPE_NAMESPACE=from-file\n"), 0644))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)

	p := cfg.Persistence()
	assert.Equal(t, config.PersistenceRedis, p.Kind)
	assert.Equal(t, "redis://cache:6379/2", p.RedisURL)
	assert.Equal(t, "from-env", p.Namespace, "the process environment wins over .env")
}

func TestLoadServerConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		field string
	}{
		{"unknown store", "TROUPE_STORE", "postgres", "persistence"},
		{"zero ack wait", "TROUPE_ACK_WAIT", "0s", "TROUPE_ACK_WAIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.env"))
			require.Error(t, err)
			ce, ok := config.AsConfigError(err)
			require.True(t, ok, "expected ConfigError, got %v", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}

	t.Run("malformed duration", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TROUPE_ACK_WAIT", "soon")

		_, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.env"))
		assert.Error(t, err)
	})
}
