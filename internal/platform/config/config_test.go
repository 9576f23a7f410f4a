package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("TAGCONSENT_CONFIG_FILE", "")

	cfg, err := FromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, RuntimeDataLayer, cfg.TagManager.Runtime)
	assert.Equal(t, "consent-updates", cfg.Kafka.Topic)
}

func TestFromEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "tagconsent.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
addr: ":9000"
storage: redis
redis:
  url: redis://localhost:6379/0
tag_manager:
  runtime: none
  probe_interval: 500ms
`), 0o600))

	t.Setenv("TAGCONSENT_CONFIG_FILE", yamlPath)
	t.Setenv("TAGCONSENT_ADDR", ":9100")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := FromEnv(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr, "env overrides yaml")
	assert.Equal(t, StorageRedis, cfg.Storage)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, RuntimeNone, cfg.TagManager.Runtime)
	assert.Equal(t, 500*time.Millisecond, cfg.TagManager.ProbeInterval)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10, cfg.Redis.PoolSize, "unset yaml fields keep defaults")
}

func TestFromEnvDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("TAGCONSENT_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("TAGCONSENT_CONFIG_FILE", "")
	t.Cleanup(func() { _ = os.Unsetenv("TAGCONSENT_LOG_LEVEL") })

	cfg, err := FromEnv(envPath)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Server)
	}{
		{name: "postgres without url", mutate: func(c *Server) { c.Storage = StoragePostgres }},
		{name: "redis without url", mutate: func(c *Server) { c.Storage = StorageRedis }},
		{name: "unknown storage", mutate: func(c *Server) { c.Storage = "sqlite" }},
		{name: "kafka without brokers", mutate: func(c *Server) { c.TagManager.Runtime = RuntimeKafka }},
		{name: "unknown runtime", mutate: func(c *Server) { c.TagManager.Runtime = "gtm" }},
		{name: "empty signing key", mutate: func(c *Server) { c.VisitorSigningKey = "" }},
		{name: "malformed trusted proxy", mutate: func(c *Server) { c.TrustedProxies = []string{"10.0.0.1"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestInvalidEnvValues(t *testing.T) {
	t.Setenv("TAGCONSENT_CONFIG_FILE", "")
	t.Setenv("COOKIE_SECURE", "sometimes")
	_, err := FromEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestTrustedProxyPrefixes(t *testing.T) {
	t.Setenv("TAGCONSENT_CONFIG_FILE", "")
	t.Setenv("TAGCONSENT_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.0/24")
	cfg, err := FromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	prefixes := cfg.TrustedProxyPrefixes()
	require.Len(t, prefixes, 2)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
}
