package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"reality-mesh/internal/config"
)

func validConfig() config.Config {
	cfg := config.Default()
	cfg.ServerID = "server-A"
	return cfg
}

func TestValidConfigPasses(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestMissingServerIDFails(t *testing.T) {
	cfg := validConfig()
	cfg.ServerID = ""
	assert.Error(t, cfg.Validate())
}

func TestPortOutOfRangeFails(t *testing.T) {
	cfg := validConfig()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestSQLStorageRequiresDSNAndDialect(t *testing.T) {
	cfg := validConfig()
	cfg.Storage = config.StorageConfig{Type: config.StorageSQL}
	assert.Error(t, cfg.Validate(), "missing connection string and dialect")

	cfg.Storage.ConnectionString = "postgres://localhost/db"
	assert.Error(t, cfg.Validate(), "still missing a recognized dialect")

	cfg.Storage.Dialect = "postgres"
	assert.NoError(t, cfg.Validate())
}

func TestUnsupportedStorageTypeFails(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Type = "redis"
	assert.Error(t, cfg.Validate())
}

func TestRedisEnabledRequiresURL(t *testing.T) {
	cfg := validConfig()
	cfg.Redis = config.RedisConfig{Enabled: true}
	assert.Error(t, cfg.Validate())

	cfg.Redis.URL = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}

func TestRateLimitEnabledRequiresPositiveMax(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true}
	assert.Error(t, cfg.Validate())

	cfg.RateLimit.MaxRequests = 100
	assert.NoError(t, cfg.Validate())
}

func TestEmptyPeerEntryFails(t *testing.T) {
	cfg := validConfig()
	cfg.Peers = []string{"http://localhost:8081", ""}
	assert.Error(t, cfg.Validate())
}

func TestUnrecognizedInvalidationModeFails(t *testing.T) {
	cfg := validConfig()
	cfg.Invalidation = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestAddrFormatsHostPort(t *testing.T) {
	cfg := validConfig()
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}
