// Package config is the configuration surface of spec.md §6, loaded
// from flags in cmd/realityd exactly as the teacher's cmd/server/main.go
// builds its config, with boot-time validation grounded on the same
// file's replica-count sanity check (there: W+R > N; here: storage type
// and SQL DSN must be mutually consistent, rate-limit bounds must be
// sane).
package config

import (
	"fmt"
	"strings"
	"time"
)

// StorageType selects a storage.Adapter implementation.
type StorageType string

const (
	StorageMemory StorageType = "memory"
	StorageSQL    StorageType = "sql"
)

// InvalidationMode controls whether /invalidate actually fans out to the
// mesh (spec.md §6 names this field). "none" keeps the endpoint but stops
// its fan-out; "advisory" and "external" both fan out as usual.
type InvalidationMode string

const (
	InvalidationNone     InvalidationMode = "none"
	InvalidationAdvisory InvalidationMode = "advisory"
	InvalidationExternal InvalidationMode = "external"
)

// CORSConfig configures the OPTIONS preflight responder and the
// Access-Control-Allow-Origin header on every response.
type CORSConfig struct {
	Origins     []string
	Credentials bool
}

// RateLimitConfig configures the optional per-client-IP limiter
// (spec.md §5: "off by default").
type RateLimitConfig struct {
	Enabled     bool
	MaxRequests int
	WindowMs    int
}

// StorageConfig selects and configures the backing storage.Adapter.
type StorageConfig struct {
	Type             StorageType
	ConnectionString string
	Dialect          string // "postgres" | "mysql" | "sqlite", only when Type == StorageSQL
	TableName        string
}

// RedisConfig configures the optional accelerator.
type RedisConfig struct {
	Enabled bool
	URL     string
	Prefix  string
}

// Config is the full boot-time configuration surface named in
// spec.md §6.
type Config struct {
	ServerID string
	Host     string
	Port     int
	Peers    []string

	CORS          CORSConfig
	RateLimit     RateLimitConfig
	Debug         bool
	Storage       StorageConfig
	Redis         RedisConfig
	PayloadBaseURL string
	ExecutionMode  string
	Invalidation   InvalidationMode

	RequestTimeout time.Duration
	PeerTimeout    time.Duration
}

// Validate performs the boot-time sanity checks spec.md §6 implies are
// needed before a server starts accepting traffic, in the same spirit
// as the teacher's W+R > N replica-count check: catch a misconfiguration
// that would otherwise surface as a confusing runtime error on the first
// request.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerID) == "" {
		return fmt.Errorf("config: serverId is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}

	switch c.Storage.Type {
	case StorageMemory:
		// no further requirements
	case StorageSQL:
		if c.Storage.ConnectionString == "" {
			return fmt.Errorf("config: storage.connectionString is required for storage type %q", c.Storage.Type)
		}
		switch c.Storage.Dialect {
		case "postgres", "mysql", "sqlite":
		default:
			return fmt.Errorf("config: storage.dialect %q must be one of postgres, mysql, sqlite", c.Storage.Dialect)
		}
	default:
		return fmt.Errorf("config: unsupported storage type %q", c.Storage.Type)
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("config: redis.url is required when redis.enabled is true")
	}

	if c.RateLimit.Enabled && c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("config: rateLimit.maxRequests must be positive when rateLimit.enabled is true")
	}

	for _, p := range c.Peers {
		if p == "" {
			return fmt.Errorf("config: peers must not contain empty entries")
		}
	}

	switch c.Invalidation {
	case "", InvalidationNone, InvalidationAdvisory, InvalidationExternal:
	default:
		return fmt.Errorf("config: invalidation mode %q is not recognized", c.Invalidation)
	}

	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Default returns a Config with the same defaults the teacher's
// cmd/server/main.go flag declarations use (in-memory store, all
// interfaces on port 8080, no peers, no CORS origins).
func Default() Config {
	return Config{
		ServerID: "",
		Host:     "0.0.0.0",
		Port:     8080,
		Storage:  StorageConfig{Type: StorageMemory, TableName: "reality_nodes"},
		Invalidation: InvalidationAdvisory,
		RequestTimeout: 5 * time.Second,
		PeerTimeout:    3 * time.Second,
	}
}
