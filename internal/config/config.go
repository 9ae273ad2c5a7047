package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the chat service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode a missing JWT secret is replaced by a random per-process one.
	Mode string

	// Database
	DBURL string

	// Datastore backend type
	DatastoreType string // "postgres", "sqlite" or "mongo"

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// MongoDatabase names the database the mongo store uses.
	MongoDatabase string

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Session cache backend type
	SessionCacheType string // "memory" or "none"

	// Upper bound on cached provider sessions.
	SessionCacheMaxEntries int64

	// Idle sessions are dropped after this long and reseeded from the store.
	SessionCacheTTL time.Duration

	// Completion provider type
	CompletionType string // "openai", "gemini" or "echo"

	CompletionModel           string
	CompletionAPIKey          string
	CompletionBaseURL         string
	CompletionTemperature     float64
	CompletionMaxOutputTokens int

	// CompletionTimeout bounds every provider call.
	CompletionTimeout time.Duration

	// HistoryWindow is the number of prior messages submitted as context.
	HistoryWindow int

	// EchoReply is the fixed reply returned by the "echo" provider. Empty echoes the input.
	EchoReply string

	// Room broadcast bus type
	BroadcastType string // "local" or "redis"

	// Redis
	RedisURL     string
	RedisChannel string

	// Auth
	JWTSecret  string
	JWTIssuer  string
	TokenTTL   time.Duration
	BcryptCost int

	// Rate limits, requests per minute. Zero disables the limiter.
	RateLimitGeneral int
	RateLimitAuth    int
	RateLimitChat    int

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=chat-service".
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port (or CHAT_SERVICE_MANAGEMENT_PORT)
	// was explicitly provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints (/health, /ready, /metrics).
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// Eviction of archived conversations. A zero retention disables the service.
	EvictionRetention time.Duration
	EvictionBatchSize int
	EvictionInterval  time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                      ModeProd,
		DatastoreType:             "postgres",
		DatastoreMigrateAtStart:   true,
		MongoDatabase:             "chat_service",
		DBMaxOpenConns:            25,
		DBMaxIdleConns:            5,
		SessionCacheType:          "memory",
		SessionCacheMaxEntries:    10000,
		SessionCacheTTL:           time.Hour,
		CompletionType:            "gemini",
		CompletionModel:           "gemini-2.5-flash",
		CompletionTemperature:     0.7,
		CompletionMaxOutputTokens: 2048,
		CompletionTimeout:         30 * time.Second,
		HistoryWindow:             20,
		BroadcastType:             "local",
		RedisChannel:              "chat-service:rooms",
		JWTIssuer:                 "chat-service",
		TokenTTL:                  30 * 24 * time.Hour,
		BcryptCost:                10,
		RateLimitGeneral:          300,
		RateLimitAuth:             20,
		RateLimitChat:             60,
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         false,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
		},
		MaxBodySize:       1024 * 1024,
		DrainTimeout:      30,
		EvictionBatchSize: 500,
		EvictionInterval:  time.Hour,
	}
}

// Validate reports settings that would leave the server unusable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBURL) == "" {
		return fmt.Errorf("db-url is required")
	}
	if c.Mode != ModeTesting && strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("jwt-secret is required in %s mode", c.Mode)
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("history-window must not be negative")
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("completion-timeout must be positive")
	}
	return nil
}
