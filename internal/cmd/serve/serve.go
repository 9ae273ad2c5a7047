package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	registrybroadcast "github.com/chirino/chat-service/internal/registry/broadcast"
	registrycompletion "github.com/chirino/chat-service/internal/registry/completion"
	registrysession "github.com/chirino/chat-service/internal/registry/session"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/chat-service/internal/plugin/broadcast/local"
	_ "github.com/chirino/chat-service/internal/plugin/broadcast/redis"
	_ "github.com/chirino/chat-service/internal/plugin/completion/echo"
	_ "github.com/chirino/chat-service/internal/plugin/completion/gemini"
	_ "github.com/chirino/chat-service/internal/plugin/completion/openai"
	_ "github.com/chirino/chat-service/internal/plugin/route/system"
	_ "github.com/chirino/chat-service/internal/plugin/session/memory"
	_ "github.com/chirino/chat-service/internal/plugin/session/none"
	_ "github.com/chirino/chat-service/internal/plugin/store/mongo"
	_ "github.com/chirino/chat-service/internal/plugin/store/postgres"
	_ "github.com/chirino/chat-service/internal/plugin/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the chat service HTTP and live channel server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Operating mode (prod|testing)",
		},
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file for single-port TLS mode",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file for single-port TLS mode",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.BoolFlag{
			Name:        "cors-enabled",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS headers for browser clients",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed origins; also limits live channel origins (default any)",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body and live frame size in bytes",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("CHAT_SERVICE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("CHAT_SERVICE_PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("CHAT_SERVICE_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 + HTTP/2",
		},

		// ── Management Network Listener ───────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MANAGEMENT_PLAIN_TEXT"),
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for management server",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for management server",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Apply schema migrations on startup",
		},
		&cli.StringFlag{
			Name:        "db-mongo-database",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_MONGO_DATABASE"),
			Destination: &cfg.MongoDatabase,
			Value:       cfg.MongoDatabase,
			Usage:       "Mongo database name",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Session Cache ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "session-cache-kind",
			Category:    "Session Cache:",
			Sources:     cli.EnvVars("CHAT_SERVICE_SESSION_CACHE_KIND"),
			Destination: &cfg.SessionCacheType,
			Value:       cfg.SessionCacheType,
			Usage:       "Provider session cache (" + strings.Join(registrysession.Names(), "|") + ")",
		},
		&cli.Int64Flag{
			Name:        "session-cache-max-entries",
			Category:    "Session Cache:",
			Sources:     cli.EnvVars("CHAT_SERVICE_SESSION_CACHE_MAX_ENTRIES"),
			Destination: &cfg.SessionCacheMaxEntries,
			Value:       cfg.SessionCacheMaxEntries,
			Usage:       "Maximum number of cached conversation sessions",
		},
		&cli.DurationFlag{
			Name:        "session-cache-ttl",
			Category:    "Session Cache:",
			Sources:     cli.EnvVars("CHAT_SERVICE_SESSION_CACHE_TTL"),
			Destination: &cfg.SessionCacheTTL,
			Value:       cfg.SessionCacheTTL,
			Usage:       "Idle time after which a session is reseeded from stored history",
		},

		// ── Completion ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "completion-kind",
			Category:    "Completion:",
			Sources:     cli.EnvVars("CHAT_SERVICE_COMPLETION_KIND"),
			Destination: &cfg.CompletionType,
			Value:       cfg.CompletionType,
			Usage:       "Completion provider (" + strings.Join(registrycompletion.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "completion-model",
			Category:    "Completion:",
			Sources:     cli.EnvVars("CHAT_SERVICE_COMPLETION_MODEL"),
			Destination: &cfg.CompletionModel,
			Value:       cfg.CompletionModel,
			Usage:       "Provider model name",
		},
		&cli.StringFlag{
			Name:        "completion-api-key",
			Category:    "Completion:",
			Sources:     cli.EnvVars("CHAT_SERVICE_COMPLETION_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.CompletionAPIKey,
			Usage:       "Provider API key",
		},
		&cli.StringFlag{
			Name:        "completion-base-url",
			Category:    "Completion:",
			Sources:     cli.EnvVars("CHAT_SERVICE_COMPLETION_BASE_URL"),
			Destination: &cfg.CompletionBaseURL,
			Usage:       "Override the provider API base URL",
		},
		&cli.Float64Flag{
			Name:        "completion-temperature",
			Category:    "Completion:",
			Sources:     cli.EnvVars("CHAT_SERVICE_COMPLETION_TEMPERATURE"),
			Destination: &cfg.CompletionTemperature,
			Value:       cfg.CompletionTemperature,
			Usage:       "Sampling temperature",
		},
		&cli.IntFlag{
			Name:        "completion-max-output-tokens",
			Category:    "Completion:",
			Sources:     cli.EnvVars("CHAT_SERVICE_COMPLETION_MAX_OUTPUT_TOKENS"),
			Destination: &cfg.CompletionMaxOutputTokens,
			Value:       cfg.CompletionMaxOutputTokens,
			Usage:       "Maximum tokens in a reply",
		},
		&cli.DurationFlag{
			Name:        "completion-timeout",
			Category:    "Completion:",
			Sources:     cli.EnvVars("CHAT_SERVICE_COMPLETION_TIMEOUT"),
			Destination: &cfg.CompletionTimeout,
			Value:       cfg.CompletionTimeout,
			Usage:       "Timeout for a single provider call",
		},
		&cli.IntFlag{
			Name:        "history-window",
			Category:    "Completion:",
			Sources:     cli.EnvVars("CHAT_SERVICE_HISTORY_WINDOW"),
			Destination: &cfg.HistoryWindow,
			Value:       cfg.HistoryWindow,
			Usage:       "Number of stored messages used to seed a new session",
		},
		&cli.StringFlag{
			Name:        "echo-reply",
			Category:    "Completion:",
			Sources:     cli.EnvVars("CHAT_SERVICE_ECHO_REPLY"),
			Destination: &cfg.EchoReply,
			Usage:       "Fixed reply of the echo provider; empty echoes the message",
		},

		// ── Live Channel ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "broadcast-kind",
			Category:    "Live Channel:",
			Sources:     cli.EnvVars("CHAT_SERVICE_BROADCAST_KIND"),
			Destination: &cfg.BroadcastType,
			Value:       cfg.BroadcastType,
			Usage:       "Room event bus (" + strings.Join(registrybroadcast.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Live Channel:",
			Sources:     cli.EnvVars("CHAT_SERVICE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL for the redis event bus",
		},
		&cli.StringFlag{
			Name:        "redis-channel",
			Category:    "Live Channel:",
			Sources:     cli.EnvVars("CHAT_SERVICE_REDIS_CHANNEL"),
			Destination: &cfg.RedisChannel,
			Value:       cfg.RedisChannel,
			Usage:       "Redis pub/sub channel for room events",
		},

		// ── Authentication ────────────────────────────────────────
		&cli.StringFlag{
			Name:        "jwt-secret",
			Category:    "Authentication:",
			Sources:     cli.EnvVars("CHAT_SERVICE_JWT_SECRET", "JWT_SECRET"),
			Destination: &cfg.JWTSecret,
			Usage:       "HMAC secret used to sign bearer tokens (required in prod mode)",
		},
		&cli.StringFlag{
			Name:        "jwt-issuer",
			Category:    "Authentication:",
			Sources:     cli.EnvVars("CHAT_SERVICE_JWT_ISSUER"),
			Destination: &cfg.JWTIssuer,
			Value:       cfg.JWTIssuer,
			Usage:       "Issuer claim of bearer tokens",
		},
		&cli.DurationFlag{
			Name:        "token-ttl",
			Category:    "Authentication:",
			Sources:     cli.EnvVars("CHAT_SERVICE_TOKEN_TTL"),
			Destination: &cfg.TokenTTL,
			Value:       cfg.TokenTTL,
			Usage:       "Lifetime of issued bearer tokens",
		},
		&cli.IntFlag{
			Name:        "bcrypt-cost",
			Category:    "Authentication:",
			Sources:     cli.EnvVars("CHAT_SERVICE_BCRYPT_COST"),
			Destination: &cfg.BcryptCost,
			Value:       cfg.BcryptCost,
			Usage:       "bcrypt work factor for password hashes",
		},

		// ── Rate Limits ───────────────────────────────────────────
		&cli.IntFlag{
			Name:        "rate-limit-general",
			Category:    "Rate Limits:",
			Sources:     cli.EnvVars("CHAT_SERVICE_RATE_LIMIT_GENERAL"),
			Destination: &cfg.RateLimitGeneral,
			Value:       cfg.RateLimitGeneral,
			Usage:       "Requests per minute per client IP (0 disables)",
		},
		&cli.IntFlag{
			Name:        "rate-limit-auth",
			Category:    "Rate Limits:",
			Sources:     cli.EnvVars("CHAT_SERVICE_RATE_LIMIT_AUTH"),
			Destination: &cfg.RateLimitAuth,
			Value:       cfg.RateLimitAuth,
			Usage:       "Register/login requests per minute per client IP (0 disables)",
		},
		&cli.IntFlag{
			Name:        "rate-limit-chat",
			Category:    "Rate Limits:",
			Sources:     cli.EnvVars("CHAT_SERVICE_RATE_LIMIT_CHAT"),
			Destination: &cfg.RateLimitChat,
			Value:       cfg.RateLimitChat,
			Usage:       "Chat requests per minute per user (0 disables)",
		},

		// ── Eviction ──────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "eviction-retention",
			Category:    "Eviction:",
			Sources:     cli.EnvVars("CHAT_SERVICE_EVICTION_RETENTION"),
			Destination: &cfg.EvictionRetention,
			Value:       cfg.EvictionRetention,
			Usage:       "Delete archived conversations older than this (0 disables)",
		},
		&cli.DurationFlag{
			Name:        "eviction-interval",
			Category:    "Eviction:",
			Sources:     cli.EnvVars("CHAT_SERVICE_EVICTION_INTERVAL"),
			Destination: &cfg.EvictionInterval,
			Value:       cfg.EvictionInterval,
			Usage:       "How often eviction runs",
		},
		&cli.IntFlag{
			Name:        "eviction-batch-size",
			Category:    "Eviction:",
			Sources:     cli.EnvVars("CHAT_SERVICE_EVICTION_BATCH_SIZE"),
			Destination: &cfg.EvictionBatchSize,
			Value:       cfg.EvictionBatchSize,
			Usage:       "Conversations deleted per batch",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CHAT_SERVICE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=chat-service",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isUpgradeRequest(c.Request) || maxBodySize <= 0 {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}

// isUpgradeRequest reports WebSocket handshakes; their frames are bounded by the live handler.
func isUpgradeRequest(req *http.Request) bool {
	if req == nil {
		return false
	}
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}
