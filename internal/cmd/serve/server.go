package serve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/coordinator"
	"github.com/chirino/chat-service/internal/gateway"
	"github.com/chirino/chat-service/internal/plugin/route/auth"
	"github.com/chirino/chat-service/internal/plugin/route/chat"
	"github.com/chirino/chat-service/internal/plugin/route/conversations"
	"github.com/chirino/chat-service/internal/plugin/route/live"
	routesystem "github.com/chirino/chat-service/internal/plugin/route/system"
	storemetrics "github.com/chirino/chat-service/internal/plugin/store/metrics"
	registrybroadcast "github.com/chirino/chat-service/internal/registry/broadcast"
	registrycompletion "github.com/chirino/chat-service/internal/registry/completion"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	registrysession "github.com/chirino/chat-service/internal/registry/session"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/rooms"
	"github.com/chirino/chat-service/internal/security"
	"github.com/chirino/chat-service/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config      *config.Config
	Store       registrystore.ChatStore
	Coordinator *coordinator.Coordinator
	Rooms       *rooms.Registry
	Tokens      *security.TokenResolver
	Router      *gin.Engine
	Running     *RunningServers

	live            *live.Handler
	bus             registrybroadcast.Bus
	sessions        registrysession.Cache
	cancel          context.CancelFunc
	closeManagement func(context.Context) error
}

// Shutdown disconnects live clients, waits for in-flight exchanges and stops
// the listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkDraining()
	var errs []error
	if err := s.live.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("live channel drain: %w", err))
	}
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	if err := s.Running.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	if err := s.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("broadcast bus: %w", err))
	}
	s.sessions.Close()
	return errors.Join(errs...)
}

// StartServer initializes all subsystems and starts HTTP on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info("Starting chat service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"sessionCache", cfg.SessionCacheType,
		"completion", cfg.CompletionType,
		"broadcast", cfg.BroadcastType,
	)
	ctx = config.WithContext(ctx, cfg)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Background goroutines (rate limiter sweeps, pool gauges, eviction) stop
	// with the server rather than with the caller's context.
	bgCtx, cancel := context.WithCancel(ctx)
	ok := false
	defer func() {
		if !ok {
			cancel()
		}
	}()

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(bgCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Completion provider, its session cache and the gateway in front of both.
	completionLoader, err := registrycompletion.Select(cfg.CompletionType)
	if err != nil {
		return nil, err
	}
	provider, err := completionLoader(bgCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize completion provider: %w", err)
	}
	sessionLoader, err := registrysession.Select(cfg.SessionCacheType)
	if err != nil {
		return nil, err
	}
	sessions, err := sessionLoader(bgCtx, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session cache: %w", err)
	}
	gw := gateway.New(provider, sessions, cfg.CompletionTimeout)

	// Room registry over the configured event bus.
	busLoader, err := registrybroadcast.Select(cfg.BroadcastType)
	if err != nil {
		sessions.Close()
		return nil, err
	}
	bus, err := busLoader(bgCtx)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("failed to initialize broadcast bus: %w", err)
	}
	roomRegistry := rooms.New(bus)

	coord := coordinator.New(store, gw, roomRegistry, cfg.HistoryWindow)

	resolver, err := security.NewTokenResolver(cfg, store)
	if err != nil {
		sessions.Close()
		_ = bus.Close()
		return nil, err
	}
	authMiddleware := security.AuthMiddleware(resolver)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware(registryroute.Paths()...))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(security.SecurityHeadersMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	general := security.RateLimitByIP(security.NewRateLimiter(bgCtx, cfg.RateLimitGeneral))
	authLimit := security.RateLimitByIP(security.NewRateLimiter(bgCtx, cfg.RateLimitAuth))
	chatLimit := security.RateLimitByUser(security.NewRateLimiter(bgCtx, cfg.RateLimitChat))

	router.Use(apiOnly(general))

	auth.MountRoutes(router, store, resolver, cfg.BcryptCost, authLimit)
	conversations.MountRoutes(router, store, coord, authMiddleware)
	chat.MountRoutes(router, coord, authMiddleware, chatLimit)

	liveHandler := live.NewHandler(store, coord, roomRegistry, resolver, live.Options{
		AllowedOrigins: splitOrigins(cfg.CORSOrigins),
		MaxMessageSize: cfg.MaxBodySize,
	})
	live.MountRoutes(router, liveHandler)

	// Start background services
	evictionSvc := service.NewEvictionService(store, cfg.EvictionRetention, cfg.EvictionInterval, cfg.EvictionBatchSize)
	go evictionSvc.Start(bgCtx)

	// Management routes get their own bare engine when a dedicated port is
	// configured, otherwise they share the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := registryroute.Mount(mgmtRouter); err != nil {
			sessions.Close()
			_ = bus.Close()
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		mgmt, err := startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			sessions.Close()
			_ = bus.Close()
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		closeManagement = mgmt.Close
	} else {
		if err := registryroute.Mount(router); err != nil {
			sessions.Close()
			_ = bus.Close()
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	running, err := StartSinglePortHTTP(ctx, cfg.Listener, router)
	if err != nil {
		if closeManagement != nil {
			_ = closeManagement(ctx)
		}
		sessions.Close()
		_ = bus.Close()
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	ok = true
	return &Server{
		Config:          cfg,
		Store:           store,
		Coordinator:     coord,
		Rooms:           roomRegistry,
		Tokens:          resolver,
		Router:          router,
		Running:         running,
		live:            liveHandler,
		bus:             bus,
		sessions:        sessions,
		cancel:          cancel,
		closeManagement: closeManagement,
	}, nil
}

// apiOnly applies h to /v1 routes so probes and scrapes are never throttled.
func apiOnly(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.HasPrefix(c.Request.URL.Path, "/v1/") {
			c.Next()
			return
		}
		h(c)
	}
}

func splitOrigins(csv string) []string {
	var origins []string
	for _, part := range strings.Split(csv, ",") {
		if v := strings.TrimSpace(part); v != "" {
			origins = append(origins, v)
		}
	}
	return origins
}
