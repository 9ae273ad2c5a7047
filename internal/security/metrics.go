package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	// SessionCacheHitsTotal and SessionCacheMissesTotal count provider session lookups.
	SessionCacheHitsTotal   prometheus.Counter
	SessionCacheMissesTotal prometheus.Counter

	// CompletionsTotal counts completion attempts by outcome ("ok" or a failure kind).
	CompletionsTotal *prometheus.CounterVec

	// CompletionLatency records provider call latency.
	CompletionLatency prometheus.Histogram

	// LiveConnections tracks open live-channel connections on this replica.
	LiveConnections prometheus.Gauge

	// RoomEventsTotal counts events fanned out to conversation rooms.
	RoomEventsTotal *prometheus.CounterVec

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server or any store/cache initialization
// that records metrics. Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_service_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_service_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_service_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	SessionCacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_service_session_cache_hits_total",
		Help: "Total provider session cache hits",
	})

	SessionCacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_service_session_cache_misses_total",
		Help: "Total provider session cache misses",
	})

	CompletionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_service_completions_total",
			Help: "Total completion attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	CompletionLatency = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_service_completion_latency_seconds",
		Help:    "Completion provider latency in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
	})

	LiveConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_service_live_connections",
		Help: "Number of open live channel connections",
	})

	RoomEventsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_service_room_events_total",
			Help: "Total events broadcast to conversation rooms",
		},
		[]string{"event"},
	)

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_service_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_service_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// MetricsMiddleware records HTTP request metrics for Prometheus. Requests are
// labelled by matched route template so conversation ids never become label
// values. Live channel upgrades are counted but not timed, since their
// duration is the lifetime of the connection.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		if !strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		}
	}
}
