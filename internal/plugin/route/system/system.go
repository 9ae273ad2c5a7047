package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/chat-service/internal/registry/route"
)

const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

var state atomic.Int32

// MarkReady signals that StartServer has finished and traffic may be routed here.
func MarkReady() {
	state.Store(stateReady)
}

// MarkDraining fails readiness so load balancers stop routing new clients
// while live connections and in-flight exchanges wind down.
func MarkDraining() {
	state.Store(stateDraining)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "system",
		Order: 0,
		Paths: []string{"/health", "/ready", "/metrics"},
		Loader: func(r *gin.Engine) error {
			// Liveness: process is up
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			r.GET("/ready", func(c *gin.Context) {
				switch state.Load() {
				case stateReady:
					c.JSON(http.StatusOK, gin.H{"status": "ready"})
				case stateDraining:
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "draining"})
				default:
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
				}
			})

			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
			return nil
		},
	})
}
